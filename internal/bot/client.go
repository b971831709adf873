// Package bot is the Telegram side of the support desk. Bot turns incoming
// updates into ticket engine calls (the inbound adapter) and Poller delivers
// operator replies queued in the database (the outbound adapter).
package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Client is the subset of *tgbotapi.BotAPI the adapters use.
type Client interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

var _ Client = (*tgbotapi.BotAPI)(nil)
