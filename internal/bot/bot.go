package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-desk/internal/domain"
	"github.com/tbourn/go-support-desk/internal/repo"
	"github.com/tbourn/go-support-desk/internal/services"
	"github.com/tbourn/go-support-desk/internal/sysutil"
)

const (
	// ticketsShown caps the admin /tickets listing to fit one Telegram message.
	ticketsShown = 10

	// maxWalletRunes matches the wallet_meta column width.
	maxWalletRunes = 255
)

// Bot handles Telegram updates for users and the admin.
type Bot struct {
	Client  Client
	Tickets *services.TicketService

	// AdminID is the Telegram id allowed to run admin commands. Zero
	// disables admin commands and notifications.
	AdminID int64

	now func() time.Time
}

// New returns a Bot sharing the ticket service's database.
func New(client Client, tickets *services.TicketService, adminID int64) *Bot {
	return &Bot{Client: client, Tickets: tickets, AdminID: adminID}
}

func (b *Bot) db() *gorm.DB { return b.Tickets.DB }

func (b *Bot) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

func (b *Bot) isAdmin(id int64) bool { return b.AdminID != 0 && id == b.AdminID }

// Run handles updates until ctx is done or the channel is closed. Handler
// errors are logged and never stop the loop.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if err := b.HandleUpdate(ctx, u); err != nil {
				log.Error().Err(err).Int("update_id", u.UpdateID).Msg("handle update failed")
			}
		}
	}
}

// HandleUpdate dispatches a single update. The returned error is a store or
// engine failure; the user has already been told to retry.
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) error {
	switch {
	case u.CallbackQuery != nil:
		return b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.From != nil && u.Message.Chat != nil:
		m := u.Message
		if m.IsCommand() {
			return b.handleCommand(ctx, m)
		}
		if strings.TrimSpace(m.Text) == "" {
			return nil
		}
		return b.handleText(ctx, m)
	}
	return nil
}

func (b *Bot) handleCommand(ctx context.Context, m *tgbotapi.Message) error {
	cmd := m.Command()
	log.Debug().Int64("user_id", m.From.ID).Str("command", cmd).Msg("bot command")

	switch cmd {
	case "start":
		return b.cmdStart(ctx, m)
	case "stop":
		return b.cmdStop(ctx, m)
	case "wallet":
		return b.cmdWallet(ctx, m)
	case "myid":
		b.send(m.Chat.ID, myIDText(m.From))
		return nil
	case "tickets", "reply", "close", "stats":
		if !b.isAdmin(m.From.ID) {
			b.send(m.Chat.ID, textAdminsOnly)
			return nil
		}
	default:
		b.send(m.Chat.ID, textUnknownCmd)
		return nil
	}

	switch cmd {
	case "tickets":
		return b.cmdTickets(ctx, m)
	case "reply":
		return b.cmdReply(ctx, m)
	case "close":
		return b.cmdClose(ctx, m)
	default:
		return b.cmdStats(ctx, m)
	}
}

// touchUser upserts the sender and returns the stored row. isNew reports
// whether this is the user's first contact.
func (b *Bot) touchUser(ctx context.Context, from *tgbotapi.User) (u *domain.User, isNew bool, err error) {
	_, err = repo.GetUser(ctx, b.db(), from.ID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		isNew = true
	case err != nil:
		return nil, false, fmt.Errorf("get user: %w", err)
	}
	row := &domain.User{ID: from.ID, Handle: from.UserName, FirstName: from.FirstName, LastName: from.LastName}
	if err := repo.UpsertUser(ctx, b.db(), row); err != nil {
		return nil, false, fmt.Errorf("upsert user: %w", err)
	}
	u, err = repo.GetUser(ctx, b.db(), from.ID)
	if err != nil {
		return nil, false, fmt.Errorf("get user: %w", err)
	}
	return u, isNew, nil
}

func (b *Bot) cmdStart(ctx context.Context, m *tgbotapi.Message) error {
	u, isNew, err := b.touchUser(ctx, m.From)
	if err != nil {
		b.send(m.Chat.ID, textTryLater)
		return err
	}
	if isNew {
		log.Info().Int64("user_id", u.ID).Str("handle", u.Handle).Msg("new bot user")
		b.notifyAdmin(newUserNotice(u, b.clock()))
	}
	if b.AdminID == 0 {
		b.send(m.Chat.ID, adminNotConfiguredText(u.ID))
	}
	b.sendKeyboard(m.Chat.ID, welcomeText(u.FirstName))
	return nil
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if _, err := b.Client.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		log.Warn().Err(err).Str("callback_id", q.ID).Msg("answer callback failed")
	}
	if q.From == nil || q.Message == nil || q.Message.Chat == nil {
		return nil
	}
	chatID, msgID := q.Message.Chat.ID, q.Message.MessageID

	slug, ok := strings.CutPrefix(q.Data, callbackCategory)
	cat, err := domain.ParseCategory(slug)
	if !ok || err != nil {
		b.edit(chatID, msgID, textUnknownOption)
		return nil
	}

	u, _, err := b.touchUser(ctx, q.From)
	if err != nil {
		b.send(chatID, textTryLater)
		return err
	}
	if err := repo.SetSelectedCategory(ctx, b.db(), u.ID, cat.Name); err != nil {
		b.send(chatID, textTryLater)
		return fmt.Errorf("select category: %w", err)
	}
	b.edit(chatID, msgID, chatActivatedText(cat))
	b.notifyAdmin(userActionNotice(u, cat))
	return nil
}

func (b *Bot) handleText(ctx context.Context, m *tgbotapi.Message) error {
	u, _, err := b.touchUser(ctx, m.From)
	if err != nil {
		b.send(m.Chat.ID, textTryLater)
		return err
	}
	if u.SelectedCategory == "" {
		if b.isAdmin(u.ID) {
			b.send(m.Chat.ID, textAdminHint)
			return nil
		}
		b.sendKeyboard(m.Chat.ID, textPickCategory)
		return nil
	}
	return b.appendInbound(ctx, m.Chat.ID, u, m.Text, "")
}

func (b *Bot) cmdWallet(ctx context.Context, m *tgbotapi.Message) error {
	wallet := strings.TrimSpace(m.CommandArguments())
	if wallet == "" {
		b.send(m.Chat.ID, textWalletUsage)
		return nil
	}
	if utf8.RuneCountInString(wallet) > maxWalletRunes {
		b.send(m.Chat.ID, textWalletTooLong)
		return nil
	}
	u, _, err := b.touchUser(ctx, m.From)
	if err != nil {
		b.send(m.Chat.ID, textTryLater)
		return err
	}
	if u.SelectedCategory == "" {
		b.sendKeyboard(m.Chat.ID, textPickCategory)
		return nil
	}
	return b.appendInbound(ctx, m.Chat.ID, u, "💳 Wallet: "+wallet, wallet)
}

// appendInbound records the message on the user's ticket, acknowledges it
// and forwards it to the admin.
func (b *Bot) appendInbound(ctx context.Context, chatID int64, u *domain.User, text, wallet string) error {
	t, err := b.Tickets.AppendInbound(ctx, services.InboundMessage{
		UserID:     u.ID,
		Handle:     u.Handle,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Category:   u.SelectedCategory,
		Text:       text,
		WalletMeta: wallet,
	})
	switch {
	case errors.Is(err, services.ErrTextTooLong):
		b.send(chatID, textTooLong)
		return nil
	case errors.Is(err, services.ErrEmptyText):
		return nil
	case errors.Is(err, services.ErrInvalidCategory):
		// Stale selection from an older keyboard.
		if err := repo.SetSelectedCategory(ctx, b.db(), u.ID, ""); err != nil {
			return fmt.Errorf("clear category: %w", err)
		}
		b.sendKeyboard(chatID, textPickCategory)
		return nil
	case err != nil:
		b.send(chatID, textTryLater)
		return err
	}

	if wallet != "" {
		b.send(chatID, textWalletSaved)
	} else {
		b.send(chatID, textAcknowledged)
	}
	b.notifyAdmin(inboundNotice(u, t, text))
	return nil
}

func (b *Bot) cmdStop(ctx context.Context, m *tgbotapi.Message) error {
	u, _, err := b.touchUser(ctx, m.From)
	if err != nil {
		b.send(m.Chat.ID, textTryLater)
		return err
	}
	if u.SelectedCategory == "" {
		b.send(m.Chat.ID, textNoActiveChat)
		return nil
	}

	t, err := b.Tickets.CloseOpenTicket(ctx, u.ID, u.SelectedCategory)
	if err != nil && !errors.Is(err, services.ErrTicketNotFound) && !errors.Is(err, services.ErrInvalidCategory) {
		b.send(m.Chat.ID, textTryLater)
		return err
	}
	if err := repo.SetSelectedCategory(ctx, b.db(), u.ID, ""); err != nil {
		b.send(m.Chat.ID, textTryLater)
		return fmt.Errorf("clear category: %w", err)
	}
	b.send(m.Chat.ID, textChatEnded)
	b.notifyAdmin(chatEndedNotice(u, t))
	return nil
}

func (b *Bot) cmdTickets(ctx context.Context, m *tgbotapi.Message) error {
	items, total, err := b.Tickets.ListTickets(ctx, services.TicketFilter{Status: domain.StatusOpen, Limit: ticketsShown})
	if err != nil {
		b.send(m.Chat.ID, textTryLater)
		return err
	}
	if total == 0 {
		b.send(m.Chat.ID, textNoTickets)
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🎫 Active Support Tickets (%d):\n\n", total)
	for _, t := range items {
		who := fmt.Sprintf("ID: %d", t.UserID)
		if u, err := repo.GetUser(ctx, b.db(), t.UserID); err == nil {
			who = fmt.Sprintf("%s (ID: %d)", u.DisplayName(), u.ID)
		}
		sb.WriteString(ticketLine(t, who))
		sb.WriteString("\n")
	}
	if rest := total - int64(len(items)); rest > 0 {
		fmt.Fprintf(&sb, "…and %d more. Open the dashboard for the full list.", rest)
	}
	b.send(m.Chat.ID, strings.TrimRight(sb.String(), "\n"))
	return nil
}

func (b *Bot) cmdReply(ctx context.Context, m *tgbotapi.Message) error {
	id, text, ok := parseTicketArgs(m.CommandArguments())
	if !ok || text == "" {
		b.send(m.Chat.ID, textReplyUsage)
		return nil
	}

	operator := sysutil.FirstNonEmpty(m.From.UserName, m.From.FirstName, "admin")
	msg, err := b.Tickets.AppendOutbound(ctx, id, operator, text)
	switch {
	case errors.Is(err, services.ErrTicketNotFound):
		b.send(m.Chat.ID, fmt.Sprintf("❌ Ticket #%d not found.", id))
		return nil
	case errors.Is(err, services.ErrTicketClosed):
		b.send(m.Chat.ID, fmt.Sprintf("❌ Ticket #%d is closed.", id))
		return nil
	case errors.Is(err, services.ErrTextTooLong):
		b.send(m.Chat.ID, textTooLong)
		return nil
	case err != nil:
		b.send(m.Chat.ID, textTryLater)
		return err
	}
	log.Info().Int64("ticket_id", id).Int64("message_id", msg.ID).Msg("admin reply queued")
	b.send(m.Chat.ID, fmt.Sprintf("✅ Reply queued for ticket #%d.", id))
	return nil
}

func (b *Bot) cmdClose(ctx context.Context, m *tgbotapi.Message) error {
	id, _, ok := parseTicketArgs(m.CommandArguments())
	if !ok {
		b.send(m.Chat.ID, textCloseUsage)
		return nil
	}

	prev, err := b.Tickets.GetTicket(ctx, id)
	switch {
	case errors.Is(err, services.ErrTicketNotFound):
		b.send(m.Chat.ID, fmt.Sprintf("❌ Ticket #%d not found.", id))
		return nil
	case err != nil:
		b.send(m.Chat.ID, textTryLater)
		return err
	case !prev.IsOpen():
		b.send(m.Chat.ID, fmt.Sprintf("ℹ️ Ticket #%d is already closed.", id))
		return nil
	}

	t, err := b.Tickets.CloseTicket(ctx, id)
	if err != nil {
		b.send(m.Chat.ID, textTryLater)
		return err
	}

	// The user's conversation ends with the ticket.
	if u, err := repo.GetUser(ctx, b.db(), t.UserID); err == nil && u.SelectedCategory == t.Category {
		if err := repo.SetSelectedCategory(ctx, b.db(), u.ID, ""); err != nil {
			log.Warn().Err(err).Int64("user_id", u.ID).Msg("clear category after close failed")
		}
	}
	b.send(t.UserID, textTicketClosed)
	b.send(m.Chat.ID, fmt.Sprintf("✅ Ticket #%d closed.", id))
	return nil
}

func (b *Bot) cmdStats(ctx context.Context, m *tgbotapi.Message) error {
	st, err := b.Tickets.ComputeStats(ctx)
	if err != nil {
		b.send(m.Chat.ID, textTryLater)
		return err
	}
	b.send(m.Chat.ID, statsText(st))
	return nil
}

func (b *Bot) notifyAdmin(text string) {
	if b.AdminID == 0 {
		return
	}
	b.send(b.AdminID, text)
}

// send delivers a chat message, split when it exceeds Telegram's limit.
// Failures are logged only: the update has already been recorded and the
// user can retry.
func (b *Bot) send(chatID int64, text string) {
	for _, part := range splitMessage(text, maxMessageUnits) {
		if _, err := b.Client.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			log.Warn().Err(err).Int64("chat_id", chatID).Msg("telegram send failed")
			return
		}
	}
}

func (b *Bot) sendKeyboard(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = categoryKeyboard()
	if _, err := b.Client.Send(msg); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("telegram send failed")
	}
}

func (b *Bot) edit(chatID int64, messageID int, text string) {
	if _, err := b.Client.Send(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("telegram edit failed")
	}
}
