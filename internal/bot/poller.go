package bot

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-support-desk/internal/domain"
	"github.com/tbourn/go-support-desk/internal/services"
)

// Outbox is the delivery queue the poller drains. *services.DeliveryService
// implements it.
type Outbox interface {
	Pending(ctx context.Context, limit int) ([]domain.Message, error)
	MarkDelivered(ctx context.Context, messageID int64) error
	MarkFailed(ctx context.Context, messageID int64, reason string) error
	RecordAttempt(ctx context.Context, messageID int64, reason string, retryAt time.Time) (int, error)
}

var _ Outbox = (*services.DeliveryService)(nil)

// Poller delivers pending operator replies to Telegram.
//
// Delivery is at-least-once: a reply that was sent but could not be marked
// delivered is sent again on the next poll. A reply split into several
// Telegram messages is resent whole when a later part fails.
type Poller struct {
	Client Client
	Outbox Outbox

	Interval    time.Duration
	Batch       int
	MaxAttempts int
	BackoffMax  time.Duration
	// RetryBase is the wait after a reply's first failed send. Each further
	// failure doubles it, capped at BackoffMax.
	RetryBase time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time

	// pausedUntil honours Telegram's retry_after for the whole bot.
	pausedUntil time.Time
}

// Run polls until ctx is done. Store failures back off exponentially up to
// BackoffMax; a successful poll resets the backoff.
func (p *Poller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval
	if p.BackoffMax > interval {
		bo.MaxInterval = p.BackoffMax
	} else {
		bo.MaxInterval = interval
	}
	bo.Reset()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		wait := interval
		if err := p.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait = bo.NextBackOff()
			log.Warn().Err(err).Dur("retry_in", wait).Msg("outbound poll failed")
		} else {
			bo.Reset()
		}
		timer.Reset(wait)
	}
}

// Tick delivers one batch. It returns the first store error; send failures
// are recorded on the message instead.
func (p *Poller) Tick(ctx context.Context) error {
	if p.now().Before(p.pausedUntil) {
		return nil
	}
	msgs, err := p.Outbox.Pending(ctx, p.batch())
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.deliver(ctx, m); err != nil {
			return err
		}
		if p.now().Before(p.pausedUntil) {
			return nil
		}
	}
	return nil
}

func (p *Poller) deliver(ctx context.Context, m domain.Message) error {
	l := log.With().Int64("message_id", m.ID).Int64("ticket_id", m.TicketID).Logger()

	if m.Ticket.UserID == 0 {
		return settle(m.ID, p.Outbox.MarkFailed(ctx, m.ID, "ticket has no chat"))
	}

	var sendErr error
	for _, text := range deliveryTexts(m) {
		if _, sendErr = p.Client.Send(tgbotapi.NewMessage(m.Ticket.UserID, text)); sendErr != nil {
			break
		}
	}
	if sendErr == nil {
		l.Debug().Msg("reply delivered")
		return settle(m.ID, p.Outbox.MarkDelivered(ctx, m.ID))
	}

	reason := sendErr.Error()
	if permanent(sendErr) {
		l.Warn().Err(sendErr).Msg("reply rejected by telegram")
		return settle(m.ID, p.Outbox.MarkFailed(ctx, m.ID, reason))
	}

	wait := p.retryDelay(m.DeliveryAttempts+1, sendErr)
	retryAt := p.now().Add(wait)
	if throttled(sendErr) {
		p.pausedUntil = retryAt
	}
	attempts, err := p.Outbox.RecordAttempt(ctx, m.ID, reason, retryAt)
	if err != nil {
		return settle(m.ID, err)
	}
	if attempts >= p.maxAttempts() {
		l.Warn().Err(sendErr).Int("attempts", attempts).Msg("reply delivery gave up")
		return settle(m.ID, p.Outbox.MarkFailed(ctx, m.ID, reason))
	}
	l.Warn().Err(sendErr).Int("attempts", attempts).Dur("retry_in", wait).Msg("reply delivery failed")
	return nil
}

// retryDelay is the wait before attempt+1 of a reply. Telegram's
// retry_after wins when present.
func (p *Poller) retryDelay(attempt int, sendErr error) time.Duration {
	var apiErr *tgbotapi.Error
	if errors.As(sendErr, &apiErr) && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.retryBase()
	bo.Multiplier = 2
	bo.MaxInterval = max(p.BackoffMax, bo.InitialInterval)
	bo.Reset()
	wait := bo.NextBackOff()
	for i := 1; i < attempt; i++ {
		wait = bo.NextBackOff()
	}
	return wait
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Poller) retryBase() time.Duration {
	if p.RetryBase <= 0 {
		return 5 * time.Second
	}
	return p.RetryBase
}

// settle drops outcomes that only mean the message already left pending.
func settle(id int64, err error) error {
	if errors.Is(err, services.ErrInvalidTransition) || errors.Is(err, services.ErrMessageNotFound) {
		log.Debug().Int64("message_id", id).Err(err).Msg("message no longer pending")
		return nil
	}
	return err
}

func (p *Poller) batch() int {
	if p.Batch <= 0 {
		return 20
	}
	return p.Batch
}

func (p *Poller) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 5
	}
	return p.MaxAttempts
}

// permanent reports Telegram errors that retrying cannot fix, such as a
// user who blocked the bot or a chat that no longer exists.
func permanent(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusBadRequest || apiErr.Code == http.StatusForbidden
}

// throttled reports Telegram's flood control (429).
func throttled(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests
}
