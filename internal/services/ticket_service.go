// Package services – TicketService
//
// This file implements TicketService, the ticket engine shared by the bot and
// the dashboard. It owns the ticket lifecycle (open -> closed), keeps at most
// one open ticket per (user, category), appends messages in a total order and
// computes dashboard statistics.
//
// The service holds no state between calls: every operation opens its own
// transaction, reads the current rows and writes them back. The two processes
// coordinate only through the database, using conditional writes and the
// partial unique index on open tickets.
//
// Observability: all public methods are OpenTelemetry-instrumented and the
// append paths feed the domain counters in the observability package.
package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-desk/internal/domain"
	"github.com/tbourn/go-support-desk/internal/observability"
	"github.com/tbourn/go-support-desk/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// PreviewRunes caps the stored last-message preview.
	PreviewRunes = 120

	// DefaultMaxTextRunes matches Telegram's message length limit.
	DefaultMaxTextRunes = 4096

	// createAttempts bounds the find-or-create retries after losing a race
	// on the open-ticket unique index.
	createAttempts = 3

	// maxOperatorRunes keeps "operator:<name>" within the sender column.
	maxOperatorRunes = 48
)

// TicketFilter narrows ListTickets. Category accepts a slug or display name.
type TicketFilter = repo.TicketFilter

// InboundMessage is one user message as received by the bot.
type InboundMessage struct {
	UserID     int64
	Handle     string
	FirstName  string
	LastName   string
	Category   string
	Text       string
	WalletMeta string
}

// Stats is the dashboard summary. It is recomputed on every call.
type Stats struct {
	OpenCount         int64            `json:"open_count"`
	ClosedCount       int64            `json:"closed_count"`
	DistinctUserCount int64            `json:"distinct_user_count"`
	ByCategory        map[string]int64 `json:"open_by_category"`
}

// TicketService implements the ticket engine on top of a shared database.
type TicketService struct {
	DB *gorm.DB

	// MaxTextRunes rejects longer messages with ErrTextTooLong.
	MaxTextRunes int

	now func() time.Time
}

// NewTicketService returns a TicketService with the default text limit.
func NewTicketService(db *gorm.DB) *TicketService {
	return &TicketService{DB: db, MaxTextRunes: DefaultMaxTextRunes}
}

func (s *TicketService) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

// AppendInbound records a user message. It appends to the open ticket for
// (user, category) or opens a new one, and returns a snapshot of the ticket.
// Every call appends; deduplication is the caller's concern.
func (s *TicketService) AppendInbound(ctx context.Context, in InboundMessage) (*domain.Ticket, error) {
	tr := otel.Tracer("services/TicketService")
	ctx, span := tr.Start(ctx, "AppendInbound",
		trace.WithAttributes(
			attribute.Int64("user.id", in.UserID),
			attribute.String("ticket.category", in.Category),
		),
	)
	defer span.End()

	cat, err := domain.ParseCategory(in.Category)
	if err != nil {
		return nil, ErrInvalidCategory
	}
	text, err := s.validateText(in.Text)
	if err != nil {
		return nil, err
	}
	in.Category = cat.Name
	in.Text = text
	in.WalletMeta = strings.TrimSpace(in.WalletMeta)

	var (
		t       *domain.Ticket
		created bool
	)
	for attempt := 1; ; attempt++ {
		t, created, err = s.appendInbound(ctx, in)
		if errors.Is(err, repo.ErrDuplicate) && attempt < createAttempts {
			log.Debug().Int64("user_id", in.UserID).Str("category", in.Category).Int("attempt", attempt).
				Msg("open ticket created concurrently; retrying")
			continue
		}
		break
	}
	if err != nil {
		if errors.Is(err, ErrInvariantViolation) {
			log.Error().Int64("user_id", in.UserID).Str("category", in.Category).
				Msg("more than one open ticket for user and category")
		}
		span.RecordError(err)
		return nil, storeErr("append inbound", err)
	}

	if created {
		observability.TicketsOpened.WithLabelValues(in.Category).Inc()
	}
	observability.MessagesAppended.WithLabelValues(string(domain.Inbound)).Inc()
	span.SetAttributes(attribute.Int64("ticket.id", t.ID), attribute.Bool("ticket.created", created))
	return t, nil
}

// appendInbound runs one find-or-create-and-append transaction. The user
// upsert is the first statement so the write lock is held from the start.
func (s *TicketService) appendInbound(ctx context.Context, in InboundMessage) (*domain.Ticket, bool, error) {
	var (
		out     *domain.Ticket
		created bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock()
		u := &domain.User{ID: in.UserID, Handle: in.Handle, FirstName: in.FirstName, LastName: in.LastName}
		if err := repo.UpsertUser(ctx, tx, u); err != nil {
			return err
		}

		n, err := repo.BumpOpenTicket(ctx, tx, in.UserID, in.Category)
		if err != nil {
			return err
		}

		var t *domain.Ticket
		switch {
		case n == 0:
			t = &domain.Ticket{
				UserID:       in.UserID,
				Category:     in.Category,
				Status:       domain.StatusOpen,
				WalletMeta:   in.WalletMeta,
				MessageCount: 1,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := repo.CreateTicket(ctx, tx, t); err != nil {
				return err
			}
			created = true
		case n == 1:
			open, err := repo.FindOpenTickets(ctx, tx, in.UserID, in.Category)
			if err != nil {
				return err
			}
			if len(open) != 1 {
				return ErrInvariantViolation
			}
			t = &open[0]
		default:
			return ErrInvariantViolation
		}

		at := messageTime(now, t.UpdatedAt)
		if err := repo.TouchTicket(ctx, tx, t.ID, preview(in.Text), in.WalletMeta, at); err != nil {
			return err
		}
		msg := &domain.Message{
			TicketID:  t.ID,
			Direction: domain.Inbound,
			Sender:    strconv.FormatInt(in.UserID, 10),
			Text:      in.Text,
			CreatedAt: at,
		}
		if err := repo.CreateMessage(ctx, tx, msg); err != nil {
			return err
		}

		out, err = repo.GetTicket(ctx, tx, t.ID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// ReplyKey makes an operator reply safe to retry: the same operator, ticket
// and key yield the first reply instead of a second one.
type ReplyKey struct {
	Key string
	TTL time.Duration
	// Status is stored with the record for callers that replay a response.
	Status int
}

// errKeyTaken rolls back a reply whose key was recorded by another
// transaction first.
var errKeyTaken = errors.New("reply key taken")

// AppendOutbound records an operator reply on an open ticket. The message is
// stored with delivery status pending and picked up by the bot's poller.
func (s *TicketService) AppendOutbound(ctx context.Context, ticketID int64, operator, text string) (*domain.Message, error) {
	m, _, err := s.AppendOutboundOnce(ctx, ticketID, operator, text, ReplyKey{})
	return m, err
}

// AppendOutboundOnce is AppendOutbound keyed by rk. The key record is
// written in the same transaction as the message, so concurrent retries
// append at most once; replayed reports that the returned message is the
// earlier one. An empty rk.Key disables the check.
func (s *TicketService) AppendOutboundOnce(ctx context.Context, ticketID int64, operator, text string, rk ReplyKey) (m *domain.Message, replayed bool, err error) {
	tr := otel.Tracer("services/TicketService")
	ctx, span := tr.Start(ctx, "AppendOutbound",
		trace.WithAttributes(
			attribute.Int64("ticket.id", ticketID),
			attribute.String("operator", operator),
			attribute.Bool("idempotent", rk.Key != ""),
		),
	)
	defer span.End()

	text, err = s.validateText(text)
	if err != nil {
		return nil, false, err
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock()
		// The bump comes first so the transaction holds the write lock
		// before it looks for an earlier reply.
		ok, err := repo.BumpTicketIfOpen(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		if rk.Key != "" {
			prev, err := findReply(ctx, tx, operator, ticketID, rk.Key, now)
			if err != nil {
				return err
			}
			if prev != nil {
				m, replayed = prev, true
				return errKeyTaken
			}
		}
		t, err := repo.GetTicket(ctx, tx, ticketID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrTicketNotFound
		}
		if err != nil {
			return err
		}
		if !ok {
			return ErrTicketClosed
		}

		at := messageTime(now, t.UpdatedAt)
		if err := repo.TouchTicket(ctx, tx, t.ID, preview(text), "", at); err != nil {
			return err
		}
		out := &domain.Message{
			TicketID:       t.ID,
			Direction:      domain.Outbound,
			Sender:         operatorSender(operator),
			Text:           text,
			DeliveryStatus: domain.DeliveryPending,
			CreatedAt:      at,
		}
		if err := repo.CreateMessage(ctx, tx, out); err != nil {
			return err
		}
		if rk.Key != "" {
			if err := repo.DeleteExpiredIdempotencyKey(ctx, tx, operator, ticketID, rk.Key, now); err != nil {
				return err
			}
			if _, err := repo.CreateIdempotency(ctx, tx, operator, ticketID, rk.Key, out.ID, rk.Status, rk.TTL); err != nil {
				if errors.Is(err, repo.ErrDuplicate) {
					return errKeyTaken
				}
				return err
			}
		}
		m = out
		return nil
	})

	if errors.Is(err, errKeyTaken) {
		// The rolled-back transaction may not have seen the winner; read it
		// again outside.
		if !replayed {
			m, err = findReply(ctx, s.DB, operator, ticketID, rk.Key, s.clock())
			if err == nil && m == nil {
				err = errors.New("reply key recorded without a message")
			}
			if err != nil {
				span.RecordError(err)
				return nil, false, storeErr("replay outbound", err)
			}
		}
		span.SetAttributes(attribute.Bool("replayed", true), attribute.Int64("message.id", m.ID))
		return m, true, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, false, storeErr("append outbound", err)
	}

	observability.MessagesAppended.WithLabelValues(string(domain.Outbound)).Inc()
	span.SetAttributes(attribute.Int64("message.id", m.ID))
	return m, false, nil
}

// findReply returns the message recorded for a live reply key, or nil.
func findReply(ctx context.Context, db *gorm.DB, operator string, ticketID int64, key string, now time.Time) (*domain.Message, error) {
	rec, err := repo.GetIdempotency(ctx, db, operator, ticketID, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m, err := repo.GetMessage(ctx, db, rec.MessageID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

// CloseTicket closes a ticket and returns its state. Closing an already
// closed ticket is a no-op. Messages are kept.
func (s *TicketService) CloseTicket(ctx context.Context, ticketID int64) (*domain.Ticket, error) {
	tr := otel.Tracer("services/TicketService")
	ctx, span := tr.Start(ctx, "CloseTicket",
		trace.WithAttributes(attribute.Int64("ticket.id", ticketID)),
	)
	defer span.End()

	var out *domain.Ticket
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.CloseTicketIfOpen(ctx, tx, ticketID, s.clock()); err != nil {
			return err
		}
		t, err := repo.GetTicket(ctx, tx, ticketID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrTicketNotFound
		}
		out = t
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, storeErr("close ticket", err)
	}
	return out, nil
}

// CloseOpenTicket closes the user's open ticket in category. It returns
// ErrTicketNotFound when there is none.
func (s *TicketService) CloseOpenTicket(ctx context.Context, userID int64, category string) (*domain.Ticket, error) {
	tr := otel.Tracer("services/TicketService")
	ctx, span := tr.Start(ctx, "CloseOpenTicket",
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.String("ticket.category", category),
		),
	)
	defer span.End()

	cat, err := domain.ParseCategory(category)
	if err != nil {
		return nil, ErrInvalidCategory
	}

	open, err := repo.FindOpenTickets(ctx, s.DB, userID, cat.Name)
	if err != nil {
		return nil, storeErr("find open ticket", err)
	}
	switch len(open) {
	case 0:
		return nil, ErrTicketNotFound
	case 1:
		return s.CloseTicket(ctx, open[0].ID)
	default:
		log.Error().Int64("user_id", userID).Str("category", cat.Name).
			Msg("more than one open ticket for user and category")
		return nil, ErrInvariantViolation
	}
}

// ListTickets returns a page of tickets, most recent activity first, and the
// total number matching the filter.
func (s *TicketService) ListTickets(ctx context.Context, f TicketFilter) ([]domain.Ticket, int64, error) {
	tr := otel.Tracer("services/TicketService")
	ctx, span := tr.Start(ctx, "ListTickets",
		trace.WithAttributes(
			attribute.String("filter.status", string(f.Status)),
			attribute.String("filter.category", f.Category),
			attribute.Int("offset", f.Offset),
			attribute.Int("limit", f.Limit),
		),
	)
	defer span.End()

	if f.Category != "" {
		cat, err := domain.ParseCategory(f.Category)
		if err != nil {
			return nil, 0, ErrInvalidCategory
		}
		f.Category = cat.Name
	}

	total, err := repo.CountTickets(ctx, s.DB, f)
	if err != nil {
		return nil, 0, storeErr("count tickets", err)
	}
	if total == 0 {
		return []domain.Ticket{}, 0, nil
	}
	items, err := repo.ListTickets(ctx, s.DB, f)
	if err != nil {
		return nil, 0, storeErr("list tickets", err)
	}
	return items, total, nil
}

// GetTicket returns a single ticket.
func (s *TicketService) GetTicket(ctx context.Context, id int64) (*domain.Ticket, error) {
	tr := otel.Tracer("services/TicketService")
	ctx, span := tr.Start(ctx, "GetTicket",
		trace.WithAttributes(attribute.Int64("ticket.id", id)),
	)
	defer span.End()

	t, err := repo.GetTicket(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, storeErr("get ticket", err)
	}
	return t, nil
}

// GetHistory returns every message of a ticket in (created_at, id) order.
func (s *TicketService) GetHistory(ctx context.Context, ticketID int64) ([]domain.Message, error) {
	tr := otel.Tracer("services/TicketService")
	ctx, span := tr.Start(ctx, "GetHistory",
		trace.WithAttributes(attribute.Int64("ticket.id", ticketID)),
	)
	defer span.End()

	if _, err := s.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	msgs, err := repo.ListMessages(ctx, s.DB, ticketID, 0)
	if err != nil {
		return nil, storeErr("list messages", err)
	}
	return msgs, nil
}

// ComputeStats aggregates ticket counts straight from the database.
func (s *TicketService) ComputeStats(ctx context.Context) (*Stats, error) {
	tr := otel.Tracer("services/TicketService")
	ctx, span := tr.Start(ctx, "ComputeStats")
	defer span.End()

	counts, err := repo.CountTicketsByStatus(ctx, s.DB)
	if err != nil {
		return nil, storeErr("count tickets by status", err)
	}
	byCat, err := repo.CountOpenByCategory(ctx, s.DB)
	if err != nil {
		return nil, storeErr("count open by category", err)
	}

	st := &Stats{
		OpenCount:         counts.Open,
		ClosedCount:       counts.Closed,
		DistinctUserCount: counts.DistinctUsers,
		ByCategory:        make(map[string]int64, len(domain.Categories)),
	}
	for _, c := range domain.Categories {
		st.ByCategory[c.Name] = 0
	}
	for _, row := range byCat {
		st.ByCategory[row.Category] = row.Count
	}
	return st, nil
}

// validateText trims text and enforces the non-empty and length rules.
func (s *TicketService) validateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	limit := s.MaxTextRunes
	if limit <= 0 {
		limit = DefaultMaxTextRunes
	}
	if utf8.RuneCountInString(text) > limit {
		return "", ErrTextTooLong
	}
	return text, nil
}

// messageTime keeps per-ticket timestamps monotonic when the two processes'
// clocks disagree.
func messageTime(now, last time.Time) time.Time {
	if last.After(now) {
		return last
	}
	return now
}

// preview returns the NFC-normalised first PreviewRunes runes of text on a
// single line, with an ellipsis when clipped.
func preview(text string) string {
	p := strings.Join(strings.Fields(norm.NFC.String(text)), " ")
	if utf8.RuneCountInString(p) <= PreviewRunes {
		return p
	}
	r := []rune(p)
	return string(r[:PreviewRunes-1]) + "…"
}

// operatorSender builds the sender marker for an outbound message.
func operatorSender(operator string) string {
	op := strings.TrimSpace(operator)
	if op == "" || op == domain.OperatorSender {
		return domain.OperatorSender
	}
	if r := []rune(op); len(r) > maxOperatorRunes {
		op = string(r[:maxOperatorRunes])
	}
	return domain.OperatorSender + ":" + op
}
