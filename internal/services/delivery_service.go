// Package services – DeliveryService
//
// DeliveryService is the bot-side view of outbound messages: it lists
// pending operator replies and records the outcome of each delivery attempt.
// It only ever changes delivery fields on message rows; ticket rows are
// never touched, so a failing transport cannot corrupt ticket state.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-support-desk/internal/domain"
	"github.com/tbourn/go-support-desk/internal/observability"
	"github.com/tbourn/go-support-desk/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DeliveryService exposes the pending-outbound queue stored in the database.
type DeliveryService struct {
	DB *gorm.DB

	// Now overrides the clock used to decide which messages are due.
	Now func() time.Time
}

func (s *DeliveryService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Pending returns up to limit pending outbound messages in (created_at, id)
// order with their tickets preloaded. Messages deferred by RecordAttempt are
// skipped until their retry time. Calling it again resumes the queue.
func (s *DeliveryService) Pending(ctx context.Context, limit int) ([]domain.Message, error) {
	ctx, span := otel.Tracer("services/DeliveryService").Start(ctx, "Pending",
		trace.WithAttributes(attribute.Int("limit", limit)),
	)
	defer span.End()

	msgs, err := repo.ListPendingOutbound(ctx, s.DB, limit, s.now())
	if err != nil {
		span.RecordError(err)
		return nil, storeErr("list pending outbound", err)
	}
	return msgs, nil
}

// MarkDelivered moves a pending message to delivered.
func (s *DeliveryService) MarkDelivered(ctx context.Context, messageID int64) error {
	return s.transition(ctx, "MarkDelivered", messageID, domain.DeliveryDelivered, "")
}

// MarkFailed moves a pending message to failed, keeping reason.
func (s *DeliveryService) MarkFailed(ctx context.Context, messageID int64, reason string) error {
	return s.transition(ctx, "MarkFailed", messageID, domain.DeliveryFailed, reason)
}

// RecordAttempt counts a failed send on a still-pending message, holds it
// back until retryAt and returns the attempts made so far.
func (s *DeliveryService) RecordAttempt(ctx context.Context, messageID int64, reason string, retryAt time.Time) (int, error) {
	ctx, span := otel.Tracer("services/DeliveryService").Start(ctx, "RecordAttempt",
		trace.WithAttributes(attribute.Int64("message.id", messageID)),
	)
	defer span.End()

	ok, err := repo.IncrementDeliveryAttempts(ctx, s.DB, messageID, reason, retryAt)
	if err != nil {
		return 0, storeErr("record attempt", err)
	}
	m, err := repo.GetMessage(ctx, s.DB, messageID)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, ErrMessageNotFound
	}
	if err != nil {
		return 0, storeErr("get message", err)
	}
	if !ok {
		return m.DeliveryAttempts, ErrInvalidTransition
	}
	observability.OutboundDelivery.WithLabelValues("retry").Inc()
	return m.DeliveryAttempts, nil
}

func (s *DeliveryService) transition(ctx context.Context, name string, id int64, to domain.DeliveryStatus, reason string) error {
	ctx, span := otel.Tracer("services/DeliveryService").Start(ctx, name,
		trace.WithAttributes(
			attribute.Int64("message.id", id),
			attribute.String("delivery.status", string(to)),
		),
	)
	defer span.End()

	ok, err := repo.SetDeliveryStatus(ctx, s.DB, id, to, reason, s.now())
	if err != nil {
		return storeErr("set delivery status", err)
	}
	if !ok {
		if _, err := repo.GetMessage(ctx, s.DB, id); errors.Is(err, repo.ErrNotFound) {
			return ErrMessageNotFound
		} else if err != nil {
			return storeErr("get message", err)
		}
		return ErrInvalidTransition
	}
	observability.OutboundDelivery.WithLabelValues(string(to)).Inc()
	return nil
}
