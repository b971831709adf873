// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-support-desk/internal/domain"
)

// CreateMessage inserts a new message row. The caller sets CreatedAt so
// that it can keep per-ticket timestamps monotonic.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Omit(clause.Associations).Create(m).Error
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id int64) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns messages ordered deterministically (CreatedAt ASC, ID ASC).
func ListMessages(ctx context.Context, db *gorm.DB, ticketID int64, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).Where("ticket_id = ?", ticketID).Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListPendingOutbound returns up to limit outbound messages still waiting
// for delivery and due at now, oldest first, with their ticket preloaded.
func ListPendingOutbound(ctx context.Context, db *gorm.DB, limit int, now time.Time) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).
		Preload("Ticket").
		Where("direction = ? AND delivery_status = ?", domain.Outbound, domain.DeliveryPending).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// SetDeliveryStatus moves an outbound message from pending to status.
// It returns false when no pending outbound message with that id exists.
func SetDeliveryStatus(ctx context.Context, db *gorm.DB, id int64, status domain.DeliveryStatus, reason string, at time.Time) (bool, error) {
	cols := map[string]any{"delivery_status": status}
	switch status {
	case domain.DeliveryDelivered:
		cols["delivered_at"] = at
	case domain.DeliveryFailed:
		cols["delivery_error"] = reason
	}
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ? AND direction = ? AND delivery_status = ?", id, domain.Outbound, domain.DeliveryPending).
		UpdateColumns(cols)
	return res.RowsAffected == 1, res.Error
}

// IncrementDeliveryAttempts bumps the attempt counter of a pending outbound
// message, stores the last error and defers the next attempt to retryAt.
// It returns false when the message is not pending.
func IncrementDeliveryAttempts(ctx context.Context, db *gorm.DB, id int64, reason string, retryAt time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ? AND direction = ? AND delivery_status = ?", id, domain.Outbound, domain.DeliveryPending).
		UpdateColumns(map[string]any{
			"delivery_attempts": gorm.Expr("delivery_attempts + 1"),
			"delivery_error":    reason,
			"next_attempt_at":   retryAt.UTC(),
		})
	return res.RowsAffected == 1, res.Error
}
