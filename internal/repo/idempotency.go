// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to implement safe-retry semantics for operator replies.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-desk/internal/domain"
)

// GetIdempotency returns a non-expired record for (operator, ticketID, key)
// or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, operator string, ticketID int64, key string, now time.Time) (*domain.Idempotency, error) {
	if ticketID <= 0 || key == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("operator = ? AND ticket_id = ? AND key = ? AND expires_at > ?", operator, ticketID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, operator string, ticketID int64, key string, messageID int64, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		Operator:  operator,
		TicketID:  ticketID,
		Key:       key,
		MessageID: messageID,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// DeleteExpiredIdempotencyKey removes an expired record for (operator,
// ticketID, key) so the key can be used again before the periodic purge.
func DeleteExpiredIdempotencyKey(ctx context.Context, db *gorm.DB, operator string, ticketID int64, key string, now time.Time) error {
	return db.WithContext(ctx).
		Where("operator = ? AND ticket_id = ? AND key = ? AND expires_at <= ?", operator, ticketID, key, now).
		Delete(&domain.Idempotency{}).Error
}

// PurgeExpiredIdempotency deletes records whose ExpiresAt is before now and
// returns the number of rows removed.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
