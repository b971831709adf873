// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Ticket model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Mutations that must not race with the other process are expressed as
// conditional writes (UPDATE ... WHERE status = 'open') whose RowsAffected
// tells the caller what state the row was in when the lock was taken.
//
// Error semantics:
//   - When a ticket is not found, functions return ErrNotFound.
//   - Inserting a second open ticket for the same (user, category) fails the
//     partial unique index; CreateTicket reports it as ErrDuplicate.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-support-desk/internal/domain"
)

// TicketFilter narrows ListTickets/CountTickets. Zero values mean "any".
type TicketFilter struct {
	Status   domain.TicketStatus
	Category string
	UserID   int64
	Offset   int
	Limit    int
}

// scope applies the filter's WHERE clauses.
func (f TicketFilter) scope(q *gorm.DB) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	return q
}

// CreateTicket inserts a new open ticket. It returns ErrDuplicate when an
// open ticket for the same (user, category) already exists.
func CreateTicket(ctx context.Context, db *gorm.DB, t *domain.Ticket) error {
	if err := db.WithContext(ctx).Omit(clause.Associations).Create(t).Error; err != nil {
		if IsDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetTicket fetches a single ticket by id, or ErrNotFound.
func GetTicket(ctx context.Context, db *gorm.DB, id int64) (*domain.Ticket, error) {
	var t domain.Ticket
	if err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// FindOpenTickets returns every open ticket for (userID, category). The
// schema allows at most one; the slice form lets callers detect violations.
func FindOpenTickets(ctx context.Context, db *gorm.DB, userID int64, category string) ([]domain.Ticket, error) {
	var out []domain.Ticket
	err := db.WithContext(ctx).
		Where("user_id = ? AND category = ? AND status = ?", userID, category, domain.StatusOpen).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// BumpOpenTicket increments message_count on the open ticket for
// (userID, category) and reports how many rows matched. Zero means no open
// ticket exists; more than one means the uniqueness invariant is broken.
func BumpOpenTicket(ctx context.Context, db *gorm.DB, userID int64, category string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Ticket{}).
		Where("user_id = ? AND category = ? AND status = ?", userID, category, domain.StatusOpen).
		UpdateColumn("message_count", gorm.Expr("message_count + 1"))
	return res.RowsAffected, res.Error
}

// BumpTicketIfOpen increments message_count on ticket id only while it is
// open. It returns false when the ticket is missing or closed.
func BumpTicketIfOpen(ctx context.Context, db *gorm.DB, id int64) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Ticket{}).
		Where("id = ? AND status = ?", id, domain.StatusOpen).
		UpdateColumn("message_count", gorm.Expr("message_count + 1"))
	return res.RowsAffected == 1, res.Error
}

// TouchTicket records the latest activity on a ticket: preview text,
// activity time and, when non-empty, wallet metadata.
func TouchTicket(ctx context.Context, db *gorm.DB, id int64, preview, walletMeta string, at time.Time) error {
	cols := map[string]any{
		"last_preview": preview,
		"updated_at":   at,
	}
	if walletMeta != "" {
		cols["wallet_meta"] = walletMeta
	}
	res := db.WithContext(ctx).Model(&domain.Ticket{}).Where("id = ?", id).UpdateColumns(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CloseTicketIfOpen moves an open ticket to closed. It returns false when
// the ticket is missing or was already closed; the caller tells them apart.
func CloseTicketIfOpen(ctx context.Context, db *gorm.DB, id int64, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Ticket{}).
		Where("id = ? AND status = ?", id, domain.StatusOpen).
		UpdateColumns(map[string]any{"status": domain.StatusClosed, "closed_at": at})
	return res.RowsAffected == 1, res.Error
}

// CountTickets returns the number of tickets matching f (offset/limit ignored).
func CountTickets(ctx context.Context, db *gorm.DB, f TicketFilter) (int64, error) {
	var total int64
	err := f.scope(db.WithContext(ctx).Model(&domain.Ticket{})).Count(&total).Error
	return total, err
}

// ListTickets returns tickets matching f, most recent activity first, with
// id as a tie-break so that paging is deterministic.
func ListTickets(ctx context.Context, db *gorm.DB, f TicketFilter) ([]domain.Ticket, error) {
	var out []domain.Ticket
	q := f.scope(db.WithContext(ctx).Model(&domain.Ticket{})).
		Order("updated_at DESC, id DESC")
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	err := q.Find(&out).Error
	return out, err
}
