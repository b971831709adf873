// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides aggregate/statistics queries: the
// dashboard counters and the lightweight metadata used for ETag generation
// in the HTTP layer. Each function is context-aware and always hits the
// database.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-support-desk/internal/domain"
)

// TicketCounts holds the dashboard totals.
type TicketCounts struct {
	Open          int64
	Closed        int64
	DistinctUsers int64
}

// CategoryCount is one row of the open-tickets-per-category breakdown.
type CategoryCount struct {
	Category string
	Count    int64
}

// CountTicketsByStatus returns open/closed totals and the number of distinct
// users that own at least one ticket, in a single statement.
func CountTicketsByStatus(ctx context.Context, db *gorm.DB) (TicketCounts, error) {
	var row struct {
		Open          int64
		Closed        int64
		DistinctUsers int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Ticket{}).
		Select(
			"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS open, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS closed, "+
				"COUNT(DISTINCT user_id) AS distinct_users",
			domain.StatusOpen, domain.StatusClosed,
		).
		Scan(&row).Error
	if err != nil {
		return TicketCounts{}, err
	}
	return TicketCounts{Open: row.Open, Closed: row.Closed, DistinctUsers: row.DistinctUsers}, nil
}

// CountOpenByCategory returns the number of open tickets per category,
// ordered by category name.
func CountOpenByCategory(ctx context.Context, db *gorm.DB) ([]CategoryCount, error) {
	var out []CategoryCount
	err := db.WithContext(ctx).
		Model(&domain.Ticket{}).
		Select("category, COUNT(*) AS count").
		Where("status = ?", domain.StatusOpen).
		Group("category").
		Order("category ASC").
		Scan(&out).Error
	return out, err
}

// TicketsStats returns aggregate metadata for the tickets matching f: the
// total number of rows and the maximum UpdatedAt among those rows. When no
// ticket matches, the returned count is 0 and maxUpdatedAt is nil.
func TicketsStats(ctx context.Context, db *gorm.DB, f TicketFilter) (count int64, maxUpdatedAt *time.Time, err error) {
	q := f.scope(db.WithContext(ctx).Model(&domain.Ticket{}))

	// Count
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	q = f.scope(db.WithContext(ctx).Model(&domain.Ticket{}))
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// MessagesStats returns the number of messages in a ticket and the latest
// CreatedAt among them. When the ticket has no messages, the returned count
// is 0 and maxCreatedAt is nil.
func MessagesStats(ctx context.Context, db *gorm.DB, ticketID int64) (count int64, maxCreatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("ticket_id = ?", ticketID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct {
		CreatedAt time.Time
	}
	q = db.WithContext(ctx).Model(&domain.Message{}).Where("ticket_id = ?", ticketID)
	if err = q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}

// CountPendingOutbound returns how many replies on a ticket still wait for
// delivery. Delivery updates change no timestamp, so the history ETag needs it.
func CountPendingOutbound(ctx context.Context, db *gorm.DB, ticketID int64) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("ticket_id = ? AND direction = ? AND delivery_status = ?", ticketID, domain.Outbound, domain.DeliveryPending).
		Count(&n).Error
	return n, err
}
