// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// Idempotency records the outcome of an operator reply, keyed by
// (operator, ticket_id, key). A retried POST carrying the same
// Idempotency-Key returns the stored message instead of appending again.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Operator  string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_operator_ticket_key,priority:1"`
	TicketID  int64     `gorm:"type:INTEGER NOT NULL;uniqueIndex:ux_operator_ticket_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_operator_ticket_key,priority:3"`
	MessageID int64     `gorm:"type:INTEGER NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:TIMESTAMP NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:TIMESTAMP NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
