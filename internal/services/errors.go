// Package services defines the business logic for tickets and the delivery
// of operator replies. This file centralizes service-level error values so
// that they can be returned by service methods and checked by callers with
// errors.Is.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer; the bot adapter maps the same values to chat replies.
package services

import (
	"errors"
	"fmt"
)

// Ticket-related errors.
var (
	// ErrTicketNotFound indicates that the referenced ticket does not exist.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrTicketClosed is returned when a write is attempted against a
	// closed ticket. Operators must wait for the user to open a new one.
	ErrTicketClosed = errors.New("ticket is closed")

	// ErrInvalidCategory is returned for a category outside the fixed set.
	ErrInvalidCategory = errors.New("invalid category")

	// ErrEmptyText is returned when a message has no visible text.
	ErrEmptyText = errors.New("message text is empty")

	// ErrTextTooLong is returned when a message exceeds the configured
	// maximum rune length.
	ErrTextTooLong = errors.New("message text too long")

	// ErrInvariantViolation means more than one open ticket was found for a
	// single (user, category). It is never resolved silently.
	ErrInvariantViolation = errors.New("invariant violation: multiple open tickets")
)

// Delivery-related errors.
var (
	// ErrMessageNotFound indicates that the referenced message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrInvalidTransition is returned when a delivery status change is not
	// pending -> delivered|failed.
	ErrInvalidTransition = errors.New("invalid delivery status transition")
)

// ErrStoreUnavailable classifies transient persistence failures.
var ErrStoreUnavailable = errors.New("store unavailable")

// StoreError wraps an unexpected database error with the operation that
// produced it. It matches ErrStoreUnavailable and unwraps to the driver error.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is reports ErrStoreUnavailable as a match.
func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// storeErr wraps err in a *StoreError unless it is nil or already a
// service-level error.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) || isDomainErr(err) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

func isDomainErr(err error) bool {
	for _, e := range []error{
		ErrTicketNotFound, ErrTicketClosed, ErrInvalidCategory, ErrEmptyText,
		ErrTextTooLong, ErrInvariantViolation, ErrMessageNotFound, ErrInvalidTransition,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
