// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are stable, lowercase snake_case strings returned in the error
// envelope next to the HTTP status. Dashboard clients branch on the code,
// never on the message.
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "ticket_closed",
//	  "message": "ticket is closed"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/tbourn/go-support-desk/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Ticket engine outcomes.
	ErrCodeTicketClosed     = "ticket_closed"
	ErrCodeStoreUnavailable = "store_unavailable"
	ErrCodeInvariant        = "invariant_violation"
)

// statusFor maps a service error to its HTTP status, code and a message
// that is safe to show. Driver errors never reach the client.
func statusFor(err error) (int, string, string) {
	switch {
	case errors.Is(err, services.ErrTicketNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "ticket not found"
	case errors.Is(err, services.ErrMessageNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "message not found"
	case errors.Is(err, services.ErrTicketClosed):
		return http.StatusConflict, ErrCodeTicketClosed, "ticket is closed"
	case errors.Is(err, services.ErrInvalidCategory):
		return http.StatusBadRequest, ErrCodeBadRequest, "unknown category"
	case errors.Is(err, services.ErrEmptyText):
		return http.StatusBadRequest, ErrCodeBadRequest, "message is required"
	case errors.Is(err, services.ErrTextTooLong):
		return http.StatusBadRequest, ErrCodeBadRequest, "message is too long"
	case errors.Is(err, services.ErrInvariantViolation):
		return http.StatusInternalServerError, ErrCodeInvariant, "multiple open tickets for one user and category"
	case errors.Is(err, services.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "store unavailable, retry later"
	default:
		return http.StatusInternalServerError, ErrCodeInternal, "internal server error"
	}
}
