// Package middleware contains shared Gin middleware used by the dashboard API.
//
// This file validates the Idempotency-Key header on operator replies. When a
// key was already used by the same operator on the same ticket, the request
// is flagged as a replay so the handler can return the stored message and the
// rate limiter can let it through.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// GetIdempotencyKey returns the validated key stashed by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether a stored result exists for this request's key.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures key validation. TTL is enforced by the lookup.
type IdempotencyOptions struct {
	// MaxLen caps the key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether an unexpired record exists for
// (operator, ticketID, key). Lookup errors never block the request.
type IdempotencyLookup func(ctx context.Context, operator string, ticketID int64, key string, now time.Time) (bool, error)

// IdempotencyValidator checks the Idempotency-Key header when present:
// malformed keys get 400, valid keys are stashed for the handler, and keys
// with a stored result mark the request as a replay. Requests without the
// header pass through untouched.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_request",
				"message":    "invalid " + HeaderIdempotencyKey,
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		ticketID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if lookup != nil && err == nil && ticketID > 0 {
			exists, _ := lookup(c.Request.Context(), OperatorFrom(c), ticketID, key, time.Now().UTC())
			if exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}
