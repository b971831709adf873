package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type lookupCall struct {
	operator string
	ticketID int64
	key      string
}

// idemRouter mounts the validator in front of POST /tickets/:id/reply and
// reports what the handler saw.
func idemRouter(opts IdempotencyOptions, lookup IdempotencyLookup) (*gin.Engine, *struct {
	key    string
	replay bool
	bypass bool
}) {
	gin.SetMode(gin.TestMode)
	seen := &struct {
		key    string
		replay bool
		bypass bool
	}{}
	r := gin.New()
	r.Use(Operator(), IdempotencyValidator(opts, lookup))
	r.POST("/tickets/:id/reply", func(c *gin.Context) {
		seen.key, _ = GetIdempotencyKey(c)
		seen.replay = IsReplay(c)
		seen.bypass = IsRateBypass(c)
		c.Status(http.StatusCreated)
	})
	return r, seen
}

func postReply(r *gin.Engine, path, key, operator string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	if operator != "" {
		req.Header.Set(HeaderOperatorID, operator)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyValidator_NoHeader(t *testing.T) {
	called := false
	r, seen := idemRouter(IdempotencyOptions{}, func(context.Context, string, int64, string, time.Time) (bool, error) {
		called = true
		return true, nil
	})
	w := postReply(r, "/tickets/1/reply", "", "")
	if w.Code != http.StatusCreated || called || seen.key != "" || seen.replay {
		t.Fatalf("code=%d called=%v seen=%+v", w.Code, called, seen)
	}
}

func TestIdempotencyValidator_RejectsBadKeys(t *testing.T) {
	r, _ := idemRouter(IdempotencyOptions{MaxLen: 8}, nil)
	for _, key := range []string{"has space", "toolong-key", "semi;colon"} {
		w := postReply(r, "/tickets/1/reply", key, "")
		if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), `"bad_request"`) {
			t.Fatalf("key %q -> %d %s", key, w.Code, w.Body.String())
		}
	}

	r, _ = idemRouter(IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, nil)
	if w := postReply(r, "/tickets/1/reply", "abc", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("custom pattern not applied: %d", w.Code)
	}
}

func TestIdempotencyValidator_LookupScopedToOperatorAndTicket(t *testing.T) {
	var calls []lookupCall
	lookup := func(_ context.Context, op string, ticketID int64, key string, now time.Time) (bool, error) {
		if now.IsZero() || now.Location() != time.UTC {
			t.Fatalf("lookup time must be UTC: %v", now)
		}
		calls = append(calls, lookupCall{op, ticketID, key})
		return op == "alice" && ticketID == 7, nil
	}
	r, seen := idemRouter(IdempotencyOptions{}, lookup)

	postReply(r, "/tickets/7/reply", "k-1", "alice")
	if !seen.replay || !seen.bypass || seen.key != "k-1" {
		t.Fatalf("expected replay for alice: %+v", seen)
	}

	postReply(r, "/tickets/7/reply", "k-1", "")
	if seen.replay || seen.bypass {
		t.Fatalf("anonymous operator must not replay alice's key: %+v", seen)
	}

	want := []lookupCall{{"alice", 7, "k-1"}, {"operator", 7, "k-1"}}
	if len(calls) != len(want) || calls[0] != want[0] || calls[1] != want[1] {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestIdempotencyValidator_NonNumericTicketSkipsLookup(t *testing.T) {
	called := false
	r, seen := idemRouter(IdempotencyOptions{}, func(context.Context, string, int64, string, time.Time) (bool, error) {
		called = true
		return true, nil
	})
	postReply(r, "/tickets/abc/reply", "k-1", "")
	if called || seen.replay || seen.key != "k-1" {
		t.Fatalf("called=%v seen=%+v", called, seen)
	}
}

func TestIdempotencyHelpers_WrongTypes(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set(ctxKeyIdemKey, 123)
	c.Set(ctxKeyIdemReplay, "yes")
	c.Set(ctxKeyRateBypass, 1)
	if _, ok := GetIdempotencyKey(c); ok || IsReplay(c) || IsRateBypass(c) {
		t.Fatalf("non-matching types must read as absent")
	}
}
