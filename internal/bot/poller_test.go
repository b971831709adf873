package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-desk/internal/domain"
	"github.com/tbourn/go-support-desk/internal/observability"
	"github.com/tbourn/go-support-desk/internal/repo"
	"github.com/tbourn/go-support-desk/internal/services"
)

// queueReply opens a ticket for user 1 and queues one operator reply.
func queueReply(t *testing.T, b *Bot, text string) *domain.Message {
	t.Helper()
	ctx := context.Background()
	tk, err := b.Tickets.AppendInbound(ctx, services.InboundMessage{UserID: 1, FirstName: "Alice", Category: "general", Text: "help"})
	if err != nil {
		t.Fatalf("AppendInbound: %v", err)
	}
	m, err := b.Tickets.AppendOutbound(ctx, tk.ID, "op", text)
	if err != nil {
		t.Fatalf("AppendOutbound: %v", err)
	}
	return m
}

func TestPollerTick_DeliversPendingReply(t *testing.T) {
	b, fc, db := newTestBot(t)
	m := queueReply(t, b, "Your payout is on its way")
	p := &Poller{Client: fc, Outbox: &services.DeliveryService{DB: db}, MaxAttempts: 3}

	before := testutil.ToFloat64(observability.OutboundDelivery.WithLabelValues("delivered"))
	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got := fc.last(1)
	if !strings.HasPrefix(got, ResponsePrefix) || !strings.HasSuffix(got, "Your payout is on its way") {
		t.Fatalf("delivered text = %q", got)
	}
	stored, _ := repo.GetMessage(context.Background(), db, m.ID)
	if stored.DeliveryStatus != domain.DeliveryDelivered || stored.DeliveredAt == nil {
		t.Fatalf("message = %+v", stored)
	}
	if d := testutil.ToFloat64(observability.OutboundDelivery.WithLabelValues("delivered")) - before; d != 1 {
		t.Fatalf("delivered metric delta = %v", d)
	}

	// Nothing left to send.
	fc.reset()
	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(fc.sent) != 0 {
		t.Fatalf("resent %d messages", len(fc.sent))
	}
}

// testClock is a manually advanced clock shared by poller and outbox.
type testClock struct{ now time.Time }

func newTestClock() *testClock { return &testClock{now: time.Now().UTC()} }

func (c *testClock) Now() time.Time { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func (c *testClock) outbox(db *gorm.DB) *services.DeliveryService {
	return &services.DeliveryService{DB: db, Now: c.Now}
}

func TestPollerTick_RetriesThenFails(t *testing.T) {
	b, fc, db := newTestBot(t)
	m := queueReply(t, b, "hello")
	fc.sendErr = errors.New("timeout")
	clk := newTestClock()
	p := &Poller{Client: fc, Outbox: clk.outbox(db), MaxAttempts: 2, RetryBase: time.Second, BackoffMax: time.Minute, Now: clk.Now}
	ctx := context.Background()

	if err := p.Tick(ctx); err != nil {
		t.Fatalf("Tick 1: %v", err)
	}
	stored, _ := repo.GetMessage(ctx, db, m.ID)
	if stored.DeliveryStatus != domain.DeliveryPending || stored.DeliveryAttempts != 1 || stored.DeliveryError != "timeout" {
		t.Fatalf("after first failure = %+v", stored)
	}

	clk.Advance(time.Minute)
	if err := p.Tick(ctx); err != nil {
		t.Fatalf("Tick 2: %v", err)
	}
	stored, _ = repo.GetMessage(ctx, db, m.ID)
	if stored.DeliveryStatus != domain.DeliveryFailed || stored.DeliveryAttempts != 2 {
		t.Fatalf("after max attempts = %+v", stored)
	}

	// The ticket itself is untouched by delivery outcomes.
	tk, _ := repo.GetTicket(ctx, db, m.TicketID)
	if !tk.IsOpen() || tk.MessageCount != 2 {
		t.Fatalf("ticket = %+v", tk)
	}
}

func TestPollerTick_TransientFailureWaitsForBackoff(t *testing.T) {
	b, fc, db := newTestBot(t)
	m := queueReply(t, b, "hello")
	fc.sendErr = errors.New("read tcp: i/o timeout")
	clk := newTestClock()
	p := &Poller{Client: fc, Outbox: clk.outbox(db), MaxAttempts: 5, RetryBase: 10 * time.Second, BackoffMax: time.Minute, Now: clk.Now}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := p.Tick(ctx); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}
	if n := len(fc.textsTo(1)); n != 1 {
		t.Fatalf("sent %d times before the backoff expired", n)
	}
	stored, _ := repo.GetMessage(ctx, db, m.ID)
	if stored.DeliveryStatus != domain.DeliveryPending || stored.DeliveryAttempts != 1 || stored.NextAttemptAt == nil {
		t.Fatalf("message = %+v", stored)
	}
	// Randomized delay stays within [0.5, 1.5] of the base.
	if wait := stored.NextAttemptAt.Sub(clk.now); wait < 5*time.Second || wait > 15*time.Second {
		t.Fatalf("first retry in %v", wait)
	}

	fc.sendErr = nil
	clk.Advance(16 * time.Second)
	if err := p.Tick(ctx); err != nil {
		t.Fatalf("Tick after backoff: %v", err)
	}
	stored, _ = repo.GetMessage(ctx, db, m.ID)
	if stored.DeliveryStatus != domain.DeliveryDelivered {
		t.Fatalf("message not delivered after backoff: %+v", stored)
	}
}

func TestPollerTick_HonoursRetryAfter(t *testing.T) {
	b, fc, db := newTestBot(t)
	first := queueReply(t, b, "one")
	fc.sendErr = &tgbotapi.Error{Code: 429, Message: "Too Many Requests: retry after 30", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 30}}
	clk := newTestClock()
	p := &Poller{Client: fc, Outbox: clk.outbox(db), MaxAttempts: 5, RetryBase: time.Second, Now: clk.Now}
	ctx := context.Background()

	if _, err := b.Tickets.AppendOutbound(ctx, first.TicketID, "op", "two"); err != nil {
		t.Fatalf("AppendOutbound: %v", err)
	}
	if err := p.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	// Flood control stops the batch after the first reply.
	if n := len(fc.textsTo(1)); n != 1 {
		t.Fatalf("sent %d messages while throttled", n)
	}
	stored, _ := repo.GetMessage(ctx, db, first.ID)
	if stored.NextAttemptAt == nil || stored.NextAttemptAt.Sub(clk.now.Add(30*time.Second)).Abs() > time.Millisecond {
		t.Fatalf("retry_after not honoured: %+v", stored)
	}

	fc.sendErr = nil
	clk.Advance(20 * time.Second)
	if err := p.Tick(ctx); err != nil {
		t.Fatalf("Tick while paused: %v", err)
	}
	if n := len(fc.textsTo(1)); n != 1 {
		t.Fatalf("poller sent while paused: %d", n)
	}

	clk.Advance(11 * time.Second)
	if err := p.Tick(ctx); err != nil {
		t.Fatalf("Tick after pause: %v", err)
	}
	if n := len(fc.textsTo(1)); n != 3 {
		t.Fatalf("sent %d messages after pause; want 3", n)
	}
}

func TestPollerTick_SplitsLongReply(t *testing.T) {
	b, fc, db := newTestBot(t)
	// The longest reply the engine accepts, in astral runes (two UTF-16 units each).
	text := strings.Repeat("😀", services.DefaultMaxTextRunes)
	m := queueReply(t, b, text)
	p := &Poller{Client: fc, Outbox: &services.DeliveryService{DB: db}}

	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	parts := fc.textsTo(1)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], ResponsePrefix) {
		t.Fatalf("got %d parts", len(parts))
	}
	for i, part := range parts {
		if n := utf16Len(part); n > maxMessageUnits {
			t.Fatalf("part %d is %d UTF-16 units", i, n)
		}
	}
	if got := strings.Join(parts, ""); got != ResponsePrefix+"\n\n"+text {
		t.Fatalf("parts do not reassemble the reply")
	}
	stored, _ := repo.GetMessage(context.Background(), db, m.ID)
	if stored.DeliveryStatus != domain.DeliveryDelivered {
		t.Fatalf("message = %+v", stored)
	}
}

func TestPollerTick_PermanentErrorFailsImmediately(t *testing.T) {
	b, fc, db := newTestBot(t)
	m := queueReply(t, b, "hello")
	fc.sendErr = &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}
	p := &Poller{Client: fc, Outbox: &services.DeliveryService{DB: db}, MaxAttempts: 5}

	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	stored, _ := repo.GetMessage(context.Background(), db, m.ID)
	if stored.DeliveryStatus != domain.DeliveryFailed || !strings.Contains(stored.DeliveryError, "blocked") {
		t.Fatalf("message = %+v", stored)
	}
}

// flakyOutbox fails Pending a fixed number of times before serving an
// empty queue.
type flakyOutbox struct {
	mu       sync.Mutex
	failures int
	calls    int
	done     chan struct{}
}

func (o *flakyOutbox) Pending(context.Context, int) ([]domain.Message, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.calls <= o.failures {
		return nil, &services.StoreError{Op: "list pending outbound", Err: errors.New("database is locked")}
	}
	if o.calls == o.failures+1 {
		close(o.done)
	}
	return nil, nil
}

func (o *flakyOutbox) MarkDelivered(context.Context, int64) error { return nil }
func (o *flakyOutbox) MarkFailed(context.Context, int64, string) error { return nil }
func (o *flakyOutbox) RecordAttempt(context.Context, int64, string, time.Time) (int, error) {
	return 0, nil
}

func TestPollerRun_BacksOffOnStoreErrorsAndStops(t *testing.T) {
	ob := &flakyOutbox{failures: 3, done: make(chan struct{})}
	p := &Poller{Client: &fakeClient{}, Outbox: ob, Interval: time.Millisecond, BackoffMax: 5 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()

	select {
	case <-ob.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("poller did not recover from store errors")
	}
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run = %v; want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop")
	}
}

func TestRetryDelay(t *testing.T) {
	p := &Poller{RetryBase: 4 * time.Second, BackoffMax: 20 * time.Second}
	for _, tc := range []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 2 * time.Second, 6 * time.Second},
		{2, 4 * time.Second, 12 * time.Second},
		{3, 8 * time.Second, 24 * time.Second},
		{6, 10 * time.Second, 30 * time.Second},
	} {
		if d := p.retryDelay(tc.attempt, errors.New("timeout")); d < tc.min || d > tc.max {
			t.Fatalf("retryDelay(%d) = %v; want [%v, %v]", tc.attempt, d, tc.min, tc.max)
		}
	}
	throttle := &tgbotapi.Error{Code: 429, ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 7}}
	if d := p.retryDelay(1, throttle); d != 7*time.Second {
		t.Fatalf("retryDelay with retry_after = %v", d)
	}
}

func TestPermanent(t *testing.T) {
	if !permanent(&tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}) {
		t.Fatalf("400 should be permanent")
	}
	if permanent(&tgbotapi.Error{Code: 429, Message: "Too Many Requests"}) {
		t.Fatalf("429 should be retried")
	}
	if permanent(errors.New("dial tcp: timeout")) {
		t.Fatalf("network errors should be retried")
	}
}
