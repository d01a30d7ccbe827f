package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-engine/internal/events"
)

type recorder struct {
	mu   sync.Mutex
	got  []events.Alert
	fail error
}

func (r *recorder) Send(_ context.Context, a events.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, a)
	return r.fail
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.got))
	for _, a := range r.got {
		out = append(out, a.Message)
	}
	return out
}

func TestAsyncDropsWhenFull(t *testing.T) {
	rec := &recorder{}
	a := NewAsync(rec, 1, time.Second, zerolog.Nop())

	a.Notify(events.SeverityCritical, "kill switch")
	a.Notify(events.SeverityWarning, "second")
	assert.Equal(t, uint64(1), a.Dropped())
	assert.Empty(t, rec.messages(), "nothing is delivered on the caller's goroutine")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Run(ctx)
	assert.Equal(t, []string{"kill switch"}, rec.messages())
}

func TestAsyncDelivers(t *testing.T) {
	rec := &recorder{}
	a := NewAsync(rec, 8, time.Second, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { a.Run(ctx); close(done) }()

	a.Notify(events.SeverityInfo, "one")
	a.Notify(events.SeverityInfo, "two")
	require.Eventually(t, func() bool { return len(rec.messages()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestAtLeastFilters(t *testing.T) {
	rec := &recorder{}
	s := AtLeast(events.SeverityWarning, rec)
	ctx := context.Background()

	require.NoError(t, s.Send(ctx, events.Alert{Severity: events.SeverityInfo, Message: "quiet"}))
	require.NoError(t, s.Send(ctx, events.Alert{Severity: events.SeverityWarning, Message: "warn"}))
	require.NoError(t, s.Send(ctx, events.Alert{Severity: events.SeverityCritical, Message: "crit"}))
	assert.Equal(t, []string{"warn", "crit"}, rec.messages())
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{fail: assert.AnError}
	err := Multi{ok, bad}.Send(context.Background(), events.Alert{Message: "x"})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Len(t, ok.messages(), 1)
}

func TestTelegramSend(t *testing.T) {
	var got telegramMessage
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = sonic.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram(srv.URL, "TOKEN", "42")
	at := time.Date(2025, 8, 8, 20, 0, 0, 0, time.UTC)
	err := tg.Send(context.Background(), events.Alert{Severity: events.SeverityCritical, Message: "kill switch", At: at})
	require.NoError(t, err)
	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got.ChatID)
	assert.Equal(t, "[CRITICAL] 2025-08-08T20:00:00Z kill switch", got.Text)
}

func TestTelegramError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	err := NewTelegram(srv.URL, "T", "1").Send(context.Background(), events.Alert{Message: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

type chanNotifier chan string

func (c chanNotifier) Notify(_ events.Severity, msg string) { c <- msg }

func TestRelayForwardsAlerts(t *testing.T) {
	bus := events.NewBus()
	out := make(chanNotifier, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	(&Relay{Bus: bus, Notifier: out}).Start(ctx)
	bus.Publish(events.EventRiskAlert, events.Alert{Severity: events.SeverityCritical, Message: "halted"})
	bus.Publish(events.EventOrderRejected, events.OrderUpdate{Purpose: "entry", Symbol: "BTCUSDT", Side: "BUY", Qty: 0.1, Error: "margin"})

	got := []string{<-out, <-out}
	assert.ElementsMatch(t, []string{"halted", "entry order BTCUSDT BUY 0.1 rejected: margin"}, got)
}
