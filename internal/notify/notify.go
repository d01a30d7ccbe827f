// Package notify delivers operator alerts without ever blocking the control loop.
package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"trading-engine/internal/events"
)

// Notifier accepts an alert and returns immediately.
type Notifier interface {
	Notify(severity events.Severity, msg string)
}

// Sender performs the actual, possibly slow, delivery.
type Sender interface {
	Send(ctx context.Context, a events.Alert) error
}

// Rank orders severities, higher is more urgent.
func Rank(s events.Severity) int {
	switch s {
	case events.SeverityCritical:
		return 2
	case events.SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Async queues alerts for a background worker and drops them when the queue is full.
type Async struct {
	sender  Sender
	queue   chan events.Alert
	timeout time.Duration
	log     zerolog.Logger
	now     func() time.Time
	dropped atomic.Uint64
}

func NewAsync(s Sender, buffer int, timeout time.Duration, log zerolog.Logger) *Async {
	if buffer <= 0 {
		buffer = 64
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Async{
		sender:  s,
		queue:   make(chan events.Alert, buffer),
		timeout: timeout,
		log:     log.With().Str("component", "notify").Logger(),
		now:     time.Now,
	}
}

func (a *Async) Notify(severity events.Severity, msg string) {
	select {
	case a.queue <- events.Alert{Severity: severity, Message: msg, At: a.now()}:
	default:
		a.dropped.Add(1)
		a.log.Warn().Str("severity", string(severity)).Str("message", msg).Msg("notification queue full, dropped")
	}
}

// Dropped counts alerts lost to a full queue.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Run delivers queued alerts until ctx is done, then flushes what is left.
func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.flush()
			return
		case al := <-a.queue:
			a.deliver(context.Background(), al)
		}
	}
}

func (a *Async) flush() {
	for {
		select {
		case al := <-a.queue:
			a.deliver(context.Background(), al)
		default:
			return
		}
	}
}

func (a *Async) deliver(parent context.Context, al events.Alert) {
	ctx, cancel := context.WithTimeout(parent, a.timeout)
	defer cancel()
	if err := a.sender.Send(ctx, al); err != nil {
		a.log.Error().Err(err).Str("severity", string(al.Severity)).Msg("notification not delivered")
	}
}

// Multi fans an alert out to several senders.
type Multi []Sender

func (m Multi) Send(ctx context.Context, a events.Alert) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Send(ctx, a))
	}
	return errors.Join(errs...)
}

// AtLeast forwards only alerts at or above min.
func AtLeast(min events.Severity, s Sender) Sender {
	return filtered{min: min, next: s}
}

type filtered struct {
	min  events.Severity
	next Sender
}

func (f filtered) Send(ctx context.Context, a events.Alert) error {
	if Rank(a.Severity) < Rank(f.min) {
		return nil
	}
	return f.next.Send(ctx, a)
}

// Log writes alerts to the structured log.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) Log {
	return Log{log: log.With().Str("component", "alerts").Logger()}
}

func (l Log) Send(_ context.Context, a events.Alert) error {
	ev := l.log.Info()
	switch a.Severity {
	case events.SeverityCritical:
		ev = l.log.Error()
	case events.SeverityWarning:
		ev = l.log.Warn()
	}
	ev.Time("at", a.At).Msg(a.Message)
	return nil
}
