package common

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TimeSync keeps the offset between local and venue clocks.
type TimeSync struct {
	serverTime func(ctx context.Context) (int64, error)
	apply      func(offsetMs int64)
	interval   time.Duration
	log        zerolog.Logger

	mu       sync.RWMutex
	offset   int64 // server - local, ms
	lastSync time.Time
}

// NewTimeSync polls serverTime every interval and hands the offset to apply.
func NewTimeSync(serverTime func(ctx context.Context) (int64, error), apply func(int64), interval time.Duration, log zerolog.Logger) *TimeSync {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &TimeSync{
		serverTime: serverTime,
		apply:      apply,
		interval:   interval,
		log:        log.With().Str("component", "timesync").Logger(),
	}
}

// Due reports whether the last sync is older than the interval.
func (ts *TimeSync) Due() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.lastSync.IsZero() || time.Since(ts.lastSync) >= ts.interval
}

// Sync measures the offset assuming symmetric latency.
func (ts *TimeSync) Sync(ctx context.Context) error {
	before := time.Now().UnixMilli()
	server, err := ts.serverTime(ctx)
	if err != nil {
		return err
	}
	after := time.Now().UnixMilli()
	local := before + (after-before)/2

	ts.mu.Lock()
	ts.offset = server - local
	ts.lastSync = time.Now()
	offset := ts.offset
	ts.mu.Unlock()

	if ts.apply != nil {
		ts.apply(offset)
	}
	ts.log.Debug().Int64("offset_ms", offset).Msg("time synced")
	return nil
}

// Offset returns the last measured offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
