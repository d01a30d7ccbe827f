package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"trading-engine/pkg/db"
)

// Phase is the schedule phase of a trading date. It only moves forward within a date.
type Phase int

const (
	Idle Phase = iota
	Armed
	Cancelling
	Closed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Cancelling:
		return "cancelling"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// DailyState is the per reference-date record owned by the control loop.
type DailyState struct {
	Date                string          `json:"date"`
	EquityAtOpen        float64         `json:"equity_at_open"`
	RealizedPnL         float64         `json:"realized_pnl"`
	UnrealizedPnL       float64         `json:"unrealized_pnl"`
	KillSwitchTriggered bool            `json:"kill_switch_triggered"`
	TimeStopExecuted    bool            `json:"time_stop_executed"`
	Halted              bool            `json:"halted"`
	HaltReason          string          `json:"halt_reason,omitempty"`
	EntriesPaused       bool            `json:"entries_paused"`
	Phase               Phase           `json:"phase"`
	FiredPhases         map[string]bool `json:"fired_phases,omitempty"`
	FiredRules          map[string]bool `json:"fired_rules,omitempty"`
	LastTick            time.Time       `json:"last_tick"`
}

// NewDailyState starts a fresh Idle record for date.
func NewDailyState(date string) DailyState {
	return DailyState{
		Date:        date,
		Phase:       Idle,
		FiredPhases: map[string]bool{},
		FiredRules:  map[string]bool{},
	}
}

// Clone returns a deep copy so evaluators can return a next state without aliasing.
func (s DailyState) Clone() DailyState {
	out := s
	out.FiredPhases = make(map[string]bool, len(s.FiredPhases))
	for k, v := range s.FiredPhases {
		out.FiredPhases[k] = v
	}
	out.FiredRules = make(map[string]bool, len(s.FiredRules))
	for k, v := range s.FiredRules {
		out.FiredRules[k] = v
	}
	return out
}

// Advance moves the phase forward, never back.
func (s *DailyState) Advance(p Phase) {
	if p > s.Phase {
		s.Phase = p
	}
}

// Halt sets the same-day halt flag. The first reason is kept.
func (s *DailyState) Halt(reason string) {
	if !s.Halted {
		s.Halted = true
		s.HaltReason = reason
	}
}

// DailyPnL is realized plus unrealized since the date opened.
func (s DailyState) DailyPnL() float64 {
	return s.RealizedPnL + s.UnrealizedPnL
}

// Manager keeps the current DailyState in memory and persists it to the journal.
type Manager struct {
	mu      sync.RWMutex
	current DailyState
	db      *db.Database
}

func NewManager(database *db.Database) *Manager {
	return &Manager{db: database}
}

// Load restores the record for date, or starts a new one.
func (m *Manager) Load(ctx context.Context, date string) (DailyState, error) {
	st := NewDailyState(date)
	if m.db != nil {
		payload, err := m.db.LoadDailyState(ctx, date)
		switch {
		case err == nil:
			if err := sonic.Unmarshal(payload, &st); err != nil {
				return DailyState{}, fmt.Errorf("decode daily state %s: %w", date, err)
			}
			if st.FiredPhases == nil {
				st.FiredPhases = map[string]bool{}
			}
			if st.FiredRules == nil {
				st.FiredRules = map[string]bool{}
			}
		case errors.Is(err, db.ErrNotFound):
		default:
			return DailyState{}, fmt.Errorf("load daily state %s: %w", date, err)
		}
	}
	m.mu.Lock()
	m.current = st
	m.mu.Unlock()
	return st.Clone(), nil
}

// Save replaces the in-memory record and persists it.
func (m *Manager) Save(ctx context.Context, st DailyState) error {
	m.mu.Lock()
	m.current = st.Clone()
	m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	payload, err := sonic.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode daily state: %w", err)
	}
	return m.db.SaveDailyState(ctx, st.Date, payload)
}

// Current returns a copy of the latest record.
func (m *Manager) Current() DailyState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}
