package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"trading-engine/internal/events"
	"trading-engine/internal/indicators"
	"trading-engine/internal/monitor"
	"trading-engine/internal/oco"
	"trading-engine/internal/order"
	"trading-engine/internal/plan"
	"trading-engine/internal/risk"
	"trading-engine/internal/schedule"
	"trading-engine/internal/state"
	"trading-engine/pkg/db"
	"trading-engine/pkg/exchanges/common"
)

// Config tunes the loop.
type Config struct {
	Interval    time.Duration
	PlanPath    string
	HistorySize int
	// ReloadCron is a cron expression evaluated in the reference zone. Empty disables it.
	ReloadCron string
	ATRTTL     time.Duration
}

// Deps are the collaborators of the loop. Dominance, News and DB are optional.
type Deps struct {
	Plan      *plan.TradingPlan
	Calendar  *schedule.Calendar
	Conn      common.Connector
	Dominance common.Dominance
	News      common.Headlines
	DB        *db.Database
	Bus       *events.Bus
	Log       zerolog.Logger
	Clock     func() time.Time
}

// Engine owns the daily state and the OCO book. Tick is not safe for
// concurrent use; Run serialises it. Status, Reload and Submit may be called from any goroutine.
type Engine struct {
	cfg  Config
	cal  *schedule.Calendar
	conn common.Connector
	dom  common.Dominance
	news common.Headlines
	db   *db.Database
	bus  *events.Bus
	log  zerolog.Logger
	now  func() time.Time

	guard   *risk.Guard
	book    *oco.Book
	mgr     *oco.Manager
	journal *order.Journal
	exec    *order.Executor
	states  *state.Manager
	hist    *monitor.History
	atr     *indicators.Engine

	plan     *plan.TradingPlan
	loadedAt time.Time
	pending  atomic.Pointer[plan.TradingPlan]
	day      state.DailyState

	warned     map[string]string
	hedgeTries map[string]int

	cmdMu    sync.Mutex
	commands []queuedCommand

	mu      sync.RWMutex
	status  Status
	running atomic.Bool
}

func New(cfg Config, d Deps) (*Engine, error) {
	if d.Plan == nil {
		return nil, errors.New("engine: plan is required")
	}
	if d.Conn == nil {
		return nil, errors.New("engine: connector is required")
	}
	if d.Calendar == nil {
		cal, err := schedule.NewCalendar(schedule.DefaultZone)
		if err != nil {
			return nil, err
		}
		d.Calendar = cal
	}
	if d.Bus == nil {
		d.Bus = events.NewBus()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}

	log := d.Log.With().Str("component", "engine").Logger()
	e := &Engine{
		cfg:    cfg,
		cal:    d.Calendar,
		conn:   d.Conn,
		dom:    d.Dominance,
		news:   d.News,
		db:     d.DB,
		bus:    d.Bus,
		log:    log,
		now:    d.Clock,
		guard:  risk.NewGuard(d.Log),
		book:   oco.NewBook(),
		states: state.NewManager(d.DB),
		hist:   monitor.NewHistory(cfg.HistorySize),
		atr:    indicators.NewEngine(d.Conn, cfg.ATRTTL),
		plan:   d.Plan,
	}
	e.loadedAt = e.now()
	e.journal = order.NewJournal(d.DB, d.Bus, e.cal.DateKey, d.Log)
	e.mgr = oco.NewManager(d.Conn, e.book, e.journal, d.Log)
	e.exec = order.NewExecutor(e.mgr, d.Conn, e.journal, d.Log)
	e.status.Plan = e.planInfo()
	return e, nil
}

// Bus exposes the event bus for subscribers such as metrics and notifications.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Run ticks until ctx is done. The first tick runs immediately.
func (e *Engine) Run(ctx context.Context) error {
	e.running.Store(true)
	defer e.running.Store(false)

	if e.cfg.ReloadCron != "" && e.cfg.PlanPath != "" {
		c := cron.New(cron.WithLocation(e.cal.Location()))
		if _, err := c.AddFunc(e.cfg.ReloadCron, func() {
			if err := e.Reload(ctx); err != nil {
				e.log.Warn().Err(err).Msg("scheduled plan reload failed")
			}
		}); err != nil {
			return fmt.Errorf("reload schedule %q: %w", e.cfg.ReloadCron, err)
		}
		c.Start()
		defer c.Stop()
	}

	e.log.Info().Dur("interval", e.cfg.Interval).Str("plan_date", e.plan.PlanDate).Msg("control loop started")
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := e.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.log.Error().Err(err).Msg("tick failed")
		}
		select {
		case <-ctx.Done():
			e.log.Info().Msg("control loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Reload validates the plan file and queues it for the next tick. An invalid
// plan is reported and the current one stays in effect.
func (e *Engine) Reload(ctx context.Context) error {
	if e.cfg.PlanPath == "" {
		return errors.New("reload: no plan path configured")
	}
	p, err := plan.Load(e.cfg.PlanPath)
	if err != nil {
		e.journal.Alert(events.SeverityCritical, "plan reload rejected, keeping current plan: "+err.Error(), e.now())
		return err
	}
	e.pending.Store(p)
	e.log.Info().Str("path", e.cfg.PlanPath).Str("plan_date", p.PlanDate).Str("version", p.PlanVersion).Msg("plan reload queued")
	return nil
}

// applyReload swaps in a queued plan. Pairs for assets the new plan drops are
// cancelled by Expire on this tick.
func (e *Engine) applyReload() {
	p := e.pending.Swap(nil)
	if p == nil {
		return
	}
	e.mu.Lock()
	e.plan = p
	e.loadedAt = e.now()
	e.mu.Unlock()
	e.bus.Publish(events.EventPlanReloaded, fmt.Sprintf("plan %s v%s loaded", p.PlanDate, p.PlanVersion))
	e.log.Info().Str("plan_date", p.PlanDate).Msg("plan swapped in")
}

func (e *Engine) planInfo() PlanInfo {
	return PlanInfo{
		Date:     e.plan.PlanDate,
		Version:  e.plan.PlanVersion,
		Type:     e.plan.PlanType,
		Author:   e.plan.PlanAuthor,
		Symbols:  e.plan.Symbols(),
		LoadedAt: e.loadedAt,
	}
}

// Status returns a copy of the state after the last tick.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.status
	s.Day = s.Day.Clone()
	s.Pairs = append([]PairView(nil), s.Pairs...)
	s.Degraded = append([]string(nil), s.Degraded...)
	s.Running = e.running.Load()
	return s
}

// Report builds the end-of-day summary for the current date so far.
func (e *Engine) Report(ctx context.Context) (order.Report, error) {
	e.mu.RLock()
	day := e.status.Day.Clone()
	p := e.plan
	e.mu.RUnlock()
	return e.journal.Report(ctx, order.Env{Plan: p, Day: &day, Now: e.now()})
}

func (e *Engine) Orders(ctx context.Context, date string) ([]db.OrderRecord, error) {
	if e.db == nil {
		return nil, nil
	}
	if date == "" {
		date = e.cal.DateKey(e.now())
	}
	return e.db.ListOrders(ctx, date)
}

func (e *Engine) Actions(ctx context.Context, date string) ([]db.ActionRecord, error) {
	if e.db == nil {
		return nil, nil
	}
	if date == "" {
		date = e.cal.DateKey(e.now())
	}
	return e.db.ListActions(ctx, date)
}
