// Package metrics exposes engine state as prometheus collectors fed from the event bus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trading-engine/internal/events"
)

// Metrics owns a private registry so several engines can run in one test binary.
type Metrics struct {
	reg *prometheus.Registry

	ticks        prometheus.Counter
	tickDuration prometheus.Histogram
	actions      *prometheus.CounterVec
	orders       *prometheus.CounterVec
	halted       prometheus.Gauge
	equity       prometheus.Gauge
	dailyPnL     prometheus.Gauge
	threshold    prometheus.Gauge
	available    prometheus.Gauge
	reserved     prometheus.Gauge
	degraded     prometheus.Gauge
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// New registers every collector. bus may be nil; when set its drop counter is exported.
func New(bus *events.Bus) *Metrics {
	m := &Metrics{
		reg:   prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_ticks_total", Help: "Control loop cycles completed"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_tick_duration_seconds",
			Help:    "Wall time of one control loop cycle",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "engine_actions_total", Help: "Dispatched actions by kind and status"},
			[]string{"kind", "status"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "engine_orders_total", Help: "Orders by purpose and status"},
			[]string{"purpose", "status"}),
		halted:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "engine_halted", Help: "1 when the trading day is halted"}),
		equity:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "engine_equity_usd", Help: "Account equity"}),
		dailyPnL:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "engine_daily_pnl_usd", Help: "Realized plus unrealized PnL for the day"}),
		threshold: prometheus.NewGauge(prometheus.GaugeOpts{Name: "engine_kill_threshold_usd", Help: "Loss that fires the kill switch"}),
		available: prometheus.NewGauge(prometheus.GaugeOpts{Name: "engine_available_margin_usd", Help: "Margin headroom after reservations"}),
		reserved:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "engine_reserved_margin_usd", Help: "Margin implied by resting entry legs"}),
		degraded:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "engine_degraded_readings", Help: "Readings unavailable on the last tick"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "engine_http_requests_total", Help: "Ops API requests by route and status code"},
			[]string{"method", "route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engine_http_request_duration_seconds",
			Help:    "Ops API latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.reg.MustRegister(
		m.ticks, m.tickDuration, m.actions, m.orders, m.halted,
		m.equity, m.dailyPnL, m.threshold, m.available, m.reserved, m.degraded,
		m.requests, m.latency,
		prometheus.NewGoCollector(),
	)
	if bus != nil {
		m.reg.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: "engine_bus_dropped_total", Help: "Events dropped because a subscriber was full"},
			func() float64 { return float64(bus.Dropped()) },
		))
	}
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTick(s events.TickSummary) {
	m.ticks.Inc()
	m.tickDuration.Observe(s.Duration.Seconds())
	m.halted.Set(boolGauge(s.Halted))
	m.equity.Set(s.Equity)
	m.dailyPnL.Set(s.DailyPnL)
	m.threshold.Set(s.ThresholdUSD)
	m.available.Set(s.AvailableMargin)
	m.reserved.Set(s.ReservedMargin)
	m.degraded.Set(float64(s.Degraded))
}

func (m *Metrics) ObserveAction(o events.ActionOutcome) {
	m.actions.WithLabelValues(o.Request.Kind.String(), o.Status).Inc()
}

func (m *Metrics) ObserveOrder(u events.OrderUpdate) {
	m.orders.WithLabelValues(u.Purpose, u.Status).Inc()
}

// ObserveRequest counts one ops API request. route is the matched pattern, not the raw path.
func (m *Metrics) ObserveRequest(method, route string, code int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(route).Observe(d.Seconds())
}

// Start consumes bus events until ctx is done.
func (m *Metrics) Start(ctx context.Context, bus *events.Bus) {
	ticks, unsubTicks := bus.Subscribe(events.EventTick, 16)
	acts, unsubActs := bus.Subscribe(events.EventAction, 64)
	orders, unsubOrders := bus.Subscribe(events.EventOrderSubmitted, 64)
	go func() {
		defer unsubTicks()
		defer unsubActs()
		defer unsubOrders()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-ticks:
				if s, ok := msg.(events.TickSummary); ok {
					m.ObserveTick(s)
				}
			case msg := <-acts:
				if o, ok := msg.(events.ActionOutcome); ok {
					m.ObserveAction(o)
				}
			case msg := <-orders:
				if u, ok := msg.(events.OrderUpdate); ok {
					m.ObserveOrder(u)
				}
			}
		}
	}()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
