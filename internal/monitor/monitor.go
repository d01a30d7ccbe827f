// Package monitor turns market readings into protective actions declared by the
// plan's monitoring rules and risk triggers.
package monitor

import (
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"trading-engine/internal/action"
	"trading-engine/internal/plan"
	"trading-engine/pkg/exchanges/common"
)

// Signal is one rule whose condition held on this tick.
type Signal struct {
	Rule   string        `json:"rule"`
	Symbol string        `json:"symbol,omitempty"`
	Metric plan.Metric   `json:"metric"`
	Value  float64       `json:"value"`
	Limit  float64       `json:"limit"`
	Action action.Kind   `json:"action"`
	Source action.Source `json:"source"`
	Detail string        `json:"detail,omitempty"`
}

// Key identifies the signal for once-per-day dedupe.
func (s Signal) Key() string { return s.Rule + "|" + s.Symbol }

// Request converts the signal for the dispatcher.
func (s Signal) Request() action.Request {
	reason := s.Detail
	if reason == "" {
		reason = fmt.Sprintf("%s %.4f vs %.4f", s.Metric, s.Value, s.Limit)
	}
	return action.Request{Kind: s.Action, Source: s.Source, Symbol: s.Symbol, Rule: s.Rule, Reason: reason}
}

// Report is the outcome of one evaluation.
type Report struct {
	Signals []Signal
	Skipped []string // readings that were unavailable
}

// Requests returns the signals as action requests.
func (r Report) Requests() []action.Request {
	return lo.Map(r.Signals, func(s Signal, _ int) action.Request { return s.Request() })
}

// Evaluate checks every monitoring rule and risk trigger against cur, using
// hist for windowed metrics. hist must not yet contain cur. It is pure.
func Evaluate(p *plan.TradingPlan, cur common.MarketSnapshot, hist *History) Report {
	var r Report

	for _, a := range p.ActiveAssets {
		for _, name := range sortedKeys(a.MonitoringRules) {
			rule := a.MonitoringRules[name]
			metric := rule.ResolveMetric(name)
			limit, _ := rule.Limit()
			c := check{
				rule: name, metric: metric, limit: limit, sense: rule.Sense(metric),
				kind: rule.Kind(), source: action.SourceMonitor,
				window: time.Duration(rule.WindowMin) * time.Minute, keywords: rule.Keywords,
			}
			c.run(&r, cur, hist, []string{a.Symbol})
		}
	}

	for _, name := range sortedKeys(p.RiskTriggers) {
		t := p.RiskTriggers[name]
		metric := t.ResolveMetric(name)
		limit, _ := t.Limit()
		c := check{
			rule: name, metric: metric, limit: limit, sense: plan.MonitoringRule{}.Sense(metric),
			kind: t.Kind(), source: action.SourceTrigger,
			window: time.Duration(t.WindowMin) * time.Minute, keywords: t.Words(),
		}
		c.run(&r, cur, hist, t.Assets)
	}
	return r
}

type check struct {
	rule     string
	metric   plan.Metric
	limit    float64
	sense    string
	kind     action.Kind
	source   action.Source
	window   time.Duration
	keywords []string
}

func (c check) run(r *Report, cur common.MarketSnapshot, hist *History, symbols []string) {
	switch c.metric {
	case plan.MetricDominance:
		c.apply(r, "", dominance(cur))
	case plan.MetricNews:
		if k, ok := headlineHit(cur, c.keywords); ok {
			r.Signals = append(r.Signals, Signal{
				Rule: c.rule, Metric: c.metric, Value: 1, Limit: 1, Action: c.kind, Source: c.source,
				Detail: fmt.Sprintf("headline matched %q", k),
			})
		}
	case plan.MetricFundingRate, plan.MetricOpenInterest, plan.MetricPriceGap, plan.MetricFlashDrop:
		for _, s := range symbols {
			c.apply(r, s, c.read(cur, hist, s))
		}
	default:
		r.Skipped = append(r.Skipped, fmt.Sprintf("%s: unknown metric", c.rule))
	}
}

func (c check) read(cur common.MarketSnapshot, hist *History, symbol string) reading {
	switch c.metric {
	case plan.MetricFundingRate:
		return fundingPct(cur, symbol)
	case plan.MetricOpenInterest:
		return oiChangePct(cur, hist, symbol, c.window)
	case plan.MetricPriceGap:
		return gapPoints(cur, symbol)
	default:
		return dropPct(cur, hist, symbol, c.window)
	}
}

func (c check) apply(r *Report, symbol string, rd reading) {
	if !rd.ok {
		r.Skipped = append(r.Skipped, c.rule+": "+rd.why)
		return
	}
	if !compare(c.sense, rd.value, c.limit) {
		return
	}
	r.Signals = append(r.Signals, Signal{
		Rule: c.rule, Symbol: symbol, Metric: c.metric, Value: rd.value, Limit: c.limit,
		Action: c.kind, Source: c.source,
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
