package monitor

import (
	"fmt"
	"math"
	"strings"
	"time"

	"trading-engine/internal/plan"
	"trading-engine/pkg/exchanges/common"
)

// reading is one metric value for a rule, or the reason it is missing.
type reading struct {
	value float64
	ok    bool
	why   string
}

func measured(m common.Measurement, what string) reading {
	if v, ok := m.Get(); ok {
		return reading{value: v, ok: true}
	}
	why := m.Reason
	if why == "" {
		why = "unavailable"
	}
	return reading{why: what + ": " + why}
}

func missing(format string, args ...any) reading {
	return reading{why: fmt.Sprintf(format, args...)}
}

// compare applies a rule's comparison sense.
func compare(sense string, v, limit float64) bool {
	switch sense {
	case plan.CompareLTE:
		return v <= limit
	case plan.CompareAbsGTE:
		return math.Abs(v) >= limit
	default:
		return v >= limit
	}
}

// fundingPct is the funding rate in percent per interval.
func fundingPct(cur common.MarketSnapshot, symbol string) reading {
	r := measured(cur.Ticker(symbol).FundingRate, symbol+" funding rate")
	r.value *= 100
	return r
}

// oiChangePct is the percent change of open interest against the reference snapshot.
func oiChangePct(cur common.MarketSnapshot, hist *History, symbol string, window time.Duration) reading {
	now := measured(cur.Ticker(symbol).OpenInterest, symbol+" open interest")
	if !now.ok {
		return now
	}
	ref, ok := hist.Reference(cur.CapturedAt, window)
	if !ok {
		return missing("%s open interest: no history for %s window", symbol, window)
	}
	then := measured(ref.Ticker(symbol).OpenInterest, symbol+" past open interest")
	if !then.ok {
		return then
	}
	if then.value == 0 {
		return missing("%s open interest: zero baseline", symbol)
	}
	return reading{value: (now.value - then.value) / then.value * 100, ok: true}
}

// gapPoints is last minus mark.
func gapPoints(cur common.MarketSnapshot, symbol string) reading {
	t := cur.Ticker(symbol)
	last := measured(t.Last, symbol+" last price")
	if !last.ok {
		return last
	}
	mark := measured(t.Mark, symbol+" mark price")
	if !mark.ok {
		return mark
	}
	return reading{value: last.value - mark.value, ok: true}
}

// dropPct is the fall of last price against the reference, positive when falling.
func dropPct(cur common.MarketSnapshot, hist *History, symbol string, window time.Duration) reading {
	now := measured(cur.Ticker(symbol).Last, symbol+" last price")
	if !now.ok {
		return now
	}
	ref, ok := hist.Reference(cur.CapturedAt, window)
	if !ok {
		return missing("%s price: no history for %s window", symbol, window)
	}
	then := measured(ref.Ticker(symbol).Last, symbol+" past price")
	if !then.ok {
		return then
	}
	if then.value <= 0 {
		return missing("%s price: non-positive baseline", symbol)
	}
	return reading{value: (then.value - now.value) / then.value * 100, ok: true}
}

func dominance(cur common.MarketSnapshot) reading {
	return measured(cur.BTCDominance, "btc dominance")
}

// headlineHit returns the first keyword present in the headline token set.
func headlineHit(cur common.MarketSnapshot, keywords []string) (string, bool) {
	if len(cur.Headlines) == 0 {
		return "", false
	}
	norm := make(map[string]struct{}, len(cur.Headlines))
	for h := range cur.Headlines {
		norm[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	for _, k := range keywords {
		if _, ok := norm[strings.ToLower(strings.TrimSpace(k))]; ok {
			return k, true
		}
	}
	return "", false
}
