package action

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Kind is the closed set of actions a plan, the schedule or the risk guard can request.
type Kind int

const (
	None Kind = iota
	RaiseAttention
	PauseEntries
	TakeProfit50MoveSLToBE
	CloseStrictSL
	CloseLongsKeepHedge
	ForceCloseAll

	// Phase-only actions.
	PlaceOrders
	CancelUntriggered
	EndOfDayChecklist
)

var names = map[Kind]string{
	None:                   "none",
	RaiseAttention:         "raise_attention",
	PauseEntries:           "pause_entries",
	TakeProfit50MoveSLToBE: "take_profit_50_and_move_sl_to_be",
	CloseStrictSL:          "close_positions_strict_sl",
	CloseLongsKeepHedge:    "close_longs_keep_hedge",
	ForceCloseAll:          "force_close_all",
	PlaceOrders:            "place_orders",
	CancelUntriggered:      "cancel_all_untriggered",
	EndOfDayChecklist:      "end_of_day_checklist",
}

// tags accepted in plan documents. Several historical spellings map to one kind.
var tags = map[string]Kind{
	"raise_attention":                  RaiseAttention,
	"alert":                            RaiseAttention,
	"pause_entries":                    PauseEntries,
	"pause_trading":                    PauseEntries,
	"take_profit_50_and_move_sl_to_be": TakeProfit50MoveSLToBE,
	"close_positions_strict_sl":        CloseStrictSL,
	"close_longs_keep_hedge":           CloseLongsKeepHedge,
	"force_close_all":                  ForceCloseAll,
	"close_all_positions":              ForceCloseAll,
	"close_all_open_positions":         ForceCloseAll,
	"place_orders":                     PlaceOrders,
	"place_all_orders":                 PlaceOrders,
	"place_conditional_orders":         PlaceOrders,
	"setup_orders":                     PlaceOrders,
	"cancel_all_untriggered":           CancelUntriggered,
	"cancel_unfilled":                  CancelUntriggered,
	"end_of_day_checklist":             EndOfDayChecklist,
}

// Parse maps a plan action tag onto its Kind. Unknown tags are an error.
func Parse(tag string) (Kind, error) {
	k, ok := tags[strings.ToLower(strings.TrimSpace(tag))]
	if !ok {
		return None, fmt.Errorf("unknown action %q", tag)
	}
	return k, nil
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return fmt.Sprintf("action(%d)", int(k))
}

// Severity orders actions for conflict resolution. Higher wins.
func (k Kind) Severity() int {
	switch k {
	case ForceCloseAll:
		return 100
	case CloseLongsKeepHedge:
		return 80
	case CloseStrictSL:
		return 70
	case CancelUntriggered:
		return 60
	case TakeProfit50MoveSLToBE:
		return 50
	case PauseEntries:
		return 40
	case EndOfDayChecklist:
		return 30
	case PlaceOrders:
		return 20
	case RaiseAttention:
		return 10
	default:
		return 0
	}
}

// Protective reports whether the action only reduces exposure and stays
// permitted after a halt.
func (k Kind) Protective() bool {
	switch k {
	case ForceCloseAll, CloseLongsKeepHedge, CloseStrictSL, CancelUntriggered,
		TakeProfit50MoveSLToBE, RaiseAttention, PauseEntries, EndOfDayChecklist:
		return true
	default:
		return false
	}
}

// Source identifies who asked for an action.
type Source string

const (
	SourceSchedule Source = "schedule"
	SourceTimeStop Source = "time_stop"
	SourceKill     Source = "kill_switch"
	SourceMonitor  Source = "monitor"
	SourceTrigger  Source = "risk_trigger"
	SourceOperator Source = "operator"
)

// Request is one action raised during a tick.
type Request struct {
	Kind   Kind
	Source Source
	Symbol string // empty means account-wide
	Rule   string
	Reason string
}

// Resolve orders requests by severity and dedupes them by kind and symbol. A
// ForceCloseAll in the batch suppresses monitoring and risk-trigger requests;
// the first ForceCloseAll is kept and schedule phases still run after it.
func Resolve(reqs []Request) []Request {
	if len(reqs) == 0 {
		return nil
	}
	forced := lo.ContainsBy(reqs, func(r Request) bool { return r.Kind == ForceCloseAll })
	out := make([]Request, 0, len(reqs))
	seen := make(map[string]struct{}, len(reqs))
	for _, r := range reqs {
		if r.Kind == None {
			continue
		}
		if forced && r.Kind != ForceCloseAll && (r.Source == SourceMonitor || r.Source == SourceTrigger) {
			continue
		}
		key := r.Kind.String() + "|" + r.Symbol
		if r.Kind == ForceCloseAll {
			key = r.Kind.String()
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Kind.Severity() > out[j].Kind.Severity()
	})
	return out
}
