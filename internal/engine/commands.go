package engine

import (
	"fmt"
	"strings"
	"time"

	"trading-engine/internal/action"
	"trading-engine/internal/events"
	"trading-engine/internal/state"
)

// Command is an operator instruction applied at the start of the next tick.
type Command string

const (
	// CommandHalt stops trading for the rest of the date and pulls resting entries.
	CommandHalt Command = "halt"
	// CommandCloseAll cancels every order, flattens every position and halts the date.
	CommandCloseAll Command = "close_all"
	CommandPause    Command = "pause"
	CommandResume   Command = "resume"
)

// ParseCommand accepts the command names used on the ops API.
func ParseCommand(s string) (Command, error) {
	switch c := Command(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")); c {
	case CommandHalt, CommandCloseAll, CommandPause, CommandResume:
		return c, nil
	}
	return "", fmt.Errorf("unknown command %q", s)
}

type queuedCommand struct {
	cmd    Command
	reason string
	at     time.Time
}

// Submit queues cmd for the next tick.
func (e *Engine) Submit(cmd Command, reason string) error {
	if _, err := ParseCommand(string(cmd)); err != nil {
		return err
	}
	if reason == "" {
		reason = "operator request"
	}
	e.cmdMu.Lock()
	e.commands = append(e.commands, queuedCommand{cmd: cmd, reason: reason, at: e.now()})
	e.cmdMu.Unlock()
	e.log.Warn().Str("command", string(cmd)).Str("reason", reason).Msg("operator command queued")
	return nil
}

// applyCommands drains the queue onto day and returns the requests the
// commands raise. Halt and resume act on the day record before the gate runs.
func (e *Engine) applyCommands(day *state.DailyState, now time.Time) []action.Request {
	e.cmdMu.Lock()
	queued := e.commands
	e.commands = nil
	e.cmdMu.Unlock()

	var reqs []action.Request
	for _, q := range queued {
		switch q.cmd {
		case CommandHalt:
			day.Halt("operator: " + q.reason)
			reqs = append(reqs, action.Request{Kind: action.CancelUntriggered, Source: action.SourceOperator, Reason: q.reason})
		case CommandCloseAll:
			reqs = append(reqs, action.Request{Kind: action.ForceCloseAll, Source: action.SourceOperator, Reason: q.reason})
		case CommandPause:
			reqs = append(reqs, action.Request{Kind: action.PauseEntries, Source: action.SourceOperator, Reason: q.reason})
		case CommandResume:
			day.EntriesPaused = false
		}
		e.journal.Alert(events.SeverityWarning, fmt.Sprintf("operator %s: %s", q.cmd, q.reason), now)
	}
	return reqs
}
