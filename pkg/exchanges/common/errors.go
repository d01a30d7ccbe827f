package common

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrRetriesExhausted wraps the last transient failure once attempts run out.
var ErrRetriesExhausted = errors.New("retries exhausted")

// TransientError is a network, rate-limit or 5xx-class failure worth retrying.
type TransientError struct {
	Op   string
	Code int
	Err  error
}

func (e *TransientError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: transient (code %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// OrderRejected is an exchange-side or pre-submission invariant violation. It is not retried.
type OrderRejected struct {
	Symbol string
	Code   int
	Reason string
}

func (e *OrderRejected) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("order rejected for %s (code %d): %s", e.Symbol, e.Code, e.Reason)
	}
	return fmt.Sprintf("order rejected for %s: %s", e.Symbol, e.Reason)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var rej *OrderRejected
	if errors.As(err, &rej) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
