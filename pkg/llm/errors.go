package llm

import (
	"context"
	"errors"
	"net"
	"strings"
)

// TransientError marks a failure worth retrying: timeouts, rate limiting and
// 5xx-class upstream trouble.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient generation failure: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a failure that must not be retried. Systemic failures
// (authentication, misconfiguration) abort the whole run rather than a
// single section.
type FatalError struct {
	Err      error
	Systemic bool
}

func (e *FatalError) Error() string { return "fatal generation failure: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// classify maps a raw client error into the adapter's failure taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var fatal *FatalError
	if errors.As(err, &fatal) {
		return err
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "unauthorized", "401", "403", "api key", "authentication"):
		return &FatalError{Err: err, Systemic: true}
	case containsAny(msg, "invalid request", "400", "content policy", "blocked"):
		return &FatalError{Err: err}
	case containsAny(msg, "429", "rate limit", "too many requests", "timeout",
		"connection refused", "connection reset", "500", "502", "503", "504", "overloaded"):
		return &TransientError{Err: err}
	default:
		// Unknown upstream trouble is treated as transient so a flaky
		// service does not fail a section on its first hiccup.
		return &TransientError{Err: err}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
