package common

import (
	"errors"
	"fmt"
)

// Rejection classes. Every error returned by the wallet engine for a refused
// commit or reveal wraps exactly one of these alongside a reason sentinel from
// the originating package, so callers may match either with errors.Is.
var (
	ErrAuthFailure         = errors.New("auth failure")
	ErrReplayOrRace        = errors.New("replay or race")
	ErrTimingViolation     = errors.New("timing violation")
	ErrLimitExceeded       = errors.New("limit exceeded")
	ErrPreconditionFailure = errors.New("precondition failure")
	ErrExternalCallFailure = errors.New("external call failure")
	ErrTerminalState       = errors.New("terminal state")
)

var classes = []error{
	ErrAuthFailure,
	ErrReplayOrRace,
	ErrTimingViolation,
	ErrLimitExceeded,
	ErrPreconditionFailure,
	ErrExternalCallFailure,
	ErrTerminalState,
}

// Reject wraps reason under class. A nil reason yields the bare class.
func Reject(class, reason error) error {
	if reason == nil {
		return class
	}
	if errors.Is(reason, class) {
		return reason
	}
	return fmt.Errorf("%w: %w", class, reason)
}

// Rejectf is Reject with a formatted reason that still unwraps to class.
func Rejectf(class error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", class, fmt.Sprintf(format, args...))
}

// Class returns the rejection class wrapped by err, or nil when err carries
// none (for instance storage faults).
func Class(err error) error {
	if err == nil {
		return nil
	}
	for _, class := range classes {
		if errors.Is(err, class) {
			return class
		}
	}
	return nil
}

// ClassName is a stable label for metrics and logs.
func ClassName(err error) string {
	switch Class(err) {
	case nil:
		if err == nil {
			return "ok"
		}
		return "internal"
	case ErrAuthFailure:
		return "auth_failure"
	case ErrReplayOrRace:
		return "replay_or_race"
	case ErrTimingViolation:
		return "timing_violation"
	case ErrLimitExceeded:
		return "limit_exceeded"
	case ErrPreconditionFailure:
		return "precondition_failure"
	case ErrExternalCallFailure:
		return "external_call_failure"
	case ErrTerminalState:
		return "terminal_state"
	default:
		return "internal"
	}
}
