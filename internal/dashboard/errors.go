package dashboard

import (
	"errors"
	"fmt"
)

// Terminal fetch outcomes. ErrAuthenticationRequired also covers
// probe-execution failure: the prober folds its own errors into a
// login-required snapshot rather than surfacing partial data.
var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrChallengeDetected      = errors.New("automation challenge detected")
)

// TimeoutError is returned when the caller-supplied deadline elapses before
// the dashboard produced a complete snapshot. LastRawText carries the final
// page text observed, for diagnostics only.
type TimeoutError struct {
	LastRawText string
}

func (e *TimeoutError) Error() string {
	return "dashboard fetch timed out before usage data hydrated"
}

// SessionSetupError wraps a failure to construct or navigate a rendering
// session. The pool removes the broken resident entry before this propagates,
// so a future caller never inherits a poisoned session.
type SessionSetupError struct {
	Err error
}

func (e *SessionSetupError) Error() string {
	return fmt.Sprintf("session setup failed: %v", e.Err)
}

func (e *SessionSetupError) Unwrap() error { return e.Err }
