package dashboard

import "time"

// waitInputs are the observations feeding the lazy-history wait decision.
// Zero time values mean "not yet observed".
type waitInputs struct {
	now             time.Time
	firstSignalAt   time.Time
	headerVisibleAt time.Time
	headerPresent   bool
	headerInView    bool
	didAutoScroll   bool
}

// shouldWaitForHistory decides whether the loop keeps waiting for the lazily
// hydrated history section instead of finalizing early. Pure function; rules
// evaluate in order:
//
//  1. a tick that auto-scrolled always waits, the reveal needs a frame to land
//  2. header present and in the viewport: wait until it has been visible for
//     the full settle window
//  3. no visible header but some dashboard signal seen: wait out the signal
//     grace window
//  4. nothing observed yet: do not wait here, the outer deadline governs
func shouldWaitForHistory(in waitInputs, headerSettle, signalGrace time.Duration) bool {
	if in.didAutoScroll {
		return true
	}
	if in.headerPresent && in.headerInView {
		if in.headerVisibleAt.IsZero() {
			return true
		}
		return in.now.Sub(in.headerVisibleAt) < headerSettle
	}
	if !in.firstSignalAt.IsZero() {
		return in.now.Sub(in.firstSignalAt) < signalGrace
	}
	return false
}
