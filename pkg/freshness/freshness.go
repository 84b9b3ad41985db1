package freshness

import (
	"time"
)

const DefaultStaleWindow = 3 * time.Second

// IsFresh reports whether an update stamped last is still within window of now.
// A zero last means nothing has been received yet.
func IsFresh(last, now time.Time, window time.Duration) bool {
	if last.IsZero() {
		return false
	}
	return now.Sub(last) < window
}

// Evaluator binds a staleness window to a clock. It holds no timer; every
// call recomputes against the clock.
type Evaluator struct {
	window time.Duration
	now    func() time.Time
}

func NewEvaluator(window time.Duration, now func() time.Time) *Evaluator {
	if window <= 0 {
		window = DefaultStaleWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Evaluator{window: window, now: now}
}

func (e *Evaluator) Window() time.Duration {
	return e.window
}

func (e *Evaluator) IsFresh(last time.Time) bool {
	return IsFresh(last, e.now(), e.window)
}
