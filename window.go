package mon

// windowMs is the length of the restart accounting window.
const windowMs = 60000

// Window counts restarts against a 60 second budget. The budget counts down
// by the time between consecutive restarts and starts over, with the count,
// once it is used up. It is not a sliding window: N restarts spread across
// a budget reset are never counted together.
type Window struct {
	max      int
	attempts int
	budget   int64
}

func NewWindow(max int) *Window {
	return &Window{max: max, budget: windowMs}
}

// Exceeded records one restart that happened elapsedMs after the previous
// one and reports whether the limit has been reached.
func (w *Window) Exceeded(elapsedMs int64) bool {
	w.attempts++
	w.budget -= elapsedMs
	if w.budget <= 0 {
		w.budget = windowMs
		w.attempts = 0
		return false
	}
	return w.attempts >= w.max
}

// Remaining is the number of restarts left before the limit, as of the last call
// to Exceeded.
func (w *Window) Remaining() int {
	return w.max - w.attempts
}

func (w *Window) Attempts() int { return w.attempts }

// Budget is what is left of the current window, in milliseconds.
func (w *Window) Budget() int64 { return w.budget }
