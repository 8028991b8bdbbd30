package dispatch

import "time"

// rateWindow tracks how many instructions have been admitted in the current
// fixed window. It mirrors the venue's request ceiling so the dispatcher
// never admits a batch the venue would refuse.
type rateWindow struct {
	capacity int
	interval time.Duration
	start    time.Time
	admitted int
}

func newRateWindow(capacity int, interval time.Duration) rateWindow {
	return rateWindow{capacity: capacity, interval: interval, start: time.Now()}
}

// remaining resets the window if it has elapsed and returns the capacity
// still available.
func (w *rateWindow) remaining(now time.Time) int {
	if now.Sub(w.start) >= w.interval {
		w.start = now
		w.admitted = 0
	}
	left := w.capacity - w.admitted
	if left < 0 {
		return 0
	}
	return left
}

// admit consumes n slots from the current window.
func (w *rateWindow) admit(n int) {
	w.admitted += n
}

// WindowState is a read-only snapshot of the rate window for stats reporting.
type WindowState struct {
	Capacity int           `json:"capacity"`
	Admitted int           `json:"admitted"`
	Start    time.Time     `json:"start"`
	Interval time.Duration `json:"interval"`
}
