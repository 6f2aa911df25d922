// Package ratelimit provides the per-process sliding-window throttle for
// outbound email.
//
// The window lives in memory only. Separate server instances each keep their
// own window, so the ceiling holds per instance, not globally.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultLimit  = 40
	DefaultPeriod = time.Hour
)

// Window counts sends over a rolling period.
type Window struct {
	mu     sync.Mutex
	limit  int
	period time.Duration
	now    func() time.Time
	sends  []time.Time
}

func New(limit int, period time.Duration) *Window {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Window{limit: limit, period: period, now: time.Now}
}

// IsLimited drops sends older than the period and reports whether the
// remaining count has reached the limit.
func (w *Window) IsLimited() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune()
	return len(w.sends) >= w.limit
}

// RecordSend stores the current time as a successful send.
func (w *Window) RecordSend() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sends = append(w.sends, w.now())
}

// Remaining returns how many sends are left in the current window.
func (w *Window) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune()
	if left := w.limit - len(w.sends); left > 0 {
		return left
	}
	return 0
}

func (w *Window) prune() {
	cutoff := w.now().Add(-w.period)
	i := 0
	for i < len(w.sends) && w.sends[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.sends = append(w.sends[:0], w.sends[i:]...)
	}
}
