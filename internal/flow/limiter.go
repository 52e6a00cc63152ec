package flow

import (
	"sync"
	"time"
)

// ErrorLimiter rate-limits user-visible error messages so a failing backend
// does not flood a channel. The clock is injectable for tests.
type ErrorLimiter struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewErrorLimiter allows one message per interval. now defaults to
// time.Now.
func NewErrorLimiter(interval time.Duration, now func() time.Time) *ErrorLimiter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &ErrorLimiter{interval: interval, now: now}
}

// Allow reports whether an error message may be sent now, consuming the
// slot when it may.
func (l *ErrorLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.now()
	if !l.last.IsZero() && t.Sub(l.last) < l.interval {
		return false
	}
	l.last = t
	return true
}
