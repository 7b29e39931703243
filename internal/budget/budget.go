// Package budget enforces a daily cap on outbound advice calls.
package budget

import (
	"log/slog"
	"sync"
	"time"
)

// Tracker counts advice calls against a daily limit. A limit of zero
// or less disables enforcement.
type Tracker struct {
	mu        sync.Mutex
	limit     int
	count     int
	resetTime time.Time
	now       func() time.Time
	log       *slog.Logger
}

// New creates a tracker whose counter resets at the next local midnight.
func New(limit int, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}

	t := &Tracker{
		limit: limit,
		now:   time.Now,
		log:   log.With("component", "budget"),
	}
	t.resetTime = nextMidnight(t.now())
	return t
}

// Allow reports whether another advice call fits today's budget.
func (t *Tracker) Allow() bool {
	if t.limit <= 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollUnsafe()
	return t.count < t.limit
}

// Record counts one advice call against the budget.
func (t *Tracker) Record() {
	if t.limit <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollUnsafe()
	t.count++
	if t.count == t.limit {
		t.log.Warn("daily advice budget exhausted", "limit", t.limit)
	}
}

// Usage returns today's call count and the configured limit.
func (t *Tracker) Usage() (used, limit int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollUnsafe()
	return t.count, t.limit
}

func (t *Tracker) rollUnsafe() {
	if t.now().After(t.resetTime) {
		t.count = 0
		t.resetTime = nextMidnight(t.now())
	}
}

func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}
