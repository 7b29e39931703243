package retry

import (
	"sync"
	"time"
)

// breaker counts consecutive failures and short-circuits calls once the
// threshold is crossed, until the cooldown elapses. Any success closes
// it and resets the count.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openedAt  time.Time // zero while closed
	now       func() time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// allow reports whether a call may proceed. When the cooldown has
// elapsed the breaker closes, the failure count resets, and closed is
// true so callers can report the transition.
func (b *breaker) allow() (proceed bool, remaining time.Duration, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openedAt.IsZero() {
		return true, 0, false
	}

	elapsed := b.now().Sub(b.openedAt)
	if elapsed >= b.cooldown {
		b.openedAt = time.Time{}
		b.failures = 0
		return true, 0, true
	}

	return false, b.cooldown - elapsed, false
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openedAt = time.Time{}
}

// recordFailure returns true when this failure opens the breaker.
func (b *breaker) recordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures >= b.threshold && b.openedAt.IsZero() {
		b.openedAt = b.now()
		return true
	}
	return false
}

func (b *breaker) open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.openedAt.IsZero()
}

func (b *breaker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
