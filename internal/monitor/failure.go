package monitor

import (
	"sync"
	"time"
)

// failureBudget throttles a monitor after consecutive failures with
// exponential backoff so a dead upstream surfaces in logs without hammering
// it every cycle. Success resets the budget.
type failureBudget struct {
	mu         sync.Mutex
	failures   int
	holdUntil  time.Time
	maxBackoff time.Duration
}

func newFailureBudget(maxBackoff time.Duration) *failureBudget {
	if maxBackoff <= 0 {
		maxBackoff = 5 * time.Minute
	}
	return &failureBudget{maxBackoff: maxBackoff}
}

func (b *failureBudget) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !now.Before(b.holdUntil)
}

func (b *failureBudget) recordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	backoff := time.Duration(1<<uint(min(b.failures, 8))) * time.Second
	if backoff > b.maxBackoff {
		backoff = b.maxBackoff
	}
	b.holdUntil = now.Add(backoff)
}

func (b *failureBudget) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.holdUntil = time.Time{}
}
