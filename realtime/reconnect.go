package realtime

import (
	"sync"
	"time"
)

// Reconnect policy defaults. These are tunable policy, not invariants; the
// Manager config can override any of them.
const (
	DefaultMaxReconnectAttempts = 3
	DefaultReconnectBaseDelay   = 5 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
)

// ReconnectPolicy decides retry timing after abnormal disconnects and
// reports when the attempt budget is exhausted. Delays grow linearly with
// the attempt count and are capped, so they are monotonically non-decreasing.
type ReconnectPolicy struct {
	mu          sync.Mutex
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	attempts    int
}

// NewReconnectPolicy creates a policy. Zero values fall back to the defaults.
func NewReconnectPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *ReconnectPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxReconnectAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultReconnectBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultReconnectMaxDelay
	}
	return &ReconnectPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// Next registers another abnormal disconnect and returns the delay before
// the next connection attempt. The second return value is false once the
// attempt budget is exhausted; no further attempts should ever be scheduled.
func (p *ReconnectPolicy) Next() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts++
	if p.attempts > p.maxAttempts {
		return 0, false
	}

	delay := time.Duration(p.attempts) * p.baseDelay
	if delay > p.maxDelay {
		delay = p.maxDelay
	}
	return delay, true
}

// Reset clears the attempt counter. Called on every successful connection.
func (p *ReconnectPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts = 0
}

// Attempts returns the current attempt count.
func (p *ReconnectPolicy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.attempts
}
