package health

import (
	"context"
	"sync"
	"time"
)

// Result is the outcome of one liveness probe.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes a worker process for liveness.
type Checker interface {
	Check(ctx context.Context) Result
}

// Config governs probe cadence and the failure threshold.
type Config struct {
	// Interval is the time between probes.
	Interval time.Duration

	// Timeout bounds a single probe.
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures before the
	// worker is declared unhealthy.
	FailureThreshold int
}

// DefaultConfig returns probe settings suitable for a local worker.
func DefaultConfig() Config {
	return Config{
		Interval:         10 * time.Second,
		Timeout:          5 * time.Second,
		FailureThreshold: 3,
	}
}

// Tally tracks consecutive probe outcomes for one worker. Failed RPC
// transports count toward the same tally as failed probes, so both are
// recorded through it.
type Tally struct {
	mu                  sync.Mutex
	consecutiveFailures int
	lastResult          Result
	startedAt           time.Time
}

// NewTally creates a tally that assumes health until proven otherwise.
func NewTally() *Tally {
	return &Tally{startedAt: time.Now()}
}

// RecordSuccess resets the consecutive failure count.
func (t *Tally) RecordSuccess(result Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastResult = result
	t.consecutiveFailures = 0
}

// RecordFailure increments the consecutive failure count and reports
// whether the threshold has been reached.
func (t *Tally) RecordFailure(result Result, threshold int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastResult = result
	t.consecutiveFailures++
	return t.consecutiveFailures >= threshold
}

// ConsecutiveFailures returns the current failure streak.
func (t *Tally) ConsecutiveFailures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutiveFailures
}

// LastResult returns the most recent recorded probe result.
func (t *Tally) LastResult() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastResult
}
