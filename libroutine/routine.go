// Package libroutine provides a circuit breaker and managed background
// loops built on it. Cycles (health probes, reconciliation) run through a
// breaker so a flapping dependency stops being hammered.
package libroutine

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects an execution.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// Routine is a circuit breaker guarding a repeated operation.
type Routine struct {
	mu           sync.Mutex
	threshold    int
	resetTimeout time.Duration
	failures     int
	state        State
	openedAt     time.Time
	probeActive  bool
}

// NewRoutine creates a breaker that opens after threshold consecutive
// failures and probes again after resetTimeout.
func NewRoutine(threshold int, resetTimeout time.Duration) *Routine {
	return &Routine{threshold: threshold, resetTimeout: resetTimeout, state: Closed}
}

// Allow reports whether an execution may proceed. In the half-open state
// only one probe call is allowed at a time.
func (r *Routine) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case Closed:
		return true
	case Open:
		if time.Since(r.openedAt) >= r.resetTimeout {
			r.state = HalfOpen
			r.probeActive = true
			return true
		}
		return false
	case HalfOpen:
		if r.probeActive {
			return false
		}
		r.probeActive = true
		return true
	}
	return false
}

// Execute runs fn if the breaker allows it and records the outcome.
func (r *Routine) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.Allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	r.record(err)
	return err
}

// ExecuteWithRetry runs fn up to maxAttempts times, waiting interval
// between attempts. Returns nil after the first success, otherwise the
// last error.
func (r *Routine) ExecuteWithRetry(ctx context.Context, interval time.Duration, maxAttempts int, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = r.Execute(ctx, fn)
		if lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return lastErr
}

// Loop runs fn on every tick while the breaker is closed, and on every
// trigger message unconditionally, until ctx is done. A tripped breaker
// therefore pauses the periodic schedule; ForceUpdate-style triggers punch
// through it. Errors are passed to errFn.
func (r *Routine) Loop(ctx context.Context, interval time.Duration, trigger <-chan struct{}, fn func(ctx context.Context) error, errFn func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	run := func() {
		if err := r.Execute(ctx, fn); err != nil {
			errFn(err)
		}
	}
	if r.GetState() == Closed {
		run()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.GetState() == Closed {
				run()
			}
		case _, ok := <-trigger:
			if !ok {
				return
			}
			run()
		}
	}
}

func (r *Routine) record(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.state = Closed
		r.failures = 0
		r.probeActive = false
		return
	}
	r.failures++
	if r.state == HalfOpen || r.failures >= r.threshold {
		r.state = Open
		r.openedAt = time.Now()
	}
	r.probeActive = false
}

// ForceOpen trips the breaker regardless of failure count.
func (r *Routine) ForceOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Open
	r.openedAt = time.Now()
}

// ForceClose resets the breaker to closed.
func (r *Routine) ForceClose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Closed
	r.failures = 0
	r.probeActive = false
}

// GetState returns the current breaker state. An open breaker whose reset
// timeout has elapsed reports HalfOpen, so observers see the probe window
// without having to call Allow themselves.
func (r *Routine) GetState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Open && time.Since(r.openedAt) >= r.resetTimeout {
		r.state = HalfOpen
		r.probeActive = false
	}
	return r.state
}

func (r *Routine) GetThreshold() int { return r.threshold }

func (r *Routine) GetResetTimeout() time.Duration { return r.resetTimeout }
