package libroutine

import (
	"context"
	"sync"
	"time"
)

// LoopConfig describes a managed breaker loop.
type LoopConfig struct {
	Key          string
	Threshold    int
	ResetTimeout time.Duration
	Interval     time.Duration
	Operation    func(ctx context.Context) error
}

// Pool manages breaker loops by key. One loop per key; starting an
// already-active key is a no-op.
type Pool struct {
	mu       sync.Mutex
	routines map[string]*Routine
	triggers map[string]chan struct{}
	active   map[string]bool
}

var (
	groupInstance *Pool
	groupOnce     sync.Once
)

// GetGroup returns the process-wide loop pool.
func GetGroup() *Pool {
	groupOnce.Do(func() {
		groupInstance = &Pool{
			routines: make(map[string]*Routine),
			triggers: make(map[string]chan struct{}),
			active:   make(map[string]bool),
		}
	})
	return groupInstance
}

// StartLoop starts the loop described by cfg unless one with the same key
// is already running. The loop stops when ctx is cancelled.
func (p *Pool) StartLoop(ctx context.Context, cfg *LoopConfig) {
	p.mu.Lock()
	if p.active[cfg.Key] {
		p.mu.Unlock()
		return
	}
	routine, ok := p.routines[cfg.Key]
	if !ok {
		routine = NewRoutine(cfg.Threshold, cfg.ResetTimeout)
		p.routines[cfg.Key] = routine
	}
	trigger, ok := p.triggers[cfg.Key]
	if !ok {
		trigger = make(chan struct{}, 1)
		p.triggers[cfg.Key] = trigger
	}
	p.active[cfg.Key] = true
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			p.active[cfg.Key] = false
			p.mu.Unlock()
		}()
		routine.Loop(ctx, cfg.Interval, trigger, cfg.Operation, func(err error) {})
	}()
}

// IsLoopActive reports whether a loop for key is running.
func (p *Pool) IsLoopActive(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active[key]
}

// GetManager returns the breaker for key, or nil if none exists.
func (p *Pool) GetManager(key string) *Routine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.routines[key]
}

// ForceUpdate triggers an immediate run of the loop for key. The breaker
// is reset first so a forced run is never rejected.
func (p *Pool) ForceUpdate(key string) {
	p.mu.Lock()
	routine := p.routines[key]
	trigger := p.triggers[key]
	p.mu.Unlock()
	if routine != nil {
		routine.ForceClose()
	}
	if trigger != nil {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}
}
