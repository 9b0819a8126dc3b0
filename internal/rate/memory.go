package rate

import (
	"context"
	"sync"
	"time"
)

type windowState struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a fixed-window limiter for single-node deployments.
type MemoryLimiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*windowState
}

func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{
		cfg:     cfg,
		now:     time.Now,
		windows: make(map[string]*windowState),
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if !l.cfg.valid() {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, ok := l.windows[key]
	if !ok || now.After(state.resetAt) {
		l.windows[key] = &windowState{count: 1, resetAt: now.Add(l.cfg.Window)}
		return true, nil
	}
	if state.count >= l.cfg.Limit {
		return false, nil
	}
	state.count++
	return true, nil
}

// Sweep drops expired windows. Call it periodically from a background
// goroutine to bound memory.
func (l *MemoryLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, state := range l.windows {
		if now.After(state.resetAt) {
			delete(l.windows, key)
		}
	}
}
