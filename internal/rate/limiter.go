// Package rate limits trade and query requests per client identity.
package rate

import (
	"context"
	"time"
)

// Limiter reports whether a key may perform another request inside the
// current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Config is a fixed-window limit: at most Limit requests per Window.
type Config struct {
	Limit  int
	Window time.Duration
}

func (c Config) valid() bool {
	return c.Limit > 0 && c.Window > 0
}
