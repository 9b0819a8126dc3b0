// Package health exposes the liveness and readiness probes for the key
// market service. Readiness runs a probe per backing dependency and
// reports not-ready while the server is draining.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
)

// Check probes one dependency. A nil error means the dependency can
// serve trades.
type Check func(ctx context.Context) error

type Manager struct {
	mu       sync.RWMutex
	checks   map[string]Check
	draining bool
}

func NewManager() *Manager {
	return &Manager{checks: make(map[string]Check)}
}

// AddCheck registers a named dependency probe. Probes run on every
// readiness request.
func (m *Manager) AddCheck(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// SetDraining flips readiness off ahead of shutdown so the balancer
// stops routing new trades here while in-flight requests finish.
func (m *Manager) SetDraining(draining bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draining = draining
}

func (m *Manager) snapshot() (bool, map[string]Check) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	checks := make(map[string]Check, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	return m.draining, checks
}

func LivenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func ReadinessHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		draining, checks := m.snapshot()
		if draining {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "draining"})
			return
		}

		failing := make([]gin.H, 0)
		for name, check := range checks {
			if err := check(c.Request.Context()); err != nil {
				failing = append(failing, gin.H{"dependency": name, "error": err.Error()})
			}
		}
		if len(failing) > 0 {
			sort.Slice(failing, func(i, j int) bool {
				return failing[i]["dependency"].(string) < failing[j]["dependency"].(string)
			})
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "failing": failing})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
