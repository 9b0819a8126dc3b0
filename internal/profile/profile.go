// Package profile tracks registered wallet identities. A profile must
// exist before its identity can open a market or trade.
package profile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AfshinJalili/keymarket/internal/market"
)

var (
	ErrProfileExists  = errors.New("profile already exists")
	ErrProfileMissing = errors.New("profile not found")
)

// Profile is a registered identity.
type Profile struct {
	Identity    market.Identity
	DisplayName string
	CreatedAt   time.Time
}

// Registry stores profiles.
type Registry interface {
	Register(ctx context.Context, id market.Identity, displayName string) (*Profile, error)
	Get(ctx context.Context, id market.Identity) (*Profile, error)
	Exists(ctx context.Context, id market.Identity) (bool, error)
}

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu       sync.RWMutex
	profiles map[market.Identity]*Profile
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{profiles: make(map[market.Identity]*Profile)}
}

func (r *MemoryRegistry) Register(ctx context.Context, id market.Identity, displayName string) (*Profile, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.profiles[id]; ok {
		return nil, ErrProfileExists
	}
	p := &Profile{
		Identity:    id,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
	r.profiles[id] = p

	clone := *p
	return &clone, nil
}

func (r *MemoryRegistry) Get(ctx context.Context, id market.Identity) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[id]
	if !ok {
		return nil, ErrProfileMissing
	}
	clone := *p
	return &clone, nil
}

func (r *MemoryRegistry) Exists(ctx context.Context, id market.Identity) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.profiles[id]
	return ok, nil
}
