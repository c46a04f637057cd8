package featureflags

import (
	"context"
	"sync"
)

// Repository stores flag values.
type Repository interface {
	Get(ctx context.Context, key string) (*Flag, error)
	List(ctx context.Context) (map[string]*Flag, error)

	// Put writes all flags or none.
	Put(ctx context.Context, flags ...*Flag) error

	Delete(ctx context.Context, key string) error
}

// MemoryRepository keeps flags in process. It is the default backend and the
// one tests use.
type MemoryRepository struct {
	mu    sync.RWMutex
	flags map[string]Flag
}

// NewMemoryRepository returns a repository seeded with the defaults.
func NewMemoryRepository() *MemoryRepository {
	r := &MemoryRepository{flags: make(map[string]Flag)}
	for key, f := range DefaultFlags() {
		r.flags[key] = *f
	}
	return r
}

func (r *MemoryRepository) Get(_ context.Context, key string) (*Flag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flags[key]
	if !ok {
		return nil, ErrFlagNotFound
	}
	return &f, nil
}

func (r *MemoryRepository) List(_ context.Context) (map[string]*Flag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Flag, len(r.flags))
	for key, f := range r.flags {
		out[key] = &f
	}
	return out, nil
}

func (r *MemoryRepository) Put(_ context.Context, flags ...*Flag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range flags {
		r.flags[f.Key] = *f
	}
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.flags[key]; !ok {
		return ErrFlagNotFound
	}
	delete(r.flags, key)
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
