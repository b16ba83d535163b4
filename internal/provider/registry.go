package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/felipepmaragno/tourai/internal/domain"
)

// Factory builds a client. It runs at most once per successful construction.
type Factory func(ctx context.Context) (Client, error)

// Factories holds one constructor per provider. A nil entry means the
// provider has no credentials and is reported as not configured.
type Factories struct {
	OpenAI    Factory
	Anthropic Factory
	Google    Factory
	Bedrock   Factory
}

// Registry lazily constructs and caches one client per provider.
type Registry struct {
	factories Factories
	logger    *slog.Logger

	mu      sync.RWMutex
	clients map[Name]Client
	group   singleflight.Group
}

func NewRegistry(factories Factories, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factories: factories,
		logger:    logger,
		clients:   make(map[Name]Client),
	}
}

func (r *Registry) factory(name Name) (Factory, error) {
	switch name {
	case OpenAI:
		return r.factories.OpenAI, nil
	case Anthropic:
		return r.factories.Anthropic, nil
	case Google:
		return r.factories.Google, nil
	case Bedrock:
		return r.factories.Bedrock, nil
	default:
		return nil, domain.InvalidInput("unknown provider %q", name)
	}
}

// Available reports whether name has credentials, without constructing it.
func (r *Registry) Available(name Name) bool {
	f, err := r.factory(name)
	return err == nil && f != nil
}

// Configured lists providers with credentials in declaration order.
func (r *Registry) Configured() []Name {
	var out []Name
	for _, n := range allNames {
		if r.Available(n) {
			out = append(out, n)
		}
	}
	return out
}

// Get returns the cached client for name, constructing it on first use.
// Concurrent first callers share a single construction. A failed
// construction is not cached so a later call can retry.
func (r *Registry) Get(ctx context.Context, name Name) (Client, error) {
	r.mu.RLock()
	client, ok := r.clients[name]
	r.mu.RUnlock()
	if ok {
		return client, nil
	}

	f, err := r.factory(name)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("%s: %w", name, domain.ErrNotConfigured)
	}

	v, err, _ := r.group.Do(string(name), func() (any, error) {
		r.mu.RLock()
		existing, ok := r.clients[name]
		r.mu.RUnlock()
		if ok {
			return existing, nil
		}

		c, err := f(ctx)
		if err != nil {
			return nil, fmt.Errorf("construct %s client: %w", name, err)
		}

		r.mu.Lock()
		r.clients[name] = c
		r.mu.Unlock()

		r.logger.Info("provider client constructed", "provider", name)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Client), nil
}
