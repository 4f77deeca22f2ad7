package router

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/router/adapters"
)

// Registry manages provider adapters keyed by provider:model.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]adapters.ProviderAdapter
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]adapters.ProviderAdapter),
	}
}

func (r *Registry) Register(key string, adapter adapters.ProviderAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[key] = adapter
}

func (r *Registry) Get(key string) (adapters.ProviderAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[key]
	return a, ok
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// BackendFactory constructs the wire-protocol backend for one named provider.
type BackendFactory func(name string, cfg config.ProviderConfig) (adapters.Backend, error)

// NewBackend selects the backend family by provider type.
func NewBackend(name string, cfg config.ProviderConfig) (adapters.Backend, error) {
	switch cfg.Type {
	case config.TypeBedrock:
		return adapters.NewBedrockBackend(cfg), nil
	case config.TypeAnthropic:
		return adapters.NewAnthropicBackend(name, cfg)
	case config.TypeOpenAI:
		return adapters.NewOpenAIBackend(name, cfg)
	default:
		return nil, fmt.Errorf("unsupported provider type %q", cfg.Type)
	}
}

// BuildRegistry builds one adapter per provider sequence element of every
// routing entry. Backends are shared between all entries that name the same
// provider, so their client pools are too. A provider that fails to
// initialize is logged once and its keys are left out of the registry.
func BuildRegistry(models []config.ModelRoute, providers *config.ProvidersConfig, opts adapters.Options) *Registry {
	return buildRegistry(models, providers, opts, NewBackend)
}

func buildRegistry(models []config.ModelRoute, providers *config.ProvidersConfig, opts adapters.Options, factory BackendFactory) *Registry {
	registry := NewRegistry()
	backends := make(map[string]adapters.Backend)
	failed := make(map[string]bool)

	for _, m := range models {
		for _, p := range m.ProviderSequence {
			name := strings.ToLower(p.Name)
			if failed[name] {
				continue
			}
			backend, ok := backends[name]
			if !ok {
				b, err := initBackend(name, providers, factory)
				if err != nil {
					slog.Error("provider init failed", "provider", name, "error", err)
					failed[name] = true
					continue
				}
				backends[name] = b
				backend = b
			}

			key := RegistryKey(name, m.Model)
			registry.Register(key, adapters.NewVariantAdapter(name, backend, p.Variants, opts))
		}
	}

	slog.Info("provider registry built", "adapters", registry.Len(), "failed_providers", len(failed))
	return registry
}

func initBackend(name string, providers *config.ProvidersConfig, factory BackendFactory) (adapters.Backend, error) {
	cfg, ok := providers.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return factory(name, cfg)
}
