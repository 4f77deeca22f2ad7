package adapters

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/af-corp/relay-gateway/internal/config"
)

// poolKey identifies a memoized backend client.
type poolKey struct {
	provider string
	region   string
	endpoint string
}

// clientPool lazily builds one client per key and hands the same instance to
// every later caller.
type clientPool[C any] struct {
	mu      sync.RWMutex
	clients map[poolKey]C
	build   func(ctx context.Context, key poolKey) (C, error)
}

func newClientPool[C any](build func(ctx context.Context, key poolKey) (C, error)) *clientPool[C] {
	return &clientPool[C]{
		clients: make(map[poolKey]C),
		build:   build,
	}
}

// get returns (or lazily creates) the client for key. A failed build is not
// cached, so the next caller retries it.
func (p *clientPool[C]) get(ctx context.Context, key poolKey) (C, error) {
	p.mu.RLock()
	c, ok := p.clients[key]
	p.mu.RUnlock()
	if ok {
		return c, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Double-check after acquiring write lock
	if c, ok := p.clients[key]; ok {
		return c, nil
	}
	c, err := p.build(ctx, key)
	if err != nil {
		var zero C
		return zero, fmt.Errorf("build client for %s %s%s: %w", key.provider, key.region, key.endpoint, err)
	}
	p.clients[key] = c
	return c, nil
}

// newHTTPClient builds the client shared by all requests to one endpoint of a provider.
func newHTTPClient(cfg config.ProviderConfig) *http.Client {
	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        cfg.MaxConcurrent,
			MaxIdleConnsPerHost: cfg.MaxConcurrent,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}
