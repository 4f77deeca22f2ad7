package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/af-corp/relay-gateway/internal/types"
)

// DefaultCapacity is the number of responses kept when no size is configured.
const DefaultCapacity = 10

// Key digests the exact request bytes. Bodies that differ in any byte,
// whitespace included, get different keys.
func Key(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Entry is a cached response and when it was stored.
type Entry struct {
	Response *types.UnifiedResponse
	StoredAt time.Time
}

// ResponseCache holds the most recently used successful responses. Entries
// never expire; only capacity evicts them. It is safe for concurrent use.
type ResponseCache struct {
	entries *lru.Cache[string, Entry]
}

func New(capacity int) (*ResponseCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries, err := lru.New[string, Entry](capacity)
	if err != nil {
		return nil, fmt.Errorf("create response cache: %w", err)
	}
	return &ResponseCache{entries: entries}, nil
}

// Get returns the response stored under key and marks it most recently used.
func (c *ResponseCache) Get(key string) (*types.UnifiedResponse, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	return e.Response, true
}

// Add stores resp under key unless the key is already cached. It reports
// whether an older entry was evicted to make room.
func (c *ResponseCache) Add(key string, resp *types.UnifiedResponse) (evicted bool) {
	_, evicted = c.entries.ContainsOrAdd(key, Entry{Response: resp, StoredAt: time.Now()})
	return evicted
}

// Purge drops every entry. It runs on configuration reload so that routing
// and policy changes apply to request bodies seen before the reload.
func (c *ResponseCache) Purge() {
	c.entries.Purge()
}

func (c *ResponseCache) Len() int {
	return c.entries.Len()
}
