package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/af-corp/relay-gateway/internal/types"
)

func response(id string) *types.UnifiedResponse {
	return types.NewResponse(id, "m", []types.ContentBlock{types.TextBlock(id)}, "", types.Usage{})
}

func TestKey(t *testing.T) {
	a := Key([]byte(`{"model":"m","max_tokens":1}`))
	b := Key([]byte(`{"model": "m","max_tokens":1}`))
	if a == b {
		t.Error("differently formatted bodies must get different keys")
	}
	if a != Key([]byte(`{"model":"m","max_tokens":1}`)) {
		t.Error("identical bytes must get identical keys")
	}
	if len(a) != 64 {
		t.Errorf("key length = %d", len(a))
	}
}

func TestGetReturnsStoredResponse(t *testing.T) {
	c, err := New(0)
	if err != nil {
		t.Fatal(err)
	}
	resp := response("r1")
	c.Add("k", resp)

	got, ok := c.Get("k")
	if !ok || got != resp {
		t.Fatalf("Get = %v, %v", got, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("unexpected hit")
	}
}

func TestAddKeepsExistingEntry(t *testing.T) {
	c, _ := New(DefaultCapacity)
	first := response("first")
	c.Add("k", first)
	c.Add("k", response("second"))

	got, _ := c.Get("k")
	if got != first {
		t.Errorf("existing entry was replaced by %s", got.ID)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d", c.Len())
	}
}

func TestEvictsLeastRecentlyTouched(t *testing.T) {
	c, _ := New(DefaultCapacity)
	for i := range DefaultCapacity {
		c.Add(fmt.Sprintf("k%d", i), response(fmt.Sprint(i)))
	}

	touched := map[string]bool{}
	for _, k := range []string{"k0", "k1", "k2", "k4"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("%s missing before eviction", k)
		}
		touched[k] = true
	}

	if evicted := c.Add("k10", response("10")); !evicted {
		t.Fatal("11th key should evict")
	}
	if c.Len() != DefaultCapacity {
		t.Fatalf("Len = %d", c.Len())
	}

	var gone []string
	for i := range DefaultCapacity {
		k := fmt.Sprintf("k%d", i)
		if _, ok := c.entries.Peek(k); !ok {
			gone = append(gone, k)
		}
	}
	if len(gone) != 1 || gone[0] != "k3" {
		t.Errorf("evicted %v, want [k3]", gone)
	}
	for _, k := range gone {
		if touched[k] {
			t.Errorf("touched key %s was evicted", k)
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := New(DefaultCapacity)
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k := Key([]byte(fmt.Sprint(i % 12)))
			c.Add(k, response(k))
			c.Get(k)
		}(i)
	}
	wg.Wait()
	if c.Len() > DefaultCapacity {
		t.Errorf("Len = %d exceeds capacity", c.Len())
	}
}

func TestPurge(t *testing.T) {
	c, err := New(DefaultCapacity)
	if err != nil {
		t.Fatal(err)
	}
	c.Add("k1", response("r1"))
	c.Add("k2", response("r2"))
	c.Purge()
	if c.Len() != 0 {
		t.Errorf("len = %d after purge", c.Len())
	}
	if _, ok := c.Get("k1"); ok {
		t.Error("purged entry still returned")
	}
}
