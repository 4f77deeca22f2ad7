package router

import (
	"sync"
	"testing"
	"time"
)

func TestCooldownTracker(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewCooldownTracker()
	c.now = func() time.Time { return now }

	if c.IsLimited("m1", time.Minute) {
		t.Fatal("unmarked model should not be limited")
	}

	c.MarkLimited("m1")
	now = now.Add(30 * time.Second)
	if !c.IsLimited("m1", time.Minute) {
		t.Error("model should be limited inside the window")
	}
	if c.IsLimited("m1", 30*time.Second) {
		t.Error("window boundary is exclusive")
	}

	now = now.Add(time.Minute)
	if c.IsLimited("m1", time.Minute) {
		t.Error("model should not be limited after the window")
	}

	c.MarkLimited("a-model")
	snap := c.Snapshot(time.Minute)
	if len(snap) != 2 || snap[0].Model != "a-model" || !snap[0].Limited || snap[1].Limited {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestCooldownTracker_Concurrent(t *testing.T) {
	c := NewCooldownTracker()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			model := []string{"a", "b", "c"}[i%3]
			c.MarkLimited(model)
			c.IsLimited(model, time.Second)
			c.Snapshot(time.Second)
		}(i)
	}
	wg.Wait()
	if n := len(c.Snapshot(time.Minute)); n != 3 {
		t.Errorf("snapshot size = %d", n)
	}
}
