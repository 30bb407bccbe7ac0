package cache

import (
	"fmt"
	"sync"
	"testing"
)

// oneShard pins every key to shard 0 so eviction order is observable.
func oneShard(string) uint64 { return 0 }

func TestGetSet(t *testing.T) {
	c := New[string, int](8, StringHasher)

	if _, ok := c.Get("missing"); ok {
		t.Error("Get on empty cache reported a hit")
	}
	c.Set("a", 1)
	c.Set("b", 2)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = (%d, %v), want (1, true)", v, ok)
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Errorf("Get(b) = (%d, %v), want (2, true)", v, ok)
	}
	if got := c.Len(); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}

	// Set on an existing key updates in place.
	c.Set("a", 10)
	if v, _ := c.Get("a"); v != 10 {
		t.Errorf("Get(a) after update = %d, want 10", v)
	}
	if got := c.Len(); got != 2 {
		t.Errorf("Len after update = %d, want 2", got)
	}
}

func TestEviction(t *testing.T) {
	c := New[string, int](2, oneShard)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3) // evicts a, the oldest

	if _, ok := c.Get("a"); ok {
		t.Error("a survived eviction")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("b was evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c was evicted")
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestEvictionRespectsRecency(t *testing.T) {
	c := New[string, int](2, oneShard)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")    // a is now most recent
	c.Set("c", 3) // evicts b

	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry was evicted")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry survived")
	}
}

func TestDelete(t *testing.T) {
	c := New[string, int](8, StringHasher)

	c.Set("a", 1)
	if !c.Delete("a") {
		t.Error("Delete(a) = false, want true")
	}
	if c.Delete("a") {
		t.Error("second Delete(a) = true, want false")
	}
	if _, ok := c.Get("a"); ok {
		t.Error("deleted entry still present")
	}
}

func TestClear(t *testing.T) {
	c := New[uint64, string](8, Uint64Hasher)

	for i := uint64(0); i < 32; i++ {
		c.Set(i, "v")
	}
	if got := c.Len(); got != 32 {
		t.Fatalf("Len = %d, want 32", got)
	}
	c.Clear()
	if got := c.Len(); got != 0 {
		t.Errorf("Len after Clear = %d, want 0", got)
	}
	if _, ok := c.Get(7); ok {
		t.Error("entry survived Clear")
	}
}

func TestStats(t *testing.T) {
	c := New[string, int](8, StringHasher)

	c.Set("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	s := c.Stats()
	if s.Len != 1 {
		t.Errorf("Len = %d, want 1", s.Len)
	}
	if s.Hits != 2 {
		t.Errorf("Hits = %d, want 2", s.Hits)
	}
	if s.Misses != 1 {
		t.Errorf("Misses = %d, want 1", s.Misses)
	}
	if s.Evictions != 0 {
		t.Errorf("Evictions = %d, want 0", s.Evictions)
	}
}

func TestDefaultCapacity(t *testing.T) {
	c := New[string, int](0, oneShard)

	// Everything lands in one shard; the per-shard default applies.
	for i := 0; i < defaultCapacity+1; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	if got := c.Len(); got != defaultCapacity {
		t.Errorf("Len = %d, want %d", got, defaultCapacity)
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[uint64, uint64](64, Uint64Hasher)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g uint64) {
			defer wg.Done()
			for i := uint64(0); i < 1000; i++ {
				k := g*1000 + i
				c.Set(k, k)
				if v, ok := c.Get(k); ok && v != k {
					t.Errorf("Get(%d) = %d", k, v)
				}
				if i%3 == 0 {
					c.Delete(k)
				}
			}
		}(uint64(g))
	}
	wg.Wait()
}

func TestLRUList(t *testing.T) {
	l := newLRUList[int]()

	if _, ok := l.RemoveOldest(); ok {
		t.Error("RemoveOldest on empty list reported a value")
	}
	n1 := l.PushFront(1)
	l.PushFront(2)
	n3 := l.PushFront(3)
	if got := l.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}

	l.MoveToFront(n1)
	if v, ok := l.RemoveOldest(); !ok || v != 2 {
		t.Errorf("RemoveOldest = (%d, %v), want (2, true)", v, ok)
	}
	l.Remove(n3)
	if got := l.Len(); got != 1 {
		t.Errorf("Len after Remove = %d, want 1", got)
	}
	l.Clear()
	if got := l.Len(); got != 0 {
		t.Errorf("Len after Clear = %d, want 0", got)
	}
}
