package history

import "testing"

func TestLRUCacheEvictsOldest(t *testing.T) {
	c := newLRUCache(2)
	c.put(1, Window{Lags: []float64{1}})
	c.put(2, Window{Lags: []float64{2}})
	c.put(3, Window{Lags: []float64{3}})

	if c.len() != 2 {
		t.Fatalf("cache size = %d, want 2", c.len())
	}
	if _, ok := c.get(1); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok := c.get(3); !ok {
		t.Fatal("newest entry missing")
	}
}

func TestLRUCacheGetRefreshesRecency(t *testing.T) {
	c := newLRUCache(2)
	c.put(1, Window{})
	c.put(2, Window{})
	if _, ok := c.get(1); !ok {
		t.Fatal("entry 1 missing")
	}
	c.put(3, Window{})

	if _, ok := c.get(2); ok {
		t.Fatal("entry 2 should have been evicted after 1 was touched")
	}
	if _, ok := c.get(1); !ok {
		t.Fatal("recently used entry evicted")
	}
}

func TestLRUCachePutUpdatesExisting(t *testing.T) {
	c := newLRUCache(2)
	c.put(1, Window{Lags: []float64{1}})
	c.put(1, Window{Lags: []float64{1, 2}})

	w, ok := c.get(1)
	if !ok || len(w.Lags) != 2 {
		t.Fatalf("update lost: %v %v", w, ok)
	}
	if c.len() != 1 {
		t.Fatalf("cache size = %d, want 1", c.len())
	}
}
