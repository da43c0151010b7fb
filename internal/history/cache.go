package history

import "container/list"

// lruCache is a bounded window cache with least-recently-used eviction.
// Windows dominate memory for long-lookback configurations, so the bound is
// entries, chosen by the caller to fit the working set.
type lruCache struct {
	capacity int
	order    *list.List
	entries  map[int]*list.Element
}

type lruEntry struct {
	key    int
	window Window
}

func newLRUCache(capacity int) *lruCache {
	return &lruCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[int]*list.Element, capacity),
	}
}

func (c *lruCache) get(key int) (Window, bool) {
	elem, ok := c.entries[key]
	if !ok {
		return Window{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*lruEntry).window, true
}

func (c *lruCache) put(key int, w Window) {
	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*lruEntry).window = w
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*lruEntry).key)
		}
	}
	c.entries[key] = c.order.PushFront(&lruEntry{key: key, window: w})
}

func (c *lruCache) len() int { return c.order.Len() }
