package operators

import (
	"container/list"
	"sync"

	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
	imetrics "github.com/FynnBe/ilastik/internal/infrastructure/metrics"
)

// blockLRU holds computed blocks under a byte budget, evicting the least
// recently used block first.
type blockLRU struct {
	name   string
	mu     sync.Mutex
	budget int64
	used   int64
	ll     *list.List
	items  map[string]*list.Element
}

type lruEntry struct {
	key  string
	roi  graph.Roi
	data *ndarray.Array
	size int64
}

func newBlockLRU(name string, budget int64) *blockLRU {
	return &blockLRU{name: name, budget: budget, ll: list.New(), items: map[string]*list.Element{}}
}

func (c *blockLRU) get(key string) (*ndarray.Array, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(e)
	return e.Value.(*lruEntry).data, true
}

// put stores a block. A block larger than the whole budget is not kept.
func (c *blockLRU) put(key string, roi graph.Roi, a *ndarray.Array) {
	size := a.Bytes()
	c.mu.Lock()
	defer c.mu.Unlock()
	if size > c.budget {
		return
	}
	if e, ok := c.items[key]; ok {
		c.used -= e.Value.(*lruEntry).size
		c.ll.Remove(e)
		delete(c.items, key)
	}
	var evicted int64
	for c.used+size > c.budget && c.ll.Len() > 0 {
		c.removeElement(c.ll.Back())
		evicted++
	}
	c.items[key] = c.ll.PushFront(&lruEntry{key: key, roi: roi, data: a, size: size})
	c.used += size
	if evicted > 0 {
		imetrics.CacheEvicted(c.name, evicted)
	}
	imetrics.CacheSizeBytes(c.name, c.used)
}

// removeIf drops every block whose roi satisfies pred and returns how many.
func (c *blockLRU) removeIf(pred func(graph.Roi) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for e := c.ll.Front(); e != nil; {
		next := e.Next()
		if pred(e.Value.(*lruEntry).roi) {
			c.removeElement(e)
			n++
		}
		e = next
	}
	imetrics.CacheSizeBytes(c.name, c.used)
	return n
}

func (c *blockLRU) clear() {
	c.removeIf(func(graph.Roi) bool { return true })
}

func (c *blockLRU) removeElement(e *list.Element) {
	ent := e.Value.(*lruEntry)
	c.ll.Remove(e)
	delete(c.items, ent.key)
	c.used -= ent.size
}

func (c *blockLRU) stats() (blocks int, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len(), c.used
}
