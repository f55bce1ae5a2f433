// Package indexcache implements §4.7's reference-counted index cache:
// get/load-once via golang.org/x/sync/singleflight (the single-use
// semaphore the spec describes), reload-after-metadata-change, and LRU
// eviction with a weak-reference second chance.
package indexcache

import (
	"container/list"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nuclia/nidx/internal/log"
	"github.com/nuclia/nidx/internal/metrics"
	"github.com/nuclia/nidx/internal/nidxerrors"
)

// Searcher is the cached handle type: any per-index reader the cache
// should keep alive while referenced (the segment/searcher.Reader in
// production use).
type Searcher interface {
	Close() error
}

// Loader fetches or (re)builds the Searcher for id from the metadata store
// and on-disk segments; returning nidxerrors.NotFound causes eviction.
type Loader func(id string) (Searcher, error)

type entry struct {
	id       string
	searcher Searcher
	refs     atomic.Int32
	elem     *list.Element // position in the LRU list
}

// Cache is the process-wide, reference-counted IndexId -> Searcher cache.
type Cache struct {
	mu       sync.Mutex
	live     map[string]*entry
	eviction map[string]*entry // weak-reference second chance: evicted but still referenced elsewhere
	lru      *list.List
	capacity int
	load     singleflight.Group
	loader   Loader
}

// New builds an empty cache with the given LRU capacity and loader.
func New(capacity int, loader Loader) *Cache {
	return &Cache{
		live:     make(map[string]*entry),
		eviction: make(map[string]*entry),
		lru:      list.New(),
		capacity: capacity,
		loader:   loader,
	}
}

// Get returns the cached Searcher for id, loading it if absent. Concurrent
// Get calls on a cold entry invoke the loader exactly once (Invariant 8);
// the rest wait on the singleflight group and share the result.
func (c *Cache) Get(id string) (Searcher, error) {
	c.mu.Lock()
	if e, ok := c.live[id]; ok {
		e.refs.Inc()
		c.lru.MoveToFront(e.elem)
		c.mu.Unlock()
		return e.searcher, nil
	}
	if e, ok := c.eviction[id]; ok {
		// Second chance: still referenced elsewhere, revive without reload.
		delete(c.eviction, id)
		c.insertLocked(id, e.searcher)
		c.mu.Unlock()
		return e.searcher, nil
	}
	c.mu.Unlock()

	v, err, _ := c.load.Do(id, func() (interface{}, error) {
		return c.loader(id)
	})
	if err != nil {
		metrics.IndexCacheLoadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.IndexCacheLoadsTotal.WithLabelValues("ok").Inc()
	searcher := v.(Searcher)

	c.mu.Lock()
	c.insertLocked(id, searcher)
	metrics.IndexCacheSize.Set(float64(len(c.live)))
	c.mu.Unlock()
	return searcher, nil
}

// insertLocked adds id/searcher as the most-recently-used entry, evicting
// the least-recently-used live entry into the weak-reference map if the
// cache is now over capacity. Caller must hold c.mu.
func (c *Cache) insertLocked(id string, searcher Searcher) {
	e := &entry{id: id, searcher: searcher}
	e.refs.Store(1)
	e.elem = c.lru.PushFront(e)
	c.live[id] = e

	for c.capacity > 0 && c.lru.Len() > c.capacity {
		back := c.lru.Back()
		if back == nil {
			break
		}
		victim := back.Value.(*entry)
		if victim.id == id {
			break
		}
		c.lru.Remove(back)
		delete(c.live, victim.id)
		if victim.refs.Load() > 0 {
			c.eviction[victim.id] = victim
		} else {
			victim.searcher.Close()
		}
		log.Info("index cache eviction", zap.String("index", victim.id))
	}
}

// Release drops one reference to id; callers that call Get must pair it
// with Release once done with the handle.
func (c *Cache) Release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.live[id]; ok {
		e.refs.Dec()
		return
	}
	if e, ok := c.eviction[id]; ok {
		if e.refs.Dec() <= 0 {
			delete(c.eviction, id)
			e.searcher.Close()
		}
	}
}

// Reload refreshes a cached entry after a sync tick (§4.7 reload): it
// re-invokes the loader; if the loader reports NotFound (the index no
// longer exists in the metadata store), the entry is evicted entirely —
// Scenario F of §8.
func (c *Cache) Reload(id string) error {
	searcher, err := c.loader(id)
	if nidxerrors.Is(err, nidxerrors.KindNotFound) {
		c.mu.Lock()
		if e, ok := c.live[id]; ok {
			c.lru.Remove(e.elem)
			delete(c.live, id)
		}
		delete(c.eviction, id)
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.live[id]; ok {
		e.searcher = searcher
		return nil
	}
	c.insertLocked(id, searcher)
	return nil
}

// Len reports the number of live entries, mainly for tests and metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}
