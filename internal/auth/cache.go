package auth

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"styleauth/internal/model"
)

type loadFunc func(ctx context.Context, userID string) (*model.Bank, error)

type cacheEntry struct {
	userID string
	bank   *model.Bank
}

// bankCache is an LRU of loaded banks. Concurrent misses for one user share
// a single store read; failures are not cached.
type bankCache struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	lru      *list.List
	gen      map[string]uint64
	capacity int

	group   singleflight.Group
	load    loadFunc
	timeout time.Duration
}

func newBankCache(capacity int, timeout time.Duration, load loadFunc) *bankCache {
	return &bankCache{
		items:    make(map[string]*list.Element),
		lru:      list.New(),
		gen:      make(map[string]uint64),
		capacity: capacity,
		load:     load,
		timeout:  timeout,
	}
}

func (c *bankCache) lookup(userID string) (*model.Bank, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[userID]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).bank, true
	}
	return nil, false
}

func (c *bankCache) generation(userID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[userID]
}

// add stores bank unless userID was invalidated after gen was read.
func (c *bankCache) add(userID string, bank *model.Bank, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[userID] != gen {
		return
	}
	if elem, ok := c.items[userID]; ok {
		elem.Value.(*cacheEntry).bank = bank
		c.lru.MoveToFront(elem)
		return
	}
	if c.lru.Len() >= c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.lru.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).userID)
		}
	}
	c.items[userID] = c.lru.PushFront(&cacheEntry{userID: userID, bank: bank})
}

// get returns the cached bank or loads it. The shared load runs detached
// from any single caller's cancellation but is bounded by the load timeout.
func (c *bankCache) get(ctx context.Context, userID string) (*model.Bank, error) {
	if b, ok := c.lookup(userID); ok {
		return b, nil
	}

	ch := c.group.DoChan(userID, func() (any, error) {
		gen := c.generation(userID)
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		b, err := c.load(lctx, userID)
		if err != nil {
			return nil, err
		}
		c.add(userID, b, gen)
		return b, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Bank), nil
	}
}

// invalidate drops userID so the next request reloads from the store.
func (c *bankCache) invalidate(userID string) {
	c.mu.Lock()
	c.gen[userID]++
	if elem, ok := c.items[userID]; ok {
		c.lru.Remove(elem)
		delete(c.items, userID)
	}
	c.mu.Unlock()
	c.group.Forget(userID)
}

func (c *bankCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
