package model

import (
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/textpipe/internal/arch"
	lru "github.com/hashicorp/golang-lru"
)

type cacheKey struct {
	name       arch.Name
	backend    arch.Backend
	pretrained bool
}

// cacheEntry is a built model whose runner is shared by every model
// leased from it.
type cacheEntry struct {
	model  *Model
	shared *sharedRunner
}

// checkout returns a copy of the cached model holding its own lease.
func (e *cacheEntry) checkout() (*Model, error) {
	l, err := e.shared.lease()
	if err != nil {
		return nil, err
	}
	cp := *e.model
	cp.runner = l
	return &cp, nil
}

// Cache keeps recently built models. An evicted model is closed once
// every model leased from it has been closed.
type Cache struct {
	lru *lru.Cache
}

// NewCache returns a cache holding up to size models.
func NewCache(size int) (*Cache, error) {
	c, err := lru.NewWithEvict(size, func(key, value interface{}) {
		e, ok := value.(*cacheEntry)
		if !ok {
			return
		}
		if err := e.shared.evict(); err != nil {
			slog.Warn("failed to close evicted model", "arch", e.model.Name(), "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create model cache: %w", err)
	}
	return &Cache{lru: c}, nil
}

// Get leases the cached model for key.
func (c *Cache) Get(key cacheKey) (*Model, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	e, ok := v.(*cacheEntry)
	if !ok {
		return nil, false
	}
	m, err := e.checkout()
	if err != nil {
		return nil, false
	}
	return m, true
}

// Add stores m and returns a leased copy of it. The least recently used
// entry is evicted when the cache is full.
func (c *Cache) Add(key cacheKey, m *Model) (*Model, error) {
	e := &cacheEntry{model: m, shared: newSharedRunner(m.runner)}
	leased, err := e.checkout()
	if err != nil {
		return nil, err
	}
	// Add replaces an existing value without calling the eviction callback.
	c.lru.Remove(key)
	c.lru.Add(key, e)
	return leased, nil
}

// Len returns the number of cached models.
func (c *Cache) Len() int { return c.lru.Len() }

// Purge evicts every entry.
func (c *Cache) Purge() { c.lru.Purge() }
