package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/PaulFidika/spinauth/jwks"
)

// KeyCache is an in-process jwks.Store. Entries are replaced whole under the
// lock, so readers never see a half-written key set.
type KeyCache struct {
	mu        sync.RWMutex
	retention time.Duration
	data      map[string]*jwks.Entry
	closed    chan struct{}
	closeOnce sync.Once
}

// NewKeyCache creates an empty cache. If retention > 0, entries fetched more
// than retention ago are swept every minute by a background goroutine; call
// Close to stop it. With retention <= 0 entries are kept until replaced.
func NewKeyCache(retention time.Duration) *KeyCache {
	c := &KeyCache{retention: retention, data: make(map[string]*jwks.Entry), closed: make(chan struct{})}
	if retention > 0 {
		go c.cleanupLoop()
	}
	return c
}

func (c *KeyCache) Get(ctx context.Context, environmentID string) (*jwks.Entry, bool, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[environmentID]
	return e, ok, nil
}

func (c *KeyCache) Put(ctx context.Context, environmentID string, e *jwks.Entry) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[environmentID] = e
	return nil
}

func (c *KeyCache) Del(ctx context.Context, environmentID string) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, environmentID)
	return nil
}

// Len reports the number of cached environments.
func (c *KeyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

func (c *KeyCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep(time.Now())
		case <-c.closed:
			return
		}
	}
}

// sweep drops entries past retention.
func (c *KeyCache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.data {
		if e.Age(now) >= c.retention {
			delete(c.data, k)
		}
	}
}

// Close stops the background sweep. Safe to call more than once.
func (c *KeyCache) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
