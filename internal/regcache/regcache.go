// Package regcache tracks which addresses have completed client
// registration. The in-memory view is bounded in size and age; every
// mutation is written through to the key/value store so a cache miss can
// be answered from durable state.
package regcache

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/iloscout/internal/kvstore"
	"github.com/HerbHall/iloscout/pkg/netaddr"
)

// Defaults for the in-memory view. The backing store is unbounded.
const (
	DefaultCapacity = 1000
	DefaultEntryTTL = 10 * time.Minute
)

const storeKeyPrefix = "registered-"

type entry struct {
	uuid     string
	storedAt time.Time
}

// Cache is the registration set. Membership is monotonic: entries leave
// only through Unregister. Expiry and size eviction drop entries from the
// in-memory view, not from the store.
type Cache struct {
	mu       sync.Mutex
	entries  map[netaddr.IPv4Address]entry
	capacity int
	ttl      time.Duration
	store    kvstore.Store
	logger   *zap.Logger
	nowFunc  func() time.Time
}

// New creates a cache backed by store. capacity and ttl fall back to the
// package defaults when non-positive.
func New(capacity int, ttl time.Duration, store kvstore.Store, logger *zap.Logger) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultEntryTTL
	}
	return &Cache{
		entries:  make(map[netaddr.IPv4Address]entry),
		capacity: capacity,
		ttl:      ttl,
		store:    store,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// Register marks the address as registered under the given client UUID.
func (c *Cache) Register(addr netaddr.IPv4Address, uuid string) {
	c.mu.Lock()
	c.entries[addr] = entry{uuid: uuid, storedAt: c.nowFunc()}
	c.evictLocked()
	c.mu.Unlock()

	if err := c.store.SetString(storeKeyPrefix+addr.String(), uuid); err != nil {
		c.logger.Warn("registration write-through failed",
			zap.String("address", addr.String()),
			zap.Error(err),
		)
	}
}

// Unregister removes the address from the set and the store.
func (c *Cache) Unregister(addr netaddr.IPv4Address) {
	c.mu.Lock()
	delete(c.entries, addr)
	c.mu.Unlock()

	if err := c.store.Delete(storeKeyPrefix + addr.String()); err != nil {
		c.logger.Warn("registration delete failed",
			zap.String("address", addr.String()),
			zap.Error(err),
		)
	}
}

// IsRegistered reports whether the address belongs to a registered
// client. An expired or evicted in-memory entry is refreshed from the
// store; a store failure answers false.
func (c *Cache) IsRegistered(addr netaddr.IPv4Address) bool {
	now := c.nowFunc()

	c.mu.Lock()
	e, ok := c.entries[addr]
	if ok && now.Sub(e.storedAt) < c.ttl {
		c.mu.Unlock()
		return true
	}
	if ok {
		delete(c.entries, addr)
	}
	c.mu.Unlock()

	uuid, err := c.store.GetString(storeKeyPrefix + addr.String())
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			c.logger.Warn("registration read failed",
				zap.String("address", addr.String()),
				zap.Error(err),
			)
		}
		return false
	}

	c.mu.Lock()
	c.entries[addr] = entry{uuid: uuid, storedAt: now}
	c.evictLocked()
	c.mu.Unlock()
	return true
}

// IsRegisteredAddress satisfies the prober's registration check.
func (c *Cache) IsRegisteredAddress(addr netaddr.IPv4Address) bool {
	return c.IsRegistered(addr)
}

// UUIDFor returns the client UUID registered at the address.
func (c *Cache) UUIDFor(addr netaddr.IPv4Address) (string, bool) {
	c.mu.Lock()
	e, ok := c.entries[addr]
	c.mu.Unlock()
	if ok {
		return e.uuid, true
	}
	uuid, err := c.store.GetString(storeKeyPrefix + addr.String())
	if err != nil {
		return "", false
	}
	return uuid, true
}

// Addresses returns the addresses currently held in the in-memory view.
func (c *Cache) Addresses() []netaddr.IPv4Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]netaddr.IPv4Address, 0, len(c.entries))
	for addr := range c.entries {
		out = append(out, addr)
	}
	return out
}

// evictLocked drops expired entries, then the oldest entries while over
// capacity. Callers hold c.mu.
func (c *Cache) evictLocked() {
	now := c.nowFunc()
	for addr, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, addr)
		}
	}
	for len(c.entries) > c.capacity {
		var oldest netaddr.IPv4Address
		var oldestAt time.Time
		first := true
		for addr, e := range c.entries {
			if first || e.storedAt.Before(oldestAt) {
				oldest, oldestAt, first = addr, e.storedAt, false
			}
		}
		delete(c.entries, oldest)
	}
}
