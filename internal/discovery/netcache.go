package discovery

import (
	"sync"
	"sync/atomic"

	"github.com/HerbHall/iloscout/pkg/netaddr"
)

// Blacklist is a concurrent, append-only set of addresses that failed a
// probe. Entries persist for the process lifetime; there is no removal.
type Blacklist struct {
	mu    sync.RWMutex
	addrs map[netaddr.IPv4Address]struct{}
}

// NewBlacklist creates an empty blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{addrs: make(map[netaddr.IPv4Address]struct{})}
}

// Add records the address. Adding an existing address is a no-op.
func (b *Blacklist) Add(addr netaddr.IPv4Address) {
	b.mu.Lock()
	b.addrs[addr] = struct{}{}
	b.mu.Unlock()
}

// Contains reports whether the address has been blacklisted.
func (b *Blacklist) Contains(addr netaddr.IPv4Address) bool {
	b.mu.RLock()
	_, ok := b.addrs[addr]
	b.mu.RUnlock()
	return ok
}

// Len returns the number of blacklisted addresses.
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.addrs)
}

// NetworkCache holds the enumerated address range of the configured subnet
// and the bitmap of hosts the most recent sweep found to be iLO endpoints.
// The address slice is built once at startup and never mutated; the bitmap
// is replaced atomically so readers always observe one complete sweep.
type NetworkCache struct {
	subnet    netaddr.Subnet
	addresses []netaddr.IPv4Address
	active    atomic.Pointer[Bitmap]
	blacklist *Blacklist
}

// NewNetworkCache enumerates the subnet and initializes an empty active set.
func NewNetworkCache(subnet netaddr.Subnet) *NetworkCache {
	c := &NetworkCache{
		subnet:    subnet,
		addresses: subnet.Addresses(),
		blacklist: NewBlacklist(),
	}
	c.active.Store(NewBitmap(len(c.addresses)))
	return c
}

// Subnet returns the configured subnet.
func (c *NetworkCache) Subnet() netaddr.Subnet {
	return c.subnet
}

// Addresses returns the enumerated address range. Callers must not mutate
// the returned slice.
func (c *NetworkCache) Addresses() []netaddr.IPv4Address {
	return c.addresses
}

// AddressAt returns the address at the given bitmap index.
func (c *NetworkCache) AddressAt(index int) (netaddr.IPv4Address, bool) {
	if index < 0 || index >= len(c.addresses) {
		return 0, false
	}
	return c.addresses[index], true
}

// IndexOf returns the bitmap index of an address within the subnet range.
func (c *NetworkCache) IndexOf(addr netaddr.IPv4Address) (int, bool) {
	if !c.subnet.Contains(addr) {
		return 0, false
	}
	return int(addr.Uint32() - c.subnet.NetworkStart().Uint32()), true
}

// Active returns the current active-host bitmap.
func (c *NetworkCache) Active() *Bitmap {
	return c.active.Load()
}

// SwapActive publishes a freshly built bitmap, replacing the previous one.
func (c *NetworkCache) SwapActive(bm *Bitmap) {
	c.active.Store(bm)
}

// Blacklist returns the shared blacklist.
func (c *NetworkCache) Blacklist() *Blacklist {
	return c.blacklist
}

// ActiveAddresses resolves the current bitmap's set bits to addresses in
// ascending order.
func (c *NetworkCache) ActiveAddresses() []netaddr.IPv4Address {
	bm := c.Active()
	idx := bm.SetIndexes()
	out := make([]netaddr.IPv4Address, 0, len(idx))
	for _, i := range idx {
		if addr, ok := c.AddressAt(i); ok {
			out = append(out, addr)
		}
	}
	return out
}
