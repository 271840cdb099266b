package regcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/HerbHall/iloscout/internal/kvstore"
	"github.com/HerbHall/iloscout/pkg/netaddr"
)

func mustAddr(t *testing.T, s string) netaddr.IPv4Address {
	t.Helper()
	addr, err := netaddr.ParseIPv4(s)
	require.NoError(t, err)
	return addr
}

func TestRegisterAndLookup(t *testing.T) {
	c := New(0, 0, kvstore.NewMemStore(), zaptest.NewLogger(t))
	addr := mustAddr(t, "10.6.0.4")

	assert.False(t, c.IsRegistered(addr))

	c.Register(addr, "uuid-4")
	assert.True(t, c.IsRegistered(addr))
	assert.True(t, c.IsRegisteredAddress(addr))

	uuid, ok := c.UUIDFor(addr)
	require.True(t, ok)
	assert.Equal(t, "uuid-4", uuid)
}

func TestUnregister(t *testing.T) {
	store := kvstore.NewMemStore()
	c := New(0, 0, store, zaptest.NewLogger(t))
	addr := mustAddr(t, "10.6.0.4")

	c.Register(addr, "uuid-4")
	c.Unregister(addr)

	assert.False(t, c.IsRegistered(addr))
	_, err := store.GetString("registered-10.6.0.4")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestExpiredEntryFallsBackToStore(t *testing.T) {
	store := kvstore.NewMemStore()
	c := New(0, time.Minute, store, zaptest.NewLogger(t))
	addr := mustAddr(t, "10.6.0.4")

	now := time.Now()
	c.nowFunc = func() time.Time { return now }
	c.Register(addr, "uuid-4")

	// Advance past the TTL: membership survives via the write-through copy.
	c.nowFunc = func() time.Time { return now.Add(2 * time.Minute) }
	assert.True(t, c.IsRegistered(addr))

	// The store answer re-populated the in-memory view.
	uuid, ok := c.UUIDFor(addr)
	require.True(t, ok)
	assert.Equal(t, "uuid-4", uuid)
}

func TestCapacityEvictionDoesNotUnregister(t *testing.T) {
	store := kvstore.NewMemStore()
	c := New(2, 0, store, zaptest.NewLogger(t))

	now := time.Now()
	tick := 0
	c.nowFunc = func() time.Time {
		tick++
		return now.Add(time.Duration(tick) * time.Second)
	}

	a1 := mustAddr(t, "10.6.0.1")
	a2 := mustAddr(t, "10.6.0.2")
	a3 := mustAddr(t, "10.6.0.3")
	c.Register(a1, "uuid-1")
	c.Register(a2, "uuid-2")
	c.Register(a3, "uuid-3")

	assert.Len(t, c.Addresses(), 2)

	// The oldest entry left the in-memory view but stays registered.
	assert.True(t, c.IsRegistered(a1))
	assert.True(t, c.IsRegistered(a2))
	assert.True(t, c.IsRegistered(a3))
}

func TestStoreFailureReadsAsUnregistered(t *testing.T) {
	c := New(0, time.Minute, failingStore{}, zaptest.NewLogger(t))
	assert.False(t, c.IsRegistered(mustAddr(t, "10.6.0.4")))
}

type failingStore struct{}

func (failingStore) GetString(string) (string, error)      { return "", assert.AnError }
func (failingStore) SetString(string, string) error        { return assert.AnError }
func (failingStore) GetBool(string) (bool, error)          { return false, assert.AnError }
func (failingStore) SetBool(string, bool) error            { return assert.AnError }
func (failingStore) GetInt(string) (int, error)            { return 0, assert.AnError }
func (failingStore) SetInt(string, int) error              { return assert.AnError }
func (failingStore) AddInt(string, int, int, int) (int, error) { return 0, assert.AnError }
func (failingStore) Exists(string) (bool, error)           { return false, assert.AnError }
func (failingStore) Delete(string) error                   { return assert.AnError }
func (failingStore) Close() error                          { return nil }
