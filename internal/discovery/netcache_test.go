package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/iloscout/pkg/netaddr"
)

func mustAddr(t *testing.T, s string) netaddr.IPv4Address {
	t.Helper()
	addr, err := netaddr.ParseIPv4(s)
	require.NoError(t, err)
	return addr
}

func mustSubnet(t *testing.T, base, mask string) netaddr.Subnet {
	t.Helper()
	sn, err := netaddr.ParseSubnet(base, mask)
	require.NoError(t, err)
	return sn
}

func TestBlacklistAddContains(t *testing.T) {
	bl := NewBlacklist()
	addr := mustAddr(t, "10.6.0.7")

	assert.False(t, bl.Contains(addr))
	bl.Add(addr)
	bl.Add(addr)
	assert.True(t, bl.Contains(addr))
	assert.Equal(t, 1, bl.Len())
}

func TestNetworkCacheEnumeration(t *testing.T) {
	cache := NewNetworkCache(mustSubnet(t, "10.6.0.0", "255.255.255.252"))

	addrs := cache.Addresses()
	require.Len(t, addrs, 4)
	assert.Equal(t, "10.6.0.0", addrs[0].String())
	assert.Equal(t, "10.6.0.3", addrs[3].String())

	got, ok := cache.AddressAt(2)
	require.True(t, ok)
	assert.Equal(t, "10.6.0.2", got.String())

	_, ok = cache.AddressAt(4)
	assert.False(t, ok)

	idx, ok := cache.IndexOf(mustAddr(t, "10.6.0.1"))
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = cache.IndexOf(mustAddr(t, "10.6.0.4"))
	assert.False(t, ok)
}

func TestNetworkCacheSwapActive(t *testing.T) {
	cache := NewNetworkCache(mustSubnet(t, "10.6.0.0", "255.255.255.252"))
	assert.Equal(t, 0, cache.Active().Count())

	bm := NewBitmap(4)
	bm.Set(1)
	bm.Set(3)
	cache.SwapActive(bm)

	assert.Equal(t, 2, cache.Active().Count())

	active := cache.ActiveAddresses()
	require.Len(t, active, 2)
	assert.Equal(t, "10.6.0.1", active[0].String())
	assert.Equal(t, "10.6.0.3", active[1].String())
}

func TestNetworkCacheActiveSnapshotIsStable(t *testing.T) {
	cache := NewNetworkCache(mustSubnet(t, "10.6.0.0", "255.255.255.252"))

	first := NewBitmap(4)
	first.Set(0)
	cache.SwapActive(first)

	held := cache.Active()

	second := NewBitmap(4)
	second.Set(1)
	cache.SwapActive(second)

	// A reader holding the old bitmap still sees the old sweep.
	assert.True(t, held.Test(0))
	assert.False(t, cache.Active().Test(0))
	assert.True(t, cache.Active().Test(1))
}
