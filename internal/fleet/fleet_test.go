package fleet

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/HerbHall/iloscout/internal/kvstore"
	"github.com/HerbHall/iloscout/internal/regcache"
	"github.com/HerbHall/iloscout/pkg/netaddr"
	"github.com/HerbHall/iloscout/pkg/plugin"
	"github.com/HerbHall/iloscout/pkg/plugin/plugintest"
)

func TestContract(t *testing.T) {
	plugintest.TestPluginContract(t, func() plugin.Plugin {
		store := kvstore.NewMemStore()
		regs := regcache.New(0, 0, store, zaptest.NewLogger(t))
		fetch := func(context.Context, netaddr.IPv4Address) ([]byte, error) {
			return nil, errors.New("unreachable")
		}
		active := func() []netaddr.IPv4Address { return nil }
		probe := func(context.Context, netaddr.IPv4Address) bool { return false }
		return New(regs, store, fetch, staticBlacklist{}, active, probe)
	}, plugintest.MapConfig{})
}

func newFleetModule(t *testing.T, fetch func(context.Context, netaddr.IPv4Address) ([]byte, error)) *Module {
	t.Helper()
	store := kvstore.NewMemStore()
	regs := regcache.New(0, 0, store, zaptest.NewLogger(t))
	active := func() []netaddr.IPv4Address { return nil }
	probe := func(context.Context, netaddr.IPv4Address) bool { return false }

	m := New(regs, store, fetch, staticBlacklist{}, active, probe)
	deps := plugin.Dependencies{Config: plugintest.MapConfig{}, Logger: zaptest.NewLogger(t)}
	require.NoError(t, m.Init(context.Background(), deps))
	return m
}

func TestAdmitRegistersAndSeedsClient(t *testing.T) {
	fetch := func(context.Context, netaddr.IPv4Address) ([]byte, error) {
		return []byte("<RIMP><HSI><UUID>uuid-1</UUID><SPN>ProLiant DL360</SPN></HSI><MP><FWRI>2.78</FWRI></MP></RIMP>"), nil
	}
	m := newFleetModule(t, fetch)
	addr := fleetAddr(t, "10.6.0.1")

	uuid, err := m.Admit(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", uuid)

	assert.True(t, m.regs.IsRegistered(addr))
	assert.Equal(t, HealthMax, m.tracker.Health(addr))
	assert.True(t, m.tracker.Alive(addr))
	_, ok := m.heartbeats.Last("uuid-1")
	assert.True(t, ok)

	snaps := m.UnauthenticatedSnapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, "ProLiant DL360", snaps[0].ProductName)
	assert.Empty(t, m.AuthenticatedSnapshots())
}

func TestAdmitLeavesStateUntouchedOnBadDocument(t *testing.T) {
	fetch := func(context.Context, netaddr.IPv4Address) ([]byte, error) {
		return []byte("<html>login</html>"), nil
	}
	m := newFleetModule(t, fetch)
	addr := fleetAddr(t, "10.6.0.1")

	_, err := m.Admit(context.Background(), addr)
	require.Error(t, err)

	assert.False(t, m.regs.IsRegistered(addr))
	assert.Equal(t, 0, m.tracker.Health(addr))
	unauth, _ := m.registry.Len()
	assert.Equal(t, 0, unauth)
}

func TestAdmitPropagatesFetchError(t *testing.T) {
	fetch := func(context.Context, netaddr.IPv4Address) ([]byte, error) {
		return nil, errors.New("connect timed out")
	}
	m := newFleetModule(t, fetch)

	_, err := m.Admit(context.Background(), fleetAddr(t, "10.6.0.1"))
	assert.Error(t, err)
}
