package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/HerbHall/iloscout/internal/event"
	"github.com/HerbHall/iloscout/internal/kvstore"
	"github.com/HerbHall/iloscout/internal/regcache"
	"github.com/HerbHall/iloscout/pkg/models"
	"github.com/HerbHall/iloscout/pkg/netaddr"
	"github.com/HerbHall/iloscout/pkg/plugin"
)

type fakePinger struct {
	reachable map[netaddr.IPv4Address]bool
}

func (p *fakePinger) Reachable(_ context.Context, addr netaddr.IPv4Address) bool {
	return p.reachable[addr]
}

type fakeIntake struct {
	mu       sync.Mutex
	regs     *regcache.Cache
	admitted []netaddr.IPv4Address
	err      error
}

func (f *fakeIntake) Admit(_ context.Context, addr netaddr.IPv4Address) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.admitted = append(f.admitted, addr)
	uuid := "uuid-" + addr.String()
	f.regs.Register(addr, uuid)
	return uuid, nil
}

func (f *fakeIntake) admittedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.admitted)
}

func newRegistrarFixture(t *testing.T) (*NetworkCache, *regcache.Cache, *fakeIntake) {
	t.Helper()
	cache := NewNetworkCache(mustSubnet(t, "10.6.0.0", "255.255.255.248"))
	regs := regcache.New(0, 0, kvstore.NewMemStore(), zaptest.NewLogger(t))
	return cache, regs, &fakeIntake{regs: regs}
}

func TestRegistrarAdmitsActiveUnregistered(t *testing.T) {
	cache, regs, intake := newRegistrarFixture(t)

	bm := NewBitmap(8)
	bm.Set(1)
	bm.Set(2)
	cache.SwapActive(bm)

	pinger := &fakePinger{reachable: map[netaddr.IPv4Address]bool{
		mustAddr(t, "10.6.0.1"): true,
		mustAddr(t, "10.6.0.2"): true,
	}}

	r := NewRegistrar(cache, regs, pinger, intake, nil, zaptest.NewLogger(t))
	r.Pass(context.Background())

	assert.Equal(t, 2, intake.admittedCount())
	assert.True(t, regs.IsRegistered(mustAddr(t, "10.6.0.1")))
	assert.True(t, regs.IsRegistered(mustAddr(t, "10.6.0.2")))
}

func TestRegistrarSkipsBlacklistedAndRegistered(t *testing.T) {
	cache, regs, intake := newRegistrarFixture(t)

	bm := NewBitmap(8)
	bm.Set(1)
	bm.Set(2)
	bm.Set(3)
	cache.SwapActive(bm)

	cache.Blacklist().Add(mustAddr(t, "10.6.0.1"))
	regs.Register(mustAddr(t, "10.6.0.2"), "uuid-existing")

	pinger := &fakePinger{reachable: map[netaddr.IPv4Address]bool{
		mustAddr(t, "10.6.0.3"): true,
	}}

	r := NewRegistrar(cache, regs, pinger, intake, nil, zaptest.NewLogger(t))
	r.Pass(context.Background())

	require.Equal(t, 1, intake.admittedCount())
	assert.Equal(t, "10.6.0.3", intake.admitted[0].String())
}

func TestRegistrarSkipsUnreachable(t *testing.T) {
	cache, regs, intake := newRegistrarFixture(t)

	bm := NewBitmap(8)
	bm.Set(1)
	cache.SwapActive(bm)

	r := NewRegistrar(cache, regs, &fakePinger{}, intake, nil, zaptest.NewLogger(t))
	r.Pass(context.Background())

	assert.Zero(t, intake.admittedCount())
	assert.False(t, regs.IsRegistered(mustAddr(t, "10.6.0.1")))
}

func TestRegistrarAdmitFailureLeavesUnregistered(t *testing.T) {
	cache, regs, intake := newRegistrarFixture(t)
	intake.err = errors.New("no uuid in document")

	bm := NewBitmap(8)
	bm.Set(1)
	cache.SwapActive(bm)

	pinger := &fakePinger{reachable: map[netaddr.IPv4Address]bool{
		mustAddr(t, "10.6.0.1"): true,
	}}

	r := NewRegistrar(cache, regs, pinger, intake, nil, zaptest.NewLogger(t))
	r.Pass(context.Background())

	assert.False(t, regs.IsRegistered(mustAddr(t, "10.6.0.1")))
}

func TestRegistrarAnnouncesCandidates(t *testing.T) {
	cache, regs, intake := newRegistrarFixture(t)

	bm := NewBitmap(8)
	bm.Set(1)
	cache.SwapActive(bm)

	bus := event.NewBus(zaptest.NewLogger(t))
	requests := make(chan models.RegistrationRequest, 1)
	bus.Subscribe(TopicRegistrationRequested, func(_ context.Context, e plugin.Event) {
		if req, ok := e.Payload.(models.RegistrationRequest); ok {
			requests <- req
		}
	})

	pinger := &fakePinger{reachable: map[netaddr.IPv4Address]bool{
		mustAddr(t, "10.6.0.1"): true,
	}}

	r := NewRegistrar(cache, regs, pinger, intake, bus, zaptest.NewLogger(t))
	r.Pass(context.Background())

	select {
	case req := <-requests:
		assert.Equal(t, "10.6.0.1", req.IloAddress.String())
		assert.Equal(t, "Discovery-10601", req.ClientHint)
	case <-time.After(time.Second):
		t.Fatal("no registration request published")
	}
}
