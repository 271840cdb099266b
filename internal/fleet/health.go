package fleet

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/iloscout/internal/kvstore"
	"github.com/HerbHall/iloscout/pkg/netaddr"
)

// Health counter bounds and cadence. The counter lives in the store under
// "<addr>-health"; the derived alive flag under "<addr>".
const (
	HealthMin      = 0
	HealthMax      = 5
	HealthInterval = time.Minute
)

const healthKeySuffix = "-health"

// BlacklistView is the read side of the discovery blacklist.
type BlacklistView interface {
	Contains(addr netaddr.IPv4Address) bool
}

// ActiveFunc returns the addresses the most recent sweep found active.
type ActiveFunc func() []netaddr.IPv4Address

// ProbeFunc answers whether the address currently identifies as an iLO.
type ProbeFunc func(ctx context.Context, addr netaddr.IPv4Address) bool

// HealthTracker maintains the per-address health counter and alive flag.
type HealthTracker struct {
	store  kvstore.Store
	active ActiveFunc
	probe  ProbeFunc
	logger *zap.Logger
}

// NewHealthTracker creates a tracker.
func NewHealthTracker(store kvstore.Store, active ActiveFunc, probe ProbeFunc, logger *zap.Logger) *HealthTracker {
	return &HealthTracker{
		store:  store,
		active: active,
		probe:  probe,
		logger: logger,
	}
}

// Seed sets a freshly registered address to full health.
func (t *HealthTracker) Seed(addr netaddr.IPv4Address) {
	if err := t.store.SetInt(addr.String()+healthKeySuffix, HealthMax); err != nil {
		t.logger.Warn("failed to seed health counter",
			zap.String("address", addr.String()),
			zap.Error(err),
		)
	}
	if err := t.store.SetBool(addr.String(), true); err != nil {
		t.logger.Warn("failed to set alive flag",
			zap.String("address", addr.String()),
			zap.Error(err),
		)
	}
}

// Health returns the counter for an address. Store problems or missing
// keys read as zero.
func (t *HealthTracker) Health(addr netaddr.IPv4Address) int {
	h, err := t.store.GetInt(addr.String() + healthKeySuffix)
	if err != nil {
		if err != kvstore.ErrNotFound {
			t.logger.Warn("failed to read health counter",
				zap.String("address", addr.String()),
				zap.Error(err),
			)
		}
		return 0
	}
	return h
}

// Alive returns the published liveness flag for an address. Store
// problems or missing keys read as false.
func (t *HealthTracker) Alive(addr netaddr.IPv4Address) bool {
	alive, err := t.store.GetBool(addr.String())
	if err != nil {
		if err != kvstore.ErrNotFound {
			t.logger.Warn("failed to read alive flag",
				zap.String("address", addr.String()),
				zap.Error(err),
			)
		}
		return false
	}
	return alive
}

// Pass probes every active address once and moves its counter one step
// toward the observed state. The alive flag tracks counter > 0.
func (t *HealthTracker) Pass(ctx context.Context) {
	addrs := t.active()
	var up, down int

	for _, addr := range addrs {
		if ctx.Err() != nil {
			return
		}

		delta := -1
		if t.probe(ctx, addr) {
			delta = 1
			up++
		} else {
			down++
		}

		h, err := t.store.AddInt(addr.String()+healthKeySuffix, delta, HealthMin, HealthMax)
		if err != nil {
			t.logger.Warn("failed to adjust health counter",
				zap.String("address", addr.String()),
				zap.Error(err),
			)
			continue
		}

		if err := t.store.SetBool(addr.String(), h > HealthMin); err != nil {
			t.logger.Warn("failed to set alive flag",
				zap.String("address", addr.String()),
				zap.Error(err),
			)
		}
	}

	t.logger.Debug("health pass finished",
		zap.Int("checked", len(addrs)),
		zap.Int("healthy", up),
		zap.Int("failing", down),
	)
}
