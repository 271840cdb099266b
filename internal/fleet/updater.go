package fleet

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/iloscout/internal/regcache"
	"github.com/HerbHall/iloscout/pkg/models"
	"github.com/HerbHall/iloscout/pkg/plugin"
)

// Updater cadences. The unauthenticated pass also respects the
// per-client rate gate inside the models; authenticated clients refresh
// on every tick.
const (
	UnauthUpdateInterval = 15 * time.Second
	AuthUpdateInterval   = 5 * time.Second

	// DefaultUpdateWorkers bounds concurrent refreshes across both
	// updaters. Overridable via fleet.update-workers.
	DefaultUpdateWorkers = 8
)

// Bus topics carrying refreshed snapshots. The queue module forwards
// them to the broker queues.
const (
	TopicUnauthenticatedUpdated = "fleet.client.unauthenticated.updated"
	TopicAuthenticatedUpdated   = "fleet.client.authenticated.updated"
)

// Updater refreshes client state on a cadence, dispatching the network
// work to a bounded worker pool shared between both client kinds.
type Updater struct {
	registry   *Registry
	regs       *regcache.Cache
	heartbeats *HeartbeatMap
	bus        plugin.EventBus
	fetch      models.FetchFunc
	logger     *zap.Logger

	pool     chan struct{}
	inflight sync.Map // uuid -> struct{}
}

// NewUpdater creates an updater with the given worker pool size.
func NewUpdater(registry *Registry, regs *regcache.Cache, heartbeats *HeartbeatMap, bus plugin.EventBus, fetch models.FetchFunc, workers int, logger *zap.Logger) *Updater {
	if workers <= 0 {
		workers = DefaultUpdateWorkers
	}
	return &Updater{
		registry:   registry,
		regs:       regs,
		heartbeats: heartbeats,
		bus:        bus,
		fetch:      fetch,
		logger:     logger,
		pool:       make(chan struct{}, workers),
	}
}

// UnauthenticatedPass refreshes every eligible unauthenticated client.
func (u *Updater) UnauthenticatedPass(ctx context.Context) {
	for _, c := range u.registry.Unauthenticated() {
		u.dispatch(ctx, c.IloUUID(), "unauth", func(ctx context.Context) bool {
			if !u.stillRegistered(c.IloUUID(), c.Address().String()) {
				return false
			}
			if !c.CanUpdate() {
				return false
			}
			if err := c.Update(ctx, u.fetch); err != nil {
				u.logger.Info("unauthenticated refresh failed",
					zap.String("ilo_uuid", c.IloUUID()),
					zap.Error(err),
				)
				return false
			}
			u.heartbeats.Stamp(c.IloUUID())
			u.publish(ctx, TopicUnauthenticatedUpdated, c.Snapshot())
			return true
		})
	}
}

// AuthenticatedPass refreshes every authenticated client still in the
// registration set.
func (u *Updater) AuthenticatedPass(ctx context.Context) {
	for _, c := range u.registry.Authenticated() {
		u.dispatch(ctx, c.IloUUID(), "auth", func(ctx context.Context) bool {
			if !u.stillRegistered(c.IloUUID(), c.Address().String()) {
				return false
			}
			if err := c.Update(ctx); err != nil {
				u.logger.Info("authenticated refresh failed",
					zap.String("ilo_uuid", c.IloUUID()),
					zap.Error(err),
				)
				return false
			}
			u.heartbeats.Stamp(c.IloUUID())
			u.publish(ctx, TopicAuthenticatedUpdated, c.Snapshot())
			return true
		})
	}
}

// stillRegistered drops clients whose address left the registration set.
func (u *Updater) stillRegistered(uuid, addrStr string) bool {
	addr, ok := u.registry.AddressOf(uuid)
	if !ok {
		return false
	}
	if u.regs.IsRegistered(addr) {
		return true
	}
	u.logger.Info("dropping client: address no longer registered",
		zap.String("ilo_uuid", uuid),
		zap.String("address", addrStr),
	)
	u.registry.Remove(uuid)
	return false
}

// dispatch hands work to the pool unless the same client already has a
// refresh in flight.
func (u *Updater) dispatch(ctx context.Context, uuid, kind string, work func(ctx context.Context) bool) {
	key := kind + "/" + uuid
	if _, loaded := u.inflight.LoadOrStore(key, struct{}{}); loaded {
		return
	}

	select {
	case <-ctx.Done():
		u.inflight.Delete(key)
		return
	case u.pool <- struct{}{}:
	}

	go func() {
		defer func() {
			<-u.pool
			u.inflight.Delete(key)
		}()
		if work(ctx) {
			updatesTotal.WithLabelValues(kind).Inc()
		}
	}()
}

func (u *Updater) publish(ctx context.Context, topic string, payload any) {
	if u.bus == nil {
		return
	}
	u.bus.PublishAsync(ctx, plugin.Event{
		Topic:     topic,
		Source:    "fleet",
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
