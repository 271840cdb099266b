package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/iloscout/internal/regcache"
	"github.com/HerbHall/iloscout/pkg/models"
	"github.com/HerbHall/iloscout/pkg/netaddr"
	"github.com/HerbHall/iloscout/pkg/plugin"
)

// Registrar cadence.
const (
	RegistrarInitialDelay = 30 * time.Second
	RegistrarInterval     = 30 * time.Second
)

// admitConcurrency bounds how many candidates are walked through the
// registration pipeline in parallel during one pass.
const admitConcurrency = 4

// TopicRegistrationRequested carries a models.RegistrationRequest for
// each newly discovered address. The queue module forwards it to the
// broker.
const TopicRegistrationRequested = "discovery.registration.requested"

// ErrUnreachable describes a candidate that does not answer an echo
// request. The registrar pings candidates itself before calling Admit and
// skips unreachable ones, so no Admit implementation here returns it.
var ErrUnreachable = errors.New("host unreachable")

// Intake admits a discovered address into the client fleet: it builds the
// client from the discovery document, marks the address registered, and
// seeds its liveness state. Returns the client UUID.
type Intake interface {
	Admit(ctx context.Context, addr netaddr.IPv4Address) (string, error)
}

// Registrar walks the active bitmap each pass and pushes unregistered
// addresses through registration.
type Registrar struct {
	cache  *NetworkCache
	regs   *regcache.Cache
	pinger Pinger
	intake Intake
	bus    plugin.EventBus
	logger *zap.Logger
}

// NewRegistrar creates a registrar.
func NewRegistrar(cache *NetworkCache, regs *regcache.Cache, pinger Pinger, intake Intake, bus plugin.EventBus, logger *zap.Logger) *Registrar {
	return &Registrar{
		cache:  cache,
		regs:   regs,
		pinger: pinger,
		intake: intake,
		bus:    bus,
		logger: logger,
	}
}

// Pass examines every active address once. Blacklisted and registered
// addresses are skipped; the rest are announced on the bus and admitted
// in-process. One candidate's failure never affects the others.
func (r *Registrar) Pass(ctx context.Context) {
	candidates := make([]netaddr.IPv4Address, 0)
	for _, addr := range r.cache.ActiveAddresses() {
		if r.cache.Blacklist().Contains(addr) {
			continue
		}
		if r.regs.IsRegistered(addr) {
			continue
		}
		candidates = append(candidates, addr)
	}

	if len(candidates) == 0 {
		return
	}

	r.logger.Info("registration pass started", zap.Int("candidates", len(candidates)))

	sem := make(chan struct{}, admitConcurrency)
	var wg sync.WaitGroup

dispatch:
	for _, addr := range candidates {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(addr netaddr.IPv4Address) {
			defer wg.Done()
			defer func() { <-sem }()
			r.processCandidate(ctx, addr)
		}(addr)
	}

	wg.Wait()
}

// processCandidate runs one address through announcement and admission.
func (r *Registrar) processCandidate(ctx context.Context, addr netaddr.IPv4Address) {
	if r.bus != nil {
		r.bus.PublishAsync(ctx, plugin.Event{
			Topic:     TopicRegistrationRequested,
			Source:    "discovery",
			Timestamp: time.Now(),
			Payload:   models.NewRegistrationRequest(addr),
		})
	}

	// The active bitmap may be a sweep old; re-check before the network
	// round trips.
	if r.regs.IsRegistered(addr) {
		registrationsTotal.WithLabelValues("already_registered").Inc()
		return
	}

	if !r.pinger.Reachable(ctx, addr) {
		registrationsTotal.WithLabelValues("unreachable").Inc()
		r.logger.Info("registration skipped: host unreachable",
			zap.String("address", addr.String()),
		)
		return
	}

	uuid, err := r.intake.Admit(ctx, addr)
	if err != nil {
		registrationsTotal.WithLabelValues("failed").Inc()
		r.logger.Info("registration failed",
			zap.String("address", addr.String()),
			zap.Error(err),
		)
		return
	}

	registrationsTotal.WithLabelValues("registered").Inc()
	r.logger.Info("client registered",
		zap.String("address", addr.String()),
		zap.String("ilo_uuid", uuid),
	)
}
