// Package discovery owns the subnet sweep: address enumeration, the iLO
// identification probe, the periodic scanner, and the registrar that feeds
// newly found endpoints into the fleet.
package discovery

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/HerbHall/iloscout/internal/regcache"
	"github.com/HerbHall/iloscout/internal/sched"
	"github.com/HerbHall/iloscout/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Module is the discovery engine plugin.
type Module struct {
	logger *zap.Logger

	cache  *NetworkCache
	prober *Prober
	regs   *regcache.Cache
	intake Intake
	pinger Pinger

	scanner   *Scanner
	registrar *Registrar
	scanLoop  *sched.Loop
	regLoop   *sched.Loop

	cancel context.CancelFunc
}

// New creates the discovery module. The network cache and prober are
// built at boot from validated configuration; the intake is the fleet's
// admission pipeline.
func New(cache *NetworkCache, prober *Prober, regs *regcache.Cache, intake Intake) *Module {
	return &Module{
		cache:  cache,
		prober: prober,
		regs:   regs,
		intake: intake,
	}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "discovery",
		Version:      "0.1.0",
		Description:  "Sweeps the management subnet and registers discovered iLOs",
		Dependencies: []string{"fleet"},
		Required:     true,
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.pinger = NewICMPPinger(m.logger)

	m.scanner = NewScanner(m.cache, m.prober, m.logger)
	m.registrar = NewRegistrar(m.cache, m.regs, m.pinger, m.intake, deps.Bus, m.logger)

	m.scanLoop = sched.NewLoop("scan", ScanInitialDelay, ScanInterval, m.scanner.Sweep, m.logger)
	m.regLoop = sched.NewLoop("register", RegistrarInitialDelay, RegistrarInterval, m.registrar.Pass, m.logger)

	m.logger.Info("discovery module initialized",
		zap.String("subnet", m.cache.Subnet().String()),
		zap.Int("addresses", len(m.cache.Addresses())),
	)
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel

	m.scanLoop.Start(runCtx)
	m.regLoop.Start(runCtx)

	m.logger.Info("discovery module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.scanLoop.Stop()
	m.regLoop.Stop()
	m.logger.Info("discovery module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	return plugin.HealthStatus{
		Status: "healthy",
		Details: map[string]string{
			"subnet":      m.cache.Subnet().String(),
			"active":      strconv.Itoa(m.cache.Active().Count()),
			"blacklisted": strconv.Itoa(m.cache.Blacklist().Len()),
		},
	}
}

// Cache exposes the network cache to the admin surface.
func (m *Module) Cache() *NetworkCache {
	return m.cache
}
