// Package fleet tracks discovered iLO clients: admission, periodic state
// refreshes, health counters, and heartbeat monitoring.
package fleet

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/iloscout/internal/kvstore"
	"github.com/HerbHall/iloscout/internal/regcache"
	"github.com/HerbHall/iloscout/internal/sched"
	"github.com/HerbHall/iloscout/internal/secrets"
	"github.com/HerbHall/iloscout/pkg/models"
	"github.com/HerbHall/iloscout/pkg/netaddr"
	"github.com/HerbHall/iloscout/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Module is the fleet tracking plugin. Its Admit method is the intake
// the discovery registrar feeds newly found addresses into.
type Module struct {
	logger *zap.Logger

	regs      *regcache.Cache
	store     kvstore.Store
	fetch     models.FetchFunc
	blacklist BlacklistView
	active    ActiveFunc
	probe     ProbeFunc

	registry   *Registry
	heartbeats *HeartbeatMap
	tracker    *HealthTracker
	monitor    *Monitor
	updater    *Updater
	fetcher    models.TelemetryFetcher
	obfuscator *secrets.Obfuscator
	user       models.IloUser
	hasCreds   bool

	unauthLoop    *sched.Loop
	authLoop      *sched.Loop
	heartbeatLoop *sched.Loop
	healthLoop    *sched.Loop

	cancel context.CancelFunc
}

// New creates the fleet module. fetch retrieves unauthenticated discovery
// documents; blacklist, active, and probe are the discovery engine's views
// the health tracker and heartbeat monitor consult.
func New(regs *regcache.Cache, store kvstore.Store, fetch models.FetchFunc, blacklist BlacklistView, active ActiveFunc, probe ProbeFunc) *Module {
	return &Module{
		regs:      regs,
		store:     store,
		fetch:     fetch,
		blacklist: blacklist,
		active:    active,
		probe:     probe,
	}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "fleet",
		Version:     "0.1.0",
		Description: "Tracks discovered iLO clients and keeps their state fresh",
		Required:    true,
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	cfg := deps.Config

	m.obfuscator = secrets.NewObfuscator(cfg.GetBool("system.obfuscate-secrets"))

	username := cfg.GetString("ilo.username")
	password := cfg.GetString("ilo.password")
	if username != "" && password != "" {
		user, err := m.obfuscator.User(username, password)
		if err != nil {
			return fmt.Errorf("prepare credentials: %w", err)
		}
		m.user = user
		m.hasCreds = true
	} else {
		m.logger.Info("no iLO credentials configured, clients stay unauthenticated")
	}

	connectTimeout := time.Duration(cfg.GetInt("ilo.client-timeout-connect")) * time.Millisecond
	readTimeout := time.Duration(cfg.GetInt("ilo.client-timeout-read")) * time.Millisecond
	m.fetcher = NewRedfishFetcher(connectTimeout, readTimeout)

	threshold := time.Duration(cfg.GetInt("client.responsiveness.threshold.ms")) * time.Millisecond
	workers := cfg.GetInt("fleet.update-workers")

	m.registry = NewRegistry()
	m.heartbeats = NewHeartbeatMap()
	m.tracker = NewHealthTracker(m.store, m.active, m.probe, m.logger)
	m.monitor = NewMonitor(m.registry, m.heartbeats, m.blacklist, threshold, m.logger)
	m.updater = NewUpdater(m.registry, m.regs, m.heartbeats, deps.Bus, m.fetch, workers, m.logger)

	m.unauthLoop = sched.NewLoop("update-unauth", UnauthUpdateInterval, UnauthUpdateInterval, m.updater.UnauthenticatedPass, m.logger)
	m.authLoop = sched.NewLoop("update-auth", AuthUpdateInterval, AuthUpdateInterval, m.updater.AuthenticatedPass, m.logger)
	m.heartbeatLoop = sched.NewLoop("heartbeat", HeartbeatMonitorInitial, HeartbeatMonitorInterval, m.monitor.Pass, m.logger)
	m.healthLoop = sched.NewLoop("health", HealthInterval, HealthInterval, m.tracker.Pass, m.logger)

	m.logger.Info("fleet module initialized",
		zap.Bool("credentials", m.hasCreds),
		zap.Bool("obfuscate_secrets", m.obfuscator.Enabled()),
		zap.Duration("responsiveness_threshold", m.monitor.threshold),
	)
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel

	m.unauthLoop.Start(runCtx)
	m.authLoop.Start(runCtx)
	m.heartbeatLoop.Start(runCtx)
	m.healthLoop.Start(runCtx)

	m.logger.Info("fleet module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.unauthLoop.Stop()
	m.authLoop.Stop()
	m.heartbeatLoop.Stop()
	m.healthLoop.Stop()
	m.logger.Info("fleet module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	unauth, auth := m.registry.Len()
	return plugin.HealthStatus{
		Status: "healthy",
		Details: map[string]string{
			"unauthenticated": strconv.Itoa(unauth),
			"authenticated":   strconv.Itoa(auth),
			"heartbeats":      strconv.Itoa(m.heartbeats.Len()),
		},
	}
}

// Admit runs the admission pipeline for a discovered address: fetch and
// parse its discovery document, then mark the address registered, seed
// its health, and store the client. Registration state only changes once
// a valid client object exists. Returns the iLO UUID now tracking the
// address.
func (m *Module) Admit(ctx context.Context, addr netaddr.IPv4Address) (string, error) {
	body, err := m.fetch(ctx, addr)
	if err != nil {
		admissionsTotal.WithLabelValues("fetch_failed").Inc()
		return "", fmt.Errorf("admit %s: %w", addr, err)
	}
	doc, err := models.ParseRIMP(body)
	if err != nil {
		admissionsTotal.WithLabelValues("parse_failed").Inc()
		return "", fmt.Errorf("admit %s: %w", addr, err)
	}
	client, err := models.NewUnauthenticatedClient(addr, doc)
	if err != nil {
		admissionsTotal.WithLabelValues("invalid").Inc()
		return "", fmt.Errorf("admit %s: %w", addr, err)
	}

	uuid := client.IloUUID()
	m.regs.Register(addr, uuid)
	m.tracker.Seed(addr)
	m.heartbeats.Stamp(uuid)
	m.registry.PutUnauthenticated(client)
	admissionsTotal.WithLabelValues("registered").Inc()

	m.logger.Info("client admitted",
		zap.String("ilo_uuid", uuid),
		zap.String("address", addr.String()),
		zap.String("product", client.Snapshot().ProductName),
	)

	if m.hasCreds {
		m.promote(ctx, client.Snapshot())
	}

	unauth, auth := m.registry.Len()
	trackedClients.WithLabelValues("unauthenticated").Set(float64(unauth))
	trackedClients.WithLabelValues("authenticated").Set(float64(auth))

	return uuid, nil
}

// promote attempts an authenticated session for a freshly admitted
// client. Failure leaves the client unauthenticated-only.
func (m *Module) promote(ctx context.Context, base models.UnauthenticatedSnapshot) {
	authed, err := models.NewAuthenticatedClient(ctx, base, m.user, m.fetcher)
	if err != nil {
		m.logger.Info("authenticated session unavailable",
			zap.String("ilo_uuid", base.IloUUID),
			zap.String("address", base.Address.String()),
			zap.Error(err),
		)
		return
	}
	m.registry.PutAuthenticated(authed)
	m.heartbeats.Stamp(base.IloUUID)
}

// Clients exposes the tracked client registry to the admin surface.
func (m *Module) Clients() *Registry {
	return m.registry
}

// UnauthenticatedSnapshots returns a snapshot of every tracked client.
func (m *Module) UnauthenticatedSnapshots() []models.UnauthenticatedSnapshot {
	clients := m.registry.Unauthenticated()
	out := make([]models.UnauthenticatedSnapshot, 0, len(clients))
	for _, c := range clients {
		out = append(out, c.Snapshot())
	}
	return out
}

// AuthenticatedSnapshots returns a snapshot of every authenticated client.
func (m *Module) AuthenticatedSnapshots() []models.AuthenticatedSnapshot {
	clients := m.registry.Authenticated()
	out := make([]models.AuthenticatedSnapshot, 0, len(clients))
	for _, c := range clients {
		out = append(out, c.Snapshot())
	}
	return out
}

// Heartbeats exposes the heartbeat map to the admin surface.
func (m *Module) Heartbeats() *HeartbeatMap {
	return m.heartbeats
}

// Tracker exposes the health tracker to the admin surface.
func (m *Module) Tracker() *HealthTracker {
	return m.tracker
}
