package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/iloscout/internal/config"
	"github.com/HerbHall/iloscout/internal/discovery"
	"github.com/HerbHall/iloscout/internal/event"
	"github.com/HerbHall/iloscout/internal/fleet"
	"github.com/HerbHall/iloscout/internal/kvstore"
	"github.com/HerbHall/iloscout/internal/queue"
	"github.com/HerbHall/iloscout/internal/regcache"
	"github.com/HerbHall/iloscout/internal/registry"
	"github.com/HerbHall/iloscout/internal/server"
	"github.com/HerbHall/iloscout/internal/version"
	"github.com/HerbHall/iloscout/pkg/netaddr"
	"github.com/HerbHall/iloscout/pkg/plugin"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.New(viperCfg)

	// Initialize logger from configuration.
	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("iloscout starting", zap.String("version", version.Short()))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	// The subnet is the one piece of configuration the engine cannot run
	// without. Refuse to start on anything invalid.
	subnet, err := netaddr.ParseSubnet(
		viperCfg.GetString("ilo.network.base-ip"),
		viperCfg.GetString("ilo.network.subnet-mask"),
	)
	if err != nil {
		logger.Fatal("invalid network configuration",
			zap.String("base_ip", viperCfg.GetString("ilo.network.base-ip")),
			zap.String("subnet_mask", viperCfg.GetString("ilo.network.subnet-mask")),
			zap.Error(err),
		)
	}

	// Open the key/value store backing health counters and registrations.
	storePath := viperCfg.GetString("store.path")
	var store kvstore.Store
	if storePath == "" {
		logger.Warn("no store.path configured, state will not survive restarts")
		store = kvstore.NewMemStore()
	} else {
		bolt, err := kvstore.OpenBolt(storePath)
		if err != nil {
			logger.Fatal("failed to open store", zap.String("path", storePath), zap.Error(err))
		}
		store = bolt
	}
	defer store.Close()

	logger.Info("store initialized",
		zap.String("component", "store"),
		zap.String("path", storePath),
	)

	// Shared infrastructure outside the module lifecycle.
	regs := regcache.New(0, 0, store, logger.Named("regcache"))
	cache := discovery.NewNetworkCache(subnet)
	prober := discovery.NewProber(discovery.ProbeConfig{
		ConnectTimeout: time.Duration(viperCfg.GetInt("ilo.client-timeout-connect")) * time.Millisecond,
		ReadTimeout:    time.Duration(viperCfg.GetInt("ilo.client-timeout-read")) * time.Millisecond,
	}, cache.Blacklist(), regs, nil, logger.Named("probe"))

	bus := event.NewBus(logger.Named("event"))
	reg := registry.New(logger.Named("registry"))

	// Register all modules (compile-time composition). The fleet's Admit
	// is the discovery registrar's intake.
	fleetMod := fleet.New(regs, store, prober.Fetch, cache.Blacklist(), cache.ActiveAddresses, prober.Recheck)
	modules := []plugin.Plugin{
		fleetMod,
		discovery.New(cache, prober, regs, fleetMod),
		queue.New(),
	}
	for _, m := range modules {
		if err := reg.Register(m); err != nil {
			logger.Fatal("failed to register module", zap.Error(err))
		}
	}

	// Validate dependency graph and API versions
	if err := reg.Validate(); err != nil {
		logger.Fatal("module validation failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := reg.InitAll(ctx, bus, func(name string) plugin.Dependencies {
		moduleCfg := plugin.Config(cfg)
		if name == "queue" {
			moduleCfg = cfg.Sub("mqtt")
		}
		return plugin.Dependencies{
			Config:  moduleCfg,
			Logger:  logger.Named(name),
			Bus:     bus,
			Plugins: reg,
		}
	}); err != nil {
		logger.Fatal("failed to initialize modules", zap.Error(err))
	}

	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal("failed to start modules", zap.Error(err))
	}

	// Create and start the admin HTTP server.
	addr := fmt.Sprintf("%s:%d", viperCfg.GetString("server.host"), viperCfg.GetInt("server.port"))
	readyCheck := server.ReadinessChecker(func(context.Context) error {
		_, err := store.Exists("startup")
		return err
	})
	srv := server.New(addr, reg, fleetMod, cache, logger.Named("server"), readyCheck,
		viperCfg.GetString("system.allowed-ip"))

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("iloscout ready",
		zap.String("addr", addr),
		zap.String("subnet", subnet.String()),
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	reg.StopAll(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("iloscout stopped")
}
