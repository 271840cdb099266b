package discovery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scan cadence: a short warm-up after boot, then a full sweep every five
// minutes.
const (
	ScanInitialDelay = 5 * time.Second
	ScanInterval     = 5 * time.Minute
)

// Scanner sweeps the configured subnet and publishes a fresh bitmap of
// addresses that identify as iLO management processors.
type Scanner struct {
	cache       *NetworkCache
	prober      *Prober
	concurrency int
	logger      *zap.Logger
}

// NewScanner creates a scanner. Probe concurrency tracks the subnet size:
// the number of parallel probes equals the mask's prefix length.
func NewScanner(cache *NetworkCache, prober *Prober, logger *zap.Logger) *Scanner {
	concurrency := cache.Subnet().Mask().PrefixLength()
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scanner{
		cache:       cache,
		prober:      prober,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Sweep probes every address in the subnet range and swaps in the
// resulting bitmap. Individual probe failures never abort the sweep.
func (s *Scanner) Sweep(ctx context.Context) {
	addrs := s.cache.Addresses()
	bm := NewBitmap(len(addrs))

	start := time.Now()
	s.logger.Info("subnet sweep started",
		zap.String("subnet", s.cache.Subnet().String()),
		zap.Int("addresses", len(addrs)),
		zap.Int("concurrency", s.concurrency),
	)

	var mu sync.Mutex
	var found int

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

dispatch:
	for i := range addrs {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			defer func() { <-sem }()

			if s.prober.IsILO(ctx, addrs[index]) {
				mu.Lock()
				bm.Set(index)
				found++
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()

	if ctx.Err() != nil {
		s.logger.Info("subnet sweep cancelled", zap.String("subnet", s.cache.Subnet().String()))
		return
	}

	s.cache.SwapActive(bm)

	elapsed := time.Since(start)
	scansTotal.Inc()
	scanDuration.Observe(elapsed.Seconds())
	activeHosts.Set(float64(found))

	s.logger.Info("subnet sweep completed",
		zap.String("subnet", s.cache.Subnet().String()),
		zap.Int("active", found),
		zap.Int("blacklisted", s.cache.Blacklist().Len()),
		zap.Duration("elapsed", elapsed),
	)
}
