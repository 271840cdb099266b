package fleet

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Heartbeat map bounds and monitor cadence.
const (
	HeartbeatCapacity        = 1000
	HeartbeatEntryTTL        = 600 * time.Second
	HeartbeatMonitorInitial  = 10 * time.Second
	HeartbeatMonitorInterval = 60 * time.Second

	// DefaultResponsivenessThreshold is how stale a heartbeat may be
	// before the monitor reports the client unresponsive. Overridable via
	// client.responsiveness.threshold.ms.
	DefaultResponsivenessThreshold = 300000 * time.Millisecond
)

// HeartbeatMap records the last time each client was seen doing useful
// work. Bounded in size and entry age; eviction only affects reporting,
// never registration state.
type HeartbeatMap struct {
	mu       sync.Mutex
	stamps   map[string]time.Time
	capacity int
	ttl      time.Duration
	nowFunc  func() time.Time
}

// NewHeartbeatMap creates a map with the standard bounds.
func NewHeartbeatMap() *HeartbeatMap {
	return &HeartbeatMap{
		stamps:   make(map[string]time.Time),
		capacity: HeartbeatCapacity,
		ttl:      HeartbeatEntryTTL,
		nowFunc:  time.Now,
	}
}

// Stamp records a heartbeat for the client now.
func (h *HeartbeatMap) Stamp(uuid string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stamps[uuid] = h.nowFunc()
	h.evictLocked()
}

// Last returns the client's most recent heartbeat. Entries older than the
// TTL are treated as absent.
func (h *HeartbeatMap) Last(uuid string) (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.stamps[uuid]
	if !ok {
		return time.Time{}, false
	}
	if h.nowFunc().Sub(t) >= h.ttl {
		delete(h.stamps, uuid)
		return time.Time{}, false
	}
	return t, true
}

// Len returns the number of live entries.
func (h *HeartbeatMap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.stamps)
}

// evictLocked drops expired stamps, then the oldest while over capacity.
func (h *HeartbeatMap) evictLocked() {
	now := h.nowFunc()
	for k, t := range h.stamps {
		if now.Sub(t) >= h.ttl {
			delete(h.stamps, k)
		}
	}
	for len(h.stamps) > h.capacity {
		var oldest string
		var oldestAt time.Time
		first := true
		for k, t := range h.stamps {
			if first || t.Before(oldestAt) {
				oldest, oldestAt, first = k, t, false
			}
		}
		delete(h.stamps, oldest)
	}
}

// Monitor reports on client responsiveness. It never mutates
// registration or health state; its output is the log stream.
type Monitor struct {
	registry   *Registry
	heartbeats *HeartbeatMap
	blacklist  BlacklistView
	threshold  time.Duration
	logger     *zap.Logger
	nowFunc    func() time.Time
}

// NewMonitor creates a monitor with the given staleness threshold.
func NewMonitor(registry *Registry, heartbeats *HeartbeatMap, blacklist BlacklistView, threshold time.Duration, logger *zap.Logger) *Monitor {
	if threshold <= 0 {
		threshold = DefaultResponsivenessThreshold
	}
	return &Monitor{
		registry:   registry,
		heartbeats: heartbeats,
		blacklist:  blacklist,
		threshold:  threshold,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// Pass walks every tracked client once.
func (m *Monitor) Pass(_ context.Context) {
	now := m.nowFunc()
	var responsive, unresponsive, skipped int

	for _, c := range m.registry.Unauthenticated() {
		uuid := c.IloUUID()
		addr := c.Address()

		if m.blacklist != nil && m.blacklist.Contains(addr) {
			skipped++
			continue
		}

		last, ok := m.heartbeats.Last(uuid)
		if !ok {
			skipped++
			m.logger.Warn("client has no heartbeat",
				zap.String("ilo_uuid", uuid),
				zap.String("address", addr.String()),
			)
			continue
		}

		if now.Sub(last) <= m.threshold {
			responsive++
			m.heartbeats.Stamp(uuid)
			continue
		}

		unresponsive++
		m.logger.Warn("client unresponsive",
			zap.String("ilo_uuid", uuid),
			zap.String("address", addr.String()),
			zap.Duration("since_heartbeat", now.Sub(last)),
		)
	}

	m.logger.Debug("heartbeat pass finished",
		zap.Int("responsive", responsive),
		zap.Int("unresponsive", unresponsive),
		zap.Int("skipped", skipped),
	)
}
