// Package queue publishes discovery and fleet state onto the broker
// queues downstream consumers read.
package queue

import (
	"context"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/HerbHall/iloscout/internal/discovery"
	"github.com/HerbHall/iloscout/internal/fleet"
	"github.com/HerbHall/iloscout/pkg/plugin"
)

// Queue names consumed downstream. The names are part of the external
// contract and never change.
const (
	NewClientRequestQueue         = "newClientRequestQueue"
	UnauthenticatedIloClientQueue = "unauthenticatedIloClientQueue"
	AuthenticatedIloClientQueue   = "authenticatedIloClientQueue"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
)

// Module bridges the in-process event bus to the broker. It subscribes to
// the discovery and fleet topics and forwards each payload to the queue
// the consumers expect.
type Module struct {
	logger *zap.Logger
	cfg    Config
	mu     sync.RWMutex
	client pahomqtt.Client
}

// New creates the queue module.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "queue",
		Version:     "0.1.0",
		Description: "Publishes registration requests and client snapshots to the broker",
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.cfg = DefaultConfig()

	if deps.Config != nil {
		if u := deps.Config.GetString("broker_url"); u != "" {
			m.cfg.BrokerURL = u
		}
		if u := deps.Config.GetString("username"); u != "" {
			m.cfg.Username = u
		}
		if p := deps.Config.GetString("password"); p != "" {
			m.cfg.Password = p
		}
		if c := deps.Config.GetString("client_id"); c != "" {
			m.cfg.ClientID = c
		}
		if deps.Config.IsSet("qos") {
			m.cfg.QoS = byte(deps.Config.GetInt("qos"))
		}
		if deps.Config.IsSet("retain") {
			m.cfg.Retain = deps.Config.GetBool("retain")
		}
		if d := deps.Config.GetDuration("timeout"); d > 0 {
			m.cfg.Timeout = d
		}
		if deps.Config.IsSet("gzip") {
			m.cfg.Gzip = deps.Config.GetBool("gzip")
		}
	}

	if m.cfg.BrokerURL == "" {
		m.logger.Warn("broker URL not configured; queue payloads will be dropped")
	}

	m.logger.Info("queue module initialized",
		zap.String("broker_url", m.cfg.BrokerURL),
		zap.String("client_id", m.cfg.ClientID),
		zap.Uint8("qos", m.cfg.QoS),
		zap.Bool("gzip", m.cfg.Gzip),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	if m.cfg.BrokerURL == "" {
		m.logger.Info("queue module started (no-op: no broker configured)")
		return nil
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(m.cfg.BrokerURL).
		SetClientID(m.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(m.cfg.Timeout)

	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}

	m.mu.Lock()
	m.client = pahomqtt.NewClient(opts)
	client := m.client
	m.mu.Unlock()

	token := client.Connect()
	switch {
	case !token.WaitTimeout(m.cfg.Timeout):
		m.logger.Warn("broker connection timed out; will reconnect in background")
	case token.Error() != nil:
		m.logger.Warn("broker connection failed; will reconnect in background",
			zap.Error(token.Error()),
		)
	default:
		m.logger.Info("connected to broker", zap.String("broker_url", m.cfg.BrokerURL))
	}
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
		m.logger.Info("broker disconnected")
	}
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: discovery.TopicRegistrationRequested, Handler: m.forward(NewClientRequestQueue)},
		{Topic: fleet.TopicUnauthenticatedUpdated, Handler: m.forward(UnauthenticatedIloClientQueue)},
		{Topic: fleet.TopicAuthenticatedUpdated, Handler: m.forward(AuthenticatedIloClientQueue)},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.cfg.BrokerURL == "" {
		return plugin.HealthStatus{Status: "healthy", Message: "no broker configured (no-op mode)"}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil || !m.client.IsConnected() {
		return plugin.HealthStatus{Status: "degraded", Message: "not connected to broker"}
	}
	return plugin.HealthStatus{Status: "healthy", Message: "connected to " + m.cfg.BrokerURL}
}

func (m *Module) forward(queueName string) plugin.EventHandler {
	return func(_ context.Context, event plugin.Event) {
		m.Publish(queueName, event.Payload)
	}
}

// Publish encodes the payload and sends it to the named queue. Failures
// are logged and not retried; the producing cadence supplies the next
// attempt.
func (m *Module) Publish(queueName string, payload any) {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()

	if client == nil || !client.IsConnected() {
		m.logger.Debug("queue publish dropped: no broker connection",
			zap.String("queue", queueName),
		)
		return
	}

	body, err := Encode(payload, m.cfg.Gzip)
	if err != nil {
		m.logger.Error("failed to encode queue payload",
			zap.String("queue", queueName),
			zap.Error(err),
		)
		return
	}

	token := client.Publish(queueName, m.cfg.QoS, m.cfg.Retain, body)
	if !token.WaitTimeout(m.cfg.Timeout) {
		m.logger.Error("queue publish timed out", zap.String("queue", queueName))
		return
	}
	if token.Error() != nil {
		m.logger.Error("queue publish failed",
			zap.String("queue", queueName),
			zap.Error(token.Error()),
		)
		return
	}

	publishesTotal.WithLabelValues(queueName).Inc()
	m.logger.Debug("queue payload published",
		zap.String("queue", queueName),
		zap.Int("bytes", len(body)),
	)
}
