// Package plugin defines the module SDK for iloscout. Every engine module
// (discovery, fleet, queue) implements these interfaces and is wired by the
// registry at startup.
package plugin

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// API version constants for module compatibility checking.
const (
	APIVersionMin     = 1
	APIVersionCurrent = 1
)

// Plugin is the lifecycle contract every module implements.
type Plugin interface {
	// Info returns the module's metadata and dependency declarations.
	Info() PluginInfo

	// Init wires the module's dependencies. No background work yet.
	Init(ctx context.Context, deps Dependencies) error

	// Start begins the module's background operations.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the module.
	Stop(ctx context.Context) error
}

// PluginInfo carries module metadata and dependency declarations.
type PluginInfo struct {
	Name         string   // Unique identifier: "discovery", "fleet", "queue"
	Version      string   // Semantic version string
	Description  string   // Human-readable summary
	Dependencies []string // Module names that must initialize first
	Required     bool     // If true, the engine refuses to start without this module
	APIVersion   int      // Module API version targeted (currently 1)
}

// Dependencies provides controlled access to shared services. Injected by
// the registry during Init.
type Dependencies struct {
	Config  Config      // Config given to this module (main passes the queue the mqtt section, others the full config)
	Logger  *zap.Logger // Named logger for this module
	Bus     EventBus    // Event publish/subscribe between modules
	Plugins PluginResolver
}

// HealthStatus is a module's health report.
type HealthStatus struct {
	Status  string            `json:"status"` // "healthy", "degraded", "unhealthy"
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// HealthChecker is implemented by modules that report health.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// Config abstracts configuration access. Wraps Viper today.
type Config interface {
	Unmarshal(target any) error
	Get(key string) any
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetDuration(key string) time.Duration
	IsSet(key string) bool
	Sub(key string) Config
}

// Publisher sends events to the bus.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber receives events from the bus.
type Subscriber interface {
	Subscribe(topic string, handler EventHandler) (unsubscribe func())
}

// EventBus provides typed publish/subscribe between modules.
type EventBus interface {
	Publisher
	Subscriber
	PublishAsync(ctx context.Context, event Event)
	SubscribeAll(handler EventHandler) (unsubscribe func())
}

// Event is a typed message on the bus.
type Event struct {
	Topic     string
	Source    string // Module name that emitted the event
	Timestamp time.Time
	Payload   any
}

// EventHandler processes events from the bus.
type EventHandler func(ctx context.Context, event Event)

// Subscription declares a topic subscription for EventSubscriber modules.
type Subscription struct {
	Topic   string
	Handler EventHandler
}

// EventSubscriber is implemented by modules that consume bus events. The
// registry wires the declared subscriptions after Init.
type EventSubscriber interface {
	Subscriptions() []Subscription
}

// PluginResolver lets modules locate each other by name.
type PluginResolver interface {
	Resolve(name string) (Plugin, bool)
}
