package queue

import "time"

// Config holds broker connection and framing settings.
type Config struct {
	BrokerURL string
	Username  string
	Password  string
	ClientID  string
	QoS       byte
	Retain    bool
	Timeout   time.Duration
	// Gzip selects compressed framing for published payloads. Consumers
	// accept either framing regardless of this setting.
	Gzip bool
}

// DefaultConfig returns the defaults used when keys are absent.
func DefaultConfig() Config {
	return Config{
		ClientID: "iloscout",
		QoS:      1,
		Timeout:  5 * time.Second,
	}
}
