package server

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the admin server configuration.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("store.path", "./data/iloscout.db")

	v.SetDefault("system.obfuscate-secrets", true)
	v.SetDefault("system.allowed-ip", "")

	v.SetDefault("ilo.network.base-ip", "")
	v.SetDefault("ilo.network.subnet-mask", "")
	v.SetDefault("ilo.username", "")
	v.SetDefault("ilo.password", "")
	v.SetDefault("ilo.client-timeout-connect", 2000)
	v.SetDefault("ilo.client-timeout-read", 1000)

	v.SetDefault("client.responsiveness.threshold.ms", 300000)
	v.SetDefault("fleet.update-workers", 8)

	v.SetDefault("mqtt.broker_url", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "iloscout")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("mqtt.timeout", "5s")
	v.SetDefault("mqtt.gzip", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("iloscout")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/iloscout")
	}

	// Environment variable support: ILOSCOUT_SERVER_PORT=9090
	v.SetEnvPrefix("ILOSCOUT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}
