// Package plugintest provides shared contract tests that verify any
// plugin.Plugin implementation behaves correctly. Every module's test
// file should call TestPluginContract to ensure conformance.
package plugintest

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/HerbHall/iloscout/pkg/plugin"
)

// MapConfig is a map-backed plugin.Config for tests.
type MapConfig map[string]any

var _ plugin.Config = MapConfig{}

func (c MapConfig) Unmarshal(any) error { return nil }

func (c MapConfig) Get(key string) any { return c[key] }

func (c MapConfig) GetString(key string) string {
	s, _ := c[key].(string)
	return s
}

func (c MapConfig) GetInt(key string) int {
	i, _ := c[key].(int)
	return i
}

func (c MapConfig) GetBool(key string) bool {
	b, _ := c[key].(bool)
	return b
}

func (c MapConfig) GetDuration(key string) time.Duration {
	d, _ := c[key].(time.Duration)
	return d
}

func (c MapConfig) IsSet(key string) bool {
	_, ok := c[key]
	return ok
}

func (c MapConfig) Sub(key string) plugin.Config {
	if sub, ok := c[key].(MapConfig); ok {
		return sub
	}
	return MapConfig{}
}

// TestPluginContract runs a suite of behavioral contract tests against
// any plugin.Plugin implementation. Call this from each module's _test.go:
//
//	func TestContract(t *testing.T) {
//	    plugintest.TestPluginContract(t, func() plugin.Plugin { return queue.New() }, nil)
//	}
//
// cfg may be nil when the module tolerates an absent config section.
func TestPluginContract(t *testing.T, factory func() plugin.Plugin, cfg plugin.Config) {
	t.Helper()

	t.Run("Info_returns_valid_metadata", func(t *testing.T) {
		p := factory()
		info := p.Info()
		if info.Name == "" {
			t.Error("Info().Name must not be empty")
		}
		if info.Version == "" {
			t.Error("Info().Version must not be empty")
		}
		if info.APIVersion < plugin.APIVersionMin {
			t.Errorf("Info().APIVersion = %d, below minimum %d", info.APIVersion, plugin.APIVersionMin)
		}
	})

	t.Run("Init_succeeds_with_valid_deps", func(t *testing.T) {
		p := factory()
		if err := p.Init(context.Background(), testDeps(t, p.Info().Name, cfg)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
	})

	t.Run("Start_after_Init", func(t *testing.T) {
		p := factory()
		if err := p.Init(context.Background(), testDeps(t, p.Info().Name, cfg)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if err := p.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if err := p.Stop(context.Background()); err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	})

	t.Run("Stop_without_Start_does_not_panic", func(t *testing.T) {
		p := factory()
		if err := p.Init(context.Background(), testDeps(t, p.Info().Name, cfg)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if err := p.Stop(context.Background()); err != nil {
			t.Fatalf("Stop() without Start error = %v", err)
		}
	})

	t.Run("Info_is_idempotent", func(t *testing.T) {
		p := factory()
		a := p.Info()
		b := p.Info()
		if a.Name != b.Name || a.Version != b.Version {
			t.Error("Info() must return consistent results")
		}
	})
}

func testDeps(t *testing.T, name string, cfg plugin.Config) plugin.Dependencies {
	t.Helper()
	return plugin.Dependencies{
		Config: cfg,
		Logger: zaptest.NewLogger(t).Named(name),
	}
}
