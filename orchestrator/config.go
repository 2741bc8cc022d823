package orchestrator

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"sigs.k8s.io/yaml"

	"github.com/biomerkin-io/resilience-workflow/breaker"
	"github.com/biomerkin-io/resilience-workflow/bulkhead"
	"github.com/biomerkin-io/resilience-workflow/health"
	"github.com/biomerkin-io/resilience-workflow/retry"
)

// Config aggregates the per-concern configurations of everything the
// orchestrator wires. Zero values are filled from the concern defaults.
type Config struct {
	Retry              retry.Policy    `mapstructure:"retry"`
	Breaker            breaker.Config  `mapstructure:"circuit_breaker"`
	Bulkhead           bulkhead.Config `mapstructure:"bulkhead"`
	Health             health.Config   `mapstructure:"health"`
	MaxConcurrentUnits int             `mapstructure:"max_concurrent_units"`
}

func DefaultConfig() Config {
	return Config{
		Retry:              retry.DefaultPolicy(),
		Breaker:            breaker.DefaultConfig(),
		Bulkhead:           bulkhead.DefaultConfig(),
		Health:             health.DefaultConfig(),
		MaxConcurrentUnits: 4,
	}
}

func (c Config) Validate() error {
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := c.Breaker.Validate(); err != nil {
		return fmt.Errorf("circuit_breaker: %w", err)
	}
	if err := c.Bulkhead.Validate(); err != nil {
		return fmt.Errorf("bulkhead: %w", err)
	}
	if err := c.Health.Validate(); err != nil {
		return fmt.Errorf("health: %w", err)
	}
	if c.MaxConcurrentUnits <= 0 {
		return fmt.Errorf("max_concurrent_units must be positive, got %d", c.MaxConcurrentUnits)
	}
	return nil
}

// LoadConfig reads a YAML file and decodes it over DefaultConfig, so a
// partial file only overrides the keys it names.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(raw)
}

// ParseConfig decodes YAML bytes over DefaultConfig.
func ParseConfig(raw []byte) (Config, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg := DefaultConfig()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &cfg,
	})
	if err != nil {
		return Config{}, fmt.Errorf("build config decoder: %w", err)
	}
	if err := dec.Decode(tree); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
