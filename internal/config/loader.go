package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if LETHE_CONFIG is set
//  3. env (prefix LETHE_)
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)

	k := koanf.New(".")

	if path := os.Getenv("LETHE_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: LETHE_STORE, LETHE_RUNS_DIR,
	// LETHE_TRAINING.MAX_STEPS ... Flat keys keep underscores to match the
	// koanf tags; a dot separates nested sections.
	envProvider := env.Provider("LETHE_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "lethe_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}
	if c.Training.BatchSize < 0 {
		return fmt.Errorf("%w: batch_size must not be negative", ErrInvalidConfig)
	}
	if c.Training.LearningRate < 0 {
		return fmt.Errorf("%w: learning_rate must not be negative", ErrInvalidConfig)
	}
	if c.Training.ValFraction < 0 || c.Training.ValFraction >= 1 {
		return fmt.Errorf("%w: val_fraction must be in [0, 1)", ErrInvalidConfig)
	}
	if c.History.Horizon < 0 {
		return fmt.Errorf("%w: history horizon must not be negative", ErrInvalidConfig)
	}
	if c.History.MaxEvents < 0 {
		return fmt.Errorf("%w: history max_events must not be negative", ErrInvalidConfig)
	}
	return nil
}
