// Package config defines process configuration and loading.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Layer file and environment overrides in Load.
// - External errors are wrapped via this package's sentinels.
package config

import (
	"context"

	"lethe/internal/model"
)

// Config contains process configuration. The model section is the resolved
// specification consumed as data; there is no formula syntax anywhere.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Store selects the persistence backend: memory or sqlite.
	Store string `koanf:"store"`

	// DBPath is the sqlite database path when the sqlite backend is used.
	DBPath string `koanf:"db_path"`

	// RunsDir is where per-run artifact directories are written.
	RunsDir string `koanf:"runs_dir"`

	// MetricsEnabled toggles training instrumentation.
	MetricsEnabled bool `koanf:"metrics_enabled"`

	Training TrainingConfig `koanf:"training"`
	History  HistoryConfig  `koanf:"history"`

	// Model is the resolved model specification.
	Model model.Spec `koanf:"model"`
}

// TrainingConfig carries the optimizer hyperparameters.
type TrainingConfig struct {
	BatchSize       int     `koanf:"batch_size"`
	MaxSteps        int64   `koanf:"max_steps"`
	LearningRate    float64 `koanf:"learning_rate"`
	KernelLRScale   float64 `koanf:"kernel_lr_scale"`
	Patience        int     `koanf:"patience"`
	Tolerance       float64 `koanf:"tolerance"`
	ValidateEvery   int64   `koanf:"validate_every"`
	CheckpointEvery int64   `koanf:"checkpoint_every"`
	LogEvery        int64   `koanf:"log_every"`
	Seed            int64   `koanf:"seed"`
	Variational     bool    `koanf:"variational"`
	LossGoal        float64 `koanf:"loss_goal"`
	ValFraction     float64 `koanf:"val_fraction"`
}

// HistoryConfig bounds causal lookback.
type HistoryConfig struct {
	// Horizon drops events further back than this many time units; zero
	// means unbounded.
	Horizon float64 `koanf:"horizon"`
	// MaxEvents keeps only the most recent events per window; zero means
	// unbounded.
	MaxEvents int `koanf:"max_events"`
	// CacheSize bounds the per-response window cache.
	CacheSize int `koanf:"cache_size"`
}

// New creates a Config with defaults. Context is accepted first per the
// project convention; it is reserved for future use.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:       "info",
		Store:          "memory",
		DBPath:         "lethe.db",
		RunsDir:        "runs",
		MetricsEnabled: false,
		Training: TrainingConfig{
			BatchSize:       64,
			MaxSteps:        5000,
			LearningRate:    0.01,
			KernelLRScale:   1,
			Patience:        10,
			Tolerance:       0,
			ValidateEvery:   50,
			CheckpointEvery: 500,
			LogEvery:        100,
			Seed:            1,
			ValFraction:     0.1,
		},
		History: HistoryConfig{
			MaxEvents: 256,
			CacheSize: 100_000,
		},
	}
}
