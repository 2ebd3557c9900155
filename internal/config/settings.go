// Package config loads topoproc's runtime settings from the environment,
// overlay requests from HCL files and underlay snapshots from JSON files.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agentic-research/topoproc/internal/committer"
)

// Settings are the process-wide runtime settings.
type Settings struct {
	// DB is the SQLite database path. Empty keeps everything in memory.
	DB            string `env:"TOPOPROC_DB"`
	QueueCapacity int    `env:"TOPOPROC_QUEUE_CAPACITY" envDefault:"256"`
	MaxBatch      int    `env:"TOPOPROC_MAX_BATCH" envDefault:"100"`
	LogLevel      string `env:"TOPOPROC_LOG_LEVEL" envDefault:"info"`
}

// LoadSettings reads Settings from the environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	if s.QueueCapacity <= 0 {
		s.QueueCapacity = committer.DefaultQueueCapacity
	}
	if s.MaxBatch <= 0 {
		s.MaxBatch = committer.DefaultMaxBatch
	}
	return s, nil
}

// Logger builds the production logger at the configured level.
func (s Settings) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(level)
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return logConfig.Build()
}
