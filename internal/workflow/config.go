package workflow

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config tunes the engine and its background sweeper.
type Config struct {
	// TokenValidity is how long an issued access token stays valid. A policy
	// file may override it.
	TokenValidity time.Duration `env:"TOKEN_VALIDITY" envDefault:"24h"`
	// MaxCommitAttempts bounds how often an operation is re-applied after a
	// version conflict.
	MaxCommitAttempts int           `env:"MAX_COMMIT_ATTEMPTS" envDefault:"5"`
	RetryBaseDelay    time.Duration `env:"RETRY_BASE_DELAY" envDefault:"10ms"`
	RetryMaxDelay     time.Duration `env:"RETRY_MAX_DELAY" envDefault:"250ms"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"15m"`
	PolicyFile        string        `env:"POLICY_FILE"`
}

// LoadConfig reads LOTFLOW_* variables.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: "LOTFLOW_"})
	if err != nil {
		return Config{}, fmt.Errorf("parse workflow env: %w", err)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.TokenValidity <= 0 {
		c.TokenValidity = 24 * time.Hour
	}
	if c.MaxCommitAttempts <= 0 {
		c.MaxCommitAttempts = 5
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 10 * time.Millisecond
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		c.RetryMaxDelay = c.RetryBaseDelay
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 15 * time.Minute
	}
	return c
}
