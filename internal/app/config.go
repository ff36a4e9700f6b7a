package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Storage backend selectors.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config holds runtime wiring options for building the app. Values come
// from the environment; the CLI layers its flags on top.
type Config struct {
	Home       string `env:"CONCLAVE_HOME"`
	Passphrase string `env:"CONCLAVE_PASSPHRASE"`
	Backend    string `env:"CONCLAVE_STORE"       envDefault:"file"`

	MaxSkip    uint32 `env:"CONCLAVE_MAX_SKIP"    envDefault:"1000"`
	MaxCached  int    `env:"CONCLAVE_MAX_CACHED"  envDefault:"1000"`
	PastEpochs int    `env:"CONCLAVE_PAST_EPOCHS" envDefault:"2"`

	Verbose bool `env:"CONCLAVE_VERBOSE"`
}

// ConfigFromEnv reads Config from the environment, defaulting Home to
// $HOME/.conclave.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Home == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home: %w", err)
		}
		cfg.Home = filepath.Join(home, ".conclave")
	}
	return cfg, nil
}
