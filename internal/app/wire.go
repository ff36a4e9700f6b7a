package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"conclave/internal/engine"
	"conclave/internal/metrics"
	"conclave/internal/protocol/msgchain"
	"conclave/internal/registry"
	"conclave/internal/store"
)

// sqliteFile is the database filename under Home for the sqlite backend.
const sqliteFile = "conclave.db"

// Build constructs the dependency graph from cfg and restores persisted
// state into live sessions.
func Build(ctx context.Context, cfg Config, log zerolog.Logger) (*App, error) {
	if cfg.Passphrase == "" {
		return nil, fmt.Errorf("passphrase required (set CONCLAVE_PASSPHRASE)")
	}

	var (
		st  store.Store
		err error
	)
	switch cfg.Backend {
	case BackendFile, "":
		st, err = store.NewFileStore(cfg.Home, cfg.Passphrase)
	case BackendSQLite:
		if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
			return nil, fmt.Errorf("create home: %w", err)
		}
		st, err = store.OpenSQLiteStore(filepath.Join(cfg.Home, sqliteFile), cfg.Passphrase)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	col := metrics.NewSessionCollector(prometheus.NewRegistry())
	reg := registry.NewRegistry(log, st, col, msgchain.Config{
		MaxSkip:    cfg.MaxSkip,
		MaxCached:  cfg.MaxCached,
		PastEpochs: cfg.PastEpochs,
	})
	eng := engine.New(log, col, st, st, reg)
	if err := eng.Open(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	return &App{
		Identity: eng,
		Groups:   eng,
		Messages: eng,
		engine:   eng,
		store:    st,
	}, nil
}
