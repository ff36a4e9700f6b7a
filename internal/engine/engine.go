package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"conclave/internal/domain"
	"conclave/internal/metrics"
	"conclave/internal/registry"
)

// Engine is the session facade. It implements domain.IdentityService,
// domain.GroupService, and domain.MessageService over one identity store,
// one key-package store, and the group registry.
type Engine struct {
	log zerolog.Logger
	col metrics.Collector
	ids domain.IdentityStore
	kps domain.KeyPackageStore
	reg *registry.Registry

	mu       sync.Mutex
	identity *domain.Identity
}

// New constructs an engine over the given stores and registry. Call Open
// before use.
func New(
	log zerolog.Logger,
	col metrics.Collector,
	ids domain.IdentityStore,
	kps domain.KeyPackageStore,
	reg *registry.Registry,
) *Engine {
	return &Engine{
		log: log.With().Str("component", "engine").Logger(),
		col: col,
		ids: ids,
		kps: kps,
		reg: reg,
	}
}

// Open loads the stored identity, if any, and restores every restorable
// group into a live session.
func (e *Engine) Open(ctx context.Context) error {
	id, ok, err := e.ids.LoadIdentity(ctx)
	if err != nil {
		return fmt.Errorf("%w: load identity: %v", domain.ErrPersistenceFailure, err)
	}
	if ok {
		e.mu.Lock()
		e.identity = &id
		e.mu.Unlock()
	}
	if err := e.reg.RestoreAll(ctx); err != nil {
		return err
	}
	e.log.Info().Int("groups", len(e.reg.Active())).Bool("identity", ok).Msg("engine open")
	return nil
}

// Close checkpoints every live group one last time.
func (e *Engine) Close() error {
	return e.reg.Checkpoint(context.Background())
}

// ident returns the cached identity or ErrNoIdentity.
func (e *Engine) ident() (domain.Identity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.identity == nil {
		return domain.Identity{}, domain.ErrNoIdentity
	}
	return *e.identity, nil
}

var (
	_ domain.IdentityService = (*Engine)(nil)
	_ domain.GroupService    = (*Engine)(nil)
	_ domain.MessageService  = (*Engine)(nil)
)
