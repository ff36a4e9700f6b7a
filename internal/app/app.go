package app

import (
	"conclave/internal/domain"
	"conclave/internal/engine"
	"conclave/internal/store"
)

// App bundles the engine's service surfaces for the CLI.
type App struct {
	Identity domain.IdentityService
	Groups   domain.GroupService
	Messages domain.MessageService

	engine *engine.Engine
	store  store.Store
}

// Close checkpoints every live group and releases the store.
func (a *App) Close() error {
	err := a.engine.Close()
	if cerr := a.store.Close(); err == nil {
		err = cerr
	}
	return err
}
