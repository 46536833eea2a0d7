// Package container builds the dependency injection container.
package container

import (
	"schools-in/internal/app"
	"schools-in/internal/cache"
	"schools-in/internal/config"
	"schools-in/internal/db"
	"schools-in/internal/handler"
	"schools-in/internal/httpclient"
	"schools-in/internal/network"
	"schools-in/internal/queue"
	"schools-in/internal/remote"
	"schools-in/internal/router"
	"schools-in/internal/services"
	"schools-in/internal/store"
	"schools-in/internal/syncer"

	"go.uber.org/dig"
)

// BuildContainer creates and configures the dig container with all
// application dependencies.
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	constructors := []any{
		config.NewManager,
		db.NewDB,
		store.NewStore,
		httpclient.NewManager,
		cache.NewManager,
		network.NewMonitor,
		queue.NewQueue,
		remote.NewClient,
		syncer.NewSyncManager,
		syncer.NewRestorationManager,
		services.NewQueueManager,
		handler.NewCommonHandler,
		handler.NewSessionHandler,
		handler.NewQueueHandler,
		router.NewRouter,
		app.NewApp,
	}

	for _, c := range constructors {
		if err := container.Provide(c); err != nil {
			return nil, err
		}
	}

	return container, nil
}
