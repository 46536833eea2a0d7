// Package app provides the main application logic and lifecycle management.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"schools-in/internal/cache"
	"schools-in/internal/httpclient"
	"schools-in/internal/models"
	"schools-in/internal/network"
	"schools-in/internal/services"
	"schools-in/internal/store"
	"schools-in/internal/syncer"
	"schools-in/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.uber.org/dig"
	"gorm.io/gorm"
)

// App holds all services and manages the application lifecycle.
type App struct {
	engine        *gin.Engine
	configManager types.ConfigManager
	queueManager  *services.QueueManager
	restoration   *syncer.RestorationManager
	monitor       *network.Monitor
	cacheManager  *cache.Manager
	clientManager *httpclient.Manager
	storage       store.Store
	db            *gorm.DB
	httpServer    *http.Server
}

// AppParams defines the dependencies for the App.
type AppParams struct {
	dig.In
	Engine        *gin.Engine
	ConfigManager types.ConfigManager
	QueueManager  *services.QueueManager
	Restoration   *syncer.RestorationManager
	Monitor       *network.Monitor
	CacheManager  *cache.Manager
	ClientManager *httpclient.Manager
	Storage       store.Store
	DB            *gorm.DB
}

// NewApp is the constructor for App, with dependencies injected by dig.
func NewApp(params AppParams) *App {
	return &App{
		engine:        params.Engine,
		configManager: params.ConfigManager,
		queueManager:  params.QueueManager,
		restoration:   params.Restoration,
		monitor:       params.Monitor,
		cacheManager:  params.CacheManager,
		clientManager: params.ClientManager,
		storage:       params.Storage,
		db:            params.DB,
	}
}

// Start runs the application; it is a non-blocking call.
func (a *App) Start() error {
	if err := a.db.AutoMigrate(
		&models.QueuedAction{},
		&cache.CacheRecord{},
	); err != nil {
		return fmt.Errorf("database auto-migration failed: %w", err)
	}
	logrus.Info("Database auto-migration completed.")

	a.configManager.DisplayServerConfig()

	// The monitor must be observable before the orchestrator subscribes,
	// and both before the facade starts its timers.
	a.restoration.Start()
	a.monitor.Start()
	a.queueManager.Start()

	serverConfig := a.configManager.GetEffectiveServerConfig()
	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", serverConfig.Host, serverConfig.Port),
		Handler:      a.engine,
		ReadTimeout:  time.Duration(serverConfig.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(serverConfig.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(serverConfig.IdleTimeout) * time.Second,
	}

	go func() {
		logrus.Infof("Server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the application.
func (a *App) Stop(ctx context.Context) {
	logrus.Info("Shutting down server...")

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			logrus.Errorf("Server forced to shutdown: %v", err)
		}
	}

	// Stop producers before consumers: facade timers, then the
	// orchestrator, then the monitor feeding them.
	a.queueManager.Stop(ctx)
	a.restoration.Stop(ctx)
	a.monitor.Stop(ctx)

	a.clientManager.CloseIdleConnections()

	if err := a.cacheManager.Close(); err != nil {
		logrus.Errorf("Failed to close cache manager: %v", err)
	}
	if err := a.storage.Close(); err != nil {
		logrus.Errorf("Failed to close storage: %v", err)
	}

	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logrus.Errorf("Failed to close database connection: %v", err)
		}
	}

	logrus.Info("Server exited gracefully")
}
