// Package router assembles the gin engine and route table.
package router

import (
	"schools-in/internal/handler"
	"schools-in/internal/middleware"
	"schools-in/internal/types"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// NewRouter creates the gin engine with all middleware and routes.
func NewRouter(
	configManager types.ConfigManager,
	commonHandler *handler.CommonHandler,
	sessionHandler *handler.SessionHandler,
	queueHandler *handler.QueueHandler,
) *gin.Engine {
	if configManager.GetLogConfig().Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())
	engine.Use(middleware.CORS(configManager.GetCORSConfig()))
	engine.Use(gzip.Gzip(gzip.DefaultCompression))

	engine.GET("/health", commonHandler.Health)
	engine.HEAD("/health", commonHandler.Health)

	api := engine.Group("/api")
	api.Use(middleware.Auth(configManager.GetAuthConfig()))
	{
		api.POST("/checkin", sessionHandler.CheckIn)
		api.POST("/checkout", sessionHandler.CheckOut)
		api.POST("/sync", queueHandler.SyncNow)

		api.GET("/queue/stats", queueHandler.GetStats)
		api.GET("/queue/actions", queueHandler.GetPendingActions)
		api.POST("/queue/actions/:id/cancel", queueHandler.CancelAction)
		api.POST("/queue/actions/:id/retry", queueHandler.RetryAction)

		api.GET("/network", queueHandler.GetNetworkStatus)
		api.GET("/network/restorations", queueHandler.GetRestorationHistory)
	}

	return engine
}
