package handler

import (
	"errors"

	app_errors "schools-in/internal/errors"
	"schools-in/internal/queue"
	"schools-in/internal/response"
	"schools-in/internal/services"

	"github.com/gin-gonic/gin"
)

// QueueHandler exposes queue inspection and mutation endpoints.
type QueueHandler struct {
	queueManager *services.QueueManager
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(queueManager *services.QueueManager) *QueueHandler {
	return &QueueHandler{queueManager: queueManager}
}

// GetStats handles GET /api/queue/stats.
func (h *QueueHandler) GetStats(c *gin.Context) {
	stats, err := h.queueManager.GetStats(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	response.Success(c, stats)
}

// GetPendingActions handles GET /api/queue/actions.
func (h *QueueHandler) GetPendingActions(c *gin.Context) {
	actions, err := h.queueManager.GetPendingActions(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	response.Success(c, actions)
}

// SyncNowRequest defines the manual sync payload.
type SyncNowRequest struct {
	Force bool `json:"force"`
}

// SyncNow handles POST /api/sync.
func (h *QueueHandler) SyncNow(c *gin.Context) {
	var req SyncNowRequest
	// Body is optional; an empty body means a plain non-forced sync.
	_ = c.ShouldBindJSON(&req)

	result, err := h.queueManager.SyncNow(c.Request.Context(), req.Force)
	if err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInternalServer, err.Error()))
		return
	}
	if result == nil {
		// A nil result without force means the round was skipped by
		// policy, not that another round holds the guard.
		if rec := h.queueManager.SyncRecommendation(); !req.Force && !rec.ShouldSync {
			response.Error(c, app_errors.NewAPIError(app_errors.ErrSyncNotRecommended, "Sync not recommended: "+rec.Reason))
			return
		}
		response.Error(c, app_errors.ErrSyncInProgress)
		return
	}
	response.Success(c, result)
}

// CancelAction handles POST /api/queue/actions/:id/cancel.
func (h *QueueHandler) CancelAction(c *gin.Context) {
	cancelled, err := h.queueManager.CancelAction(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	if !cancelled {
		response.Error(c, app_errors.ErrActionNotCancelable)
		return
	}
	response.Success(c, gin.H{"cancelled": true})
}

// RetryAction handles POST /api/queue/actions/:id/retry.
func (h *QueueHandler) RetryAction(c *gin.Context) {
	err := h.queueManager.RetryAction(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, queue.ErrActionNotFound) {
			response.Error(c, app_errors.ErrResourceNotFound)
			return
		}
		response.Error(c, app_errors.ParseDBError(err))
		return
	}
	response.Success(c, gin.H{"retried": true})
}

// GetNetworkStatus handles GET /api/network.
func (h *QueueHandler) GetNetworkStatus(c *gin.Context) {
	response.Success(c, h.queueManager.NetworkStatus())
}

// GetRestorationHistory handles GET /api/network/restorations.
func (h *QueueHandler) GetRestorationHistory(c *gin.Context) {
	response.Success(c, h.queueManager.RestorationHistory())
}
