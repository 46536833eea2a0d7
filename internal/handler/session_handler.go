// Package handler exposes the queue manager facade over HTTP.
package handler

import (
	app_errors "schools-in/internal/errors"
	"schools-in/internal/models"
	"schools-in/internal/remote"
	"schools-in/internal/response"
	"schools-in/internal/services"

	"github.com/gin-gonic/gin"
)

// SessionHandler handles check-in and check-out requests.
type SessionHandler struct {
	queueManager *services.QueueManager
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(queueManager *services.QueueManager) *SessionHandler {
	return &SessionHandler{queueManager: queueManager}
}

// CheckInRequest defines the check-in payload.
type CheckInRequest struct {
	SchoolID string          `json:"school_id" binding:"required"`
	UserID   string          `json:"user_id" binding:"required"`
	Location models.Location `json:"location" binding:"required"`
}

// CheckIn handles POST /api/checkin.
func (h *SessionHandler) CheckIn(c *gin.Context) {
	var req CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}

	result, err := h.queueManager.CheckIn(c.Request.Context(), req.SchoolID, req.UserID, req.Location)
	if err != nil {
		if remote.IsPermanentRejection(err) {
			response.Error(c, app_errors.NewAPIError(app_errors.ErrValidation, err.Error()))
			return
		}
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInternalServer, err.Error()))
		return
	}
	response.Success(c, result)
}

// CheckOutRequest defines the check-out payload.
type CheckOutRequest struct {
	SessionID string          `json:"session_id" binding:"required"`
	UserID    string          `json:"user_id" binding:"required"`
	Location  models.Location `json:"location" binding:"required"`
}

// CheckOut handles POST /api/checkout.
func (h *SessionHandler) CheckOut(c *gin.Context) {
	var req CheckOutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}

	result, err := h.queueManager.CheckOut(c.Request.Context(), req.SessionID, req.UserID, req.Location)
	if err != nil {
		if remote.IsPermanentRejection(err) {
			response.Error(c, app_errors.NewAPIError(app_errors.ErrValidation, err.Error()))
			return
		}
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInternalServer, err.Error()))
		return
	}
	response.Success(c, result)
}
