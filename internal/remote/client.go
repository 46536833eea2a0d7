// Package remote implements the client for the remote session API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"schools-in/internal/httpclient"
	"schools-in/internal/models"
	"schools-in/internal/types"

	"github.com/sirupsen/logrus"
)

// SubmitError describes a failed submission. Transport errors (timeout,
// refused connection) are always retry-eligible; application rejections
// carry the upstream status so callers can distinguish permanent 4xx
// failures from retryable 5xx ones.
type SubmitError struct {
	StatusCode int
	Message    string
	Transport  bool
}

func (e *SubmitError) Error() string {
	if e.Transport {
		return fmt.Sprintf("transport error: %s", e.Message)
	}
	return fmt.Sprintf("remote rejected with status %d: %s", e.StatusCode, e.Message)
}

// IsTransportError reports whether err is a transport-level failure.
func IsTransportError(err error) bool {
	var se *SubmitError
	return errors.As(err, &se) && se.Transport
}

// IsPermanentRejection reports whether err is a 4xx application rejection
// that no amount of retrying will fix.
func IsPermanentRejection(err error) bool {
	var se *SubmitError
	return errors.As(err, &se) && !se.Transport && se.StatusCode >= 400 && se.StatusCode < 500
}

// sessionRequest is the wire format of the create/update session endpoints.
type sessionRequest struct {
	SchoolID  string           `json:"schoolId,omitempty"`
	SessionID string           `json:"sessionId,omitempty"`
	UserID    string           `json:"userId"`
	Location  *models.Location `json:"location,omitempty"`
	Action    string           `json:"action"`
	Timestamp int64            `json:"timestamp"`
	Fields    map[string]any   `json:"fields,omitempty"`
}

// sessionResponse is the success body of the session endpoints.
type sessionResponse struct {
	SessionID string `json:"sessionId"`
}

// Client talks to the remote session API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a session API client using a pooled HTTP client.
func NewClient(configManager types.ConfigManager, clientManager *httpclient.Manager) *Client {
	cfg := configManager.GetRemoteConfig()
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http: clientManager.GetClient(&httpclient.Config{
			ConnectTimeout:      cfg.ConnectTimeout,
			RequestTimeout:      cfg.RequestTimeout,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
		}),
	}
}

// CreateSession submits a check-in and returns the created session id.
func (c *Client) CreateSession(ctx context.Context, p models.CheckInPayload) (string, error) {
	req := sessionRequest{
		SchoolID:  p.SchoolID,
		UserID:    p.UserID,
		Location:  &p.Location,
		Action:    models.ActionCheckIn,
		Timestamp: time.Now().UnixMilli(),
	}
	return c.submit(ctx, http.MethodPost, c.baseURL+"/sessions", req)
}

// CloseSession submits a check-out against an existing session.
func (c *Client) CloseSession(ctx context.Context, p models.CheckOutPayload) (string, error) {
	req := sessionRequest{
		SessionID: p.SessionID,
		UserID:    p.UserID,
		Location:  &p.Location,
		Action:    models.ActionCheckOut,
		Timestamp: time.Now().UnixMilli(),
	}
	return c.submit(ctx, http.MethodPatch, c.baseURL+"/sessions/"+p.SessionID, req)
}

// UpdateSession submits a partial session update.
func (c *Client) UpdateSession(ctx context.Context, p models.SessionUpdatePayload) (string, error) {
	req := sessionRequest{
		SessionID: p.SessionID,
		UserID:    p.UserID,
		Action:    models.ActionSessionUpdate,
		Timestamp: time.Now().UnixMilli(),
		Fields:    p.Fields,
	}
	return c.submit(ctx, http.MethodPatch, c.baseURL+"/sessions/"+p.SessionID, req)
}

// UpdateLocation submits a mid-session location update.
func (c *Client) UpdateLocation(ctx context.Context, p models.LocationUpdatePayload) (string, error) {
	req := sessionRequest{
		SessionID: p.SessionID,
		UserID:    p.UserID,
		Location:  &p.Location,
		Action:    models.ActionLocationUpdate,
		Timestamp: time.Now().UnixMilli(),
	}
	return c.submit(ctx, http.MethodPatch, c.baseURL+"/sessions/"+p.SessionID, req)
}

// SubmitAction dispatches a queued action by its payload variant.
func (c *Client) SubmitAction(ctx context.Context, action *models.QueuedAction) (string, error) {
	payload, err := action.DecodePayload()
	if err != nil {
		return "", &SubmitError{StatusCode: http.StatusBadRequest, Message: err.Error()}
	}

	switch p := payload.(type) {
	case models.CheckInPayload:
		return c.CreateSession(ctx, p)
	case models.CheckOutPayload:
		return c.CloseSession(ctx, p)
	case models.SessionUpdatePayload:
		return c.UpdateSession(ctx, p)
	case models.LocationUpdatePayload:
		return c.UpdateLocation(ctx, p)
	default:
		return "", &SubmitError{StatusCode: http.StatusBadRequest, Message: fmt.Sprintf("unhandled payload type %T", p)}
	}
}

func (c *Client) submit(ctx context.Context, method, url string, body sessionRequest) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", &SubmitError{StatusCode: http.StatusBadRequest, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return "", &SubmitError{Transport: true, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &SubmitError{Transport: true, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		logrus.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"action": body.Action,
		}).Debug("Session API rejected request")
		return "", &SubmitError{StatusCode: resp.StatusCode, Message: msg}
	}

	var parsed sessionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		// A 2xx with an unreadable body still means the server accepted the
		// action; the session id just cannot be reported.
		logrus.WithError(err).Debug("Session API returned unparsable success body")
		return "", nil
	}
	return parsed.SessionID, nil
}
