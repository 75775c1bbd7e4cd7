// Package handler provides the HTTP handlers of the sync API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/peteski22/creatorsync/internal/creator"
	"github.com/peteski22/creatorsync/internal/sync"
	"github.com/peteski22/creatorsync/pkg/apierror"
	"github.com/peteski22/creatorsync/pkg/response"
)

// maxBodyBytes bounds the optional start request body.
const maxBodyBytes = 4 << 10

// SyncStarter launches background sync runs. *sync.Runner implements it.
type SyncStarter interface {
	// Start claims the creator and launches a run.
	Start(ctx context.Context, req sync.StartRequest) (*sync.Run, error)
}

// StatusReader reads the latest sync progress of a creator.
type StatusReader interface {
	// Status returns the latest progress, or nil if the creator was never synced.
	Status(ctx context.Context, creatorID string) (*sync.Progress, error)
}

// StartSyncRequest is the optional body of POST /creators/{creatorId}/sync.
type StartSyncRequest struct {
	// Mode forces "initial" or "incremental". Empty lets the server decide.
	Mode sync.Mode `json:"mode"`

	// Since overrides the start of an incremental window.
	Since *time.Time `json:"since"`
}

// StartSyncResponse is returned when a sync is accepted.
type StartSyncResponse struct {
	// Message is always "Sync started".
	Message string `json:"message"`

	// Mode is the kind of run that was started.
	Mode sync.Mode `json:"mode"`

	// RunID identifies the run in status responses.
	RunID string `json:"runId"`

	// Success is always true.
	Success bool `json:"success"`
}

// SyncHandler serves the sync start and status endpoints.
type SyncHandler struct {
	logger *slog.Logger
	runner SyncStarter
	status StatusReader
}

// NewSyncHandler creates a handler for the sync endpoints.
func NewSyncHandler(runner SyncStarter, status StatusReader, logger *slog.Logger) (*SyncHandler, error) {
	var errs []error
	if runner == nil {
		errs = append(errs, errors.New("sync starter is required"))
	}
	if status == nil {
		errs = append(errs, errors.New("status reader is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &SyncHandler{
		logger: logger,
		runner: runner,
		status: status,
	}, nil
}

// StartSync handles POST /creators/{creatorId}/sync.
// The run continues in the background; clients poll SyncStatus for progress.
func (h *SyncHandler) StartSync(w http.ResponseWriter, r *http.Request) {
	creatorID := strings.TrimSpace(chi.URLParam(r, "creatorId"))
	if creatorID == "" {
		response.Error(w, apierror.BadRequest("creatorId is required"))
		return
	}

	body, err := decodeStartRequest(r)
	if err != nil {
		response.Error(w, apierror.BadRequest(err.Error()))
		return
	}

	req := sync.StartRequest{
		CreatorID: creatorID,
		Mode:      body.Mode,
	}
	if body.Since != nil {
		req.Since = *body.Since
	}

	run, err := h.runner.Start(r.Context(), req)
	if err != nil {
		response.Error(w, h.startError(creatorID, err))
		return
	}

	response.Accepted(w, StartSyncResponse{
		Message: "Sync started",
		Mode:    run.Mode,
		RunID:   run.ID,
		Success: true,
	})
}

// SyncStatus handles GET /creators/{creatorId}/sync-status.
func (h *SyncHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	creatorID := strings.TrimSpace(chi.URLParam(r, "creatorId"))
	if creatorID == "" {
		response.Error(w, apierror.BadRequest("creatorId is required"))
		return
	}

	progress, err := h.status.Status(r.Context(), creatorID)
	if err != nil {
		h.logger.Error("Failed to read sync status", "creator_id", creatorID, "error", err)
		response.Error(w, apierror.ServiceUnavailable("sync status unavailable"))
		return
	}

	if progress == nil {
		progress = &sync.Progress{
			Message: "Not yet synced",
			Percent: 0,
			Stage:   sync.StagePending,
		}
	}

	w.Header().Set("Cache-Control", "no-store")
	response.OK(w, progress)
}

// startError maps a Runner.Start failure to an API error.
func (h *SyncHandler) startError(creatorID string, err error) *apierror.Error {
	switch {
	case errors.Is(err, sync.ErrSyncInProgress):
		return apierror.Conflict("Sync already in progress")
	case errors.Is(err, creator.ErrNotFound):
		return apierror.NotFound("Creator not found")
	case errors.Is(err, sync.ErrInvalidRequest):
		return apierror.BadRequest(err.Error())
	case errors.Is(err, sync.ErrAuthentication):
		h.logger.Warn("No valid platform token", "creator_id", creatorID, "error", err)
		return apierror.Unauthorized("Platform authorization required")
	case errors.Is(err, sync.ErrRunnerClosed):
		return apierror.ServiceUnavailable("Server is shutting down")
	default:
		h.logger.Error("Failed to start sync", "creator_id", creatorID, "error", err)
		return apierror.InternalError("")
	}
}

// decodeStartRequest reads the optional JSON body. An empty body is a request with defaults.
func decodeStartRequest(r *http.Request) (StartSyncRequest, error) {
	var req StartSyncRequest
	if r.Body == nil {
		return req, nil
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return StartSyncRequest{}, nil
		}
		return StartSyncRequest{}, fmt.Errorf("invalid JSON body: %w", err)
	}

	if req.Mode != "" && !req.Mode.Valid() {
		return StartSyncRequest{}, fmt.Errorf("mode must be %q or %q", sync.ModeInitial, sync.ModeIncremental)
	}
	if req.Since != nil && req.Mode == sync.ModeInitial {
		return StartSyncRequest{}, errors.New("since cannot be used with an initial sync")
	}

	return req, nil
}
