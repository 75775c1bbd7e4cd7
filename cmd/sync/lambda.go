package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/peteski22/creatorsync/internal/creator"
	"github.com/peteski22/creatorsync/internal/sync"
)

// ScheduledEvent is the payload of a scheduled sync invocation.
type ScheduledEvent struct {
	// CreatorIDs lists the creators to sync. Empty means every known creator.
	CreatorIDs []string `json:"creatorIds"`

	// Mode forces the kind of run. Empty picks per creator.
	Mode sync.Mode `json:"mode"`
}

// ScheduledResult summarises a scheduled invocation.
type ScheduledResult struct {
	// Failed lists creators whose run failed, keyed by creator ID.
	Failed map[string]string `json:"failed,omitempty"`

	// Skipped lists creators that already had a run in progress.
	Skipped []string `json:"skipped,omitempty"`

	// Synced lists creators whose run completed.
	Synced []string `json:"synced"`
}

type runStarter interface {
	Start(ctx context.Context, req sync.StartRequest) (*sync.Run, error)
}

type creatorLister interface {
	Creators(ctx context.Context) ([]creator.Creator, error)
}

// scheduledHandler runs each requested creator's sync one after another and waits for it.
type scheduledHandler struct {
	creators creatorLister
	logger   *slog.Logger
	runner   runStarter
}

func newScheduledHandler(runner runStarter, creators creatorLister, logger *slog.Logger) *scheduledHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &scheduledHandler{
		creators: creators,
		logger:   logger,
		runner:   runner,
	}
}

// Handle processes one scheduled event.
// It fails only when nothing could be attempted; per creator failures are reported in the result.
func (h *scheduledHandler) Handle(ctx context.Context, event ScheduledEvent) (*ScheduledResult, error) {
	if event.Mode != "" && !event.Mode.Valid() {
		return nil, fmt.Errorf("invalid mode %q", event.Mode)
	}

	ids, err := h.creatorIDs(ctx, event.CreatorIDs)
	if err != nil {
		return nil, err
	}

	h.logger.InfoContext(ctx, "Starting scheduled sync", "creators", len(ids), "mode", event.Mode)

	result := &ScheduledResult{
		Failed: make(map[string]string),
		Synced: []string{},
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		run, err := h.runner.Start(ctx, sync.StartRequest{CreatorID: id, Mode: event.Mode})
		if errors.Is(err, sync.ErrSyncInProgress) {
			h.logger.InfoContext(ctx, "Sync already in progress", "creator_id", id)
			result.Skipped = append(result.Skipped, id)
			continue
		}
		if err != nil {
			h.logger.ErrorContext(ctx, "Failed to start sync", "creator_id", id, "error", err)
			result.Failed[id] = err.Error()
			continue
		}

		if _, err := run.Wait(ctx); err != nil {
			h.logger.ErrorContext(ctx, "Sync failed", "creator_id", id, "run_id", run.ID, "error", err)
			result.Failed[id] = err.Error()
			continue
		}

		result.Synced = append(result.Synced, id)
	}

	h.logger.InfoContext(ctx, "Scheduled sync complete",
		"synced", len(result.Synced),
		"skipped", len(result.Skipped),
		"failed", len(result.Failed))

	return result, nil
}

func (h *scheduledHandler) creatorIDs(ctx context.Context, requested []string) ([]string, error) {
	if len(requested) > 0 {
		return requested, nil
	}

	creators, err := h.creators.Creators(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing creators: %w", err)
	}

	ids := make([]string, 0, len(creators))
	for _, c := range creators {
		ids = append(ids, c.ID)
	}
	return ids, nil
}
