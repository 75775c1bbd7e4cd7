// Package sync orchestrates pulling a creator's statistics, transactions and subscribers from the
// platform into storage, reporting progress for status polling.
package sync

import (
	"context"
	"time"

	"github.com/peteski22/creatorsync/internal/creator"
)

const (
	// StageAuthenticating verifies the platform handle and token.
	StageAuthenticating Stage = "authenticating"

	// StageCompleted is the successful terminal stage.
	StageCompleted Stage = "completed"

	// StageError is the failed terminal stage.
	StageError Stage = "error"

	// StageFetchingFans pulls the full subscriber list.
	StageFetchingFans Stage = "fetching_fans"

	// StageFetchingStats pulls aggregate statistics.
	StageFetchingStats Stage = "fetching_stats"

	// StageFetchingTransactions pulls the transaction window.
	StageFetchingTransactions Stage = "fetching_transactions"

	// StagePending is a run that has been accepted but has not started, or a creator never synced.
	StagePending Stage = "pending"

	// StageProcessing maps and persists what was fetched.
	StageProcessing Stage = "processing"
)

const (
	// ModeIncremental fetches transactions since the last successful sync.
	ModeIncremental Mode = "incremental"

	// ModeInitial fetches the trailing initial window of transactions.
	ModeInitial Mode = "initial"
)

// Stage is one named step of a sync run.
type Stage string

// IsTerminal reports whether the stage ends a run.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageError
}

// Mode is the kind of sync run.
type Mode string

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeInitial || m == ModeIncremental
}

// ItemsSynced counts the items persisted by a run.
type ItemsSynced struct {
	// Fans is the number of fans written.
	Fans int `json:"fans"`

	// Transactions is the number of transactions written.
	Transactions int `json:"transactions"`
}

// Dropped counts platform records that were not persisted.
type Dropped struct {
	// InvalidFans is the number of subscribers that failed to map.
	InvalidFans int `json:"invalidFans"`

	// InvalidTransactions is the number of transactions that failed to map.
	InvalidTransactions int `json:"invalidTransactions"`

	// UnknownFan is the number of transactions whose fan is not in the subscriber list.
	UnknownFan int `json:"unknownFan"`
}

// Progress is the latest reported state of a creator's sync.
type Progress struct {
	// ItemsSynced is set once items have been persisted.
	ItemsSynced *ItemsSynced `json:"itemsSynced,omitempty"`

	// Message is a human-readable description of the current step.
	Message string `json:"message"`

	// Mode is the kind of run.
	Mode Mode `json:"mode,omitempty"`

	// Percent is the overall completion, 0 to 100.
	Percent int `json:"progress"`

	// RunID identifies the run that owns the record.
	RunID string `json:"runId,omitempty"`

	// Seq orders writes within a run. Stores apply a write only if Seq increases.
	Seq int64 `json:"-"`

	// Stage is the current stage.
	Stage Stage `json:"stage"`

	// StartedAt is when the run was accepted.
	StartedAt time.Time `json:"startedAt,omitzero"`

	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// InFlight reports whether the progress belongs to a run that has not finished.
func (p *Progress) InFlight() bool {
	return p != nil && !p.Stage.IsTerminal()
}

// Abandoned reports whether an in-flight record has not been written for longer than staleAfter.
// A zero staleAfter never abandons.
func (p *Progress) Abandoned(now time.Time, staleAfter time.Duration) bool {
	if !p.InFlight() || staleAfter <= 0 {
		return false
	}
	return now.Sub(p.UpdatedAt) > staleAfter
}

// ProgressFunc receives every progress transition of a run, in order.
type ProgressFunc func(ctx context.Context, p Progress)

// Request identifies the creator to sync and the credentials to use.
type Request struct {
	// AccessToken is a currently valid platform access token.
	AccessToken string

	// CreatorID is the internal creator identifier.
	CreatorID string

	// ExternalHandle is the creator's platform handle.
	ExternalHandle string
}

// Result contains the outcome of a sync run.
type Result struct {
	// CreatorID is the synced creator.
	CreatorID string

	// Dropped counts records that were not persisted.
	Dropped Dropped

	// DryRun indicates this was a dry-run (no writes to storage).
	DryRun bool

	// Err is the terminal error of a failed run.
	Err error

	// ItemsSynced counts the items persisted, including before a failure.
	ItemsSynced ItemsSynced

	// Mode is the kind of run.
	Mode Mode

	// Since is the start of the fetched transaction window.
	Since time.Time

	// Stage is the last stage reached; for a failed run, the stage that failed.
	Stage Stage

	// StartedAt is when the run began. The next incremental sync resumes from here.
	StartedAt time.Time

	// Success reports whether every stage completed.
	Success bool

	// SyncedAt is when the run finished.
	SyncedAt time.Time

	// UpdatedMetrics is the metrics snapshot derived from the stats, nil if none were fetched.
	UpdatedMetrics *creator.Metrics
}

// Storage is the write side of the datastore. Appends must be idempotent on external IDs.
type Storage interface {
	// UpsertFans stores fans keyed by creator and external ID, refreshing the state of known fans.
	// It returns how many were new; the rest were updated in place.
	UpsertFans(ctx context.Context, fans []creator.Fan) (int, error)

	// AppendTransactions stores transactions not already known and returns how many were new.
	AppendTransactions(ctx context.Context, transactions []creator.Transaction) (int, error)

	// UpdateCreatorMetrics replaces a creator's derived metrics.
	UpdateCreatorMetrics(ctx context.Context, creatorID string, metrics creator.Metrics) error
}

// StatusStore holds the latest progress per creator and guards against concurrent runs.
type StatusStore interface {
	// RecordProgress writes progress for the run that owns the creator's record.
	// Writes from another run fail with ErrRunSuperseded; writes with a stale Seq are ignored.
	RecordProgress(ctx context.Context, creatorID string, p Progress) error

	// Status returns the latest progress, or nil if the creator was never synced.
	Status(ctx context.Context, creatorID string) (*Progress, error)

	// TryBegin atomically claims the creator for the run in p.
	// Returns false if another run is in flight and not abandoned.
	TryBegin(ctx context.Context, creatorID string, p Progress) (bool, error)
}

// StateStore manages persistent sync state per creator.
type StateStore interface {
	// LastSyncTime returns the start time of the last successful sync, zero if none.
	LastSyncTime(ctx context.Context, creatorID string) (time.Time, error)

	// SetLastSyncTime updates the last sync timestamp.
	SetLastSyncTime(ctx context.Context, creatorID string, t time.Time) error
}

// CreatorDirectory looks up creators.
type CreatorDirectory interface {
	// Creator returns the creator with the given ID, or creator.ErrNotFound.
	Creator(ctx context.Context, id string) (*creator.Creator, error)
}

// TokenSource provides platform access tokens per creator.
type TokenSource interface {
	// AccessToken returns a currently valid access token for the creator.
	AccessToken(ctx context.Context, creatorID string) (string, error)
}
