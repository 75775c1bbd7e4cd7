package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/peteski22/creatorsync/internal/metrics"
)

const (
	// DefaultRunTimeout bounds how long a single run may take.
	DefaultRunTimeout = 15 * time.Minute

	// statusWriteTimeout bounds each progress write, independent of the run's own deadline.
	statusWriteTimeout = 5 * time.Second
)

// Syncer runs a single sync. *Service implements it.
type Syncer interface {
	// InitialSync pulls the initial window.
	InitialSync(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error)

	// IncrementalSync pulls everything since the given time.
	IncrementalSync(ctx context.Context, req Request, since time.Time, onProgress ProgressFunc) (*Result, error)
}

// RunnerConfig holds the required configuration for creating a Runner.
type RunnerConfig struct {
	// Creators resolves creator IDs to platform handles.
	Creators CreatorDirectory

	// Logger is the structured logger for the runner.
	Logger *slog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// RunTimeout bounds each run. Default is 15 minutes.
	RunTimeout time.Duration

	// Service executes the runs.
	Service Syncer

	// State stores the last successful sync time per creator.
	State StateStore

	// Status holds progress and guards against concurrent runs.
	Status StatusStore

	// Tokens provides platform access tokens.
	Tokens TokenSource
}

// validate checks that all required RunnerConfig fields are set.
func (c *RunnerConfig) validate() error {
	var errs []error
	if c.Creators == nil {
		errs = append(errs, errors.New("creator directory is required"))
	}
	if c.Service == nil {
		errs = append(errs, errors.New("sync service is required"))
	}
	if c.State == nil {
		errs = append(errs, errors.New("state store is required"))
	}
	if c.Status == nil {
		errs = append(errs, errors.New("status store is required"))
	}
	if c.Tokens == nil {
		errs = append(errs, errors.New("token source is required"))
	}
	if c.RunTimeout < 0 {
		errs = append(errs, errors.New("run timeout cannot be negative"))
	}
	return errors.Join(errs...)
}

// StartRequest asks for a sync of one creator.
type StartRequest struct {
	// CreatorID is the creator to sync.
	CreatorID string

	// Mode is the kind of run. Empty picks incremental when a previous sync succeeded, else initial.
	Mode Mode

	// Since overrides the start of an incremental window. Defaults to the last successful sync.
	Since time.Time
}

// Run is the handle of a run executing in the background.
type Run struct {
	// CreatorID is the creator being synced.
	CreatorID string

	// ID identifies the run in progress records.
	ID string

	// Mode is the kind of run.
	Mode Mode

	// Since is the start of the incremental window, zero for initial runs.
	Since time.Time

	done   chan struct{}
	result *Result
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Result returns the run's result, or nil while it is still running.
func (r *Run) Result() *Result {
	select {
	case <-r.done:
		return r.result
	default:
		return nil
	}
}

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-r.done:
		return r.result, r.result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Runner starts sync runs in the background and supervises them.
type Runner struct {
	baseCtx    context.Context
	cancel     context.CancelFunc
	closed     bool
	creators   CreatorDirectory
	logger     *slog.Logger
	mu         gosync.Mutex
	now        func() time.Time
	runTimeout time.Duration
	runs       map[string]*Run
	service    Syncer
	state      StateStore
	status     StatusStore
	tokens     TokenSource
	wg         gosync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.RunTimeout
	if timeout == 0 {
		timeout = DefaultRunTimeout
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		baseCtx:    ctx,
		cancel:     cancel,
		creators:   cfg.Creators,
		logger:     logger,
		now:        now,
		runTimeout: timeout,
		runs:       make(map[string]*Run),
		service:    cfg.Service,
		state:      cfg.State,
		status:     cfg.Status,
		tokens:     cfg.Tokens,
	}, nil
}

// Active returns the number of runs currently executing.
func (rn *Runner) Active() int {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return len(rn.runs)
}

// Start claims the creator and launches a run in the background.
// The run is detached from ctx, which only bounds the work done before launch.
// Returns ErrSyncInProgress if another run for the creator is in flight.
func (rn *Runner) Start(ctx context.Context, req StartRequest) (*Run, error) {
	if rn.isClosed() {
		return nil, ErrRunnerClosed
	}

	c, err := rn.creators.Creator(ctx, req.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("looking up creator: %w", err)
	}

	mode, since, err := rn.resolveMode(ctx, req)
	if err != nil {
		return nil, err
	}

	token, err := rn.tokens.AccessToken(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: obtaining access token: %w", ErrAuthentication, err)
	}

	run := &Run{
		CreatorID: c.ID,
		ID:        uuid.NewString(),
		Mode:      mode,
		Since:     since,
		done:      make(chan struct{}),
	}
	startedAt := rn.now()
	recorder := &progressRecorder{
		creatorID: c.ID,
		logger:    rn.logger.With("creator_id", c.ID, "run_id", run.ID),
		mode:      mode,
		now:       rn.now,
		runID:     run.ID,
		startedAt: startedAt,
		store:     rn.status,
	}

	claimed, err := rn.status.TryBegin(ctx, c.ID, Progress{
		Message:   "Sync started",
		Mode:      mode,
		RunID:     run.ID,
		Stage:     StagePending,
		StartedAt: startedAt,
		UpdatedAt: startedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("claiming creator: %w", err)
	}
	if !claimed {
		metrics.SyncConflicts.Inc()
		rn.logger.Info("sync already in progress", "creator_id", c.ID)
		return nil, ErrSyncInProgress
	}

	rn.mu.Lock()
	if rn.closed {
		rn.mu.Unlock()
		recorder.record(ctx, Progress{Stage: StageError, Message: "Sync cancelled: server shutting down"})
		return nil, ErrRunnerClosed
	}
	rn.runs[run.ID] = run
	rn.wg.Add(1)
	rn.mu.Unlock()

	syncReq := Request{
		AccessToken:    token,
		CreatorID:      c.ID,
		ExternalHandle: c.ExternalHandle,
	}
	go rn.execute(run, syncReq, recorder)

	rn.logger.Info("sync started",
		"creator_id", c.ID,
		"run_id", run.ID,
		"mode", mode,
		"since", since)

	return run, nil
}

// Shutdown stops accepting runs and waits for live ones to finish.
// When ctx expires first, live runs are cancelled and the context error is returned.
func (rn *Runner) Shutdown(ctx context.Context) error {
	rn.mu.Lock()
	rn.closed = true
	rn.mu.Unlock()

	done := make(chan struct{})
	go func() {
		rn.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		rn.cancel()
		return nil
	case <-ctx.Done():
		rn.cancel()
		return fmt.Errorf("waiting for sync runs: %w", ctx.Err())
	}
}

// execute runs one sync to completion. It never panics.
func (rn *Runner) execute(run *Run, req Request, recorder *progressRecorder) {
	defer rn.wg.Done()
	defer close(run.done)
	defer rn.forget(run.ID)

	ctx, cancel := context.WithTimeout(rn.baseCtx, rn.runTimeout)
	defer cancel()

	metrics.SyncsInFlight.Inc()
	defer metrics.SyncsInFlight.Dec()

	defer func() {
		if r := recover(); r != nil {
			stage, percent := recorder.position()
			err := &RunError{Err: fmt.Errorf("panic: %v", r), Kind: ErrInternal, Stage: stage}
			recorder.logger.Error("sync run panicked", "panic", r, "stack", string(debug.Stack()))
			recorder.record(ctx, Progress{Message: "Sync failed: " + err.Error(), Percent: percent, Stage: StageError})
			metrics.SyncFailures.WithLabelValues(string(stage), kindLabel(err)).Inc()
			run.result = &Result{
				CreatorID: run.CreatorID,
				Err:       err,
				Mode:      run.Mode,
				Since:     run.Since,
				Stage:     stage,
				StartedAt: recorder.startedAt,
				SyncedAt:  rn.now(),
			}
		}
	}()

	var result *Result
	if run.Mode == ModeIncremental {
		result, _ = rn.service.IncrementalSync(ctx, req, run.Since, recorder.record)
	} else {
		result, _ = rn.service.InitialSync(ctx, req, recorder.record)
	}
	if result == nil {
		stage, _ := recorder.position()
		result = &Result{
			CreatorID: run.CreatorID,
			Err:       &RunError{Err: errors.New("sync returned no result"), Kind: ErrInternal, Stage: stage},
			Mode:      run.Mode,
			Since:     run.Since,
			Stage:     stage,
			StartedAt: recorder.startedAt,
			SyncedAt:  rn.now(),
		}
	}
	run.result = result
	recorder.finish(ctx, result)

	if !result.Success || result.DryRun {
		return
	}

	stateCtx, stateCancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer stateCancel()
	if err := rn.state.SetLastSyncTime(stateCtx, run.CreatorID, result.StartedAt); err != nil {
		recorder.logger.Error("failed to update last sync time", "error", err)
	}
}

// forget removes a finished run.
func (rn *Runner) forget(runID string) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	delete(rn.runs, runID)
}

// isClosed reports whether Shutdown has been called.
func (rn *Runner) isClosed() bool {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.closed
}

// resolveMode picks the run mode and incremental window start.
func (rn *Runner) resolveMode(ctx context.Context, req StartRequest) (Mode, time.Time, error) {
	switch req.Mode {
	case ModeInitial:
		return ModeInitial, time.Time{}, nil
	case "", ModeIncremental:
	default:
		return "", time.Time{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}

	since := req.Since
	if since.IsZero() {
		last, err := rn.state.LastSyncTime(ctx, req.CreatorID)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("getting last sync time: %w", err)
		}
		since = last
	}

	if since.IsZero() {
		if req.Mode == ModeIncremental {
			return "", time.Time{}, fmt.Errorf("%w: no previous successful sync to resume from", ErrInvalidRequest)
		}
		return ModeInitial, time.Time{}, nil
	}
	if since.After(rn.now()) {
		return "", time.Time{}, fmt.Errorf("%w: since %s is in the future", ErrInvalidRequest, since.Format(time.RFC3339))
	}

	return ModeIncremental, since, nil
}

// progressRecorder stamps a run's progress events and writes them to the status store in order.
type progressRecorder struct {
	creatorID string
	last      Progress
	logger    *slog.Logger
	mode      Mode
	mu        gosync.Mutex
	now       func() time.Time
	runID     string
	seq       int64
	startedAt time.Time
	store     StatusStore
}

// record is the run's ProgressFunc.
func (p *progressRecorder) record(ctx context.Context, progress Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	progress.RunID = p.runID
	progress.Seq = p.seq
	progress.StartedAt = p.startedAt
	progress.UpdatedAt = p.now()
	if progress.Mode == "" {
		progress.Mode = p.mode
	}
	p.last = progress

	// Terminal writes must land even when the run's context has expired.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	if err := p.store.RecordProgress(writeCtx, p.creatorID, progress); err != nil {
		p.logger.Warn("failed to record progress",
			"stage", progress.Stage,
			"progress", progress.Percent,
			"error", err)
	}
}

// finish records the terminal status from result when the run did not report one itself.
func (p *progressRecorder) finish(ctx context.Context, result *Result) {
	p.mu.Lock()
	last := p.last
	p.mu.Unlock()

	if last.Stage.IsTerminal() {
		return
	}

	items := result.ItemsSynced
	if result.Success {
		p.record(ctx, Progress{ItemsSynced: &items, Message: "Sync completed", Percent: 100, Stage: StageCompleted})
		return
	}

	message := "Sync failed"
	if result.Err != nil {
		message += ": " + result.Err.Error()
	}
	p.record(ctx, Progress{ItemsSynced: &items, Message: message, Percent: last.Percent, Stage: StageError})
}

// position returns the last reported non-error stage and percent.
func (p *progressRecorder) position() (Stage, int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stage := p.last.Stage
	if stage == "" || stage == StageError {
		stage = StagePending
	}
	return stage, p.last.Percent
}
