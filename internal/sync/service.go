package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/peteski22/creatorsync/internal/creator"
	"github.com/peteski22/creatorsync/internal/metrics"
	"github.com/peteski22/creatorsync/internal/platform"
)

// defaultInitialWindow is how far back an initial sync reaches.
const defaultInitialWindow = 90 * 24 * time.Hour

// Config holds the required configuration for creating a Service.
type Config struct {
	// DryRun indicates whether to skip writes to storage.
	DryRun bool

	// InitialWindow is how far back an initial sync fetches transactions. Default is 90 days.
	InitialWindow time.Duration

	// Logger is the structured logger for the service.
	Logger *slog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Platform is the platform API client.
	Platform PlatformClient

	// Storage receives fans, transactions and metrics.
	Storage Storage
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.Platform == nil {
		errs = append(errs, errors.New("platform client is required"))
	}
	if c.Storage == nil {
		errs = append(errs, errors.New("storage is required"))
	}
	if c.InitialWindow < 0 {
		errs = append(errs, errors.New("initial window cannot be negative"))
	}
	return errors.Join(errs...)
}

// Service runs the staged sync of one creator at a time.
// It has no per-run state and is safe for concurrent use across creators.
type Service struct {
	dryRun        bool
	initialWindow time.Duration
	logger        *slog.Logger
	now           func() time.Time
	platform      PlatformClient
	storage       Storage
}

// runState tracks one run as it moves through the stages.
type runState struct {
	logger     *slog.Logger
	onProgress ProgressFunc
	percent    int
	result     *Result
	stage      Stage
}

// New creates a new sync orchestration service.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := cfg.Storage
	if cfg.DryRun {
		store = newDryRunStorage(logger)
	}

	window := cfg.InitialWindow
	if window == 0 {
		window = defaultInitialWindow
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		dryRun:        cfg.DryRun,
		initialWindow: window,
		logger:        logger,
		now:           now,
		platform:      cfg.Platform,
		storage:       store,
	}, nil
}

// InitialSync pulls the trailing initial window of transactions and the full subscriber list.
// The returned result is never nil; the error is the result's Err.
func (s *Service) InitialSync(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error) {
	return s.run(ctx, req, ModeInitial, s.now().Add(-s.initialWindow), onProgress)
}

// IncrementalSync pulls transactions created since the given time and the full subscriber list.
// The returned result is never nil; the error is the result's Err.
func (s *Service) IncrementalSync(
	ctx context.Context,
	req Request,
	since time.Time,
	onProgress ProgressFunc,
) (*Result, error) {
	return s.run(ctx, req, ModeIncremental, since, onProgress)
}

// run executes every stage and always leaves a terminal progress behind.
func (s *Service) run(
	ctx context.Context,
	req Request,
	mode Mode,
	since time.Time,
	onProgress ProgressFunc,
) (*Result, error) {
	rs := &runState{
		logger:     s.logger.With("creator_id", req.CreatorID, "mode", mode),
		onProgress: onProgress,
		result: &Result{
			CreatorID: req.CreatorID,
			DryRun:    s.dryRun,
			Mode:      mode,
			Since:     since,
			Stage:     StagePending,
			StartedAt: s.now(),
		},
	}

	rs.logger.Info("starting sync", "since", since, "dry_run", s.dryRun)

	err := s.execute(ctx, rs, req)
	result := rs.result
	result.SyncedAt = s.now()
	duration := result.SyncedAt.Sub(result.StartedAt).Seconds()
	metrics.SyncRunDuration.WithLabelValues(string(mode)).Observe(duration)

	if err != nil {
		result.Err = err
		result.Stage = rs.stage
		items := result.ItemsSynced
		rs.report(ctx, StageError, rs.percent, "Sync failed: "+err.Error(), &items)

		metrics.SyncRuns.WithLabelValues(string(mode), "error").Inc()
		metrics.SyncFailures.WithLabelValues(string(rs.stage), kindLabel(err)).Inc()
		rs.logger.Error("sync failed",
			"stage", rs.stage,
			"fans", result.ItemsSynced.Fans,
			"transactions", result.ItemsSynced.Transactions,
			"error", err)
		return result, err
	}

	result.Success = true
	items := result.ItemsSynced
	rs.report(ctx, StageCompleted, 100,
		fmt.Sprintf("Synced %d fans and %d transactions", items.Fans, items.Transactions), &items)
	result.Stage = StageCompleted

	metrics.SyncRuns.WithLabelValues(string(mode), "success").Inc()
	rs.logger.Info("sync completed",
		"fans", items.Fans,
		"transactions", items.Transactions,
		"dropped_invalid_fans", result.Dropped.InvalidFans,
		"dropped_invalid_transactions", result.Dropped.InvalidTransactions,
		"dropped_unknown_fan", result.Dropped.UnknownFan,
		"duration_seconds", duration,
		"dry_run", s.dryRun)

	return result, nil
}

// execute runs the stages in order, stopping at the first failure.
func (s *Service) execute(ctx context.Context, rs *runState, req Request) error {
	result := rs.result

	rs.report(ctx, StageAuthenticating, 10, "Verifying platform credentials", nil)
	if err := req.validate(result.Mode, result.Since); err != nil {
		return rs.fail(ErrInvalidRequest, err)
	}

	valid, err := s.platform.Authenticate(ctx, req.ExternalHandle, req.AccessToken)
	if err != nil {
		return rs.fail(fetchKind(err), fmt.Errorf("verifying token: %w", err))
	}
	if !valid {
		return rs.fail(ErrAuthentication, errors.New("platform rejected the access token"))
	}

	rs.report(ctx, StageFetchingStats, 25, "Fetching creator statistics", nil)
	stats, err := s.platform.CreatorStats(ctx, req.ExternalHandle, req.AccessToken)
	if err != nil {
		return rs.fail(fetchKind(err), fmt.Errorf("fetching stats: %w", err))
	}
	if stats != nil {
		m := stats.Metrics()
		result.UpdatedMetrics = &m
	} else {
		rs.logger.Warn("platform returned no stats, metrics left unchanged")
	}

	rs.report(ctx, StageFetchingTransactions, 40,
		fmt.Sprintf("Fetching transactions since %s", result.Since.UTC().Format(time.DateOnly)), nil)
	transactions, err := s.platform.TransactionHistory(ctx, req.ExternalHandle, req.AccessToken, result.Since)
	if err != nil {
		return rs.fail(fetchKind(err), fmt.Errorf("fetching transactions: %w", err))
	}
	rs.report(ctx, StageFetchingTransactions, 55, fmt.Sprintf("Found %d transactions", len(transactions)), nil)

	rs.report(ctx, StageFetchingFans, 70, "Fetching subscribers", nil)
	subscribers, err := s.platform.Subscribers(ctx, req.ExternalHandle, req.AccessToken)
	if err != nil {
		return rs.fail(fetchKind(err), fmt.Errorf("fetching subscribers: %w", err))
	}
	rs.report(ctx, StageFetchingFans, 85, fmt.Sprintf("Found %d subscribers", len(subscribers)), nil)

	rs.report(ctx, StageProcessing, 90,
		fmt.Sprintf("Processing %d subscribers and %d transactions", len(subscribers), len(transactions)), nil)
	return s.process(ctx, rs, req.CreatorID, subscribers, transactions)
}

// process maps and persists fans, then transactions, then metrics.
// Transactions are mapped only after fans are stored, since they resolve fans through the lookup.
func (s *Service) process(
	ctx context.Context,
	rs *runState,
	creatorID string,
	subscribers []platform.Subscriber,
	transactions []platform.Transaction,
) error {
	result := rs.result

	fans, lookup := s.mapFans(rs, creatorID, subscribers)
	if len(fans) > 0 {
		inserted, err := s.storage.UpsertFans(ctx, fans)
		if err != nil {
			return rs.fail(ErrStorage, fmt.Errorf("storing fans: %w", err))
		}
		rs.logger.Info("stored fans", "count", len(fans), "new", inserted, "updated", len(fans)-inserted)
	}
	result.ItemsSynced.Fans = len(fans)
	metrics.ItemsSynced.WithLabelValues("fan").Add(float64(len(fans)))

	mapped := s.mapTransactions(rs, creatorID, transactions, lookup)
	if len(mapped) > 0 {
		inserted, err := s.storage.AppendTransactions(ctx, mapped)
		if err != nil {
			return rs.fail(ErrStorage, fmt.Errorf("appending transactions: %w", err))
		}
		rs.logger.Info("stored transactions", "count", len(mapped), "new", inserted)
	}
	result.ItemsSynced.Transactions = len(mapped)
	metrics.ItemsSynced.WithLabelValues("transaction").Add(float64(len(mapped)))

	if result.UpdatedMetrics != nil {
		if err := s.storage.UpdateCreatorMetrics(ctx, creatorID, *result.UpdatedMetrics); err != nil {
			return rs.fail(ErrStorage, fmt.Errorf("updating creator metrics: %w", err))
		}
	}

	return nil
}

// mapFans converts subscribers to fans and builds the external to internal fan ID lookup.
// Subscribers that fail to map are dropped.
func (s *Service) mapFans(
	rs *runState,
	creatorID string,
	subscribers []platform.Subscriber,
) ([]creator.Fan, map[string]string) {
	fans := make([]creator.Fan, 0, len(subscribers))
	lookup := make(map[string]string, len(subscribers))

	for i := range subscribers {
		fan, err := subscribers[i].ToDomainType(creatorID)
		if err != nil {
			rs.result.Dropped.InvalidFans++
			metrics.RecordsDropped.WithLabelValues("invalid_fan").Inc()
			rs.logger.Warn("dropping subscriber", "error", errors.Join(ErrMapping, err))
			continue
		}
		if _, seen := lookup[fan.ExternalID]; seen {
			rs.logger.Debug("skipping repeated subscriber", "external_id", fan.ExternalID)
			continue
		}
		fans = append(fans, *fan)
		lookup[fan.ExternalID] = fan.ID
	}

	return fans, lookup
}

// mapTransactions converts transactions whose fan is in lookup. Others are dropped.
func (s *Service) mapTransactions(
	rs *runState,
	creatorID string,
	transactions []platform.Transaction,
	lookup map[string]string,
) []creator.Transaction {
	mapped := make([]creator.Transaction, 0, len(transactions))

	for i := range transactions {
		raw := &transactions[i]

		fanID, ok := lookup[raw.FanID]
		if !ok {
			rs.result.Dropped.UnknownFan++
			metrics.RecordsDropped.WithLabelValues("unknown_fan").Inc()
			rs.logger.Debug("dropping transaction for unknown fan",
				"transaction_id", raw.ID,
				"external_fan_id", raw.FanID)
			continue
		}

		tx, err := raw.ToDomainType(creatorID, fanID)
		if err != nil {
			rs.result.Dropped.InvalidTransactions++
			metrics.RecordsDropped.WithLabelValues("invalid_transaction").Inc()
			rs.logger.Warn("dropping transaction", "error", errors.Join(ErrMapping, err))
			continue
		}
		mapped = append(mapped, *tx)
	}

	return mapped
}

// fail builds the terminal error for the current stage.
func (rs *runState) fail(kind error, err error) error {
	return &RunError{Err: err, Kind: kind, Stage: rs.stage}
}

// report moves the run to stage and emits progress. Percent never decreases within a run.
func (rs *runState) report(ctx context.Context, stage Stage, percent int, message string, items *ItemsSynced) {
	if stage != StageError {
		rs.stage = stage
	}
	rs.percent = max(rs.percent, percent)

	rs.logger.Debug("sync progress", "stage", stage, "progress", rs.percent, "message", message)

	if rs.onProgress == nil {
		return
	}
	rs.onProgress(ctx, Progress{
		ItemsSynced: items,
		Message:     message,
		Mode:        rs.result.Mode,
		Percent:     rs.percent,
		Stage:       stage,
	})
}

// validate checks the request before any platform call.
func (r Request) validate(mode Mode, since time.Time) error {
	var errs []error
	if strings.TrimSpace(r.CreatorID) == "" {
		errs = append(errs, errors.New("creator ID is required"))
	}
	if strings.TrimSpace(r.ExternalHandle) == "" {
		errs = append(errs, errors.New("external handle is required"))
	}
	if r.AccessToken == "" {
		errs = append(errs, errors.New("access token is required"))
	}
	if mode == ModeIncremental && since.IsZero() {
		errs = append(errs, errors.New("incremental sync requires a since time"))
	}
	return errors.Join(errs...)
}

// fetchKind classifies a platform error: token rejections are authentication failures.
func fetchKind(err error) error {
	if platform.IsUnauthorized(err) {
		return ErrAuthentication
	}
	return ErrUpstreamFetch
}
