package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/peteski22/creatorsync/internal/app"
	"github.com/peteski22/creatorsync/internal/config"
	"github.com/peteski22/creatorsync/internal/creator"
	"github.com/peteski22/creatorsync/internal/sync"
)

const (
	localInitialWindowDays = 90
	localRunTimeout        = 15 * time.Minute
)

// runOptions controls one local sync.
type runOptions struct {
	// CreatorID is the creator to sync.
	CreatorID string

	// DryRun fetches and maps without writing to storage.
	DryRun bool

	// Handle registers or updates the creator's platform handle before syncing.
	Handle string

	// Initial forces a full initial sync.
	Initial bool

	// Name is the display name saved with Handle.
	Name string

	// Since overrides the start of the incremental window.
	Since time.Time
}

// runSync parses the run flags and syncs one creator using the local config.
func runSync(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(out)
	creatorID := fs.String("creator", "", "creator ID to sync (required)")
	dryRun := fs.Bool("dry-run", false, "fetch and map without writing to storage")
	handle := fs.String("handle", "", "platform handle; registers the creator when set")
	initial := fs.Bool("initial", false, "force a full initial sync")
	name := fs.String("name", "", "display name saved with --handle")
	since := fs.String("since", "", "sync transactions since this time (RFC3339)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *creatorID == "" {
		return errors.New("--creator is required")
	}

	opts := runOptions{
		CreatorID: *creatorID,
		DryRun:    *dryRun,
		Handle:    *handle,
		Initial:   *initial,
		Name:      *name,
	}
	if *since != "" {
		t, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			return fmt.Errorf("invalid --since %q: %w", *since, err)
		}
		opts.Since = t
	}
	if opts.Initial && !opts.Since.IsZero() {
		return errors.New("--since cannot be combined with --initial")
	}

	cfg, err := config.LoadLocal()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	return syncLocal(ctx, cfg, opts, slog.Default(), out)
}

// localSettings maps the local config file onto application settings.
func localSettings(cfg *config.LocalConfig, dryRun bool) *config.Settings {
	return &config.Settings{
		LogLevel: "info",
		Platform: cfg.Platform,
		Storage: config.Storage{
			Backend:    config.StorageSQLite,
			SQLitePath: cfg.SQLitePath,
		},
		Sync: config.Sync{
			DryRun:            dryRun,
			InitialWindowDays: localInitialWindowDays,
			RunTimeout:        localRunTimeout,
			StaleAfter:        sync.DefaultStaleAfter,
			StatusBackend:     config.StatusMemory,
		},
		Tokens: config.Tokens{
			Backend: config.TokenFile,
			Dir:     cfg.TokenDir,
		},
	}
}

// syncLocal runs one creator's sync to completion and prints a summary.
func syncLocal(ctx context.Context, cfg *config.LocalConfig, opts runOptions, logger *slog.Logger, out io.Writer) error {
	if logger == nil {
		logger = slog.Default()
	}

	a, err := app.New(ctx, localSettings(cfg, opts.DryRun), logger)
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}
	defer func() { _ = a.Close() }()

	if opts.Handle != "" {
		if err := a.Datastore.SaveCreator(ctx, creator.Creator{
			ExternalHandle: opts.Handle,
			ID:             opts.CreatorID,
			Name:           opts.Name,
		}); err != nil {
			return fmt.Errorf("registering creator: %w", err)
		}
	}

	req := sync.StartRequest{CreatorID: opts.CreatorID, Since: opts.Since}
	if opts.Initial {
		req.Mode = sync.ModeInitial
	}

	run, err := a.Runner.Start(ctx, req)
	if errors.Is(err, creator.ErrNotFound) {
		return fmt.Errorf("creator %s is not registered (pass --handle to register it)", opts.CreatorID)
	}
	if err != nil {
		return fmt.Errorf("starting sync: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Syncing %s (%s run %s)...\n", opts.CreatorID, run.Mode, run.ID)

	result, waitErr := run.Wait(ctx)
	if shutdownErr := a.Runner.Shutdown(context.Background()); shutdownErr != nil {
		logger.Warn("stopping runner", "error", shutdownErr)
	}
	if result == nil {
		return fmt.Errorf("waiting for sync: %w", waitErr)
	}

	printResult(out, result)

	if waitErr != nil {
		return fmt.Errorf("sync failed at %s: %w", result.Stage, waitErr)
	}
	return nil
}

func printResult(out io.Writer, result *sync.Result) {
	_, _ = fmt.Fprintln(out)
	if result.DryRun {
		_, _ = fmt.Fprintln(out, "Dry run: nothing was written.")
	}
	_, _ = fmt.Fprintf(out, "Mode:          %s\n", result.Mode)
	if !result.Since.IsZero() {
		_, _ = fmt.Fprintf(out, "Since:         %s\n", result.Since.Format(time.RFC3339))
	}
	_, _ = fmt.Fprintf(out, "Stage:         %s\n", result.Stage)
	_, _ = fmt.Fprintf(out, "Fans:          %d\n", result.ItemsSynced.Fans)
	_, _ = fmt.Fprintf(out, "Transactions:  %d\n", result.ItemsSynced.Transactions)
	d := result.Dropped
	if dropped := d.InvalidFans + d.InvalidTransactions + d.UnknownFan; dropped > 0 {
		_, _ = fmt.Fprintf(out, "Dropped:       %d (invalid fans %d, invalid transactions %d, unknown fan %d)\n",
			dropped, d.InvalidFans, d.InvalidTransactions, d.UnknownFan)
	}
	if result.UpdatedMetrics != nil {
		_, _ = fmt.Fprintf(out, "Total revenue: %.2f\n", result.UpdatedMetrics.TotalRevenue)
	}
}
