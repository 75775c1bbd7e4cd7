// Package app builds the sync pipeline from settings, choosing concrete backends.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"github.com/peteski22/creatorsync/internal/config"
	"github.com/peteski22/creatorsync/internal/creator"
	"github.com/peteski22/creatorsync/internal/handler"
	"github.com/peteski22/creatorsync/internal/platform"
	"github.com/peteski22/creatorsync/internal/router"
	"github.com/peteski22/creatorsync/internal/storage"
	"github.com/peteski22/creatorsync/internal/sync"
)

// Version is reported by the health endpoint. Overridden at build time with -ldflags.
var Version = "dev"

// redisPingTimeout bounds the connection check made at startup.
const redisPingTimeout = 5 * time.Second

// Datastore is what every storage backend provides.
type Datastore interface {
	sync.CreatorDirectory
	sync.StateStore
	sync.Storage

	// Creators returns every known creator.
	Creators(ctx context.Context) ([]creator.Creator, error)

	// SaveCreator creates or updates a creator's profile.
	SaveCreator(ctx context.Context, c creator.Creator) error
}

// App is the assembled sync pipeline.
type App struct {
	// Datastore holds creators, fans and transactions.
	Datastore Datastore

	// Runner starts and supervises sync runs.
	Runner *sync.Runner

	// Status holds sync progress per creator.
	Status sync.StatusStore

	// Tokens hands out platform access tokens per creator.
	Tokens *platform.TokenManager

	awsCfg  *aws.Config
	cfg     *config.Settings
	checks  map[string]handler.CheckFunc
	closers []func() error
	logger  *slog.Logger
}

// New builds the application from settings.
// Backends that need AWS load the default credential chain once.
func New(ctx context.Context, cfg *config.Settings, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("settings are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		cfg:    cfg,
		checks: make(map[string]handler.CheckFunc),
		logger: logger,
	}

	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	return a, nil
}

// Close releases connections held by the backends.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Handler returns the HTTP API of the application.
func (a *App) Handler() (http.Handler, error) {
	syncHandler, err := handler.NewSyncHandler(a.Runner, a.Status, a.logger)
	if err != nil {
		return nil, fmt.Errorf("creating sync handler: %w", err)
	}

	return router.New(router.Config{
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		HealthHandler:  handler.NewHealthHandler(Version, a.checks),
		Logger:         a.logger,
		SyncHandler:    syncHandler,
		SyncRateLimit:  a.cfg.Server.SyncRateLimit,
	}), nil
}

func (a *App) build(ctx context.Context) error {
	datastore, err := a.newDatastore(ctx)
	if err != nil {
		return fmt.Errorf("creating datastore: %w", err)
	}
	a.Datastore = datastore

	state, err := a.newStateStore(ctx)
	if err != nil {
		return fmt.Errorf("creating state store: %w", err)
	}

	status, err := a.newStatusStore(ctx)
	if err != nil {
		return fmt.Errorf("creating status store: %w", err)
	}
	a.Status = status

	tokenStore, err := a.newTokenStore(ctx)
	if err != nil {
		return fmt.Errorf("creating token store: %w", err)
	}

	a.Tokens, err = platform.NewTokenManager(platform.OAuthConfig{
		AuthURL:      a.cfg.Platform.AuthURL,
		ClientID:     a.cfg.Platform.ClientID,
		ClientSecret: a.cfg.Platform.ClientSecret,
		TokenURL:     a.cfg.Platform.TokenURL,
	}, tokenStore)
	if err != nil {
		return fmt.Errorf("creating token manager: %w", err)
	}

	client, err := NewPlatformClient(a.cfg.Platform, a.logger)
	if err != nil {
		return err
	}

	svc, err := sync.New(sync.Config{
		DryRun:        a.cfg.Sync.DryRun,
		InitialWindow: a.cfg.Sync.InitialWindow(),
		Logger:        a.logger,
		Platform:      client,
		Storage:       datastore,
	})
	if err != nil {
		return fmt.Errorf("creating sync service: %w", err)
	}

	a.Runner, err = sync.NewRunner(sync.RunnerConfig{
		Creators:   datastore,
		Logger:     a.logger,
		RunTimeout: a.cfg.Sync.RunTimeout,
		Service:    svc,
		State:      state,
		Status:     status,
		Tokens:     a.Tokens,
	})
	if err != nil {
		return fmt.Errorf("creating runner: %w", err)
	}

	return nil
}

// NewPlatformClient creates the rate limited platform client behind a circuit breaker.
func NewPlatformClient(cfg config.Platform, logger *slog.Logger) (*platform.BreakerClient, error) {
	client, err := platform.NewClient(
		platform.WithBaseURL(cfg.BaseURL),
		platform.WithRateLimit(cfg.RateLimit, int(math.Ceil(cfg.RateLimit))),
		platform.WithTimeout(cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("creating platform client: %w", err)
	}

	return platform.NewBreakerClient(client, platform.BreakerSettings{Logger: logger}), nil
}

func (a *App) loadAWSConfig(ctx context.Context) (aws.Config, error) {
	if a.awsCfg != nil {
		return *a.awsCfg, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	a.awsCfg = &awsCfg
	return awsCfg, nil
}

func (a *App) newDatastore(ctx context.Context) (Datastore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageSQLite:
		if err := ensureDir(a.cfg.Storage.SQLitePath); err != nil {
			return nil, err
		}
		store, err := storage.NewSQLiteStore(ctx, a.cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		a.checks["database"] = store.Ping
		return store, nil

	case config.StorageMySQL:
		store, err := storage.NewMySQLStore(ctx, a.cfg.Storage.MySQLDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		a.checks["database"] = store.Ping
		return store, nil

	case config.StorageDynamoDB:
		awsCfg, err := a.loadAWSConfig(ctx)
		if err != nil {
			return nil, err
		}
		return storage.NewDynamoDBStore(dynamodb.NewFromConfig(awsCfg), a.cfg.Storage.DynamoDBTableName)

	case config.StorageMemory:
		a.logger.Warn("Using in-memory storage, data is lost on restart")
		return storage.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unsupported storage backend %q", a.cfg.Storage.Backend)
	}
}

// newStateStore returns where last sync times live. Dry runs never advance them.
func (a *App) newStateStore(ctx context.Context) (sync.StateStore, error) {
	if a.cfg.Sync.DryRun {
		return storage.NewNoopStateStore(time.Time{}), nil
	}

	if a.cfg.SSM.ParameterPrefix == "" {
		return a.Datastore, nil
	}

	awsCfg, err := a.loadAWSConfig(ctx)
	if err != nil {
		return nil, err
	}
	return storage.NewStateStore(ssm.NewFromConfig(awsCfg), a.cfg.SSM.ParameterPrefix)
}

func (a *App) newStatusStore(ctx context.Context) (sync.StatusStore, error) {
	switch a.cfg.Sync.StatusBackend {
	case config.StatusMemory:
		return sync.NewMemoryStatusStore(a.cfg.Sync.StaleAfter), nil

	case config.StatusRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			DB:       a.cfg.Redis.DB,
			Password: a.cfg.Redis.Password,
		})
		a.closers = append(a.closers, client.Close)

		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.checks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}

		return storage.NewRedisStatusStore(client, a.cfg.Redis.KeyPrefix, a.cfg.Sync.StaleAfter)

	default:
		return nil, fmt.Errorf("unsupported status backend %q", a.cfg.Sync.StatusBackend)
	}
}

func (a *App) newTokenStore(ctx context.Context) (platform.TokenStore, error) {
	switch a.cfg.Tokens.Backend {
	case config.TokenFile:
		return storage.NewFileTokenStore(a.cfg.Tokens.Dir)

	case config.TokenSecretsManager:
		awsCfg, err := a.loadAWSConfig(ctx)
		if err != nil {
			return nil, err
		}
		return storage.NewTokenStore(secretsmanager.NewFromConfig(awsCfg), a.cfg.Tokens.SecretPrefix)

	default:
		return nil, fmt.Errorf("unsupported token backend %q", a.cfg.Tokens.Backend)
	}
}

// ensureDir creates the parent directory of a database file.
func ensureDir(path string) error {
	if path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	return nil
}
