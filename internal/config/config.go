// Package config provides configuration loading from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvDynamoDBTableName is the DynamoDB table holding creators, fans and transactions.
	EnvDynamoDBTableName = "DYNAMODB_TABLE_NAME"

	// EnvMySQLDSN is the MySQL data source name.
	EnvMySQLDSN = "MYSQL_DSN"

	// EnvPlatformClientID is the OAuth client ID for the creator platform.
	EnvPlatformClientID = "PLATFORM_CLIENT_ID"

	// EnvPlatformClientSecret is the OAuth client secret for the creator platform.
	EnvPlatformClientSecret = "PLATFORM_CLIENT_SECRET"

	// EnvRedisAddr is the Redis address used for sync status.
	EnvRedisAddr = "REDIS_ADDR"

	// EnvSQLitePath is the SQLite database file.
	EnvSQLitePath = "SQLITE_PATH"

	// EnvStatusBackend selects where sync status is kept.
	EnvStatusBackend = "STATUS_BACKEND"

	// EnvStorageBackend selects the datastore.
	EnvStorageBackend = "STORAGE_BACKEND"

	// EnvTokenBackend selects where refresh tokens are kept.
	EnvTokenBackend = "TOKEN_BACKEND"

	// EnvTokenDir is the directory of the file token store.
	EnvTokenDir = "TOKEN_DIR"

	// EnvTokenSecretPrefix is the Secrets Manager name prefix for refresh tokens.
	EnvTokenSecretPrefix = "TOKEN_SECRET_PREFIX"
)

// Storage backends.
const (
	StorageDynamoDB = "dynamodb"
	StorageMemory   = "memory"
	StorageMySQL    = "mysql"
	StorageSQLite   = "sqlite"
)

// Status backends.
const (
	StatusMemory = "memory"
	StatusRedis  = "redis"
)

// Token backends.
const (
	TokenFile           = "file"
	TokenSecretsManager = "secretsmanager"
)

// Platform holds creator platform API and OAuth configuration.
type Platform struct {
	// AuthURL is the OAuth authorization endpoint.
	AuthURL string `envconfig:"PLATFORM_AUTH_URL" default:"https://auth.creatorplatform.example/oauth/authorize"`

	// BaseURL is the base URL for API requests.
	BaseURL string `envconfig:"PLATFORM_BASE_URL" default:"https://api.creatorplatform.example/v1"`

	// ClientID is the OAuth client identifier.
	ClientID string `envconfig:"PLATFORM_CLIENT_ID"`

	// ClientSecret is the OAuth client secret.
	ClientSecret string `envconfig:"PLATFORM_CLIENT_SECRET"`

	// RateLimit is the maximum outbound requests per second.
	RateLimit float64 `envconfig:"PLATFORM_RATE_LIMIT" default:"10"`

	// Timeout is the HTTP timeout for API requests.
	Timeout time.Duration `envconfig:"PLATFORM_TIMEOUT" default:"30s"`

	// TokenURL is the OAuth token endpoint.
	TokenURL string `envconfig:"PLATFORM_TOKEN_URL" default:"https://auth.creatorplatform.example/oauth/token"`
}

// Redis holds Redis connection settings for the status store.
type Redis struct {
	// Addr is the host:port of the Redis server.
	Addr string `envconfig:"REDIS_ADDR"`

	// DB is the Redis database number.
	DB int `envconfig:"REDIS_DB" default:"0"`

	// KeyPrefix namespaces the status keys.
	KeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"creatorsync:sync-status"`

	// Password authenticates to Redis (optional).
	Password string `envconfig:"REDIS_PASSWORD"`
}

// Server holds HTTP server settings.
type Server struct {
	// Addr is the listen address.
	Addr string `envconfig:"SERVER_ADDR" default:":8080"`

	// AllowedOrigins are the CORS origins allowed to call the API.
	AllowedOrigins []string `envconfig:"SERVER_ALLOWED_ORIGINS" default:"*"`

	// ReadTimeout bounds reading a request.
	ReadTimeout time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`

	// ShutdownTimeout bounds graceful shutdown, including waiting for running syncs.
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// SyncRateLimit is the number of sync start requests allowed per IP per minute.
	SyncRateLimit int `envconfig:"SERVER_SYNC_RATE_LIMIT" default:"10"`

	// WriteTimeout bounds writing a response.
	WriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15s"`
}

// SSM holds AWS Systems Manager Parameter Store configuration.
type SSM struct {
	// ParameterPrefix is the parameter path under which last sync times are kept.
	// When empty the datastore keeps them on the creator record.
	ParameterPrefix string `envconfig:"SSM_PARAMETER_PREFIX"`
}

// Storage holds datastore configuration.
type Storage struct {
	// Backend is one of sqlite, mysql, dynamodb or memory.
	Backend string `envconfig:"STORAGE_BACKEND" default:"sqlite"`

	// DynamoDBTableName is the single table used by the dynamodb backend.
	DynamoDBTableName string `envconfig:"DYNAMODB_TABLE_NAME"`

	// MySQLDSN is the data source name used by the mysql backend.
	MySQLDSN string `envconfig:"MYSQL_DSN"`

	// SQLitePath is the database file used by the sqlite backend.
	SQLitePath string `envconfig:"SQLITE_PATH" default:"./data/creatorsync.db"`
}

// Sync holds sync pipeline settings.
type Sync struct {
	// DryRun skips all writes to storage.
	DryRun bool `envconfig:"SYNC_DRY_RUN" default:"false"`

	// InitialWindowDays is how far back an initial sync reaches.
	InitialWindowDays int `envconfig:"SYNC_INITIAL_WINDOW_DAYS" default:"90"`

	// RunTimeout bounds a single run.
	RunTimeout time.Duration `envconfig:"SYNC_RUN_TIMEOUT" default:"15m"`

	// StaleAfter is how long an in-flight run may go without progress before it counts as abandoned.
	StaleAfter time.Duration `envconfig:"SYNC_STALE_AFTER" default:"30m"`

	// StatusBackend is one of memory or redis.
	StatusBackend string `envconfig:"STATUS_BACKEND" default:"memory"`
}

// Tokens holds refresh token storage configuration.
type Tokens struct {
	// Backend is one of file or secretsmanager.
	Backend string `envconfig:"TOKEN_BACKEND" default:"file"`

	// Dir is the directory used by the file backend.
	Dir string `envconfig:"TOKEN_DIR"`

	// SecretPrefix is the secret name prefix used by the secretsmanager backend.
	SecretPrefix string `envconfig:"TOKEN_SECRET_PREFIX" default:"creatorsync/refresh-tokens"`
}

// Settings holds all configuration for the application.
type Settings struct {
	// LogLevel is the minimum level logged (debug, info, warn, error).
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Platform contains creator platform settings.
	Platform Platform

	// Redis contains Redis settings.
	Redis Redis

	// Server contains HTTP server settings.
	Server Server

	// SSM contains AWS Systems Manager Parameter Store settings.
	SSM SSM

	// Storage contains datastore settings.
	Storage Storage

	// Sync contains sync pipeline settings.
	Sync Sync

	// Tokens contains refresh token storage settings.
	Tokens Tokens
}

// InitialWindow returns the initial sync window as a duration.
func (s *Sync) InitialWindow() time.Duration {
	return time.Duration(s.InitialWindowDays) * 24 * time.Hour
}

// SlogLevel parses LogLevel, defaulting to info for unknown values.
func (s *Settings) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func (s *Settings) validate() error {
	var errs []error

	if s.Platform.ClientID == "" {
		errs = append(errs, requiredError(EnvPlatformClientID))
	}
	if s.Platform.ClientSecret == "" {
		errs = append(errs, requiredError(EnvPlatformClientSecret))
	}
	if s.Platform.RateLimit <= 0 {
		errs = append(errs, errors.New("PLATFORM_RATE_LIMIT must be positive"))
	}

	switch s.Storage.Backend {
	case StorageSQLite:
		if s.Storage.SQLitePath == "" {
			errs = append(errs, requiredError(EnvSQLitePath))
		}
	case StorageMySQL:
		if s.Storage.MySQLDSN == "" {
			errs = append(errs, requiredError(EnvMySQLDSN))
		}
	case StorageDynamoDB:
		if s.Storage.DynamoDBTableName == "" {
			errs = append(errs, requiredError(EnvDynamoDBTableName))
		}
	case StorageMemory:
	default:
		errs = append(errs, unsupportedError(EnvStorageBackend, s.Storage.Backend))
	}

	switch s.Sync.StatusBackend {
	case StatusMemory:
	case StatusRedis:
		if s.Redis.Addr == "" {
			errs = append(errs, requiredError(EnvRedisAddr))
		}
	default:
		errs = append(errs, unsupportedError(EnvStatusBackend, s.Sync.StatusBackend))
	}

	switch s.Tokens.Backend {
	case TokenFile:
		if s.Tokens.Dir == "" {
			errs = append(errs, requiredError(EnvTokenDir))
		}
	case TokenSecretsManager:
		if s.Tokens.SecretPrefix == "" {
			errs = append(errs, requiredError(EnvTokenSecretPrefix))
		}
	default:
		errs = append(errs, unsupportedError(EnvTokenBackend, s.Tokens.Backend))
	}

	if s.Sync.InitialWindowDays <= 0 {
		errs = append(errs, errors.New("SYNC_INITIAL_WINDOW_DAYS must be positive"))
	}
	if s.Sync.RunTimeout <= 0 {
		errs = append(errs, errors.New("SYNC_RUN_TIMEOUT must be positive"))
	}
	switch {
	case s.Sync.StaleAfter < 0:
		errs = append(errs, errors.New("SYNC_STALE_AFTER cannot be negative"))
	case s.Sync.StaleAfter > 0 && s.Sync.StaleAfter <= s.Sync.RunTimeout:
		// A live run reports only at stage boundaries, so it must not look abandoned before it times out.
		errs = append(errs, fmt.Errorf("SYNC_STALE_AFTER (%s) must exceed SYNC_RUN_TIMEOUT (%s)",
			s.Sync.StaleAfter, s.Sync.RunTimeout))
	}

	return errors.Join(errs...)
}

// Load reads configuration from environment variables, after loading a .env file if one exists.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	var cfg Settings
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}

	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	cfg.Sync.StatusBackend = strings.ToLower(strings.TrimSpace(cfg.Sync.StatusBackend))
	cfg.Tokens.Backend = strings.ToLower(strings.TrimSpace(cfg.Tokens.Backend))

	if cfg.Tokens.Backend == TokenFile && cfg.Tokens.Dir == "" {
		if dir, err := TokenDir(); err == nil {
			cfg.Tokens.Dir = dir
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func requiredError(envVar string) error {
	return fmt.Errorf("%s is required", envVar)
}

func unsupportedError(envVar string, value string) error {
	return fmt.Errorf("%s has unsupported value %q", envVar, value)
}
