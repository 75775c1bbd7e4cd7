package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configDirName    = ".creatorsync"
	configFileName   = "config.yaml"
	dbFileName       = "creatorsync.db"
	defaultAuthURL   = "https://auth.creatorplatform.example/oauth/authorize"
	defaultBaseURL   = "https://api.creatorplatform.example/v1"
	defaultRateLimit = 10
	defaultTimeout   = 30 * time.Second
	defaultTokenURL  = "https://auth.creatorplatform.example/oauth/token"
	tokenDirName     = "tokens"
)

// LocalConfig holds configuration loaded from a local file.
type LocalConfig struct {
	// Platform holds the platform API and OAuth settings.
	Platform Platform

	// SQLitePath is the local database file.
	SQLitePath string

	// TokenDir is the directory holding refresh tokens.
	TokenDir string
}

// localConfig represents the local configuration file structure.
type localConfig struct {
	Platform localPlatform `yaml:"platform"`
	Storage  localStorage  `yaml:"storage"`
}

// localPlatform represents the platform section of the config file.
type localPlatform struct {
	AuthURL      string `yaml:"auth_url"`
	BaseURL      string `yaml:"base_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
}

// localStorage represents the storage section of the config file.
type localStorage struct {
	SQLitePath string `yaml:"sqlite_path"`
	TokenDir   string `yaml:"token_dir"`
}

// ConfigDir returns the creatorsync configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, configDirName), nil
}

// ConfigFilePath returns the path to the local config file.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// LoadLocal loads configuration from the local config file.
func LoadLocal() (*LocalConfig, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return loadLocal(filepath.Join(dir, configFileName), dir)
}

// loadLocal reads the config file at configPath, resolving default paths under dir.
func loadLocal(configPath string, dir string) (*LocalConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s (run 'creatorsync init' to create)", configPath)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var local localConfig
	if err := yaml.Unmarshal(data, &local); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &LocalConfig{
		Platform: Platform{
			AuthURL:      orDefault(local.Platform.AuthURL, defaultAuthURL),
			BaseURL:      orDefault(local.Platform.BaseURL, defaultBaseURL),
			ClientID:     local.Platform.ClientID,
			ClientSecret: local.Platform.ClientSecret,
			RateLimit:    defaultRateLimit,
			Timeout:      defaultTimeout,
			TokenURL:     orDefault(local.Platform.TokenURL, defaultTokenURL),
		},
		SQLitePath: orDefault(local.Storage.SQLitePath, filepath.Join(dir, dbFileName)),
		TokenDir:   orDefault(local.Storage.TokenDir, filepath.Join(dir, tokenDirName)),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LocalConfigExists checks if a local config file exists.
func LocalConfigExists() bool {
	configPath, err := ConfigFilePath()
	if err != nil {
		return false
	}
	_, err = os.Stat(configPath)
	return err == nil
}

// TokenDir returns the default directory for local refresh tokens.
func TokenDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, tokenDirName), nil
}

// validate checks that required fields are set.
func (c *LocalConfig) validate() error {
	var errs []error

	if c.Platform.ClientID == "" {
		errs = append(errs, errors.New("platform.client_id is required"))
	}
	if c.Platform.ClientSecret == "" {
		errs = append(errs, errors.New("platform.client_secret is required"))
	}

	return errors.Join(errs...)
}

func orDefault(value string, defaultValue string) string {
	if value != "" {
		return value
	}
	return defaultValue
}
