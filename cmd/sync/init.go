package main

import (
	"fmt"
	"io"
	"os"

	"github.com/peteski22/creatorsync/internal/config"
)

const configTemplate = `# creatorsync configuration

platform:
  # From the creator platform developer console -> Applications.
  client_id: ""
  client_secret: ""
  # Optional: override the platform endpoints.
  # base_url: "https://api.creatorplatform.example/v1"
  # auth_url: "https://auth.creatorplatform.example/oauth/authorize"
  # token_url: "https://auth.creatorplatform.example/oauth/token"

storage:
  # Optional: defaults to creatorsync.db in this directory.
  # sqlite_path: ""
  # Optional: defaults to the tokens directory next to this file.
  # token_dir: ""
`

// runInit creates a sample configuration file.
func runInit(out io.Writer) error {
	configDir, err := config.ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}

	configPath, err := config.ConfigFilePath()
	if err != nil {
		return fmt.Errorf("getting config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	tokenDir, err := config.TokenDir()
	if err != nil {
		return fmt.Errorf("getting token directory: %w", err)
	}

	_, _ = fmt.Fprintln(out, "Created config file:", configPath)
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "Next steps:")
	_, _ = fmt.Fprintln(out, "  1. Edit the config file with your platform credentials")
	_, _ = fmt.Fprintln(out, "  2. Run 'creatorsync auth --creator ID' to authorize a creator")
	_, _ = fmt.Fprintln(out, "  3. Run 'creatorsync run --creator ID --handle HANDLE --dry-run' to test")
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintf(out, "Refresh tokens will be stored in: %s\n", tokenDir)

	return nil
}
