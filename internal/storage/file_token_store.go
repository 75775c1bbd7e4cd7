package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/peteski22/creatorsync/internal/platform"
)

// FileTokenStore stores OAuth refresh tokens in a local directory, one file per creator.
type FileTokenStore struct {
	dir string
}

// NewFileTokenStore creates a new FileTokenStore that reads/writes token files under dir.
func NewFileTokenStore(dir string) (*FileTokenStore, error) {
	if dir == "" {
		return nil, errors.New("token directory is required")
	}
	return &FileTokenStore{dir: dir}, nil
}

// RefreshToken returns the creator's refresh token from its file.
func (s *FileTokenStore) RefreshToken(_ context.Context, creatorID string) (string, error) {
	path, err := s.path(creatorID)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s (run 'creatorsync auth --creator %s' to authenticate)",
				platform.ErrNoRefreshToken, path, creatorID)
		}
		return "", fmt.Errorf("reading token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("%w: token file is empty: %s", platform.ErrNoRefreshToken, path)
	}

	return token, nil
}

// SaveRefreshToken saves the creator's refresh token to its file.
func (s *FileTokenStore) SaveRefreshToken(_ context.Context, creatorID string, token string) error {
	path, err := s.path(creatorID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	return nil
}

// path returns the token file of a creator, rejecting IDs that would escape the directory.
func (s *FileTokenStore) path(creatorID string) (string, error) {
	if creatorID == "" {
		return "", errors.New("creator ID is required")
	}
	if creatorID != filepath.Base(creatorID) || creatorID == "." || creatorID == ".." {
		return "", fmt.Errorf("invalid creator ID %q", creatorID)
	}

	return filepath.Join(s.dir, creatorID+".token"), nil
}
