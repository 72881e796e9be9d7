package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// LocalStore implements Store on a local directory
type LocalStore struct {
	basePath string
}

// NewLocalStore creates the base directory if needed
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

// Name returns the provider name
func (ls *LocalStore) Name() string {
	return "local"
}

func (ls *LocalStore) getPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid cache key: %q", key)
	}
	return filepath.Join(ls.basePath, clean), nil
}

// Get reads the object stored under key
func (ls *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := ls.getPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached artifact: %w", err)
	}
	return data, nil
}

// Put writes the object through a temporary file so readers never see a partial artifact
func (ls *LocalStore) Put(ctx context.Context, key string, data []byte) error {
	path, err := ls.getPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to store artifact: %w", err)
	}

	log.Debug().Str("key", key).Int("size", len(data)).Msg("Artifact stored in local cache")
	return nil
}

// Exists checks if an object is stored under key
func (ls *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	path, err := ls.getPath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
