package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/21Micheal/netsec/internal/observability"
)

// FSStorage keeps archived reports on the local filesystem under a
// base directory.
type FSStorage struct {
	basePath string
	logger   observability.Logger
	metrics  observability.Metrics
}

// NewFSStorage creates the base directory and returns the store.
func NewFSStorage(basePath string, logger observability.Logger, metrics observability.Metrics) (*FSStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		logger.Error("failed to create archive path", "path", basePath, "error", err)
		return nil, fmt.Errorf("failed to create archive path: %w", err)
	}
	logger.Info("filesystem archive initialized", "base_path", basePath)
	return &FSStorage{basePath: basePath, logger: logger, metrics: metrics}, nil
}

// objectPath sanitizes the key against directory traversal.
func (s *FSStorage) objectPath(key string) string {
	key = strings.TrimPrefix(key, "/")
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

func (s *FSStorage) Put(_ context.Context, key string, reader io.Reader, _ string) error {
	path := s.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.metrics.IncrementCounter("archive_fs_errors", map[string]string{"op": "mkdir"})
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		s.metrics.IncrementCounter("archive_fs_errors", map[string]string{"op": "create"})
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, reader)
	if err != nil {
		s.metrics.IncrementCounter("archive_fs_errors", map[string]string{"op": "write"})
		return fmt.Errorf("failed to write data: %w", err)
	}

	s.metrics.RecordHistogram("archive_fs_put_bytes", float64(written), nil)
	return nil
}

func (s *FSStorage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(s.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

func (s *FSStorage) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.objectPath(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
