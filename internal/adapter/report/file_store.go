package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hive-corporation/sitescan/internal/adapter/metrics"
	"github.com/hive-corporation/sitescan/internal/core/domain"
)

// ErrEmit marks a failure to deliver a rendered report, as opposed to a
// failure to compute it.
var ErrEmit = errors.New("report emission failed")

// FileStore writes report artifacts into a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Write stores the artifact under its own name and returns the file path.
// Existing files with the same name are replaced.
func (s *FileStore) Write(ctx context.Context, artifact *domain.ReportArtifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("%w: nil artifact", ErrEmit)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrEmit, err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		metrics.RecordReport("emit_error")
		return "", fmt.Errorf("%w: create %s: %w", ErrEmit, s.dir, err)
	}

	path := filepath.Join(s.dir, filepath.Base(artifact.Name))
	if err := os.WriteFile(path, artifact.Content, 0o644); err != nil {
		metrics.RecordReport("emit_error")
		return "", fmt.Errorf("%w: write %s: %w", ErrEmit, path, err)
	}

	metrics.RecordReport("emitted")
	return path, nil
}
