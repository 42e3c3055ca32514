// Package modelsource provides model byte sources polled by the model
// refresher: a local file and an HTTP endpoint.
package modelsource

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/okian/decisionlog/internal/domain/modelslot"
)

// FileSource reads the model from a local file. The version is derived from
// the file size and modification time, so an untouched file is not re-read.
type FileSource struct {
	path string

	mu   sync.Mutex
	last string
}

// NewFileSource creates a source for path.
func NewFileSource(path string) (*FileSource, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidSource)
	}
	return &FileSource{path: path}, nil
}

// Fetch implements modelslot.Source.
func (s *FileSource) Fetch(ctx context.Context) (string, []byte, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	version := fmt.Sprintf("file-%d-%d", info.Size(), info.ModTime().UnixNano())
	if version == s.last {
		return "", nil, modelslot.ErrNotModified
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	s.last = version
	return version, data, nil
}
