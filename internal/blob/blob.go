// ABOUTME: Blob storage collaborator interface and filesystem implementation
// ABOUTME: Maps stored objects under a base directory to public URLs

package blob

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Store writes binary artifacts and returns a publicly fetchable URL. The
// gateway downloads media from these URLs, so the URL must resolve outside
// this process.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// FSStore stores blobs on the local filesystem under a base directory served
// at a base URL.
type FSStore struct {
	dir     string
	baseURL string
	logger  *slog.Logger
}

// NewFSStore creates a filesystem blob store.
func NewFSStore(dir, baseURL string, logger *slog.Logger) *FSStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("component", "blob"),
	}
}

// Put writes data under key and returns its public URL. Keys are
// slash-separated paths; escaping the base directory is rejected.
func (s *FSStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(clean, "..") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}

	target := filepath.Join(s.dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", fmt.Errorf("creating blob directory: %w", err)
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return "", fmt.Errorf("writing blob: %w", err)
	}

	url := s.baseURL + clean
	s.logger.Debug("stored blob", "key", clean, "bytes", len(data), "content_type", contentType)
	return url, nil
}
