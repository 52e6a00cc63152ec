// Package storage keeps generated artifacts (image backend output) on the
// local data root, keyed by artifact id.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactStore stores artifacts under <dataRoot>/artifacts/<key>.
type ArtifactStore struct {
	dataRoot string
}

// NewArtifactStore resolves dataRoot and returns a store.
func NewArtifactStore(dataRoot string) (*ArtifactStore, error) {
	abs, err := filepath.Abs(dataRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve data root: %w", err)
	}
	return &ArtifactStore{dataRoot: abs}, nil
}

// Put writes data under key.
func (s *ArtifactStore) Put(_ context.Context, key string, reader io.Reader) error {
	dest, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, reader); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Open reads the artifact stored under key.
func (s *ArtifactStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	dest, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(dest)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Delete removes the artifact stored under key. Missing files are not an
// error.
func (s *ArtifactStore) Delete(_ context.Context, key string) error {
	dest, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (s *ArtifactStore) path(key string) (string, error) {
	clean := filepath.Clean(key)
	if clean == "" || clean == "." || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid artifact key: %s", key)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal is forbidden: %s", key)
	}
	joined := filepath.Join(s.dataRoot, "artifacts", clean)
	if !strings.HasPrefix(joined, s.dataRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes data root: %s", key)
	}
	return joined, nil
}
