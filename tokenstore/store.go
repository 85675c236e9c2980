// Package tokenstore keeps the viewer's single cached OAuth bearer token on disk.
//
// The cache is one text file holding exactly the token. Writes go through a
// temporary file and a rename so a reader never sees a partial or interleaved
// value. When a Sealer is configured the file holds the sealed token instead.
package tokenstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Sealer protects the token at rest. *crypto.Sealer implements it.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// FileStore is a single-slot token cache backed by a file.
type FileStore struct {
	Path   string
	Sealer Sealer
}

// New returns a store for path. sealer may be nil.
func New(path string, sealer Sealer) *FileStore {
	return &FileStore{Path: path, Sealer: sealer}
}

// Read returns the cached token, or "" when nothing is cached yet.
// A missing or empty file is not an error.
func (s *FileStore) Read() (string, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token cache: %w", err)
	}
	raw := strings.TrimSpace(string(b))
	if raw == "" || s.Sealer == nil {
		return raw, nil
	}
	tok, err := s.Sealer.Open(raw)
	if err != nil {
		// a cache sealed with another key is as good as no cache
		slog.Warn("token cache could not be opened; ignoring it", slog.String("path", s.Path), slog.Any("err", err), slog.String("component", "tokenstore"))
		return "", nil
	}
	return tok, nil
}

// Write replaces the cached token atomically.
func (s *FileStore) Write(token string) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	data := token
	if s.Sealer != nil {
		sealed, err := s.Sealer.Seal(token)
		if err != nil {
			return fmt.Errorf("seal token: %w", err)
		}
		data = sealed
	}

	tmp, err := os.CreateTemp(dir, ".oauth-token-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.WriteString(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp token file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp token file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("replace token cache: %w", err)
	}
	committed = true
	return nil
}

// Clear removes the cached token. Clearing an empty cache is a no-op.
func (s *FileStore) Clear() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove token cache: %w", err)
	}
	return nil
}
