// Package file stores artifacts in a local directory.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/3leaps/meshport/pkg/sink"
)

// Sink writes artifacts under a base directory. Keys are relative paths.
type Sink struct {
	baseDir string
}

var _ sink.Sink = (*Sink)(nil)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sink{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

func (s *Sink) Close() error { return nil }

// Location returns the path key would be written to, or the bare key if it
// is invalid.
func (s *Sink) Location(key string) string {
	full, err := s.fullPath(key)
	if err != nil {
		return key
	}
	return full
}

// Put writes body to a temp file next to the target and renames it into
// place, so readers never see a partial artifact.
func (s *Sink) Put(ctx context.Context, key string, body io.Reader, size int64) (string, error) {
	_ = size
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := s.fullPath(key)
	if err != nil {
		return "", s.wrapError("Put", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", s.wrapError("Put", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), "meshport-put-*")
	if err != nil {
		return "", s.wrapError("Put", key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		return "", s.wrapError("Put", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", s.wrapError("Put", key, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", s.wrapError("Put", key, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return "", s.wrapError("Put", key, err)
	}
	return full, nil
}

func (s *Sink) fullPath(key string) (string, error) {
	key = strings.TrimSpace(key)
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", sink.ErrInvalidKey
	}
	// Prevent path traversal.
	clean := filepath.Clean("/" + key)
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", sink.ErrInvalidKey
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(clean)), nil
}

func (s *Sink) wrapError(op, key string, err error) error {
	wrapped := &sink.Error{Op: op, Kind: sink.KindFile, Key: key, Err: err}
	if os.IsPermission(err) {
		wrapped.Err = sink.ErrAccessDenied
	}
	return wrapped
}
