package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoSession is returned by Load when nobody is logged in.
var ErrNoSession = errors.New("not logged in")

// FileName is the session file name inside the store directory.
const FileName = "session.json"

// Store persists a single Session as <dir>/session.json with mode 0600.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: strings.TrimSpace(dir)}
}

func (s *Store) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Save writes sess atomically (temp file + rename).
func (s *Store) Save(sess *Session) error {
	if sess == nil {
		return fmt.Errorf("session is nil")
	}
	if !sess.Authenticated() {
		return fmt.Errorf("session has no token")
	}
	if s.dir == "" {
		return fmt.Errorf("session dir is empty")
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	b, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(s.dir, FileName+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp session file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp session file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		return fmt.Errorf("rename session file: %w", err)
	}
	return nil
}

// Load returns the stored session or ErrNoSession.
func (s *Store) Load() (*Session, error) {
	b, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return nil, ErrNoSession
	}

	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	if !sess.Authenticated() {
		return nil, ErrNoSession
	}
	return &sess, nil
}

// Clear removes the stored session. Clearing an absent session is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
