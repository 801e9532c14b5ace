package jobregistry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// ErrNotFound is returned by Get when no record exists for a job id.
var ErrNotFound = errors.New("job not found")

// Store persists and loads JobRecords from an on-disk directory.
//
// Directory layout:
//
//	<root>/<job_id>/job.json
//	<root>/<job_id>/stdout.log
//	<root>/<job_id>/stderr.log
//
// Job ids come from the backend and are path-escaped before use as a
// directory name. Root is expected to be under the app data dir.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.root, url.PathEscape(jobID))
}

func (s *Store) JobPath(jobID string) string {
	return filepath.Join(s.JobDir(jobID), "job.json")
}

func (s *Store) ensureRoot() error {
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("job registry root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

func checkJobID(jobID string) (string, error) {
	jobID = strings.TrimSpace(jobID)
	switch jobID {
	case "":
		return "", fmt.Errorf("job_id is required")
	case ".", "..":
		return "", fmt.Errorf("invalid job_id %q", jobID)
	}
	return jobID, nil
}

// Write stores record atomically, replacing any previous version.
func (s *Store) Write(record *JobRecord) error {
	if record == nil {
		return fmt.Errorf("job record is nil")
	}
	jobID, err := checkJobID(record.JobID)
	if err != nil {
		return err
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	jobDir := s.JobDir(jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(jobDir, "job.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp job file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp job file: %w", err)
	}

	if err := os.Rename(tmpName, s.JobPath(jobID)); err != nil {
		return fmt.Errorf("rename job file: %w", err)
	}
	return nil
}

// Get loads one record. A missing record yields ErrNotFound.
func (s *Store) Get(jobID string) (*JobRecord, error) {
	jobID, err := checkJobID(jobID)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.JobPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("job.json is empty")
	}

	var record JobRecord
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse job.json: %w", err)
	}

	// A detached worker that died leaves its pid behind; drop it so the job
	// shows up as resumable.
	if record.PID > 0 && !ProcessAlive(record.PID) {
		record.PID = 0
		_ = s.Write(&record)
	}

	return &record, nil
}

// List returns every readable record, newest first.
func (s *Store) List() ([]JobRecord, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read jobs root: %w", err)
	}

	out := make([]JobRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		jobID, err := url.PathUnescape(entry.Name())
		if err != nil {
			continue
		}
		r, err := s.Get(jobID)
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return out, nil
}

// Delete removes a record and its logs. Deleting an unknown job is not an
// error.
func (s *Store) Delete(jobID string) error {
	jobID, err := checkJobID(jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(s.JobDir(jobID)); err != nil {
		return fmt.Errorf("remove job dir: %w", err)
	}
	return nil
}

// GC removes terminal records that ended more than maxAge before now and
// returns the ones it removed (or would remove, when dryRun is set).
func (s *Store) GC(maxAge time.Duration, now time.Time, dryRun bool) ([]JobRecord, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("max age must be > 0")
	}
	jobs, err := s.List()
	if err != nil {
		return nil, err
	}

	var pruned []JobRecord
	for _, j := range jobs {
		if j.EndedAt == nil || !j.State.IsTerminal() {
			continue
		}
		if now.Sub(j.EndedAt.UTC()) <= maxAge {
			continue
		}
		if !dryRun {
			if err := s.Delete(j.JobID); err != nil {
				return pruned, err
			}
		}
		pruned = append(pruned, j)
	}
	return pruned, nil
}

// ProcessAlive reports whether pid names a running process.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 is supported on unix; it checks for existence without sending a signal.
	if err := p.Signal(os.Signal(syscall.Signal(0))); err != nil {
		return false
	}
	return true
}
