package jobregistry

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Executor hands recorded jobs to detached worker processes.
//
// The worker is the same binary running `meshport jobs resume <job_id>`,
// with stdout/stderr captured to per-job log files.
type Executor struct {
	store *Store

	// Command builds the child process; tests replace it.
	Command func(name string, args ...string) *exec.Cmd
}

func NewExecutor(root string) *Executor {
	return &Executor{store: NewStore(root), Command: exec.Command}
}

func (e *Executor) Store() *Store {
	return e.store
}

func (e *Executor) StdoutPath(jobID string) string {
	return filepath.Join(e.store.JobDir(jobID), "stdout.log")
}

func (e *Executor) StderrPath(jobID string) string {
	return filepath.Join(e.store.JobDir(jobID), "stderr.log")
}

// StartResumeBackground spawns a worker that drives a recorded job to
// completion:
//
//	<exe> jobs resume <job_id> [extraArgs...]
//
// It returns the updated record after the child has started.
func (e *Executor) StartResumeBackground(exe, jobID string, extraArgs ...string) (*JobRecord, error) {
	if e == nil || e.store == nil {
		return nil, fmt.Errorf("executor is not initialized")
	}

	rec, err := e.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	if rec.State.IsTerminal() {
		return nil, fmt.Errorf("job %s already %s", rec.JobID, rec.State)
	}
	if rec.PID > 0 {
		return nil, fmt.Errorf("job %s is already being driven by pid %d", rec.JobID, rec.PID)
	}

	stdoutFile, err := os.Create(e.StdoutPath(rec.JobID))
	if err != nil {
		return nil, fmt.Errorf("create stdout log: %w", err)
	}
	defer func() { _ = stdoutFile.Close() }()
	stderrFile, err := os.Create(e.StderrPath(rec.JobID))
	if err != nil {
		return nil, fmt.Errorf("create stderr log: %w", err)
	}
	defer func() { _ = stderrFile.Close() }()

	args := append([]string{"jobs", "resume", rec.JobID}, extraArgs...)
	cmd := e.Command(exe, args...)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	// The worker outlives us; reap it if we are still around when it exits.
	go func() { _ = cmd.Wait() }()

	// The worker may already have written progress; only stamp the pid and
	// log paths onto its latest record.
	pid := cmd.Process.Pid
	latest, err := e.store.Get(rec.JobID)
	if err != nil {
		return nil, err
	}
	latest.StdoutPath = e.StdoutPath(rec.JobID)
	latest.StderrPath = e.StderrPath(rec.JobID)
	if !latest.State.IsTerminal() {
		latest.PID = pid
		latest.UpdatedAt = time.Now().UTC()
	}
	if err := e.store.Write(latest); err != nil {
		return nil, err
	}
	latest.PID = pid
	return latest, nil
}
