package tracker

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/3leaps/meshport/pkg/portal"
	"github.com/3leaps/meshport/pkg/session"
)

// Backend is the subset of the portal client the tracker drives.
// *portal.Client satisfies it.
type Backend interface {
	Upload(ctx context.Context, token string, req portal.UploadRequest) (*portal.UploadResult, error)
	TaskStatus(ctx context.Context, token, jobID string) (*portal.TaskStatus, error)
	Download(ctx context.Context, token, location string) (*portal.Download, error)
	DownloadLocation(jobID string) string
}

var _ Backend = (*portal.Client)(nil)

// Submission is one artifact to push through the workflow.
type Submission struct {
	// FileName is sent as the multipart file name.
	FileName string

	// Data is the raw artifact; it must not be empty.
	Data []byte

	// Session supplies the bearer credential. Nil submits anonymously.
	Session *session.Session
}

// Options tunes the driver.
type Options struct {
	// Interval is the fixed delay before each status poll.
	Interval time.Duration

	// Timeout bounds the whole polling phase. Zero means no bound.
	Timeout time.Duration

	// ProgressStart, ProgressStep and ProgressCap shape the cosmetic
	// progress indicator.
	ProgressStart int
	ProgressStep  int
	ProgressCap   int

	// RetryAttempts is the number of tries per status poll for transient
	// failures. 1 disables retry.
	RetryAttempts int

	// RetryInitialBackoff and RetryMaxBackoff bound the exponential backoff
	// between poll retries.
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration

	// RequireCredential rejects anonymous submissions before any request.
	RequireCredential bool

	// Clock replaces the wall clock (tests).
	Clock Clock

	// Logger receives lifecycle logs. Nil disables logging.
	Logger *zap.Logger

	// OnUpdate is called after every state or progress change, from the
	// goroutine running the driver.
	OnUpdate func(Job)
}

// DefaultOptions mirrors the portal's observed behaviour: a poll every
// five seconds, progress from 10 in steps of 10 capped at 90.
func DefaultOptions() Options {
	return Options{
		Interval:            5 * time.Second,
		ProgressStart:       10,
		ProgressStep:        10,
		ProgressCap:         90,
		RetryAttempts:       3,
		RetryInitialBackoff: time.Second,
		RetryMaxBackoff:     10 * time.Second,
	}
}

// Tracker runs submit/poll/retrieve cycles against one backend. A Tracker
// holds no per-job state and may drive several jobs, each on its own
// goroutine.
type Tracker struct {
	backend Backend
	opts    Options
	clock   Clock
	logger  *zap.Logger
}

// New returns a tracker for backend.
func New(backend Backend, opts Options) *Tracker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions().Interval
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	if opts.RetryInitialBackoff <= 0 {
		opts.RetryInitialBackoff = DefaultOptions().RetryInitialBackoff
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{backend: backend, opts: opts, clock: clock, logger: logger}
}

// Submit validates the submission and performs exactly one upload request.
// On success the returned handle carries the backend job id; on failure no
// handle exists and nothing will be polled.
func (t *Tracker) Submit(ctx context.Context, sub Submission) (*JobHandle, error) {
	if len(sub.Data) == 0 {
		return nil, &JobError{Op: "Submit", Class: ErrValidation, Err: errNoArtifact}
	}
	if t.opts.RequireCredential && !sub.Session.Authenticated() {
		return nil, &JobError{Op: "Submit", Class: ErrValidation, Err: errNoCredential}
	}

	token := sub.Session.BearerToken()
	res, err := t.backend.Upload(ctx, token, portal.UploadRequest{
		FileName: filepath.Base(sub.FileName),
		Data:     sub.Data,
		Username: sub.Session.User(),
	})
	if err != nil {
		return nil, classify("Submit", "", ErrSubmission, err)
	}

	now := t.clock.Now().UTC()
	h := &JobHandle{
		token: token,
		meter: newProgress(t.opts.ProgressStart, t.opts.ProgressStep, t.opts.ProgressCap),
	}

	jobID := strings.TrimSpace(res.TaskID)
	if jobID == "" {
		// Synchronous deployment: the result is ready in the upload response.
		jobID = strings.TrimSpace(res.ModelFile)
		if jobID == "" {
			jobID = res.DownloadURL
		}
		h.job = Job{
			ID:               jobID,
			State:            StateSucceeded,
			Status:           StatusSucceeded,
			ArtifactLocation: res.DownloadURL,
			ModelFile:        res.ModelFile,
			FileName:         sub.FileName,
			Progress:         h.meter.submitted(),
			SubmittedAt:      now,
			UpdatedAt:        now,
		}
	} else {
		h.job = Job{
			ID:          jobID,
			State:       StateSubmitted,
			FileName:    sub.FileName,
			Progress:    h.meter.submitted(),
			SubmittedAt: now,
			UpdatedAt:   now,
		}
	}

	t.logger.Info("Job submitted",
		zap.String("job_id", jobID),
		zap.String("file", sub.FileName),
		zap.Int("bytes", len(sub.Data)),
		zap.Bool("immediate", res.TaskID == ""))

	return h, nil
}

// Poll issues one status query (with bounded retry of transient failures)
// and records the observed status. It refuses to poll a job whose terminal
// status has already been observed.
func (t *Tracker) Poll(ctx context.Context, h *JobHandle) (Status, error) {
	snap := h.Snapshot()
	if snap.Status.IsTerminal() {
		return snap.Status, &JobError{Op: "Poll", JobID: snap.ID, Class: ErrPoll, Err: errAlreadyTerminal}
	}

	var ts *portal.TaskStatus
	attempt := 0
	err := retry.Do(ctx, t.backoff(), func(ctx context.Context) error {
		attempt++
		res, err := t.backend.TaskStatus(ctx, h.token, snap.ID)
		if err != nil {
			if ctx.Err() == nil && portal.IsTransient(err) {
				t.logger.Warn("Status poll failed, retrying",
					zap.String("job_id", snap.ID),
					zap.Int("attempt", attempt),
					zap.Error(err))
				return retry.RetryableError(err)
			}
			return err
		}
		ts = res
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return snap.Status, fmt.Errorf("tracker: job %s: %w", snap.ID, ctxErr)
		}
		return snap.Status, classify("Poll", snap.ID, ErrPoll, err)
	}

	status := ParseStatus(ts.Status)
	job := h.update(func(j *Job) {
		j.Status = status
		j.State = stateFor(status)
		j.Polls++
		j.UpdatedAt = t.clock.Now().UTC()
		if status == StatusSucceeded {
			j.ArtifactLocation = ts.DownloadURL
			if j.ArtifactLocation == "" {
				j.ArtifactLocation = t.backend.DownloadLocation(j.ID)
			}
		}
		if !status.IsTerminal() && h.meter != nil {
			j.Progress = h.meter.pending(ts.Progress)
		}
	})

	t.logger.Debug("Job status",
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
		zap.Int("progress", job.Progress),
		zap.Int("poll", job.Polls))

	return status, nil
}

// Retrieve fetches the artifact of a succeeded job. A failure leaves the job
// recorded as SUCCEEDED and is reported as ErrRetrieval.
func (t *Tracker) Retrieve(ctx context.Context, h *JobHandle) (*Artifact, error) {
	snap := h.Snapshot()
	if snap.Status != StatusSucceeded {
		return nil, &JobError{Op: "Retrieve", JobID: snap.ID, Class: ErrRetrieval, Err: errNotSucceeded}
	}

	location := snap.ArtifactLocation
	if location == "" {
		location = t.backend.DownloadLocation(snap.ID)
	}

	dl, err := t.backend.Download(ctx, h.token, location)
	if err != nil {
		return nil, classify("Retrieve", snap.ID, ErrRetrieval, err)
	}

	// The name the backend serves the model under wins over the one it
	// reported at upload time.
	modelFile := snap.ModelFile
	if dl.FileName != "" {
		modelFile = dl.FileName
	}

	h.update(func(j *Job) {
		j.State = StateRetrieved
		j.ArtifactLocation = location
		j.ModelFile = modelFile
		j.UpdatedAt = t.clock.Now().UTC()
		if h.meter != nil {
			j.Progress = h.meter.complete()
		} else {
			j.Progress = 100
		}
	})

	t.logger.Info("Artifact retrieved",
		zap.String("job_id", snap.ID),
		zap.String("model_file", modelFile),
		zap.Int("bytes", len(dl.Data)))

	return &Artifact{JobID: snap.ID, Location: location, ModelFile: modelFile, Data: dl.Data}, nil
}

// Run drives a submission to completion: Submit, poll until a terminal
// status, then Retrieve on success. The returned Result is non-nil whenever
// submission succeeded, even if a later stage failed.
func (t *Tracker) Run(ctx context.Context, sub Submission) (*Result, error) {
	return t.run(ctx, sub, t.opts.OnUpdate)
}

// Resume continues the driver for a handle built with NewHandle.
func (t *Tracker) Resume(ctx context.Context, h *JobHandle) (*Result, error) {
	if h.meter == nil {
		h.meter = newProgress(t.opts.ProgressStart, t.opts.ProgressStep, t.opts.ProgressCap)
		h.update(func(j *Job) {
			// Continue from what was already shown; progress never drops.
			h.meter.raise(j.Progress)
			j.Progress = h.meter.submitted()
		})
	}
	return t.drive(ctx, h, t.opts.OnUpdate)
}

func (t *Tracker) run(ctx context.Context, sub Submission, notify func(Job)) (*Result, error) {
	h, err := t.Submit(ctx, sub)
	if err != nil {
		return nil, err
	}
	if notify != nil {
		notify(h.Snapshot())
	}
	return t.drive(ctx, h, notify)
}

func (t *Tracker) drive(ctx context.Context, h *JobHandle, notify func(Job)) (*Result, error) {
	emit := func() {
		if notify != nil {
			notify(h.Snapshot())
		}
	}

	if err := t.pollUntilTerminal(ctx, h, emit); err != nil {
		return &Result{Job: h.Snapshot()}, err
	}

	snap := h.Snapshot()
	switch snap.Status {
	case StatusSucceeded:
		art, err := t.Retrieve(ctx, h)
		if err != nil {
			t.logger.Warn("Artifact retrieval failed",
				zap.String("job_id", snap.ID),
				zap.Error(err))
			return &Result{Job: h.Snapshot()}, err
		}
		emit()
		return &Result{Job: h.Snapshot(), Artifact: art}, nil
	default:
		t.logger.Warn("Job ended without result",
			zap.String("job_id", snap.ID),
			zap.String("status", string(snap.Status)))
		return &Result{Job: snap}, &JobError{Op: "Poll", JobID: snap.ID, Class: ErrJobFailed, Status: snap.Status}
	}
}

// pollUntilTerminal waits and polls until a terminal status is observed.
// Options.Timeout bounds this loop only; retrieval runs on the caller's ctx.
func (t *Tracker) pollUntilTerminal(ctx context.Context, h *JobHandle, emit func()) error {
	if t.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
		defer cancel()
	}
	for !h.status().IsTerminal() {
		if err := sleep(ctx, t.clock, t.opts.Interval); err != nil {
			return fmt.Errorf("tracker: job %s: %w", h.ID(), err)
		}
		if _, err := t.Poll(ctx, h); err != nil {
			return err
		}
		emit()
	}
	return nil
}

func (t *Tracker) backoff() retry.Backoff {
	b := retry.NewExponential(t.opts.RetryInitialBackoff)
	if t.opts.RetryMaxBackoff > 0 {
		b = retry.WithCappedDuration(t.opts.RetryMaxBackoff, b)
	}
	return retry.WithMaxRetries(uint64(t.opts.RetryAttempts-1), b)
}
