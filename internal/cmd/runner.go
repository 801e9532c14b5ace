package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/meshport/internal/observability"
	"github.com/3leaps/meshport/pkg/jobregistry"
	"github.com/3leaps/meshport/pkg/output"
	"github.com/3leaps/meshport/pkg/sink"
	"github.com/3leaps/meshport/pkg/tracker"
)

// jobRunner carries what upload and resume share: the registry the job is
// recorded in, the sink artifacts go to and the output stream.
type jobRunner struct {
	backend  string
	username string
	store    *jobregistry.Store
	sink     sink.Sink

	// writer is the JSONL stream; nil prints one human line per job to out.
	writer output.Writer
	out    io.Writer

	now func() time.Time
}

// observe returns a tracker update hook that mirrors every change into the
// registry and, in JSON mode, onto the progress stream.
func (r *jobRunner) observe(ctx context.Context, source string) func(tracker.Job) {
	return func(job tracker.Job) {
		if job.ID == "" {
			return
		}
		r.record(job, source, nil)
		if r.writer != nil {
			if err := r.writer.WriteProgress(ctx, output.ProgressFromJob(job, source)); err != nil {
				observability.CLILogger.Warn("Failed to write progress record", zap.Error(err))
			}
		}
	}
}

// record upserts the registry entry for job. mutate runs last.
func (r *jobRunner) record(job tracker.Job, source string, mutate func(*jobregistry.JobRecord)) *jobregistry.JobRecord {
	if r.store == nil || job.ID == "" {
		return nil
	}
	now := r.now().UTC()

	rec, err := r.store.Get(job.ID)
	if err != nil {
		if !errors.Is(err, jobregistry.ErrNotFound) {
			observability.CLILogger.Warn("Failed to read job record", zap.String("job_id", job.ID), zap.Error(err))
		}
		created := job.SubmittedAt
		if created.IsZero() {
			created = now
		}
		rec = &jobregistry.JobRecord{
			JobID:      job.ID,
			Source:     source,
			BackendURL: r.backend,
			Username:   r.username,
			CreatedAt:  created.UTC(),
		}
	}

	rec.State = jobregistry.JobState(job.State)
	rec.Status = string(job.Status)
	if job.Progress > rec.Progress {
		rec.Progress = job.Progress
	}
	if job.Polls > rec.Polls {
		rec.Polls = job.Polls
	}
	if job.ArtifactLocation != "" {
		rec.ArtifactLocation = job.ArtifactLocation
	}
	if job.ModelFile != "" {
		rec.ModelFile = job.ModelFile
	}
	rec.UpdatedAt = now
	if mutate != nil {
		mutate(rec)
	}

	if err := r.store.Write(rec); err != nil {
		observability.CLILogger.Warn("Failed to write job record", zap.String("job_id", job.ID), zap.Error(err))
	}
	return rec
}

// finish stores the artifact of a completed run, settles the registry entry
// and reports the outcome. It returns the first error of the cycle.
func (r *jobRunner) finish(ctx context.Context, source string, res *tracker.Result, runErr error, started time.Time) (*output.JobRecord, error) {
	out := &output.JobRecord{Source: source, Duration: r.now().Sub(started)}
	if res == nil {
		r.report(ctx, out, runErr)
		return out, runErr
	}

	job := res.Job
	out.JobID = job.ID
	out.Polls = job.Polls
	out.ArtifactLocation = job.ArtifactLocation

	err := runErr
	if err == nil && res.Artifact != nil {
		var location string
		location, err = r.storeArtifact(ctx, source, res.Artifact)
		if err == nil {
			out.OutputLocation = location
			out.Bytes = int64(len(res.Artifact.Data))
		} else {
			// The backend still holds the model; leave the job resumable.
			job.State = tracker.StateSucceeded
		}
	}

	out.State = string(job.State)
	out.Status = string(job.Status)
	out.Progress = job.Progress

	r.record(job, source, func(rec *jobregistry.JobRecord) {
		rec.PID = 0
		rec.Error = ""
		if err != nil {
			rec.Error = tracker.UserMessage(err)
		}
		if out.OutputLocation != "" {
			rec.OutputLocation = out.OutputLocation
		}
		if rec.State.IsTerminal() {
			ended := r.now().UTC()
			rec.EndedAt = &ended
		}
	})

	r.report(ctx, out, err)
	return out, err
}

// storeArtifact writes the artifact to the sink under its derived key.
func (r *jobRunner) storeArtifact(ctx context.Context, source string, art *tracker.Artifact) (string, error) {
	key := sink.ArtifactKey(source, art.ModelFile, r.now())
	location, err := r.sink.Put(ctx, key, bytes.NewReader(art.Data), int64(len(art.Data)))
	if err != nil {
		observability.CLILogger.Error("Failed to store artifact",
			zap.String("job_id", art.JobID),
			zap.String("location", r.sink.Location(key)),
			zap.Error(err))
		return "", err
	}
	observability.CLILogger.Info("Artifact stored",
		zap.String("job_id", art.JobID),
		zap.String("location", location),
		zap.Int("bytes", len(art.Data)))
	return location, nil
}

func (r *jobRunner) report(ctx context.Context, rec *output.JobRecord, err error) {
	if r.writer != nil {
		if err != nil {
			if werr := r.writer.WriteError(ctx, output.ErrorFromErr(err, rec.Source, rec.JobID)); werr != nil {
				observability.CLILogger.Warn("Failed to write error record", zap.Error(werr))
			}
		}
		if rec.JobID != "" {
			if werr := r.writer.WriteJob(ctx, rec); werr != nil {
				observability.CLILogger.Warn("Failed to write job record", zap.Error(werr))
			}
		}
		return
	}

	switch {
	case err != nil && rec.JobID == "":
		_, _ = fmt.Fprintf(r.out, "%s: %s\n", rec.Source, tracker.UserMessage(err))
	case err != nil:
		_, _ = fmt.Fprintf(r.out, "%s: job %s %s: %s\n", rec.Source, rec.JobID, rec.State, tracker.UserMessage(err))
	default:
		_, _ = fmt.Fprintf(r.out, "%s: job %s %s -> %s\n", rec.Source, rec.JobID, rec.State, rec.OutputLocation)
	}
}
