package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/meshport/internal/config"
	"github.com/3leaps/meshport/internal/observability"
	"github.com/3leaps/meshport/pkg/inputs"
	"github.com/3leaps/meshport/pkg/jobregistry"
	"github.com/3leaps/meshport/pkg/output"
	"github.com/3leaps/meshport/pkg/portal"
	"github.com/3leaps/meshport/pkg/session"
	"github.com/3leaps/meshport/pkg/tracker"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file|glob>...",
	Short: "Submit images and retrieve the generated models",
	Long: `Upload each input image, wait for the portal to generate the 3D model
and store the resulting .glb under the output destination.

Inputs are processed one at a time, in order. Globs use doublestar syntax
(quote them so the shell does not expand them). Every submitted job is
recorded in the job registry, so an interrupted run can be continued with
'meshport jobs resume'.

Examples:
  meshport upload chair.png
  meshport upload 'photos/**/*.{png,jpg}' --exclude 'draft-*' -o ./models
  meshport upload chair.png -o s3://models/chairs/ --json
  meshport upload chair.png --detach`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

var (
	uploadOutput        string
	uploadExcludes      []string
	uploadIncludeHidden bool
	uploadMaxSize       string
	uploadDetach        bool
	uploadInterval      time.Duration
	uploadTimeout       time.Duration
)

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringVarP(&uploadOutput, "output", "o", "", "Output directory or s3://bucket/prefix (default: output.dir)")
	uploadCmd.Flags().StringArrayVar(&uploadExcludes, "exclude", nil, "Glob of inputs to skip (repeatable)")
	uploadCmd.Flags().BoolVar(&uploadIncludeHidden, "include-hidden", false, "Include dot-files matched by globs")
	uploadCmd.Flags().StringVar(&uploadMaxSize, "max-size", "32MiB", "Skip inputs larger than this (0 = no limit)")
	uploadCmd.Flags().BoolVar(&uploadDetach, "detach", false, "Submit, then hand polling to a background worker")
	uploadCmd.Flags().DurationVar(&uploadInterval, "poll-interval", 0, "Delay before each status poll (overrides poll.interval)")
	uploadCmd.Flags().DurationVar(&uploadTimeout, "timeout", 0, "Bound on the polling phase per job (overrides poll.timeout)")
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd.Context())
	cfg, err := currentConfig(ctx)
	if err != nil {
		return err
	}

	maxSize, err := parseMaxSize(uploadMaxSize)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --max-size", err)
	}
	expanded, err := inputs.Expand(args, inputs.Config{
		Excludes:      uploadExcludes,
		IncludeHidden: uploadIncludeHidden,
		MaxSize:       maxSize,
	})
	if expanded != nil {
		for _, s := range expanded.Skipped {
			observability.CLILogger.Info("Skipping input", zap.String("path", s.Path), zap.String("reason", s.Reason))
		}
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(foundry.ExitFileNotFound, "Input not found", err)
		}
		return exitError(foundry.ExitInvalidArgument, "Invalid inputs", err)
	}

	dest, err := ParseDestination(firstNonEmpty(uploadOutput, cfg.Output.Dir))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid output destination", err)
	}

	client, err := newPortalClient(cfg)
	if err != nil {
		return err
	}
	sess, err := currentSession(cfg)
	if err != nil {
		return err
	}

	opts := trackerOptions(cfg)
	if uploadInterval > 0 {
		opts.Interval = uploadInterval
	}
	if uploadTimeout > 0 {
		opts.Timeout = uploadTimeout
	}

	if uploadDetach {
		return uploadDetached(cmd, cfg, client, sess, opts, dest, expanded.Inputs)
	}

	snk, err := openSink(ctx, cfg, dest)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open output destination", err)
	}
	defer func() { _ = snk.Close() }()

	runner := &jobRunner{
		backend:  client.BaseURL(),
		username: sess.User(),
		store:    jobStore(cfg),
		sink:     snk,
		out:      cmd.OutOrStdout(),
		now:      time.Now,
	}
	if jsonFlag {
		w := output.NewJSONLWriter(cmd.OutOrStdout(), uuid.New().String(), client.BaseURL())
		defer func() { _ = w.Close() }()
		runner.writer = w
	}

	observability.CLILogger.Info("Starting upload",
		zap.Int("inputs", len(expanded.Inputs)),
		zap.String("backend", client.BaseURL()),
		zap.String("output", dest.String()),
		zap.Bool("authenticated", sess.Authenticated()))

	start := time.Now()
	summary := &output.SummaryRecord{}
	var firstErr error

	for _, in := range expanded.Inputs {
		if ctx.Err() != nil {
			break
		}
		summary.Inputs++

		rec, err := uploadOne(ctx, runner, client, sess, opts, in.Path)
		if err != nil {
			summary.Failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		summary.Retrieved++
		summary.BytesTotal += rec.Bytes
	}

	summary.Duration = time.Since(start)
	summary.DurationHuman = summary.Duration.Round(time.Millisecond).String()
	if runner.writer != nil {
		if err := runner.writer.WriteSummary(ctx, summary); err != nil {
			observability.CLILogger.Warn("Failed to write summary record", zap.Error(err))
		}
	}

	observability.CLILogger.Info("Upload finished",
		zap.Int64("inputs", summary.Inputs),
		zap.Int64("retrieved", summary.Retrieved),
		zap.Int64("failed", summary.Failed),
		zap.String("bytes", inputs.FormatSize(summary.BytesTotal)),
		zap.Duration("duration", summary.Duration))

	if ctx.Err() != nil {
		return exitError(foundry.ExitSignalInt, "Upload interrupted", ctx.Err())
	}
	if firstErr == nil {
		return nil
	}
	if summary.Inputs == 1 {
		return exitError(exitCodeFor(firstErr), "Upload failed", firstErr)
	}
	return exitError(exitCodeFor(firstErr),
		fmt.Sprintf("%d of %d uploads failed", summary.Failed, summary.Inputs), firstErr)
}

func uploadOne(ctx context.Context, runner *jobRunner, client *portal.Client, sess *session.Session, opts tracker.Options, path string) (*output.JobRecord, error) {
	started := runner.now()
	data, err := os.ReadFile(path)
	if err != nil {
		err = exitError(foundry.ExitFileReadError, "Failed to read input", err)
		return runner.finish(ctx, path, nil, err, started)
	}

	opts.OnUpdate = runner.observe(ctx, path)
	res, err := tracker.New(client, opts).Run(ctx, tracker.Submission{
		FileName: filepath.Base(path),
		Data:     data,
		Session:  sess,
	})
	return runner.finish(ctx, path, res, err, started)
}

// uploadDetached submits each input and hands the job to a background
// `jobs resume` worker.
func uploadDetached(cmd *cobra.Command, cfg *config.Config, client *portal.Client, sess *session.Session, opts tracker.Options, dest *Destination, files []inputs.Input) error {
	ctx := commandContext(cmd.Context())
	exe, err := executablePath()
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot start background worker", err)
	}
	executor := jobregistry.NewExecutor(jobsRootDir(cfg))
	runner := &jobRunner{
		backend:  client.BaseURL(),
		username: sess.User(),
		store:    executor.Store(),
		out:      cmd.OutOrStdout(),
		now:      time.Now,
	}
	tr := tracker.New(client, opts)

	var started []*jobregistry.JobRecord
	for _, in := range files {
		data, err := os.ReadFile(in.Path)
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to read input", err)
		}
		h, err := tr.Submit(ctx, tracker.Submission{FileName: filepath.Base(in.Path), Data: data, Session: sess})
		if err != nil {
			return exitError(classExitCode(err), "Upload failed", err)
		}
		runner.record(h.Snapshot(), in.Path, nil)

		rec, err := executor.StartResumeBackground(exe, h.ID(), "--output", dest.String(), "--backend", client.BaseURL())
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Cannot start background worker", err)
		}
		observability.CLILogger.Info("Job detached",
			zap.String("job_id", rec.JobID),
			zap.Int("pid", rec.PID),
			zap.String("stdout", rec.StdoutPath))
		started = append(started, rec)
	}

	out := cmd.OutOrStdout()
	if jsonFlag {
		return writeJSON(out, started)
	}
	for _, rec := range started {
		_, _ = fmt.Fprintf(out, "%s: job %s running in background (pid %d)\n", rec.Source, rec.JobID, rec.PID)
	}
	return nil
}

func parseMaxSize(raw string) (int64, error) {
	if raw == "" || raw == "0" {
		return 0, nil
	}
	return inputs.ParseSize(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
