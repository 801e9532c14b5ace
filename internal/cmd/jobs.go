package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/meshport/internal/observability"
	"github.com/3leaps/meshport/pkg/jobregistry"
	"github.com/3leaps/meshport/pkg/output"
	"github.com/3leaps/meshport/pkg/tracker"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage recorded generation jobs",
	Long: `Manage the jobs recorded by 'meshport upload'.

Every submitted job gets a record under <data dir>/jobs/<job_id>/job.json.
A job that was interrupted before its model was stored can be continued
with 'meshport jobs resume'. Job ids may be abbreviated to any unique
prefix.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job_id>",
	Short: "Show one job record",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume <job_id>",
	Short: "Continue polling a job and store its model",
	Long: `Continue a recorded job: poll until the backend reports a final status,
then download and store the model. Jobs already retrieved, failed or
canceled are reported and left alone.

The job is always resumed against the backend that accepted it.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsResume,
}

var jobsLogsCmd = &cobra.Command{
	Use:   "logs <job_id>",
	Short: "Show the logs of a detached worker",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsLogs,
}

var jobsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove old finished job records",
	Args:  cobra.NoArgs,
	RunE:  runJobsGC,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsResumeCmd, jobsLogsCmd, jobsGCCmd)

	jobsResumeCmd.Flags().StringP("output", "o", "", "Output directory or s3://bucket/prefix (default: output.dir)")
	jobsResumeCmd.Flags().Bool("detach", false, "Hand the job to a background worker")
	jobsLogsCmd.Flags().String("stream", "stdout", "Log stream: stdout, stderr, or both")
	jobsLogsCmd.Flags().Int("tail", 200, "Show last N lines (0 = whole file)")
	jobsGCCmd.Flags().String("max-age", "168h", "Delete finished jobs older than this duration")
	jobsGCCmd.Flags().Bool("dry-run", false, "Show what would be deleted")
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	cfg, err := currentConfig(cmd.Context())
	if err != nil {
		return err
	}
	jobs, err := jobStore(cfg).List()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read job registry", err)
	}

	out := cmd.OutOrStdout()
	if jsonFlag {
		if jobs == nil {
			jobs = []jobregistry.JobRecord{}
		}
		return writeJSON(out, jobs)
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tSTATE\tPROGRESS\tCREATED\tENDED\tSOURCE\tOUTPUT")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d%%\t%s\t%s\t%s\t%s\n",
			shortJobID(j.JobID),
			j.State,
			j.Progress,
			j.CreatedAt.UTC().Format(time.RFC3339),
			formatOptionalTime(j.EndedAt),
			dashIfEmpty(j.Source),
			dashIfEmpty(j.OutputLocation),
		)
	}
	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	cfg, err := currentConfig(cmd.Context())
	if err != nil {
		return err
	}
	store := jobStore(cfg)
	rec, err := loadJob(store, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonFlag {
		return writeJSON(out, rec)
	}

	_, _ = fmt.Fprintf(out, "job_id=%s\n", rec.JobID)
	_, _ = fmt.Fprintf(out, "state=%s\n", rec.State)
	if rec.Status != "" {
		_, _ = fmt.Fprintf(out, "status=%s\n", rec.Status)
	}
	_, _ = fmt.Fprintf(out, "progress=%d\n", rec.Progress)
	_, _ = fmt.Fprintf(out, "polls=%d\n", rec.Polls)
	if rec.Source != "" {
		_, _ = fmt.Fprintf(out, "source=%s\n", rec.Source)
	}
	_, _ = fmt.Fprintf(out, "backend_url=%s\n", rec.BackendURL)
	if rec.Username != "" {
		_, _ = fmt.Fprintf(out, "username=%s\n", rec.Username)
	}
	if rec.ArtifactLocation != "" {
		_, _ = fmt.Fprintf(out, "artifact_location=%s\n", rec.ArtifactLocation)
	}
	if rec.ModelFile != "" {
		_, _ = fmt.Fprintf(out, "model_file=%s\n", rec.ModelFile)
	}
	if rec.OutputLocation != "" {
		_, _ = fmt.Fprintf(out, "output_location=%s\n", rec.OutputLocation)
	}
	if rec.Error != "" {
		_, _ = fmt.Fprintf(out, "error=%s\n", rec.Error)
	}
	if rec.PID > 0 {
		_, _ = fmt.Fprintf(out, "pid=%d\n", rec.PID)
	}
	_, _ = fmt.Fprintf(out, "created_at=%s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
	_, _ = fmt.Fprintf(out, "updated_at=%s\n", rec.UpdatedAt.UTC().Format(time.RFC3339))
	if rec.EndedAt != nil {
		_, _ = fmt.Fprintf(out, "ended_at=%s\n", rec.EndedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func runJobsResume(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd.Context())
	cfg, err := currentConfig(ctx)
	if err != nil {
		return err
	}
	store := jobStore(cfg)
	rec, err := loadJob(store, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if rec.State.IsTerminal() {
		if jsonFlag {
			return writeJSON(out, rec)
		}
		_, _ = fmt.Fprintf(out, "job %s already %s\n", rec.JobID, rec.State)
		return nil
	}
	// A detached worker finds its own pid already recorded by the parent.
	if rec.PID > 0 && rec.PID != os.Getpid() && jobregistry.ProcessAlive(rec.PID) {
		return exitError(foundry.ExitInvalidArgument, "Job is busy",
			fmt.Errorf("job %s is being driven by pid %d", rec.JobID, rec.PID))
	}

	outputFlag, _ := cmd.Flags().GetString("output")
	dest, err := ParseDestination(firstNonEmpty(outputFlag, cfg.Output.Dir))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid output destination", err)
	}

	// Resume against the backend that issued the job id.
	jobCfg := *cfg
	jobCfg.Backend.URL = firstNonEmpty(rec.BackendURL, cfg.Backend.URL)

	if detach, _ := cmd.Flags().GetBool("detach"); detach {
		exe, err := executablePath()
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Cannot start background worker", err)
		}
		started, err := jobregistry.NewExecutor(jobsRootDir(cfg)).
			StartResumeBackground(exe, rec.JobID, "--output", dest.String(), "--backend", jobCfg.Backend.URL)
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Cannot start background worker", err)
		}
		if jsonFlag {
			return writeJSON(out, started)
		}
		_, _ = fmt.Fprintf(out, "job %s running in background (pid %d)\n", started.JobID, started.PID)
		return nil
	}

	client, err := newPortalClient(&jobCfg)
	if err != nil {
		return err
	}
	sess, err := currentSession(&jobCfg)
	if err != nil {
		return err
	}
	if rec.Username != "" && sess.User() != rec.Username {
		observability.CLILogger.Warn("Resuming a job submitted by another user",
			zap.String("job_id", rec.JobID),
			zap.String("job_user", rec.Username),
			zap.String("session_user", sess.User()))
	}

	snk, err := openSink(ctx, cfg, dest)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open output destination", err)
	}
	defer func() { _ = snk.Close() }()

	runner := &jobRunner{
		backend:  jobCfg.Backend.URL,
		username: firstNonEmpty(rec.Username, sess.User()),
		store:    store,
		sink:     snk,
		out:      out,
		now:      time.Now,
	}
	if jsonFlag {
		w := output.NewJSONLWriter(out, uuid.New().String(), jobCfg.Backend.URL)
		defer func() { _ = w.Close() }()
		runner.writer = w
	}

	observability.CLILogger.Info("Resuming job",
		zap.String("job_id", rec.JobID),
		zap.String("state", string(rec.State)),
		zap.String("backend", jobCfg.Backend.URL))

	opts := trackerOptions(&jobCfg)
	opts.OnUpdate = runner.observe(ctx, rec.Source)
	h := tracker.NewHandle(sess.BearerToken(), tracker.Job{
		ID:               rec.JobID,
		Status:           tracker.Status(rec.Status),
		ArtifactLocation: rec.ArtifactLocation,
		ModelFile:        rec.ModelFile,
		FileName:         rec.Source,
		Progress:         rec.Progress,
		Polls:            rec.Polls,
		SubmittedAt:      rec.CreatedAt,
	})

	started := time.Now()
	res, runErr := tracker.New(client, opts).Resume(ctx, h)
	if _, err := runner.finish(ctx, rec.Source, res, runErr, started); err != nil {
		return exitError(exitCodeFor(err), "Resume failed", err)
	}
	return nil
}

func runJobsLogs(cmd *cobra.Command, args []string) error {
	cfg, err := currentConfig(cmd.Context())
	if err != nil {
		return err
	}
	stream, _ := cmd.Flags().GetString("stream")
	stream = strings.TrimSpace(strings.ToLower(stream))
	tailN, _ := cmd.Flags().GetInt("tail")

	executor := jobregistry.NewExecutor(jobsRootDir(cfg))
	rec, err := loadJob(executor.Store(), args[0])
	if err != nil {
		return err
	}
	stdoutPath := firstNonEmpty(rec.StdoutPath, executor.StdoutPath(rec.JobID))
	stderrPath := firstNonEmpty(rec.StderrPath, executor.StderrPath(rec.JobID))

	out := cmd.OutOrStdout()
	var paths []string
	switch stream {
	case "", "stdout":
		paths = []string{stdoutPath}
	case "stderr":
		paths = []string{stderrPath}
	case "both":
		paths = []string{stdoutPath, stderrPath}
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid --stream",
			fmt.Errorf("%q (expected stdout, stderr, or both)", stream))
	}
	for _, p := range paths {
		if err := printLogTail(out, p, tailN); err != nil {
			if os.IsNotExist(err) {
				return exitError(foundry.ExitFileNotFound, "No worker logs for job", err)
			}
			return exitError(foundry.ExitFileReadError, "Failed to read worker log", err)
		}
	}
	return nil
}

type jobsGCResult struct {
	Deleted     int      `json:"deleted"`
	WouldDelete int      `json:"would_delete"`
	DryRun      bool     `json:"dry_run"`
	MaxAge      string   `json:"max_age"`
	JobIDs      []string `json:"job_ids"`
}

func runJobsGC(cmd *cobra.Command, _ []string) error {
	cfg, err := currentConfig(cmd.Context())
	if err != nil {
		return err
	}
	maxAgeStr, _ := cmd.Flags().GetString("max-age")
	maxAgeStr = strings.TrimSpace(maxAgeStr)
	if maxAgeStr == "" {
		maxAgeStr = "168h"
	}
	maxAge, err := time.ParseDuration(maxAgeStr)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --max-age", err)
	}
	if maxAge <= 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --max-age", fmt.Errorf("--max-age must be > 0"))
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	pruned, err := jobStore(cfg).GC(maxAge, time.Now().UTC(), dryRun)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to prune job registry", err)
	}

	res := jobsGCResult{DryRun: dryRun, MaxAge: maxAgeStr, JobIDs: make([]string, 0, len(pruned))}
	for _, j := range pruned {
		res.JobIDs = append(res.JobIDs, j.JobID)
	}
	if dryRun {
		res.WouldDelete = len(pruned)
	} else {
		res.Deleted = len(pruned)
	}

	out := cmd.OutOrStdout()
	if jsonFlag {
		return writeJSON(out, res)
	}
	if dryRun {
		_, _ = fmt.Fprintf(out, "would_delete=%d\n", res.WouldDelete)
		return nil
	}
	_, _ = fmt.Fprintf(out, "deleted=%d\n", res.Deleted)
	return nil
}

func loadJob(store *jobregistry.Store, input string) (*jobregistry.JobRecord, error) {
	jobID, err := resolveJobID(store, input)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Unknown job", err)
	}
	rec, err := store.Get(jobID)
	if err != nil {
		return nil, exitError(foundry.ExitFileReadError, "Failed to read job record", err)
	}
	return rec, nil
}

func resolveJobID(store *jobregistry.Store, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("job_id is required")
	}

	// Exact match first.
	if _, err := store.Get(input); err == nil {
		return input, nil
	}

	// Prefix match (allows table-friendly short IDs).
	jobs, err := store.List()
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, 2)
	for _, j := range jobs {
		if strings.HasPrefix(j.JobID, input) {
			matches = append(matches, j.JobID)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("job not found: %s", input)
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("job id prefix is ambiguous (%d matches); use the full job_id", len(matches))
	}
	return matches[0], nil
}

func shortJobID(jobID string) string {
	jobID = strings.TrimSpace(jobID)
	if len(jobID) <= 12 {
		return jobID
	}
	return jobID[:12]
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
