package tracker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/meshport/pkg/portal"
	"github.com/3leaps/meshport/pkg/session"
)

type reply struct {
	status   string
	progress *int
	url      string
	err      error
}

type fakeBackend struct {
	mu sync.Mutex

	uploadRes *portal.UploadResult
	uploadErr error
	statuses  []reply
	artifact  []byte
	dlName    string
	dlErr     error

	uploads    int
	statusCall int
	downloads  int
	tokens     []string
	dlLocation string
	dlDeadline bool
	uploadReq  portal.UploadRequest
}

func (f *fakeBackend) Upload(ctx context.Context, token string, req portal.UploadRequest) (*portal.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	f.tokens = append(f.tokens, token)
	f.uploadReq = req
	return f.uploadRes, f.uploadErr
}

func (f *fakeBackend) TaskStatus(ctx context.Context, token, jobID string) (*portal.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	idx := f.statusCall
	f.statusCall++
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	r := f.statuses[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &portal.TaskStatus{Status: r.status, Progress: r.progress, DownloadURL: r.url}, nil
}

func (f *fakeBackend) Download(ctx context.Context, token, location string) (*portal.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	f.dlLocation = location
	_, f.dlDeadline = ctx.Deadline()
	if f.dlErr != nil {
		return nil, f.dlErr
	}
	return &portal.Download{Data: f.artifact, FileName: f.dlName}, nil
}

func (f *fakeBackend) DownloadLocation(jobID string) string {
	return "/download/" + jobID
}

func (f *fakeBackend) counts() (uploads, polls, downloads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads, f.statusCall, f.downloads
}

// fakeClock fires every timer immediately and records the requested delays.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	delays []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delays = append(c.delays, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// stuckClock never fires.
type stuckClock struct{}

func (stuckClock) Now() time.Time                       { return time.Unix(0, 0) }
func (stuckClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

func testOptions(clock Clock) Options {
	opts := DefaultOptions()
	opts.Clock = clock
	opts.RetryInitialBackoff = time.Millisecond
	opts.RetryMaxBackoff = 2 * time.Millisecond
	return opts
}

func intPtr(v int) *int { return &v }

func apiErr(code int, detail string) error {
	return &portal.APIError{Op: "test", StatusCode: code, Detail: detail, Err: classifyForTest(code)}
}

func classifyForTest(code int) error {
	switch {
	case code == 401 || code == 403:
		return portal.ErrUnauthorized
	case code == 404:
		return portal.ErrNotFound
	case code >= 500:
		return portal.ErrUnavailable
	default:
		return portal.ErrBadRequest
	}
}

func TestRun_PendingTwiceThenSucceeded(t *testing.T) {
	backend := &fakeBackend{
		uploadRes: &portal.UploadResult{TaskID: "42"},
		statuses: []reply{
			{status: "PENDING"},
			{status: "PENDING"},
			{status: "SUCCEEDED"},
		},
		artifact: []byte("B"),
	}
	clock := newFakeClock()

	var updates []Job
	opts := testOptions(clock)
	opts.OnUpdate = func(j Job) { updates = append(updates, j) }
	tr := New(backend, opts)

	sess := &session.Session{Username: "ada", Token: "T"}
	res, err := tr.Run(context.Background(), Submission{FileName: "dir/A.png", Data: []byte("A"), Session: sess})
	require.NoError(t, err)
	require.NotNil(t, res.Artifact)

	assert.Equal(t, []byte("B"), res.Artifact.Data)
	assert.Equal(t, "42", res.Artifact.JobID)
	assert.Equal(t, "/download/42", res.Artifact.Location)
	assert.Equal(t, StateRetrieved, res.Job.State)
	assert.Equal(t, StatusSucceeded, res.Job.Status)
	assert.Equal(t, 3, res.Job.Polls)
	assert.Equal(t, 100, res.Job.Progress)

	uploads, polls, downloads := backend.counts()
	assert.Equal(t, 1, uploads)
	assert.Equal(t, 3, polls, "no poll after the terminal status")
	assert.Equal(t, 1, downloads)

	assert.Equal(t, "A.png", backend.uploadReq.FileName)
	assert.Equal(t, "ada", backend.uploadReq.Username)
	for _, tok := range backend.tokens {
		assert.Equal(t, "T", tok)
	}

	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, clock.delays)

	require.NotEmpty(t, updates)
	assert.Equal(t, StateSubmitted, updates[0].State)
	assert.Equal(t, StateRetrieved, updates[len(updates)-1].State)
	last := -1
	for _, u := range updates {
		assert.GreaterOrEqual(t, u.Progress, last, "progress must not decrease")
		assert.LessOrEqual(t, u.Progress, 100)
		if u.State != StateRetrieved {
			assert.Less(t, u.Progress, 100)
		}
		last = u.Progress
	}
}

func TestRun_SubmissionRejected(t *testing.T) {
	backend := &fakeBackend{uploadErr: apiErr(http.StatusBadRequest, "Username and password are required.")}
	tr := New(backend, testOptions(newFakeClock()))

	res, err := tr.Run(context.Background(), Submission{FileName: "a.png", Data: []byte("A")})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrSubmission)
	assert.Equal(t, "Username and password are required.", UserMessage(err))

	_, polls, downloads := backend.counts()
	assert.Zero(t, polls)
	assert.Zero(t, downloads)
}

func TestRun_JobFailed(t *testing.T) {
	for _, status := range []string{"FAILED", "CANCELED", "cancelled"} {
		t.Run(status, func(t *testing.T) {
			backend := &fakeBackend{
				uploadRes: &portal.UploadResult{TaskID: "9"},
				statuses:  []reply{{status: "PENDING"}, {status: status}},
			}
			tr := New(backend, testOptions(newFakeClock()))

			res, err := tr.Run(context.Background(), Submission{FileName: "a.png", Data: []byte("A")})
			require.Error(t, err)
			assert.True(t, IsJobFailed(err))
			assert.False(t, IsRetrieval(err))
			assert.Equal(t, "Task "+string(ParseStatus(status)), UserMessage(err))

			require.NotNil(t, res)
			assert.True(t, res.Job.Status.IsTerminal())
			assert.Nil(t, res.Artifact)

			_, polls, downloads := backend.counts()
			assert.Equal(t, 2, polls)
			assert.Zero(t, downloads, "retrieve is never invoked for failed jobs")
		})
	}
}

func TestRun_RetrievalFailureKeepsSucceeded(t *testing.T) {
	backend := &fakeBackend{
		uploadRes: &portal.UploadResult{TaskID: "5"},
		statuses:  []reply{{status: "SUCCEEDED"}},
		dlErr:     apiErr(http.StatusInternalServerError, ""),
	}
	tr := New(backend, testOptions(newFakeClock()))

	res, err := tr.Run(context.Background(), Submission{FileName: "a.png", Data: []byte("A")})
	require.Error(t, err)
	assert.True(t, IsRetrieval(err))
	assert.False(t, IsJobFailed(err))

	require.NotNil(t, res)
	assert.Equal(t, StatusSucceeded, res.Job.Status)
	assert.Equal(t, StateSucceeded, res.Job.State)
	assert.Nil(t, res.Artifact)

	_, polls, downloads := backend.counts()
	assert.Equal(t, 1, polls)
	assert.Equal(t, 1, downloads, "retrieval is not retried")
}

func TestSubmit_Validation(t *testing.T) {
	t.Run("empty artifact", func(t *testing.T) {
		backend := &fakeBackend{}
		tr := New(backend, testOptions(newFakeClock()))

		h, err := tr.Submit(context.Background(), Submission{FileName: "a.png"})
		require.Error(t, err)
		assert.Nil(t, h)
		assert.True(t, IsValidation(err))
		assert.False(t, errors.Is(err, ErrSubmission))
		assert.Zero(t, backend.uploads)
	})

	t.Run("credential required", func(t *testing.T) {
		backend := &fakeBackend{}
		opts := testOptions(newFakeClock())
		opts.RequireCredential = true
		tr := New(backend, opts)

		_, err := tr.Submit(context.Background(), Submission{FileName: "a.png", Data: []byte("A")})
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		assert.Equal(t, "You must be logged in to upload.", UserMessage(err))
		assert.Zero(t, backend.uploads)
	})

	t.Run("credential present", func(t *testing.T) {
		backend := &fakeBackend{uploadRes: &portal.UploadResult{TaskID: "1"}}
		opts := testOptions(newFakeClock())
		opts.RequireCredential = true
		tr := New(backend, opts)

		h, err := tr.Submit(context.Background(), Submission{FileName: "a.png", Data: []byte("A"), Session: &session.Session{Token: "T"}})
		require.NoError(t, err)
		assert.Equal(t, "1", h.ID())
		assert.Equal(t, StateSubmitted, h.Snapshot().State)
		assert.Equal(t, 10, h.Snapshot().Progress)
	})
}

func TestSubmit_Unauthorized(t *testing.T) {
	backend := &fakeBackend{uploadErr: apiErr(http.StatusUnauthorized, "Invalid token")}
	tr := New(backend, testOptions(newFakeClock()))

	_, err := tr.Submit(context.Background(), Submission{FileName: "a.png", Data: []byte("A")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
	assert.NotErrorIs(t, err, ErrSubmission)
	assert.Equal(t, "Invalid token", UserMessage(err))
}

func TestPoll_RefusesAfterTerminal(t *testing.T) {
	backend := &fakeBackend{
		uploadRes: &portal.UploadResult{TaskID: "3"},
		statuses:  []reply{{status: "FAILED"}},
	}
	tr := New(backend, testOptions(newFakeClock()))

	h, err := tr.Submit(context.Background(), Submission{FileName: "a.png", Data: []byte("A")})
	require.NoError(t, err)

	st, err := tr.Poll(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st)

	_, err = tr.Poll(context.Background(), h)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoll)

	_, polls, _ := backend.counts()
	assert.Equal(t, 1, polls)
}

func TestRetrieve_RequiresSuccess(t *testing.T) {
	backend := &fakeBackend{uploadRes: &portal.UploadResult{TaskID: "3"}}
	tr := New(backend, testOptions(newFakeClock()))

	h, err := tr.Submit(context.Background(), Submission{FileName: "a.png", Data: []byte("A")})
	require.NoError(t, err)

	_, err = tr.Retrieve(context.Background(), h)
	require.Error(t, err)
	assert.True(t, IsRetrieval(err))
	assert.Zero(t, backend.downloads)
}

func TestPoll_RetriesTransientFailures(t *testing.T) {
	backend := &fakeBackend{
		uploadRes: &portal.UploadResult{TaskID: "7"},
		statuses: []reply{
			{err: apiErr(http.StatusServiceUnavailable, "")},
			{err: &portal.APIError{Op: "TaskStatus", Err: portal.ErrUnavailable, Cause: errors.New("connection reset")}},
			{status: "SUCCEEDED"},
		},
		artifact: []byte("glb"),
	}
	tr := New(backend, testOptions(newFakeClock()))

	res, err := tr.Run(context.Background(), Submission{FileName: "a.png", Data: []byte("A")})
	require.NoError(t, err)
	assert.Equal(t, []byte("glb"), res.Artifact.Data)
	assert.Equal(t, 1, res.Job.Polls, "retries count as one observed poll")

	_, statusCalls, _ := backend.counts()
	assert.Equal(t, 3, statusCalls)
}

func TestPoll_GivesUpAfterMaxAttempts(t *testing.T) {
	backend := &fakeBackend{
		uploadRes: &portal.UploadResult{TaskID: "7"},
		statuses:  []reply{{err: apiErr(http.StatusBadGateway, "upstream down")}},
	}
	tr := New(backend, testOptions(newFakeClock()))

	res, err := tr.Run(context.Background(), Submission{FileName: "a.png", Data: []byte("A")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoll)
	assert.Equal(t, "upstream down", UserMessage(err))
	require.NotNil(t, res)
	assert.Equal(t, StateSubmitted, res.Job.State)

	_, statusCalls, _ := backend.counts()
	assert.Equal(t, 3, statusCalls)
}

func TestPoll_PermanentFailureNotRetried(t *testing.T) {
	backend := &fakeBackend{
		uploadRes: &portal.UploadResult{TaskID: "7"},
		statuses:  []reply{{err: apiErr(http.StatusNotFound, "Task not found")}},
	}
	tr := New(backend, testOptions(newFakeClock()))

	_, err := tr.Run(context.Background(), Submission{FileName: "a.png", Data: []byte("A")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoll)

	_, statusCalls, _ := backend.counts()
	assert.Equal(t, 1, statusCalls)
}

func TestPoll_UnauthorizedIsAuthError(t *testing.T) {
	backend := &fakeBackend{
		uploadRes: &portal.UploadResult{TaskID: "7"},
		statuses:  []reply{{err: apiErr(http.StatusForbidden, "Forbidden")}},
	}
	tr := New(backend, testOptions(newFakeClock()))

	_, err := tr.Run(context.Background(), Submission{FileName: "a.png", Data: []byte("A")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestPoll_RetryDisabled(t *testing.T) {
	backend := &fakeBackend{
		uploadRes: &portal.UploadResult{TaskID: "7"},
		statuses:  []reply{{err: apiErr(http.StatusServiceUnavailable, "")}},
	}
	opts := testOptions(newFakeClock())
	opts.RetryAttempts = 1
	tr := New(backend, opts)

	_, err := tr.Run(context.Background(), Submission{FileName: "a.png", Data: []byte("A")})
	require.Error(t, err)

	_, statusCalls, _ := backend.counts()
	assert.Equal(t, 1, statusCalls)
}

func TestRun_ImmediateResult(t *testing.T) {
	backend := &fakeBackend{
		uploadRes: &portal.UploadResult{DownloadURL: "https://cdn.example.com/chair_1.glb", ModelFile: "chair_1.glb"},
		artifact:  []byte("glb"),
	}
	clock := newFakeClock()
	tr := New(backend, testOptions(clock))

	res, err := tr.Run(context.Background(), Submission{FileName: "chair.png", Data: []byte("A")})
	require.NoError(t, err)
	assert.Equal(t, "chair_1.glb", res.Job.ID)
	assert.Equal(t, "chair_1.glb", res.Artifact.ModelFile)
	assert.Equal(t, "https://cdn.example.com/chair_1.glb", backend.dlLocation)

	_, polls, _ := backend.counts()
	assert.Zero(t, polls)
	assert.Empty(t, clock.delays)
}

func TestRun_StatusDownloadURLOverridesDefault(t *testing.T) {
	backend := &fakeBackend{
		uploadRes: &portal.UploadResult{TaskID: "8"},
		statuses:  []reply{{status: "SUCCEEDED", url: "https://cdn.example.com/8.glb"}},
		artifact:  []byte("glb"),
	}
	tr := New(backend, testOptions(newFakeClock()))

	res, err := tr.Run(context.Background(), Submission{FileName: "a.png", Data: []byte("A")})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/8.glb", res.Artifact.Location)
}

func TestRun_UnknownStatusKeepsPolling(t *testing.T) {
	backend := &fakeBackend{
		uploadRes: &portal.UploadResult{TaskID: "8"},
		statuses:  []reply{{status: "IN_PROGRESS"}, {status: "QUEUED"}, {status: "SUCCEEDED"}},
		artifact:  []byte("glb"),
	}
	tr := New(backend, testOptions(newFakeClock()))

	res, err := tr.Run(context.Background(), Submission{FileName: "a.png", Data: []byte("A")})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Job.Polls)
}

func TestRun_ProgressCappedBelowHundred(t *testing.T) {
	statuses := make([]reply, 0, 20)
	for i := 0; i < 15; i++ {
		statuses = append(statuses, reply{status: "PENDING"})
	}
	statuses = append(statuses, reply{status: "PENDING", progress: intPtr(97)})
	statuses = append(statuses, reply{status: "PENDING", progress: intPtr(20)})
	statuses = append(statuses, reply{status: "SUCCEEDED"})

	backend := &fakeBackend{uploadRes: &portal.UploadResult{TaskID: "1"}, statuses: statuses, artifact: []byte("x")}

	var seen []int
	opts := testOptions(newFakeClock())
	opts.OnUpdate = func(j Job) {
		if j.State != StateRetrieved {
			seen = append(seen, j.Progress)
		}
	}
	tr := New(backend, opts)

	res, err := tr.Run(context.Background(), Submission{FileName: "a.png", Data: []byte("A")})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Job.Progress)

	for i, p := range seen {
		assert.LessOrEqual(t, p, 90)
		if i > 0 {
			assert.GreaterOrEqual(t, p, seen[i-1])
		}
	}
	assert.Equal(t, 90, seen[len(seen)-1])
}

func TestProgress_UsesReportedValueWhenHigher(t *testing.T) {
	p := newProgress(10, 10, 90)
	assert.Equal(t, 10, p.submitted())
	assert.Equal(t, 20, p.pending(nil))
	assert.Equal(t, 55, p.pending(intPtr(55)))
	assert.Equal(t, 65, p.pending(intPtr(5)))
	assert.Equal(t, 90, p.pending(intPtr(150)))
	assert.Equal(t, 90, p.pending(nil))
	assert.Equal(t, 100, p.complete())
}

func TestProgress_ClampsConfiguration(t *testing.T) {
	p := newProgress(50, -5, 140)
	assert.Equal(t, 50, p.submitted())
	assert.Equal(t, 50, p.pending(nil))

	p = newProgress(95, 10, 90)
	assert.Equal(t, 90, p.submitted())
}

func TestTrack_CancelStopsPolling(t *testing.T) {
	backend := &fakeBackend{
		uploadRes: &portal.UploadResult{TaskID: "11"},
		statuses:  []reply{{status: "PENDING"}},
	}
	tr := New(backend, testOptions(stuckClock{}))

	tracking := tr.Track(context.Background(), Submission{FileName: "a.png", Data: []byte("A")})

	require.Eventually(t, func() bool {
		return tracking.Snapshot().ID == "11"
	}, time.Second, time.Millisecond)

	tracking.Cancel()

	select {
	case <-tracking.Done():
	case <-time.After(time.Second):
		t.Fatal("tracking did not stop after Cancel")
	}

	res, err := tracking.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, StateSubmitted, res.Job.State)

	_, polls, _ := backend.counts()
	assert.Zero(t, polls)
}

func TestTrack_CompletesInBackground(t *testing.T) {
	backend := &fakeBackend{
		uploadRes: &portal.UploadResult{TaskID: "12"},
		statuses:  []reply{{status: "PENDING"}, {status: "SUCCEEDED"}},
		artifact:  []byte("B"),
	}
	tr := New(backend, testOptions(newFakeClock()))

	tracking := tr.Track(context.Background(), Submission{FileName: "a.png", Data: []byte("A")})
	res, err := tracking.Wait()
	require.NoError(t, err)
	assert.Equal(t, []byte("B"), res.Artifact.Data)
	assert.Equal(t, StateRetrieved, tracking.Snapshot().State)
}

func TestRun_TimeoutBoundsPolling(t *testing.T) {
	backend := &fakeBackend{
		uploadRes: &portal.UploadResult{TaskID: "13"},
		statuses:  []reply{{status: "PENDING"}},
	}
	opts := testOptions(stuckClock{})
	opts.Timeout = 20 * time.Millisecond
	tr := New(backend, opts)

	_, err := tr.Run(context.Background(), Submission{FileName: "a.png", Data: []byte("A")})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_TimeoutDoesNotBoundRetrieval(t *testing.T) {
	backend := &fakeBackend{
		uploadRes: &portal.UploadResult{TaskID: "14"},
		statuses:  []reply{{status: "SUCCEEDED"}},
		artifact:  []byte("B"),
	}
	opts := testOptions(newFakeClock())
	opts.Timeout = time.Hour
	tr := New(backend, opts)

	res, err := tr.Run(context.Background(), Submission{FileName: "a.png", Data: []byte("A")})
	require.NoError(t, err)
	assert.Equal(t, []byte("B"), res.Artifact.Data)
	assert.False(t, backend.dlDeadline, "download must run on the caller's context")
}

func TestResume(t *testing.T) {
	backend := &fakeBackend{
		statuses: []reply{{status: "PENDING"}, {status: "SUCCEEDED"}},
		artifact: []byte("B"),
	}
	tr := New(backend, testOptions(newFakeClock()))

	h := NewHandle("T", Job{ID: "77", SubmittedAt: time.Now()})
	res, err := tr.Resume(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, []byte("B"), res.Artifact.Data)
	assert.Equal(t, "/download/77", backend.dlLocation)
	assert.Zero(t, backend.uploads)
	for _, tok := range backend.tokens {
		assert.Equal(t, "T", tok)
	}
}

func TestResume_AlreadySucceededSkipsPolling(t *testing.T) {
	backend := &fakeBackend{artifact: []byte("B")}
	tr := New(backend, testOptions(newFakeClock()))

	h := NewHandle("", Job{ID: "78", Status: StatusSucceeded, ArtifactLocation: "/download/78", SubmittedAt: time.Now()})
	res, err := tr.Resume(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, StateRetrieved, res.Job.State)
	assert.Zero(t, backend.statusCall)
}

func TestResume_ContinuesRecordedProgress(t *testing.T) {
	backend := &fakeBackend{
		statuses: []reply{{status: "PENDING"}, {status: "PENDING"}, {status: "SUCCEEDED"}},
		artifact: []byte("B"),
	}
	opts := testOptions(newFakeClock())
	var seen []int
	opts.OnUpdate = func(j Job) { seen = append(seen, j.Progress) }
	tr := New(backend, opts)

	h := NewHandle("T", Job{ID: "79", Status: StatusPending, Progress: 60, Polls: 5, SubmittedAt: time.Now()})
	assert.Equal(t, 60, h.Snapshot().Progress)

	res, err := tr.Resume(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, 8, res.Job.Polls)
	assert.Equal(t, 100, res.Job.Progress)

	require.NotEmpty(t, seen)
	assert.Equal(t, 70, seen[0])
	last := 60
	for _, p := range seen {
		assert.GreaterOrEqual(t, p, last, "progress must not decrease after resume")
		last = p
	}
}

func TestResume_KeepsModelFile(t *testing.T) {
	backend := &fakeBackend{artifact: []byte("B")}
	tr := New(backend, testOptions(newFakeClock()))

	h := NewHandle("", Job{ID: "chair_1.glb", Status: StatusSucceeded, ArtifactLocation: "/download/chair_1.glb", ModelFile: "chair_1.glb"})
	res, err := tr.Resume(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "chair_1.glb", res.Artifact.ModelFile)
}

func TestRetrieve_DispositionNameWins(t *testing.T) {
	backend := &fakeBackend{
		uploadRes: &portal.UploadResult{TaskID: "42"},
		statuses:  []reply{{status: "SUCCEEDED"}},
		artifact:  []byte("B"),
		dlName:    "chair_1792033441.glb",
	}
	tr := New(backend, testOptions(newFakeClock()))

	res, err := tr.Run(context.Background(), Submission{FileName: "chair.png", Data: []byte("A")})
	require.NoError(t, err)
	assert.Equal(t, "chair_1792033441.glb", res.Artifact.ModelFile)
	assert.Equal(t, "chair_1792033441.glb", res.Job.ModelFile)
}

func TestStatus(t *testing.T) {
	assert.Equal(t, StatusCanceled, ParseStatus(" cancelled "))
	assert.Equal(t, StatusSucceeded, ParseStatus("succeeded"))
	assert.Equal(t, Status("IN_PROGRESS"), ParseStatus("in_progress"))

	assert.True(t, StatusSucceeded.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCanceled.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, Status("IN_PROGRESS").IsTerminal())

	assert.False(t, StateSucceeded.IsTerminal())
	assert.True(t, StateRetrieved.IsTerminal())
}

func TestJobError_Message(t *testing.T) {
	err := &JobError{Op: "Poll", JobID: "1", Class: ErrJobFailed, Status: StatusCanceled}
	assert.Equal(t, "Task CANCELED", UserMessage(err))
	assert.Contains(t, err.Error(), "job 1")
	assert.ErrorIs(t, err, ErrJobFailed)

	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "plain", UserMessage(errors.New("plain")))
}
