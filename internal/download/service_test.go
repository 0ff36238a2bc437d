package download_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zqily/multiyt-dlp/internal/download"
	"github.com/zqily/multiyt-dlp/internal/model"
	"github.com/zqily/multiyt-dlp/internal/proc"
)

// launcher stands in for real worker processes. It records dispatches and
// kills; tests drive outcomes by calling the Reporter methods themselves.
type launcher struct {
	mu      sync.Mutex
	started []string
	ctxs    []context.Context
	killed  []string
}

type killFunc func()

func (k killFunc) Kill() { k() }

func (l *launcher) start(ctx context.Context, job model.Job, _ proc.Reporter) proc.Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, job.ID)
	l.ctxs = append(l.ctxs, ctx)
	id := job.ID
	return killFunc(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.killed = append(l.killed, id)
	})
}

func (l *launcher) startedIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.started...)
}

func (l *launcher) startCtxs() []context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]context.Context(nil), l.ctxs...)
}

func (l *launcher) killedIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.killed...)
}

type memStore struct {
	mu    sync.Mutex
	jobs  map[string]model.Job
	order []string
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]model.Job)}
}

func (m *memStore) Put(_ context.Context, job model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		m.order = append(m.order, job.ID)
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *memStore) List(_ context.Context) ([]model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Job
	for _, id := range m.order {
		if job, ok := m.jobs[id]; ok {
			job.Status = model.StatusPending
			out = append(out, job)
		}
	}
	return out, nil
}

type sink struct {
	mu        sync.Mutex
	completed []model.Completion
	failed    []model.Failure
	cancelled []model.Cancellation
}

func (s *sink) Progress(model.ProgressUpdate) {}

func (s *sink) Completed(c model.Completion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, c)
}

func (s *sink) Failed(f model.Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, f)
}

func (s *sink) Cancelled(c model.Cancellation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, c)
}

func newTestService(t *testing.T, downloadMax, totalMax int) (*download.Service, *launcher, *memStore, *sink) {
	t.Helper()
	l := &launcher{}
	st := newMemStore()
	sk := &sink{}
	svc := download.NewService(l.start, st, sk, downloadMax, totalMax, slog.New(slog.DiscardHandler))
	return svc, l, st, sk
}

func requests(urls ...string) []model.Request {
	reqs := make([]model.Request, 0, len(urls))
	for _, u := range urls {
		reqs = append(reqs, model.Request{SourceURL: u, OutputDir: "/tmp/out", FormatSpec: model.FormatBest})
	}
	return reqs
}

func TestAdmissionStopsAtDownloadCeiling(t *testing.T) {
	svc, l, _, _ := newTestService(t, 4, 10)

	jobs, err := svc.SubmitBatch(requests("u1", "u2", "u3", "u4", "u5", "u6"))
	require.NoError(t, err)
	require.Len(t, jobs, 6)

	require.Len(t, l.startedIDs(), 4)
	snap := svc.Jobs()
	for i, job := range snap {
		if i < 4 {
			require.Equal(t, model.StatusDownloading, job.Status)
		} else {
			require.Equal(t, model.StatusPending, job.Status)
		}
	}
	dl, total := svc.Counters()
	require.Equal(t, 4, dl)
	require.Equal(t, 4, total)
}

func TestPhaseTransitionFreesDownloadSlot(t *testing.T) {
	svc, l, _, _ := newTestService(t, 4, 10)

	jobs, err := svc.SubmitBatch(requests("u1", "u2", "u3", "u4", "u5"))
	require.NoError(t, err)
	require.Len(t, l.startedIDs(), 4)

	// First worker moves into merging: its download slot frees while its
	// total slot stays held, so the fifth job is admitted.
	svc.JobPhase(jobs[0].ID, model.PhaseMerging)

	started := l.startedIDs()
	require.Len(t, started, 5)
	require.Equal(t, jobs[4].ID, started[4])

	dl, total := svc.Counters()
	require.Equal(t, 4, dl)
	require.Equal(t, 5, total)
}

func TestFailureReleasesBothSlots(t *testing.T) {
	svc, l, st, sk := newTestService(t, 4, 10)

	jobs, err := svc.SubmitBatch(requests("u1"))
	require.NoError(t, err)
	id := jobs[0].ID
	require.Len(t, l.startedIDs(), 1)

	svc.JobDone(id, proc.Result{Status: model.StatusFailed, ErrorMessage: "Unsupported URL"})

	job, ok := svc.Job(id)
	require.True(t, ok)
	require.Equal(t, model.StatusFailed, job.Status)
	require.Equal(t, "Unsupported URL", job.ErrorMessage)

	dl, total := svc.Counters()
	require.Zero(t, dl)
	require.Zero(t, total)

	leftover, err := st.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, leftover)

	require.Len(t, sk.failed, 1)
	require.Equal(t, id, sk.failed[0].JobID)
}

func TestCompletionFreesSlotAdmitsNext(t *testing.T) {
	svc, l, _, sk := newTestService(t, 1, 1)

	jobs, err := svc.SubmitBatch(requests("u1", "u2"))
	require.NoError(t, err)
	require.Len(t, l.startedIDs(), 1)

	svc.JobDone(jobs[0].ID, proc.Result{Status: model.StatusCompleted, OutputPath: "/tmp/out/a.mp4"})

	started := l.startedIDs()
	require.Len(t, started, 2)
	require.Equal(t, jobs[1].ID, started[1])

	job, _ := svc.Job(jobs[0].ID)
	require.Equal(t, model.StatusCompleted, job.Status)
	require.Equal(t, "/tmp/out/a.mp4", job.OutputPath)
	require.Len(t, sk.completed, 1)
}

func TestCancelPendingJobNeverSpawns(t *testing.T) {
	svc, l, _, sk := newTestService(t, 1, 1)

	jobs, err := svc.SubmitBatch(requests("u1", "u2"))
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(jobs[1].ID))

	job, _ := svc.Job(jobs[1].ID)
	require.Equal(t, model.StatusCancelled, job.Status)
	require.Len(t, sk.cancelled, 1)

	// The freed head slot must not resurrect the cancelled job.
	svc.JobDone(jobs[0].ID, proc.Result{Status: model.StatusCompleted})
	require.Equal(t, []string{jobs[0].ID}, l.startedIDs())
}

func TestCancelRunningJobKillsWorker(t *testing.T) {
	svc, l, _, _ := newTestService(t, 1, 1)

	jobs, err := svc.SubmitBatch(requests("u1"))
	require.NoError(t, err)
	id := jobs[0].ID

	require.NoError(t, svc.Cancel(id))
	require.Equal(t, []string{id}, l.killedIDs())

	// Still Downloading until the process actually exits.
	job, _ := svc.Job(id)
	require.Equal(t, model.StatusDownloading, job.Status)

	svc.JobDone(id, proc.Result{Status: model.StatusCancelled})
	job, _ = svc.Job(id)
	require.Equal(t, model.StatusCancelled, job.Status)

	// Cancelling again is a no-op.
	require.NoError(t, svc.Cancel(id))
	require.Len(t, l.killedIDs(), 1)
}

func TestBatchKeepsSubmissionOrder(t *testing.T) {
	svc, l, _, _ := newTestService(t, 1, 1)

	jobs, err := svc.SubmitBatch(requests("u1", "u2", "u3"))
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	ids := map[string]bool{}
	for _, job := range jobs {
		ids[job.ID] = true
	}
	require.Len(t, ids, 3)

	svc.JobDone(jobs[0].ID, proc.Result{Status: model.StatusCompleted})
	svc.JobDone(jobs[1].ID, proc.Result{Status: model.StatusCompleted})

	require.Equal(t, []string{jobs[0].ID, jobs[1].ID, jobs[2].ID}, l.startedIDs())
}

func TestDuplicateURLsSkippedNotFatal(t *testing.T) {
	svc, l, _, _ := newTestService(t, 4, 10)

	_, err := svc.SubmitBatch(requests("u1"))
	require.NoError(t, err)

	// A batch repeating a live URL, or repeating itself, still enqueues
	// the rest.
	jobs, err := svc.SubmitBatch(requests("u2", "u1", "u3", "u3"))
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "u2", jobs[0].SourceURL)
	require.Equal(t, "u3", jobs[1].SourceURL)
	require.Len(t, l.startedIDs(), 3)

	// Single submission of a live URL is an explicit rejection.
	_, err = svc.Submit(model.Request{SourceURL: "u1", OutputDir: "/tmp"})
	require.ErrorIs(t, err, download.ErrDuplicateURL)

	_, err = svc.Submit(model.Request{})
	require.ErrorIs(t, err, download.ErrEmptyURL)
}

func TestSubmitAndRetryAfterStopAll(t *testing.T) {
	svc, l, _, _ := newTestService(t, 2, 4)

	jobs, err := svc.SubmitBatch(requests("u1"))
	require.NoError(t, err)

	svc.StopAll()
	svc.JobDone(jobs[0].ID, proc.Result{Status: model.StatusCancelled})

	// The scheduler must stay usable: a fresh submission runs and its
	// worker context is live, not killed at spawn.
	fresh, err := svc.SubmitBatch(requests("u2"))
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	job, ok := svc.Job(fresh[0].ID)
	require.True(t, ok)
	require.Equal(t, model.StatusDownloading, job.Status)

	retried, err := svc.Retry(jobs[0].ID, false)
	require.NoError(t, err)
	require.Equal(t, "u1", retried.SourceURL)

	for _, ctx := range l.startCtxs() {
		require.NoError(t, ctx.Err())
	}
	require.Len(t, l.startedIDs(), 3)
}

func TestRetryCreatesFreshJob(t *testing.T) {
	svc, l, _, _ := newTestService(t, 4, 10)

	jobs, err := svc.SubmitBatch(requests("u1"))
	require.NoError(t, err)
	oldID := jobs[0].ID

	_, err = svc.Retry(oldID, false)
	require.ErrorIs(t, err, download.ErrNotRetryable)

	svc.JobDone(oldID, proc.Result{Status: model.StatusFailed, ErrorMessage: "boom"})

	fresh, err := svc.Retry(oldID, true)
	require.NoError(t, err)
	require.NotEqual(t, oldID, fresh.ID)
	require.True(t, fresh.SafeFilenames)
	require.Equal(t, "u1", fresh.SourceURL)

	_, ok := svc.Job(oldID)
	require.False(t, ok)
	require.Equal(t, fresh.ID, l.startedIDs()[1])
}

func TestSetConcurrencyClampsAndAdmits(t *testing.T) {
	svc, l, _, _ := newTestService(t, 1, 1)

	_, err := svc.SubmitBatch(requests("u1", "u2", "u3"))
	require.NoError(t, err)
	require.Len(t, l.startedIDs(), 1)

	// total below download clamps up to download.
	svc.SetConcurrency(3, 1)
	require.Len(t, l.startedIDs(), 3)
}

func TestClearRemovesOnlyTerminalJobs(t *testing.T) {
	svc, _, _, _ := newTestService(t, 4, 10)

	jobs, err := svc.SubmitBatch(requests("u1", "u2"))
	require.NoError(t, err)
	svc.JobDone(jobs[0].ID, proc.Result{Status: model.StatusCompleted})

	svc.Clear()

	snap := svc.Jobs()
	require.Len(t, snap, 1)
	require.Equal(t, jobs[1].ID, snap[0].ID)
}

func TestStopAllCancelsPendingAndKillsRunning(t *testing.T) {
	svc, l, _, sk := newTestService(t, 1, 1)

	jobs, err := svc.SubmitBatch(requests("u1", "u2"))
	require.NoError(t, err)

	svc.StopAll()

	require.Equal(t, []string{jobs[0].ID}, l.killedIDs())
	pendingJob, _ := svc.Job(jobs[1].ID)
	require.Equal(t, model.StatusCancelled, pendingJob.Status)
	require.Len(t, sk.cancelled, 1)
}

func TestResumeAllResubmitsLeftoverRecords(t *testing.T) {
	svc, l, st, _ := newTestService(t, 4, 10)

	// Records left behind by a previous run.
	leftovers := []model.Job{
		{ID: "old-1", Request: model.Request{SourceURL: "u1", OutputDir: "/tmp"}},
		{ID: "old-2", Request: model.Request{SourceURL: "u2", OutputDir: "/tmp"}},
	}
	for _, job := range leftovers {
		require.NoError(t, st.Put(context.Background(), job))
	}

	listed, err := svc.ListResumable(context.Background())
	require.NoError(t, err)
	require.Len(t, listed, 2)

	resumed, err := svc.ResumeAll(context.Background())
	require.NoError(t, err)
	require.Len(t, resumed, 2)
	require.NotEqual(t, "old-1", resumed[0].ID)
	require.Equal(t, "u1", resumed[0].SourceURL)
	require.Equal(t, "u2", resumed[1].SourceURL)
	require.Len(t, l.startedIDs(), 2)
}

func TestResumeAllKeepsLiveRecords(t *testing.T) {
	svc, _, st, _ := newTestService(t, 4, 10)
	ctx := context.Background()

	live, err := svc.SubmitBatch(requests("u-live"))
	require.NoError(t, err)
	require.NoError(t, st.Put(ctx, model.Job{ID: "old-1", Request: model.Request{SourceURL: "u1", OutputDir: "/tmp"}}))

	resumed, err := svc.ResumeAll(ctx)
	require.NoError(t, err)
	require.Len(t, resumed, 1)

	// Only the stale record goes; the live job keeps its crash-resume row.
	ids := persistedIDs(t, st)
	require.Contains(t, ids, live[0].ID)
	require.NotContains(t, ids, "old-1")
	require.Contains(t, ids, resumed[0].ID)
}

func persistedIDs(t *testing.T, st *memStore) []string {
	t.Helper()
	listed, err := st.List(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(listed))
	for _, job := range listed {
		ids = append(ids, job.ID)
	}
	return ids
}

func TestDiscardAllDropsRecords(t *testing.T) {
	svc, _, st, _ := newTestService(t, 4, 10)

	require.NoError(t, st.Put(context.Background(), model.Job{ID: "old-1", Request: model.Request{SourceURL: "u1"}}))
	require.NoError(t, svc.DiscardAll(context.Background()))

	listed, err := svc.ListResumable(context.Background())
	require.NoError(t, err)
	require.Empty(t, listed)
}

func TestWaitReturnsWhenIdle(t *testing.T) {
	svc, _, _, _ := newTestService(t, 1, 1)

	jobs, err := svc.SubmitBatch(requests("u1"))
	require.NoError(t, err)
	svc.JobDone(jobs[0].ID, proc.Result{Status: model.StatusCompleted})

	require.NoError(t, svc.Wait(context.Background()))
}
