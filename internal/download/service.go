package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zqily/multiyt-dlp/internal/model"
	"github.com/zqily/multiyt-dlp/internal/proc"
)

// Defaults for the two concurrency ceilings.
const (
	DefaultDownloadMax = 4
	DefaultTotalMax    = 10
)

var (
	// ErrEmptyURL is returned for a submission with no source URL.
	ErrEmptyURL = errors.New("source URL is empty")
	// ErrDuplicateURL is returned when the URL already has a live job.
	ErrDuplicateURL = errors.New("URL is already queued or downloading")
	// ErrUnknownJob is returned for operations on an id the scheduler
	// has never seen or has already cleared.
	ErrUnknownJob = errors.New("unknown job id")
	// ErrNotRetryable is returned when retrying a job that has not
	// finished as Failed or Cancelled.
	ErrNotRetryable = errors.New("job is not in a retryable state")
)

// Service is the admission scheduler. It owns every job record and the two
// slot counters, and is the only writer of job state. All public methods
// and Reporter callbacks take the same mutex, so transitions are serialized.
type Service struct {
	mu sync.Mutex

	jobs    map[string]*model.Job
	order   []string // submission order, for stable snapshots
	pending []string // FIFO admission queue, head admitted first
	running map[string]proc.Handle

	downloadInUse int
	totalInUse    int
	downloadMax   int
	totalMax      int

	start  StartFunc
	store  Store
	notify Notifier
	logger *slog.Logger

	ctx context.Context
}

// NewService builds a scheduler with the given ceilings. The ceilings are
// clamped so downloadMax is at least 1 and totalMax is never below
// downloadMax.
func NewService(start StartFunc, store Store, notify Notifier, downloadMax, totalMax int, logger *slog.Logger) *Service {
	s := &Service{
		jobs:    make(map[string]*model.Job),
		running: make(map[string]proc.Handle),
		start:   start,
		store:   store,
		notify:  notify,
		logger:  logger,
		ctx:     context.Background(),
	}
	s.downloadMax, s.totalMax = clampCeilings(downloadMax, totalMax)
	return s
}

func clampCeilings(downloadMax, totalMax int) (int, int) {
	if downloadMax < 1 {
		downloadMax = 1
	}
	if totalMax < downloadMax {
		totalMax = downloadMax
	}
	return downloadMax, totalMax
}

// Submit enqueues one job for the request and runs an admission pass.
// A URL that already has a live job is rejected with ErrDuplicateURL.
func (s *Service) Submit(req model.Request) (model.Job, error) {
	jobs, err := s.SubmitBatch([]model.Request{req})
	if err != nil {
		return model.Job{}, err
	}
	if len(jobs) == 0 {
		return model.Job{}, fmt.Errorf("%w: %s", ErrDuplicateURL, req.SourceURL)
	}
	return jobs[0], nil
}

// SubmitBatch enqueues every request as one contiguous FIFO block before
// any of them is admitted, preserving the caller's order. Requests whose
// URL already has a live job, or that repeat an earlier URL in the same
// batch, are skipped rather than failing the rest; playlists commonly
// list the same video twice.
func (s *Service) SubmitBatch(reqs []model.Request) ([]model.Job, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, req := range reqs {
		if req.SourceURL == "" {
			return nil, ErrEmptyURL
		}
	}

	seen := make(map[string]bool, len(reqs))
	jobs := make([]model.Job, 0, len(reqs))
	for _, req := range reqs {
		if seen[req.SourceURL] || s.hasLiveURLLocked(req.SourceURL) {
			s.logger.Warn("skipping duplicate URL", slog.String("url", req.SourceURL))
			continue
		}
		seen[req.SourceURL] = true
		job := &model.Job{
			ID:        uuid.NewString(),
			Request:   req,
			Status:    model.StatusPending,
			CreatedAt: time.Now(),
		}
		s.jobs[job.ID] = job
		s.order = append(s.order, job.ID)
		s.pending = append(s.pending, job.ID)
		s.persistLocked(*job)
		jobs = append(jobs, *job)
	}

	s.admitLocked()
	return jobs, nil
}

func (s *Service) hasLiveURLLocked(url string) bool {
	for _, job := range s.jobs {
		if job.SourceURL == url && !job.Status.IsTerminal() {
			return true
		}
	}
	return false
}

// admitLocked dispatches pending jobs from the head of the queue while both
// ceilings have room. Admission is strictly in order: when the head cannot
// start, nothing behind it starts either.
func (s *Service) admitLocked() {
	for len(s.pending) > 0 {
		if s.downloadInUse >= s.downloadMax || s.totalInUse >= s.totalMax {
			return
		}
		id := s.pending[0]
		s.pending = s.pending[1:]

		job, ok := s.jobs[id]
		if !ok {
			continue
		}
		job.Status = model.StatusDownloading
		job.Phase = model.PhaseRawDownload
		job.Percent = 0
		s.downloadInUse++
		s.totalInUse++

		s.running[id] = s.start(s.ctx, *job, s)
		s.logger.Info("job dispatched",
			slog.String("job_id", id),
			slog.String("url", job.SourceURL),
			slog.Int("downloads_in_use", s.downloadInUse),
			slog.Int("total_in_use", s.totalInUse))
		s.notifyProgressLocked(job)
	}
}

// Cancel stops the job with the given id. Pending jobs become Cancelled
// immediately; running jobs have their worker killed and reach Cancelled
// through the normal exit path. Cancelling an already terminal job is a
// no-op.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrUnknownJob
	}
	if job.Status.IsTerminal() {
		return nil
	}

	if handle, running := s.running[id]; running {
		handle.Kill()
		return nil
	}

	s.removePendingLocked(id)
	s.finalizeLocked(job, model.StatusCancelled, "", "")
	return nil
}

// StopAll cancels every pending job and kills every running worker. Running
// jobs reach Cancelled asynchronously when their processes exit. The
// scheduler stays usable: later submissions and retries admit normally.
func (s *Service) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range append([]string(nil), s.pending...) {
		if job, ok := s.jobs[id]; ok && !job.Status.IsTerminal() {
			s.finalizeLocked(job, model.StatusCancelled, "", "")
		}
	}
	s.pending = s.pending[:0]

	for _, handle := range s.running {
		handle.Kill()
	}
}

// Retry resubmits a Failed or Cancelled job as a brand-new job with a new
// id; the old record is removed. safeFilenames forces filesystem-safe
// naming on the new attempt, the usual recovery for path errors.
func (s *Service) Retry(id string, safeFilenames bool) (model.Job, error) {
	s.mu.Lock()
	req, err := func() (model.Request, error) {
		job, ok := s.jobs[id]
		if !ok {
			return model.Request{}, ErrUnknownJob
		}
		if job.Status != model.StatusFailed && job.Status != model.StatusCancelled {
			return model.Request{}, ErrNotRetryable
		}
		req := job.Request
		if safeFilenames {
			req.SafeFilenames = true
		}
		s.removeJobLocked(id)
		return req, nil
	}()
	s.mu.Unlock()
	if err != nil {
		return model.Job{}, err
	}
	return s.Submit(req)
}

// Clear removes terminal jobs from the in-memory view. With no ids it
// removes every Completed, Failed and Cancelled job; with ids it removes
// only those, skipping any that are still live.
func (s *Service) Clear(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ids) == 0 {
		for _, id := range append([]string(nil), s.order...) {
			if job, ok := s.jobs[id]; ok && job.Status.IsTerminal() {
				s.removeJobLocked(id)
			}
		}
		return
	}
	for _, id := range ids {
		if job, ok := s.jobs[id]; ok && job.Status.IsTerminal() {
			s.removeJobLocked(id)
		}
	}
}

// Job returns a snapshot of one job record.
func (s *Service) Job(id string) (model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return model.Job{}, false
	}
	return *job, true
}

// Jobs returns snapshots of every known job in submission order.
func (s *Service) Jobs() []model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Job, 0, len(s.order))
	for _, id := range s.order {
		if job, ok := s.jobs[id]; ok {
			out = append(out, *job)
		}
	}
	return out
}

// Counters reports the live slot usage, mainly for tests and diagnostics.
func (s *Service) Counters() (downloadInUse, totalInUse int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloadInUse, s.totalInUse
}

// SetConcurrency adjusts both ceilings at runtime. Raising a ceiling
// triggers an immediate admission pass; lowering one never interrupts jobs
// already running, it only throttles future admissions.
func (s *Service) SetConcurrency(downloadMax, totalMax int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloadMax, s.totalMax = clampCeilings(downloadMax, totalMax)
	s.admitLocked()
}

// ListResumable returns jobs persisted by a previous run that never reached
// a terminal state. They are surfaced for an explicit caller decision, not
// resumed silently.
func (s *Service) ListResumable(ctx context.Context) ([]model.Job, error) {
	leftover, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read resumable jobs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Job
	for _, job := range leftover {
		if _, live := s.jobs[job.ID]; live {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

// ResumeAll resubmits every leftover persisted job through the normal
// submission path, in their original order. Each gets a fresh id; only the
// stale records are dropped, records of jobs live in this process stay.
func (s *Service) ResumeAll(ctx context.Context) ([]model.Job, error) {
	leftover, err := s.ListResumable(ctx)
	if err != nil {
		return nil, err
	}
	for _, job := range leftover {
		if err := s.store.Delete(ctx, job.ID); err != nil {
			s.logger.Warn("failed to drop stale job record",
				slog.String("job_id", job.ID), slog.Any("error", err))
		}
	}
	if len(leftover) == 0 {
		return nil, nil
	}

	reqs := make([]model.Request, 0, len(leftover))
	for _, job := range leftover {
		reqs = append(reqs, job.Request)
	}
	return s.SubmitBatch(reqs)
}

// DiscardAll drops every leftover persisted job without resubmitting.
// Records of jobs live in this process are untouched.
func (s *Service) DiscardAll(ctx context.Context) error {
	leftover, err := s.ListResumable(ctx)
	if err != nil {
		return err
	}
	for _, job := range leftover {
		if err := s.store.Delete(ctx, job.ID); err != nil {
			return fmt.Errorf("failed to discard job %s: %w", job.ID, err)
		}
	}
	return nil
}

// Wait blocks until no job is pending or running, or the context ends.
func (s *Service) Wait(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		idle := len(s.pending) == 0 && len(s.running) == 0
		s.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// JobProgress implements proc.Reporter.
func (s *Service) JobProgress(id string, percent float64, speed, eta, filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != model.StatusDownloading {
		return
	}
	job.Percent = percent
	job.Speed = speed
	job.ETA = eta
	if filename != "" {
		job.Filename = filename
	}
	s.notifyProgressLocked(job)
}

// JobPhase implements proc.Reporter. Leaving the raw-download phase frees
// the job's download slot while it keeps its total slot, which may admit
// the next pending job.
func (s *Service) JobPhase(id string, phase model.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != model.StatusDownloading {
		return
	}
	heldDownload := job.Phase.HoldsDownloadSlot()
	job.Phase = phase
	if heldDownload && !phase.HoldsDownloadSlot() {
		s.downloadInUse--
		s.logger.Debug("download slot released",
			slog.String("job_id", id),
			slog.String("phase", string(phase)))
		s.admitLocked()
	}
	s.notifyProgressLocked(job)
}

// JobDone implements proc.Reporter. Both slots the job still holds are
// released in the same critical section as the terminal transition, then
// an admission pass runs.
func (s *Service) JobDone(id string, res proc.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return
	}
	delete(s.running, id)
	s.totalInUse--
	if job.Phase.HoldsDownloadSlot() {
		s.downloadInUse--
	}

	s.finalizeLocked(job, res.Status, res.OutputPath, res.ErrorMessage)
	s.admitLocked()
}

// finalizeLocked moves a job to its terminal state, drops its durable
// record and emits the matching terminal event.
func (s *Service) finalizeLocked(job *model.Job, status model.JobStatus, outputPath, errorMessage string) {
	job.Status = status
	job.FinishedAt = time.Now()
	job.Speed = ""
	job.ETA = ""
	if outputPath != "" {
		job.OutputPath = outputPath
	}
	job.ErrorMessage = errorMessage

	if err := s.store.Delete(context.Background(), job.ID); err != nil {
		s.logger.Warn("failed to drop job record",
			slog.String("job_id", job.ID), slog.Any("error", err))
	}

	switch status {
	case model.StatusCompleted:
		s.logger.Info("job completed",
			slog.String("job_id", job.ID), slog.String("output", job.OutputPath))
		s.notify.Completed(model.Completion{JobID: job.ID, OutputPath: job.OutputPath})
	case model.StatusFailed:
		s.logger.Warn("job failed",
			slog.String("job_id", job.ID), slog.String("error", errorMessage))
		s.notify.Failed(model.Failure{JobID: job.ID, ErrorMessage: errorMessage})
	case model.StatusCancelled:
		s.logger.Info("job cancelled", slog.String("job_id", job.ID))
		s.notify.Cancelled(model.Cancellation{JobID: job.ID})
	}
}

func (s *Service) notifyProgressLocked(job *model.Job) {
	s.notify.Progress(model.ProgressUpdate{
		JobID:    job.ID,
		Status:   job.Status,
		Percent:  job.Percent,
		Speed:    job.Speed,
		ETA:      job.ETA,
		Filename: job.Filename,
		Phase:    job.Phase,
	})
}

func (s *Service) persistLocked(job model.Job) {
	if err := s.store.Put(context.Background(), job); err != nil {
		s.logger.Warn("failed to persist job record",
			slog.String("job_id", job.ID), slog.Any("error", err))
	}
}

func (s *Service) removePendingLocked(id string) {
	for i, pid := range s.pending {
		if pid == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func (s *Service) removeJobLocked(id string) {
	s.removePendingLocked(id)
	delete(s.jobs, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
