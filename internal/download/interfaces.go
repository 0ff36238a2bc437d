package download

import (
	"context"

	"github.com/zqily/multiyt-dlp/internal/model"
	"github.com/zqily/multiyt-dlp/internal/proc"
)

// Store persists job relaunch parameters for crash recovery. Failures are
// logged and ignored; persistence never blocks scheduling.
type Store interface {
	Put(ctx context.Context, job model.Job) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]model.Job, error)
}

// Notifier receives job lifecycle events from the scheduler. Progress goes
// through the coalescing publisher; terminal events are delivered at once.
type Notifier interface {
	Progress(u model.ProgressUpdate)
	Completed(c model.Completion)
	Failed(f model.Failure)
	Cancelled(c model.Cancellation)
}

// StartFunc launches a worker for the job and returns a handle to it.
// Production wiring uses proc.Start; tests substitute a stub.
type StartFunc func(ctx context.Context, job model.Job, rep proc.Reporter) proc.Handle
