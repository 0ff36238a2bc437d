// Package event delivers job state to the presentation layer without letting
// high-frequency progress output overwhelm it. Progress updates coalesce per
// job inside a fixed flush window and ship as one batch; terminal events
// bypass the window and go out immediately.
package event

import (
	"sync"
	"time"

	"github.com/zqily/multiyt-dlp/internal/model"
)

// DefaultFlushInterval is the coalescing window for progress updates.
const DefaultFlushInterval = 50 * time.Millisecond

// Sink consumes outbound events. Delivery is fire-and-forget: the core never
// waits on acknowledgement, so sink implementations must not block for long.
type Sink interface {
	ProgressBatch(batch model.ProgressBatch)
	Completed(c model.Completion)
	Failed(f model.Failure)
	Cancelled(c model.Cancellation)
}

// Publisher accumulates progress updates and drains them on a ticker. Any
// number of producer goroutines may write concurrently.
type Publisher struct {
	sink     Sink
	interval time.Duration

	mu    sync.Mutex
	buf   map[string]model.ProgressUpdate
	order []string

	stop chan struct{}
	done chan struct{}
}

// NewPublisher creates a publisher flushing into sink every interval;
// interval <= 0 selects DefaultFlushInterval.
func NewPublisher(sink Sink, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Publisher{
		sink:     sink,
		interval: interval,
		buf:      make(map[string]model.ProgressUpdate),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the flush loop.
func (p *Publisher) Start() {
	go p.run()
}

// Stop drains whatever is buffered and terminates the flush loop.
func (p *Publisher) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Publisher) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			p.flush()
			close(p.done)
			return
		case <-ticker.C:
			p.flush()
		}
	}
}

// Progress buffers a job's latest snapshot. Repeated updates for the same
// job inside one window collapse to the newest value; first-arrival order
// across jobs is kept for the batch.
func (p *Publisher) Progress(u model.ProgressUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.buf[u.JobID]; !ok {
		p.order = append(p.order, u.JobID)
	}
	p.buf[u.JobID] = u
}

// Completed delivers immediately, superseding any buffered progress.
func (p *Publisher) Completed(c model.Completion) {
	p.dropPending(c.JobID)
	p.sink.Completed(c)
}

// Failed delivers immediately, superseding any buffered progress.
func (p *Publisher) Failed(f model.Failure) {
	p.dropPending(f.JobID)
	p.sink.Failed(f)
}

// Cancelled delivers immediately, superseding any buffered progress.
func (p *Publisher) Cancelled(c model.Cancellation) {
	p.dropPending(c.JobID)
	p.sink.Cancelled(c)
}

func (p *Publisher) flush() {
	p.mu.Lock()
	if len(p.buf) == 0 {
		p.mu.Unlock()
		return
	}
	updates := make([]model.ProgressUpdate, 0, len(p.order))
	for _, id := range p.order {
		if u, ok := p.buf[id]; ok {
			updates = append(updates, u)
		}
	}
	p.buf = make(map[string]model.ProgressUpdate)
	p.order = p.order[:0]
	p.mu.Unlock()

	p.sink.ProgressBatch(model.ProgressBatch{Updates: updates})
}

func (p *Publisher) dropPending(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.buf[jobID]; !ok {
		return
	}
	delete(p.buf, jobID)
	for i, id := range p.order {
		if id == jobID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}
