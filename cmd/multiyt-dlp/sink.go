package main

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/zqily/multiyt-dlp/internal/model"
)

// streamSink renders every broadcast event as one JSON line, the machine
// readable surface consumed by wrappers and the integration tests. Logs go
// to stderr, events to stdout, so the two never interleave.
type streamSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newStreamSink(w io.Writer) *streamSink {
	return &streamSink{enc: json.NewEncoder(w)}
}

type envelope struct {
	Event      string                 `json:"event"`
	Updates    []model.ProgressUpdate `json:"updates,omitempty"`
	JobID      string                 `json:"job_id,omitempty"`
	OutputPath string                 `json:"output_path,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

func (s *streamSink) emit(e envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(e)
}

func (s *streamSink) ProgressBatch(batch model.ProgressBatch) {
	s.emit(envelope{Event: "progress", Updates: batch.Updates})
}

func (s *streamSink) Completed(c model.Completion) {
	s.emit(envelope{Event: "completed", JobID: c.JobID, OutputPath: c.OutputPath})
}

func (s *streamSink) Failed(f model.Failure) {
	s.emit(envelope{Event: "failed", JobID: f.JobID, Error: f.ErrorMessage})
}

func (s *streamSink) Cancelled(c model.Cancellation) {
	s.emit(envelope{Event: "cancelled", JobID: c.JobID})
}
