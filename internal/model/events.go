package model

// ProgressUpdate is one job's latest progress snapshot. Updates for the same
// job inside a coalescing window collapse to the newest value.
type ProgressUpdate struct {
	JobID    string    `json:"job_id"`
	Status   JobStatus `json:"status"`
	Percent  float64   `json:"percent"`
	Speed    string    `json:"speed,omitempty"`
	ETA      string    `json:"eta,omitempty"`
	Filename string    `json:"filename,omitempty"`
	Phase    Phase     `json:"phase,omitempty"`
}

// ProgressBatch carries every coalesced update from one delivery window.
type ProgressBatch struct {
	Updates []ProgressUpdate `json:"updates"`
}

// Completion announces a successfully finished job.
type Completion struct {
	JobID      string `json:"job_id"`
	OutputPath string `json:"output_path"`
}

// Failure announces a terminally failed job with its diagnostic text.
type Failure struct {
	JobID        string `json:"job_id"`
	ErrorMessage string `json:"error_message"`
}

// Cancellation announces a job stopped by the caller.
type Cancellation struct {
	JobID string `json:"job_id"`
}
