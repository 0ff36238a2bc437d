package model

// JobStatus represents the lifecycle state of a download job
type JobStatus string

const (
	// StatusPending means the job is queued but no worker has been dispatched
	StatusPending JobStatus = "Pending"

	// StatusDownloading means a worker process is bound to the job
	StatusDownloading JobStatus = "Downloading"

	// StatusCompleted means the worker finished successfully
	StatusCompleted JobStatus = "Completed"

	// StatusFailed means the worker failed or could not be launched
	StatusFailed JobStatus = "Failed"

	// StatusCancelled means the job was stopped by the caller
	StatusCancelled JobStatus = "Cancelled"
)

// String returns the string representation of JobStatus
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal returns true if no further transition can happen for this status.
// Terminal jobs are only retried by submitting a new job with a new id.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Phase is the worker's current sub-activity while a job is Downloading.
// Only PhaseRawDownload holds a download slot; every other phase keeps the
// total-instance slot and nothing else.
type Phase string

const (
	PhaseRawDownload        Phase = "Downloading"
	PhaseMerging            Phase = "Merging"
	PhaseExtracting         Phase = "Extracting Audio"
	PhaseFixingContainer    Phase = "Fixing Container"
	PhaseEmbeddingMetadata  Phase = "Writing Metadata"
	PhaseEmbeddingThumbnail Phase = "Embedding Thumbnail"
	PhaseUnknown            Phase = "Unknown"
)

// String returns the string representation of Phase
func (p Phase) String() string {
	return string(p)
}

// HoldsDownloadSlot reports whether a running job in this phase counts
// against the raw-download ceiling in addition to the total-instance ceiling.
func (p Phase) HoldsDownloadSlot() bool {
	return p == PhaseRawDownload
}
