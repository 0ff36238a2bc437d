package download

// Package download implements the admission scheduler: a FIFO queue of
// jobs admitted under two concurrency ceilings, one for active raw
// downloads and one for total live worker processes. All state transitions
// are serialized behind a single mutex; worker goroutines report back
// through the Reporter callbacks and never touch state directly.
