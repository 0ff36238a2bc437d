package model

// Package model defines the domain data structures shared across the queue
// core: download jobs, status and phase enums, format presets, and the event
// payloads delivered to the presentation layer. Structures are plain data;
// all state transitions are owned by the download scheduler.
