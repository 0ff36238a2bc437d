package model

import (
	"time"
)

// FormatPreset selects the worker's format arguments. The core treats it as
// an opaque key; the mapping to yt-dlp flags lives in the process layer.
type FormatPreset string

const (
	FormatBest      FormatPreset = "best"
	FormatBestMP4   FormatPreset = "best_mp4"
	FormatBestMKV   FormatPreset = "best_mkv"
	FormatBestWebM  FormatPreset = "best_webm"
	FormatAudioBest FormatPreset = "audio_best"
	FormatAudioMP3  FormatPreset = "audio_mp3"
	FormatAudioFLAC FormatPreset = "audio_flac"
	FormatAudioM4A  FormatPreset = "audio_m4a"
)

// Request holds everything needed to launch a worker for one URL. Playlists
// are expanded by the caller before submission, one Request per item.
type Request struct {
	SourceURL        string       `json:"source_url"`
	OutputDir        string       `json:"output_dir"`
	FormatSpec       FormatPreset `json:"format_spec"`
	FilenameTemplate string       `json:"filename_template"`
	EmbedMetadata    bool         `json:"embed_metadata"`
	EmbedThumbnail   bool         `json:"embed_thumbnail"`
	SafeFilenames    bool         `json:"safe_filenames"`
}

// Job is one requested unit of work. The id is generated at submission and
// never reused; a retry produces a new Job with a new id.
type Job struct {
	ID string `json:"id"`
	Request

	Status JobStatus `json:"status"`
	Phase  Phase     `json:"phase,omitempty"`

	Percent  float64 `json:"percent"`
	Speed    string  `json:"speed,omitempty"`
	ETA      string  `json:"eta,omitempty"`
	Filename string  `json:"filename,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	OutputPath   string `json:"output_path,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// DisplayName returns the best human-readable identifier known so far:
// the destination filename once the worker announced it, the URL before.
func (j *Job) DisplayName() string {
	if j.Filename != "" {
		return j.Filename
	}
	return j.SourceURL
}
