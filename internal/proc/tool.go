package proc

import (
	"errors"
	"os/exec"

	"github.com/zqily/multiyt-dlp/internal/platform"
)

// ErrToolUnavailable means the worker executable could not be located. The
// surrounding application owns the install flow; the core only reports it.
var ErrToolUnavailable = errors.New("yt-dlp is not installed or not on PATH")

// Tool locates the external worker binary and its helpers.
type Tool struct {
	// Path is the yt-dlp executable.
	Path string
	// FFmpegPath is the ffmpeg executable, empty when not found. yt-dlp
	// needs it for merging and post-processing; without it those phases
	// fail inside the worker, which is surfaced like any runtime error.
	FFmpegPath string
	// TempDir stages partial downloads away from the output directory.
	TempDir string
}

// FindTool resolves yt-dlp and ffmpeg on PATH and prepares the staging
// directory. Returns ErrToolUnavailable when yt-dlp is missing.
func FindTool() (Tool, error) {
	path, err := exec.LookPath("yt-dlp")
	if err != nil {
		return Tool{}, ErrToolUnavailable
	}

	tool := Tool{Path: path}
	if ffmpeg, err := exec.LookPath("ffmpeg"); err == nil {
		tool.FFmpegPath = ffmpeg
	}
	if tempDir, err := platform.TempDownloadDir(); err == nil {
		tool.TempDir = tempDir
	}
	return tool, nil
}
