package proc

import (
	"path/filepath"

	"github.com/zqily/multiyt-dlp/internal/model"
)

// DefaultOutputTemplate keeps the video id in the name so destination lines
// can be reduced to a clean display title.
const DefaultOutputTemplate = "%(title)s. [%(id)s].%(ext)s"

// BuildArgs materializes the full worker argument list for one job. The
// URL goes last; --newline forces one progress report per line so the
// stream stays parseable.
func BuildArgs(job model.Job, tool Tool) []string {
	template := job.FilenameTemplate
	if template == "" {
		template = DefaultOutputTemplate
	}

	args := []string{
		"--newline",
		"--no-playlist",
		"--no-mtime",
		"-o", filepath.Join(job.OutputDir, template),
	}
	if tool.TempDir != "" {
		args = append(args, "--paths", "temp:"+tool.TempDir)
	}
	if tool.FFmpegPath != "" {
		args = append(args, "--ffmpeg-location", filepath.Dir(tool.FFmpegPath))
	}

	switch job.FormatSpec {
	case model.FormatBest, "":
		// worker default
	case model.FormatBestMP4:
		args = append(args, "-f", "bestvideo+bestaudio", "--merge-output-format", "mp4")
	case model.FormatBestMKV:
		args = append(args, "-f", "bestvideo+bestaudio", "--merge-output-format", "mkv")
	case model.FormatBestWebM:
		args = append(args, "-f", "bestvideo+bestaudio", "--merge-output-format", "webm")
	case model.FormatAudioBest:
		args = append(args, "-x", "-f", "bestaudio/best")
	case model.FormatAudioMP3:
		args = append(args, "-x", "--audio-format", "mp3", "--audio-quality", "0")
	case model.FormatAudioFLAC:
		args = append(args, "-x", "--audio-format", "flac", "--audio-quality", "0")
	case model.FormatAudioM4A:
		args = append(args, "-x", "--audio-format", "m4a", "--audio-quality", "0")
	}

	if job.EmbedMetadata {
		args = append(args, "--embed-metadata")
	}
	if job.EmbedThumbnail {
		args = append(args, "--embed-thumbnail")
	}
	if job.SafeFilenames {
		args = append(args, "--restrict-filenames")
	}

	return append(args, job.SourceURL)
}
