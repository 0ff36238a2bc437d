// Package parse turns single lines of yt-dlp output into structured events.
// The worker's output is an evolving mix of human-readable status lines and
// optional structured markers, so every pattern here is best-effort: a line
// matching nothing yields no event and that is not an error.
package parse

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/zqily/multiyt-dlp/internal/model"
)

// Kind discriminates the event variants. New recognized patterns add a Kind
// without touching call sites.
type Kind int

const (
	// KindProgress carries percent/speed/eta from a raw-download line
	KindProgress Kind = iota + 1

	// KindPhase announces a transition into a post-processing phase
	KindPhase

	// KindDestination announces the output file the worker writes to
	KindDestination

	// KindAlreadyDone means the target file existed before the download
	KindAlreadyDone

	// KindError carries an explicit worker error line
	KindError
)

// Event is the parsed form of one output line. Only the fields implied by
// Kind are meaningful; everything else is zero.
type Event struct {
	Kind     Kind
	Percent  float64
	Speed    string
	ETA      string
	Phase    model.Phase
	Filename string
	Message  string
}

// Line patterns, matching what current yt-dlp versions print. The progress
// prefix is optional because --progress-template output and some extractors
// omit the [download] tag.
var (
	// [download]  12.3% of ~1.23MiB at 5.55MiB/s ETA 00:18
	reProgress = regexp.MustCompile(`^(?:\[download\]\s+)?([0-9]+(?:\.[0-9]+)?)%\s+of\s+~?\s*(\S+)(?:\s+at\s+(\S+))?(?:\s+ETA\s+(\S+))?`)

	// PROGRESS:: 12.3%  (emitted when the worker runs with --progress-template)
	reTemplated = regexp.MustCompile(`^PROGRESS::\s*([0-9]+(?:\.[0-9]+)?)%`)

	// [download] Destination: path/to/Title. [id].f123.mp4
	reDestination = regexp.MustCompile(`^\[download\]\s+Destination:\s+(.+)$`)

	// [download] path/to/file has already been downloaded
	reAlreadyDone = regexp.MustCompile(`^\[download\]\s+(?:Destination:\s+)?(.+?)\s+has already been downloaded`)

	// [Merger] Merging formats into "path/to/file.mkv"
	reMerger = regexp.MustCompile(`^\[Merger\]\s+Merging formats into\s+"?(.+?)"?$`)

	// [ExtractAudio] Destination: path/to/file.opus
	reExtractAudio = regexp.MustCompile(`^\[ExtractAudio\]\s+Destination:\s+(.+)$`)

	// [Metadata] Adding metadata to: path/to/file
	reMetadata = regexp.MustCompile(`^\[Metadata\]\s+Adding metadata to:\s+(.+)$`)

	// [EmbedThumbnail] ... or [Thumbnails] ...
	reThumbnail = regexp.MustCompile(`^\[(?:Thumbnails|EmbedThumbnail)\]`)

	// [FixupM3u8] Fixing output file, and the other Fixup postprocessors
	reFixup = regexp.MustCompile(`^\[Fixup\w+\]`)

	// trailing " [VideoID].ext" or " [VideoID].fNNN.ext" of default templates
	reTitleSuffix = regexp.MustCompile(`\s\[[a-zA-Z0-9_-]{11}\]\.(?:f[0-9]+\.)?[a-z0-9]+$`)
)

// Line parses one output line. The second return value is false when the
// line carries no recognized pattern; callers log such lines at debug level
// and move on.
func Line(raw string) (Event, bool) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return Event{}, false
	}

	if strings.HasPrefix(line, "ERROR:") {
		return Event{Kind: KindError, Message: strings.TrimSpace(line[len("ERROR:"):])}, true
	}

	if m := reMetadata.FindStringSubmatch(line); m != nil {
		return Event{Kind: KindPhase, Phase: model.PhaseEmbeddingMetadata, Filename: m[1]}, true
	}
	if reThumbnail.MatchString(line) {
		return Event{Kind: KindPhase, Phase: model.PhaseEmbeddingThumbnail}, true
	}
	if m := reMerger.FindStringSubmatch(line); m != nil {
		return Event{Kind: KindPhase, Phase: model.PhaseMerging, Filename: m[1]}, true
	}
	if m := reExtractAudio.FindStringSubmatch(line); m != nil {
		return Event{Kind: KindPhase, Phase: model.PhaseExtracting, Filename: m[1]}, true
	}
	if reFixup.MatchString(line) {
		return Event{Kind: KindPhase, Phase: model.PhaseFixingContainer}, true
	}
	if m := reAlreadyDone.FindStringSubmatch(line); m != nil {
		return Event{Kind: KindAlreadyDone, Filename: m[1]}, true
	}
	if m := reDestination.FindStringSubmatch(line); m != nil {
		return Event{Kind: KindDestination, Filename: m[1]}, true
	}
	if m := reTemplated.FindStringSubmatch(line); m != nil {
		if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
			return Event{Kind: KindProgress, Percent: pct}, true
		}
		return Event{}, false
	}
	if m := reProgress.FindStringSubmatch(line); m != nil {
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return Event{}, false
		}
		ev := Event{Kind: KindProgress, Percent: pct}
		// "Unknown" and "N/A" placeholders degrade to empty so callers keep
		// the last known value instead.
		if speed := m[3]; speed != "" && speed != "Unknown" && !strings.Contains(speed, "N/A") {
			ev.Speed = speed
		}
		if eta := m[4]; eta != "" && eta != "Unknown" {
			ev.ETA = eta
		}
		return ev, true
	}

	return Event{}, false
}

// CleanTitle reduces a destination path to a display title by taking the
// base name and stripping the default-template video-id suffix.
func CleanTitle(path string) string {
	name := filepath.Base(strings.TrimSpace(path))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return reTitleSuffix.ReplaceAllString(name, "")
}
