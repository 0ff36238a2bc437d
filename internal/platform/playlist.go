package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ytget/ytdlp/v2"
)

// Timeout for playlist item listing
const DefaultExpandTimeout = 60 * time.Second

// URL parameters and separators
const (
	PlaylistParam  = "list="
	ParamSeparator = "&"
)

// YouTubeVideoURLTemplate rebuilds a canonical watch URL from a video id
const YouTubeVideoURLTemplate = "https://www.youtube.com/watch?v=%s"

// PlaylistExpander resolves a playlist URL into its individual video URLs
// so each item becomes an independent job submission.
type PlaylistExpander struct {
	timeout time.Duration
}

// NewPlaylistExpander creates a new expander with the default timeout
func NewPlaylistExpander() *PlaylistExpander {
	return &PlaylistExpander{timeout: DefaultExpandTimeout}
}

// SetTimeout sets the timeout for expansion operations
func (p *PlaylistExpander) SetTimeout(timeout time.Duration) {
	p.timeout = timeout
}

// Expand returns the ordered list of video URLs behind url. A URL that does
// not reference a playlist expands to itself, so callers can feed every
// user-supplied URL through the same path.
func (p *PlaylistExpander) Expand(ctx context.Context, url string) ([]string, error) {
	if !IsPlaylistURL(url) {
		return []string{url}, nil
	}

	playlistID := extractPlaylistID(url)
	if playlistID == "" {
		return nil, fmt.Errorf("could not extract playlist ID from URL: %s", url)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	d := ytdlp.New()
	items, err := d.GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist items: %w", err)
	}

	urls := make([]string, 0, len(items))
	for _, it := range items {
		urls = append(urls, fmt.Sprintf(YouTubeVideoURLTemplate, it.VideoID))
	}
	return urls, nil
}

// IsPlaylistURL checks if the URL references a playlist
func IsPlaylistURL(url string) bool {
	return strings.Contains(url, PlaylistParam)
}

// extractPlaylistID extracts the playlist ID from various URL formats
func extractPlaylistID(url string) string {
	if !strings.Contains(url, PlaylistParam) {
		return ""
	}
	parts := strings.Split(url, PlaylistParam)
	if len(parts) < 2 {
		return ""
	}
	playlistPart := parts[1]
	if strings.Contains(playlistPart, ParamSeparator) {
		playlistPart = strings.Split(playlistPart, ParamSeparator)[0]
	}
	return playlistPart
}
