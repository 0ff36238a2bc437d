// Package config manages application configuration
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/zqily/multiyt-dlp/internal/model"
	"github.com/zqily/multiyt-dlp/internal/platform"
)

// Environment variable keys, also honored from a .env file
const (
	KeyDownloadDir      = "MULTIYT_DOWNLOAD_DIR"
	KeyMaxDownloads     = "MULTIYT_MAX_DOWNLOADS"
	KeyMaxTotal         = "MULTIYT_MAX_TOTAL"
	KeyFormatPreset     = "MULTIYT_FORMAT"
	KeyFilenameTemplate = "MULTIYT_FILENAME_TEMPLATE"
	KeyQueueDBPath      = "MULTIYT_QUEUE_DB"
)

// Default values
const (
	DefaultMaxDownloads     = 4
	DefaultMaxTotal         = 10
	DefaultFormatPreset     = model.FormatBest
	DefaultFilenameTemplate = "%(title)s. [%(id)s].%(ext)s"

	maxDownloadsCeiling = 16
	maxTotalCeiling     = 32
)

// Settings holds the persisted application configuration
type Settings struct {
	DownloadDir      string             `json:"download_dir,omitempty"`
	MaxDownloads     int                `json:"max_downloads,omitempty"`
	MaxTotal         int                `json:"max_total,omitempty"`
	FormatPreset     model.FormatPreset `json:"format_preset,omitempty"`
	FilenameTemplate string             `json:"filename_template,omitempty"`
	QueueDBPath      string             `json:"queue_db_path,omitempty"`

	path string
}

// DefaultPath returns the settings file location under the user config dir
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(base, "multiyt-dlp", "settings.json"), nil
}

// Load reads settings from path, then applies environment overrides.
// A missing file yields defaults, not an error.
func Load(path string) (*Settings, error) {
	s := &Settings{path: path}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("failed to parse settings file: %w", err)
		}
	case os.IsNotExist(err):
		// first run
	default:
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	s.path = path
	s.applyEnv()
	return s, nil
}

func (s *Settings) applyEnv() {
	if v := os.Getenv(KeyDownloadDir); v != "" {
		s.DownloadDir = v
	}
	if v := os.Getenv(KeyMaxDownloads); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.MaxDownloads = n
		}
	}
	if v := os.Getenv(KeyMaxTotal); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.MaxTotal = n
		}
	}
	if v := os.Getenv(KeyFormatPreset); v != "" {
		s.FormatPreset = model.FormatPreset(v)
	}
	if v := os.Getenv(KeyFilenameTemplate); v != "" {
		s.FilenameTemplate = v
	}
	if v := os.Getenv(KeyQueueDBPath); v != "" {
		s.QueueDBPath = v
	}
}

// Save writes the settings back to their file, creating the directory
func (s *Settings) Save() error {
	if s.path == "" {
		return fmt.Errorf("settings have no file path")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

// GetDownloadDir returns the configured download directory, falling back
// to the system Downloads folder
func (s *Settings) GetDownloadDir() string {
	if s.DownloadDir != "" {
		return s.DownloadDir
	}
	dir, err := platform.GetHomeDownloadsDir()
	if err != nil {
		return "."
	}
	return dir
}

// GetMaxDownloads returns the download-slot ceiling, clamped to a sane range
func (s *Settings) GetMaxDownloads() int {
	value := s.MaxDownloads
	if value <= 0 {
		return DefaultMaxDownloads
	}
	if value > maxDownloadsCeiling {
		return maxDownloadsCeiling
	}
	return value
}

// GetMaxTotal returns the total-instance ceiling, never below the download
// ceiling
func (s *Settings) GetMaxTotal() int {
	value := s.MaxTotal
	if value <= 0 {
		value = DefaultMaxTotal
	}
	if value > maxTotalCeiling {
		value = maxTotalCeiling
	}
	if dl := s.GetMaxDownloads(); value < dl {
		value = dl
	}
	return value
}

// GetFormatPreset returns the configured format preset
func (s *Settings) GetFormatPreset() model.FormatPreset {
	if s.FormatPreset == "" {
		return DefaultFormatPreset
	}
	return s.FormatPreset
}

// GetFilenameTemplate returns the output naming template
func (s *Settings) GetFilenameTemplate() string {
	if s.FilenameTemplate == "" {
		return DefaultFilenameTemplate
	}
	return s.FilenameTemplate
}

// GetQueueDBPath returns the queue database location, defaulting next to
// the settings file
func (s *Settings) GetQueueDBPath() string {
	if s.QueueDBPath != "" {
		return s.QueueDBPath
	}
	if s.path != "" {
		return filepath.Join(filepath.Dir(s.path), "queue.db")
	}
	return "queue.db"
}

// GetFormatPresetOptions returns the selectable format presets
func (s *Settings) GetFormatPresetOptions() []model.FormatPreset {
	return []model.FormatPreset{
		model.FormatBest,
		model.FormatBestMP4,
		model.FormatBestMKV,
		model.FormatBestWebM,
		model.FormatAudioBest,
		model.FormatAudioMP3,
		model.FormatAudioFLAC,
		model.FormatAudioM4A,
	}
}
