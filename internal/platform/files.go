package platform

import (
	"fmt"
	"os"
	"path/filepath"
)

// Directory permissions for created download/staging directories
const DefaultDirPermissions = 0755

// Partial-download suffixes the worker leaves behind when interrupted
var TempFileSuffixes = []string{".part", ".ytdl"}

// GetHomeDownloadsDir returns the standard Downloads directory for the user
func GetHomeDownloadsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, "Downloads"), nil
}

// TempDownloadDir returns the staging directory passed to workers for
// in-flight fragments, creating it if needed. Keeping partials out of the
// final output directory makes interrupted downloads cheap to clean up.
func TempDownloadDir() (string, error) {
	dir := filepath.Join(os.TempDir(), "multiyt-dlp")
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return "", fmt.Errorf("failed to create temp download directory: %w", err)
	}
	return dir, nil
}

// EnsureDir creates dir (and parents) when missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// CleanupTempFiles deletes leftover partial-download files in dir. Returns
// the number of files removed; individual unlink failures are skipped so one
// locked file does not abort the sweep.
func CleanupTempFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read temp directory: %w", err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		for _, suffix := range TempFileSuffixes {
			if ext == suffix {
				if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
					count++
				}
				break
			}
		}
	}
	return count, nil
}
