package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanupTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"clip.mp4.part", "clip.mp4.ytdl", "finished.mp4", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	removed, err := CleanupTempFiles(dir)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		require.NotContains(t, []string{"clip.mp4.part", "clip.mp4.ytdl"}, entry.Name())
	}
}

func TestCleanupTempFiles_MissingDir(t *testing.T) {
	t.Parallel()

	removed, err := CleanupTempFiles(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestEnsureDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
