package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindFilesByExtension(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"actions.yml",
		"nested/deep/web.actions.yml",
		"nested/readme.md",
		".git/config.yml",
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	files, err := FindFilesByExtension(dir, ".yml")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "actions.yml"),
		filepath.Join(dir, "nested", "deep", "web.actions.yml"),
	}, files, "hidden directories are skipped and results are sorted")
}

func TestFindFilesByExtension_EmptyExtensionPanics(t *testing.T) {
	assert.Panics(t, func() {
		_, _ = FindFilesByExtension(t.TempDir(), "")
	})
}
