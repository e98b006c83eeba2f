package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	_, err := ResolvePath("")
	assert.Error(t, err)

	abs, err := ResolvePath("some/relative/dir")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(abs))

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	expanded, err := ResolvePath("~/notes")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "notes"), expanded)
}

func TestNormPath(t *testing.T) {
	assert.Equal(t, "a/b/c.md", NormPath("a//b/./c.md"))
}

func TestContentHash(t *testing.T) {
	h := ContentHash([]byte("hello"))
	assert.Len(t, h, 32)
	assert.Equal(t, strings.ToLower(h), h)
	assert.NotEqual(t, h, ContentHash([]byte("hello!")))
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.txt")
	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	// No temp debris left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	hashed, err := FileHash(path)
	require.NoError(t, err)
	assert.Equal(t, ContentHash([]byte("second")), hashed)
}
