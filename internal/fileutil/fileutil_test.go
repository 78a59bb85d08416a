package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartd-org/chartd/internal/fileutil"
)

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "record.json")

	require.NoError(t, fileutil.WriteFileAtomic(path, []byte("one"), 0o600))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	require.NoError(t, fileutil.WriteFileAtomic(path, []byte("two"), 0o600))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	// No temp files may remain after a successful write.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestWriteJSONAtomic(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "v.json")
	require.NoError(t, fileutil.WriteJSONAtomic(path, map[string]int{"n": 1}, 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"n": 1`)
}

func TestFileExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.True(t, fileutil.FileExists(dir))
	assert.False(t, fileutil.FileExists(filepath.Join(dir, "missing")))
}

func TestSafeName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a_b_c.json", fileutil.SafeName("a/b c.json"))
	assert.Equal(t, "plex_user_1", fileutil.SafeName("plex:user#1"))
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, fileutil.SafeName(string(long)), 100)
}

func TestCorruptedBackupPath(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 7, 16, 21, 28, 0, 0, time.UTC)
	got := fileutil.CorruptedBackupPath("/data/state/scheduler_state.json", ts)
	assert.Equal(t, "/data/state/scheduler_state.corrupted.20250716_212800.json", got)

	got = fileutil.CorruptedBackupPath("config.yaml", ts)
	assert.Equal(t, "config.corrupted.20250716_212800.yaml", got)
}
