// Package fileutil provides filesystem helpers, including the atomic write
// primitives every on-disk record in this repository goes through.
package fileutil

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// IsDir returns true if path is a directory.
func IsDir(path string) bool {
	stat, err := os.Stat(path)
	if err != nil {
		return false
	}
	return stat.IsDir()
}

// FileExists returns true if file exists.
func FileExists(file string) bool {
	_, err := os.Stat(file)
	return !os.IsNotExist(err)
}

// EnsureDir creates dir and any missing parents with mode 0750.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o750)
}

// OpenSyncFile opens file for appending with O_SYNC so that concurrent
// writers produce whole lines. The parent directory is created if missing.
func OpenSyncFile(file string) (*os.File, error) {
	if err := EnsureDir(filepath.Dir(file)); err != nil {
		return nil, err
	}
	return os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0o644)
}

// ResolvePath expands a leading ~ and returns an absolute path. Paths that
// cannot be resolved are returned unchanged.
func ResolvePath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

const maxSafeNameLen = 100

// SafeName converts an arbitrary string into a form usable as a single path
// component: separators and shell-hostile characters become underscores and
// the result is bounded in length.
func SafeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	safe := b.String()
	if len(safe) > maxSafeNameLen {
		safe = safe[:maxSafeNameLen]
	}
	return safe
}

const backupStampFormat = "20060102_150405"

// CorruptedBackupPath returns the path an unreadable record is renamed to,
// e.g. scheduler_state.json -> scheduler_state.corrupted.20250716_212800.json.
func CorruptedBackupPath(path string, now time.Time) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, stem+".corrupted."+now.Format(backupStampFormat)+ext)
}
