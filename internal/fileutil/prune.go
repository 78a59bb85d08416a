package fileutil

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// PruneOlderThan removes direct children of dir whose modification time is
// before cutoff. Directories are removed recursively. Returns the number
// of entries removed; a missing dir prunes nothing.
func PruneOlderThan(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// PruneCorruptedBackups keeps the newest keep `.corrupted.` backups in dir
// and removes the rest. Backups are the rename-aside files written when a
// state or config file fails to parse.
func PruneCorruptedBackups(dir string, keep int) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.Contains(entry.Name(), ".corrupted.") {
			backups = append(backups, entry.Name())
		}
	}
	// The timestamp is embedded in the name, so lexical order is age order.
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))

	removed := 0
	for i := keep; i < len(backups); i++ {
		if err := os.Remove(filepath.Join(dir, backups[i])); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
