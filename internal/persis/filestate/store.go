// Package filestate persists the scheduler state as a versioned JSON
// record with atomic writes and corruption backup.
package filestate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/core"
	"github.com/chartd-org/chartd/internal/fileutil"
	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/logger/tag"
	"github.com/chartd-org/chartd/internal/scheduler"
)

// SchemaVersion tags the on-disk record. Unknown versions are backed up
// and replaced by defaults, never parsed.
const SchemaVersion = "1.0"

// FileName is the default state file name under the data directory.
const FileName = "scheduler_state.json"

// record is the on-disk JSON shape.
type record struct {
	Version string        `json:"version"`
	SavedAt time.Time     `json:"saved_at"`
	State   stateRecord   `json:"state"`
	Config  *configRecord `json:"config,omitempty"`
}

type stateRecord struct {
	LastUpdate          *time.Time `json:"last_update,omitempty"`
	NextUpdate          *time.Time `json:"next_update,omitempty"`
	IsRunning           bool       `json:"is_running"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}

type configRecord struct {
	UpdateDays      int    `json:"update_days"`
	FixedUpdateTime string `json:"fixed_update_time"`
}

// Store reads and writes the scheduler state file. It is the only writer
// of the record; writes are serialised and atomic.
type Store struct {
	path  string
	clock clock.Clock
	mu    sync.Mutex
}

var _ scheduler.StateStore = (*Store)(nil)

// New builds a Store over the state file at path.
func New(path string, clk clock.Clock) *Store {
	return &Store{path: path, clock: clk}
}

// Path returns the state file location.
func (s *Store) Path() string { return s.path }

// Save atomically writes the state and the schedule config it was
// computed under. A partial write leaves the previous record intact.
func (s *Store) Save(_ context.Context, state scheduler.StateSnapshot, config *scheduler.SchedulingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := record{
		Version: SchemaVersion,
		SavedAt: s.clock.Now(),
		State: stateRecord{
			LastUpdate:          state.LastUpdate,
			NextUpdate:          state.NextUpdate,
			IsRunning:           state.IsRunning,
			ConsecutiveFailures: state.ConsecutiveFailures,
			LastFailure:         state.LastFailure,
			LastError:           state.LastError,
		},
	}
	if config != nil {
		rec.Config = &configRecord{
			UpdateDays:      config.UpdateDays,
			FixedUpdateTime: config.FixedUpdateTime,
		}
	}

	if err := fileutil.WriteJSONAtomic(s.path, rec, 0o600); err != nil {
		return &core.StateError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}

// Load reads the record. Missing files yield fresh defaults. Corrupt or
// version-mismatched files are renamed aside with a dated suffix and
// defaults are returned; corruption is never an error.
func (s *Store) Load(ctx context.Context) (scheduler.StateSnapshot, *scheduler.SchedulingConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path) //nolint:gosec // path derived from internal config
	if err != nil {
		if os.IsNotExist(err) {
			return scheduler.StateSnapshot{}, nil, nil
		}
		return scheduler.StateSnapshot{}, nil, &core.StateError{Op: "load", Path: s.path, Err: err}
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.backupCorrupted(ctx, fmt.Sprintf("unreadable JSON: %v", err))
		return scheduler.StateSnapshot{}, nil, nil
	}
	if rec.Version != SchemaVersion {
		s.backupCorrupted(ctx, fmt.Sprintf("unknown schema version %q", rec.Version))
		return scheduler.StateSnapshot{}, nil, nil
	}

	snap := scheduler.StateSnapshot{
		LastUpdate:          rec.State.LastUpdate,
		NextUpdate:          rec.State.NextUpdate,
		IsRunning:           rec.State.IsRunning,
		ConsecutiveFailures: rec.State.ConsecutiveFailures,
		LastFailure:         rec.State.LastFailure,
		LastError:           rec.State.LastError,
	}

	var cfg *scheduler.SchedulingConfig
	if rec.Config != nil {
		built, err := scheduler.NewSchedulingConfig(rec.Config.UpdateDays, rec.Config.FixedUpdateTime)
		if err != nil {
			// A stored config that no longer validates is dropped; the
			// state itself is still usable.
			logger.Warn(ctx, "Ignoring invalid stored schedule config", tag.Error(err))
		} else {
			cfg = &built
		}
	}
	return snap, cfg, nil
}

// Exists reports whether the state file is present.
func (s *Store) Exists() bool {
	return fileutil.FileExists(s.path)
}

// Delete removes the state file. Missing files are a no-op.
func (s *Store) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return &core.StateError{Op: "delete", Path: s.path, Err: err}
	}
	return nil
}

func (s *Store) backupCorrupted(ctx context.Context, reason string) {
	backup := fileutil.CorruptedBackupPath(s.path, s.clock.Now())
	if err := os.Rename(s.path, backup); err != nil {
		logger.Error(ctx, "Failed to back up corrupted state file",
			tag.Path(s.path), tag.Error(err))
		return
	}
	logger.Warn(ctx, "Backed up corrupted state file",
		tag.Path(filepath.Base(backup)), tag.Reason(reason))
}
