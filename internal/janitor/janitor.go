// Package janitor prunes old graph artifacts and surplus corrupted-file
// backups on a cron cadence.
package janitor

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/config"
	"github.com/chartd-org/chartd/internal/fileutil"
	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/logger/tag"
	"github.com/chartd-org/chartd/internal/supervisor"
)

// TaskName is the supervised task identity of the janitor loop.
const TaskName = "janitor"

const (
	// sleepChunk bounds one uninterrupted sleep so heartbeats keep the
	// task from reading as stale.
	sleepChunk = 2 * time.Minute

	// keepBackups is how many corrupted-file backups survive a sweep.
	keepBackups = 5
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Janitor runs maintenance sweeps at the configured cron schedule.
type Janitor struct {
	snapshot func() *config.Config
	clock    clock.Clock
	handle   atomic.Pointer[supervisor.Handle]
}

func New(snapshot func() *config.Config, clk clock.Clock) *Janitor {
	return &Janitor{snapshot: snapshot, clock: clk}
}

// Register attaches the janitor loop to the supervisor.
func (j *Janitor) Register(sup *supervisor.Supervisor) error {
	handle, err := sup.Add(TaskName, j.run, supervisor.TaskOptions{
		RestartOnFailure: true,
	})
	if err != nil {
		return err
	}
	j.handle.Store(handle)
	return nil
}

func (j *Janitor) run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	for {
		cfg := j.snapshot()
		schedule, err := cronParser.Parse(cfg.Maintenance.Cron)
		if err != nil {
			// The loader validates the expression, so this means the
			// file was edited behind our back. Surface and stop.
			return err
		}

		next := schedule.Next(j.clock.Now())
		log.Debug("next maintenance sweep", tag.NextRun(next))
		if err := j.sleepUntil(ctx, next); err != nil {
			return err
		}

		j.Sweep(ctx)
	}
}

// Sweep runs one maintenance pass: artifacts past keep_days, then surplus
// corrupted backups next to the state and config files.
func (j *Janitor) Sweep(ctx context.Context) {
	cfg := j.snapshot()
	log := logger.FromContext(ctx)

	cutoff := j.clock.Now().AddDate(0, 0, -cfg.Retention.KeepDays)
	if removed, err := fileutil.PruneOlderThan(cfg.Paths.GraphsDir, cutoff); err != nil {
		log.Warn("artifact prune failed", tag.Error(err))
	} else if removed > 0 {
		log.Info("pruned old artifacts", tag.Count(removed))
	}

	for _, dir := range backupDirs(cfg) {
		if removed, err := fileutil.PruneCorruptedBackups(dir, keepBackups); err != nil {
			log.Warn("backup prune failed", tag.Path(dir), tag.Error(err))
		} else if removed > 0 {
			log.Info("pruned corrupted-file backups", tag.Path(dir), tag.Count(removed))
		}
	}
}

// backupDirs lists the directories that accumulate rename-aside backups.
func backupDirs(cfg *config.Config) []string {
	dirs := []string{filepath.Dir(cfg.Paths.StateFile)}
	if cfg.Paths.ConfigFile != "" {
		dirs = append(dirs, filepath.Dir(cfg.Paths.ConfigFile))
	}
	return dirs
}

// sleepUntil waits for the fire instant in heartbeat-stamped chunks.
func (j *Janitor) sleepUntil(ctx context.Context, at time.Time) error {
	for {
		remaining := at.Sub(j.clock.Now())
		if remaining <= 0 {
			return nil
		}
		if remaining > sleepChunk {
			remaining = sleepChunk
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if h := j.handle.Load(); h != nil {
			h.Heartbeat()
		}
	}
}
