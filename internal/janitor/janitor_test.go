package janitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/config"
	"github.com/chartd-org/chartd/internal/logger"
)

func quietCtx() context.Context {
	return logger.WithLogger(context.Background(), logger.NewLogger(logger.WithQuiet()))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.Retention.KeepDays = 7
	return cfg
}

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestSweepPrunesOldArtifacts(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	now := time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC)

	oldDir := filepath.Join(cfg.Paths.GraphsDir, "2025-07-01")
	freshDir := filepath.Join(cfg.Paths.GraphsDir, "2025-07-15")
	touch(t, filepath.Join(oldDir, "daily_play_count.png"), now.AddDate(0, 0, -15))
	touch(t, filepath.Join(freshDir, "daily_play_count.png"), now.AddDate(0, 0, -1))
	require.NoError(t, os.Chtimes(oldDir, now.AddDate(0, 0, -15), now.AddDate(0, 0, -15)))

	j := New(func() *config.Config { return cfg }, clock.NewFake(now))
	j.Sweep(quietCtx())

	assert.NoDirExists(t, oldDir)
	assert.DirExists(t, freshDir)
}

func TestSweepPrunesSurplusBackups(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	now := time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC)
	stateDir := filepath.Dir(cfg.Paths.StateFile)

	stamps := []string{
		"20250701_090000", "20250702_090000", "20250703_090000",
		"20250704_090000", "20250705_090000", "20250706_090000",
		"20250707_090000",
	}
	for _, s := range stamps {
		touch(t, filepath.Join(stateDir, "scheduler_state.corrupted."+s+".json"), now)
	}

	j := New(func() *config.Config { return cfg }, clock.NewFake(now))
	j.Sweep(quietCtx())

	entries, err := os.ReadDir(stateDir)
	require.NoError(t, err)
	assert.Len(t, entries, keepBackups)
	// The two oldest are gone.
	assert.NoFileExists(t, filepath.Join(stateDir, "scheduler_state.corrupted.20250701_090000.json"))
	assert.NoFileExists(t, filepath.Join(stateDir, "scheduler_state.corrupted.20250702_090000.json"))
}

func TestRunStopsOnBadCron(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Maintenance.Cron = "not a cron"

	j := New(func() *config.Config { return cfg }, clock.NewFake(time.Now()))
	err := j.run(quietCtx())
	require.Error(t, err)
}

func TestRunHonoursCancellation(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	j := New(func() *config.Config { return cfg }, clock.System(time.UTC))

	ctx, cancel := context.WithCancel(quietCtx())
	done := make(chan error, 1)
	go func() { done <- j.run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("janitor did not stop on cancellation")
	}
}
