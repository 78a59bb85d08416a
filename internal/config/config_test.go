package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartd-org/chartd/internal/config"
	"github.com/chartd-org/chartd/internal/core"
	"github.com/chartd-org/chartd/internal/logger"
)

func quietCtx() context.Context {
	return logger.WithLogger(context.Background(), logger.NewLogger(logger.WithQuiet()))
}

func writeConfig(t *testing.T, content string) (configFile, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	configFile = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0o600))
	return configFile, filepath.Join(dir, "data")
}

func loadConfig(t *testing.T, content string) *config.Config {
	t.Helper()
	configFile, dataDir := writeConfig(t, content)
	loader := config.NewLoader(config.WithConfigFile(configFile), config.WithDataDir(dataDir))
	cfg, err := loader.Load(quietCtx())
	require.NoError(t, err)
	return cfg
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := config.Default(t.TempDir())
	assert.Equal(t, 7, cfg.Schedule.UpdateDays)
	assert.Equal(t, "disabled", cfg.Schedule.FixedUpdateTime)
	assert.True(t, cfg.Schedule.Recovery)
	assert.Equal(t, 7, cfg.Retention.KeepDays)
	assert.Equal(t, 30, cfg.Data.TimeRangeDays)
	assert.Equal(t, 12, cfg.Data.TimeRangeMonths)
	assert.Equal(t, "#1f77b4", cfg.Graphs.Colors.TV)
	assert.Equal(t, 1200, cfg.Graphs.Width)
	assert.Equal(t, 8090, cfg.Health.Port)
	assert.Equal(t, "0 4 * * *", cfg.Maintenance.Cron)
	assert.Len(t, cfg.Graphs.EnabledTypes(), 6)
	assert.Equal(t, int64(8<<20), cfg.UploadLimit())
	cfg.Discord.ElevatedUploadLimit = true
	assert.Equal(t, int64(25<<20), cfg.UploadLimit())
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(t, `
tautulli:
  url: https://stats.example.com
  api_key: abcdef123456
discord:
  token: bot-token-value
  channel_id: "123456789012345678"
schedule:
  update_days: 3
  fixed_update_time: "23:59"
graphs:
  enabled:
    top_10_users: false
  colors:
    tv: "#abc"
cooldowns:
  my_stats:
    per_user_minutes: 0
`)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://stats.example.com", cfg.Tautulli.URL)
	assert.Equal(t, 3, cfg.Schedule.UpdateDays)
	assert.Equal(t, "23:59", cfg.Schedule.FixedUpdateTime)
	assert.False(t, cfg.Graphs.Enabled[core.GraphTopUsers])
	assert.True(t, cfg.Graphs.Enabled[core.GraphDailyPlayCount])
	assert.Equal(t, "#abc", cfg.Graphs.Colors.TV)
	// An explicit zero overrides the default of 5.
	assert.Equal(t, 0, cfg.Cooldowns.MyStats.PerUserMinutes)
	assert.Empty(t, cfg.Warnings)
}

func TestInvalidValuesFallBackWithWarnings(t *testing.T) {
	t.Parallel()

	cfg := loadConfig(t, `
tautulli:
  url: http://localhost:8181
schedule:
  update_days: 999
  fixed_update_time: "25:00"
graphs:
  colors:
    tv: "not-a-colour"
  enabled:
    bogus_graph: true
maintenance:
  cron: "* * *"
`)

	assert.Empty(t, cfg.Tautulli.URL)
	assert.Equal(t, 7, cfg.Schedule.UpdateDays)
	assert.Equal(t, "disabled", cfg.Schedule.FixedUpdateTime)
	assert.Equal(t, "#1f77b4", cfg.Graphs.Colors.TV)
	assert.Equal(t, "0 4 * * *", cfg.Maintenance.Cron)
	assert.GreaterOrEqual(t, len(cfg.Warnings), 5)
}

func TestMissingFileWritesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	loader := config.NewLoader(config.WithConfigFile(configFile), config.WithDataDir(filepath.Join(dir, "data")))
	cfg, err := loader.Load(quietCtx())
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Schedule.UpdateDays)
	assert.FileExists(t, configFile)

	// The written file round-trips.
	cfg2, err := config.NewLoader(config.WithConfigFile(configFile), config.WithDataDir(filepath.Join(dir, "data"))).Load(quietCtx())
	require.NoError(t, err)
	assert.Equal(t, cfg.Schedule, cfg2.Schedule)
}

func TestCorruptedFileMovedAside(t *testing.T) {
	t.Parallel()

	configFile, dataDir := writeConfig(t, "tautulli: [unclosed")
	loader := config.NewLoader(config.WithConfigFile(configFile), config.WithDataDir(dataDir))
	cfg, err := loader.Load(quietCtx())
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Schedule.UpdateDays)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(configFile), "config.corrupted.*.yaml"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	// Defaults were written in its place.
	assert.FileExists(t, configFile)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHARTD_TAUTULLI_API_KEY", "env-secret")
	t.Setenv("CHARTD_LOG_LEVEL", "debug")

	cfg := loadConfig(t, `
tautulli:
  api_key: file-secret
`)
	assert.Equal(t, "env-secret", cfg.Tautulli.APIKey)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateRequiresCoreKeys(t *testing.T) {
	t.Parallel()

	cfg := config.Default(t.TempDir())
	err := cfg.Validate()
	require.Error(t, err)
	for _, key := range []string{"tautulli_url", "tautulli_api_key", "discord_token", "channel_id"} {
		assert.Contains(t, err.Error(), key)
	}

	cfg.Tautulli = config.Tautulli{URL: "https://stats.example.com", APIKey: "k"}
	cfg.Discord.Token = "tok"
	cfg.Discord.ChannelID = "123456789012345678"
	assert.NoError(t, cfg.Validate())
}

func TestCatalogueLookup(t *testing.T) {
	t.Parallel()

	entry, ok := config.LookupEntry("update_days")
	require.True(t, ok)
	assert.True(t, entry.Hot)
	assert.True(t, entry.ScheduleAffecting)

	entry, ok = config.LookupEntry("discord_token")
	require.True(t, ok)
	assert.True(t, entry.Secret)
	assert.False(t, entry.Hot)

	_, ok = config.LookupEntry("enable_top_10_users")
	assert.True(t, ok)
	_, ok = config.LookupEntry("no_such_key")
	assert.False(t, ok)
}

func TestStoreEdit(t *testing.T) {
	t.Parallel()

	configFile, dataDir := writeConfig(t, "")
	loader := config.NewLoader(config.WithConfigFile(configFile), config.WithDataDir(dataDir))
	cfg, err := loader.Load(quietCtx())
	require.NoError(t, err)
	store := config.NewStore(cfg)

	var changes []config.Change
	store.OnChange(func(c config.Change) { changes = append(changes, c) })

	change, err := store.Edit(quietCtx(), "update_days", "3")
	require.NoError(t, err)
	assert.Equal(t, "7", change.Old)
	assert.Equal(t, "3", change.New)
	assert.True(t, change.ScheduleAffecting)
	require.Len(t, changes, 1)

	assert.Equal(t, 3, store.Snapshot().Schedule.UpdateDays)

	// The edit persisted: a fresh load sees it.
	reloaded, err := loader.Load(quietCtx())
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.Schedule.UpdateDays)
}

func TestStoreEditRejections(t *testing.T) {
	t.Parallel()

	configFile, dataDir := writeConfig(t, "")
	cfg, err := config.NewLoader(config.WithConfigFile(configFile), config.WithDataDir(dataDir)).Load(quietCtx())
	require.NoError(t, err)
	store := config.NewStore(cfg)

	_, err = store.Edit(quietCtx(), "no_such_key", "1")
	var cfgErr *core.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	_, err = store.Edit(quietCtx(), "maintenance_cron", "0 5 * * *")
	require.ErrorAs(t, err, &cfgErr)

	_, err = store.Edit(quietCtx(), "update_days", "zero")
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, 7, store.Snapshot().Schedule.UpdateDays)

	_, err = store.Edit(quietCtx(), "tv_color", "red")
	require.ErrorAs(t, err, &cfgErr)
}

func TestStoreGetMasksSecrets(t *testing.T) {
	t.Parallel()

	cfg := config.Default(t.TempDir())
	cfg.Tautulli.APIKey = "super-secret-value"
	store := config.NewStore(cfg)

	value, err := store.Get("tautulli_api_key")
	require.NoError(t, err)
	assert.NotEqual(t, "super-secret-value", value)
	assert.Contains(t, value, "*")
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	cfg := config.Default(t.TempDir())
	cp := cfg.Clone()
	cp.Graphs.Enabled[core.GraphTopUsers] = false
	assert.True(t, cfg.Graphs.Enabled[core.GraphTopUsers])
}
