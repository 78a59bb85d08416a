package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/core"
	"github.com/chartd-org/chartd/internal/fileutil"
	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/logger/tag"
	"github.com/chartd-org/chartd/internal/scheduler"
	"github.com/chartd-org/chartd/internal/stringutil"
)

const (
	appDirName     = "chartd"
	configFileName = "config.yaml"
	envPrefix      = "CHARTD"
)

// envBindings maps viper keys to the environment variables that override
// them. Secrets are usually supplied this way rather than on disk.
var envBindings = map[string]string{
	"tautulli.url":       "CHARTD_TAUTULLI_URL",
	"tautulli.api_key":   "CHARTD_TAUTULLI_API_KEY",
	"discord.token":      "CHARTD_DISCORD_TOKEN",
	"discord.channel_id": "CHARTD_CHANNEL_ID",
	"data_dir":           "CHARTD_DATA_DIR",
	"tz":                 "CHARTD_TZ",
	"logging.level":      "CHARTD_LOG_LEVEL",
	"logging.format":     "CHARTD_LOG_FORMAT",
	"health.port":        "CHARTD_HEALTH_PORT",
}

// Loader resolves paths, reads the YAML file and environment, and produces
// a validated Config. Invalid optional values fall back to their defaults
// with a warning; only missing required keys fail Validate later.
type Loader struct {
	configFile string
	dataDir    string
	clock      clock.Clock
}

type LoaderOption func(*Loader)

// WithConfigFile overrides the resolved configuration file path.
func WithConfigFile(path string) LoaderOption {
	return func(l *Loader) {
		l.configFile = path
	}
}

// WithDataDir overrides the resolved data directory.
func WithDataDir(dir string) LoaderOption {
	return func(l *Loader) {
		l.dataDir = dir
	}
}

// WithClock overrides the clock used for corrupted-file backup stamps.
func WithClock(clk clock.Clock) LoaderOption {
	return func(l *Loader) {
		l.clock = clk
	}
}

func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{}
	for _, opt := range opts {
		opt(l)
	}
	if l.clock == nil {
		l.clock = clock.System(nil)
	}
	return l
}

// Load reads the configuration. A missing file is not an error: defaults
// are written out so the operator has something to edit. A file that fails
// to parse is renamed aside and replaced with defaults.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	log := logger.FromContext(ctx)

	configFile := l.resolveConfigFile()
	loadDotEnv(configFile)
	dataDir := l.resolveDataDir()

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	applyEnvOverrides(v)

	var freshFile bool
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		switch {
		case errors.As(err, &notFound) || errors.As(err, &pathErr):
			freshFile = true
		default:
			// Unparseable YAML. Move it aside so the operator can inspect
			// it and continue with defaults.
			backup := fileutil.CorruptedBackupPath(configFile, l.clock.Now())
			if renameErr := os.Rename(configFile, backup); renameErr == nil {
				log.Warn("config file unreadable, moved aside",
					tag.Path(configFile), tag.Reason(err.Error()))
				freshFile = true
			} else {
				return nil, core.NewConfigError("config", fmt.Sprintf("read %s: %v", configFile, err))
			}
		}
	}

	var def Definition
	if !freshFile {
		if err := v.Unmarshal(&def); err != nil {
			return nil, core.NewConfigError("config", fmt.Sprintf("unmarshal %s: %v", configFile, err))
		}
	} else {
		// Environment overrides still apply even without a file.
		_ = v.Unmarshal(&def)
	}
	if def.DataDir != "" && l.dataDir == "" {
		dataDir = fileutil.ResolvePath(def.DataDir)
	}

	cfg := l.buildConfig(&def, dataDir, configFile)
	resolveTimezone(cfg)

	if freshFile {
		if err := SaveDefinition(configFile, toDefinition(cfg)); err != nil {
			log.Warn("could not write default config file",
				tag.Path(configFile), tag.Error(err))
		} else {
			log.Info("wrote default config file", tag.Path(configFile))
		}
	}

	for _, w := range cfg.Warnings {
		log.Warn("config: " + w)
	}
	return cfg, nil
}

func (l *Loader) resolveConfigFile() string {
	if l.configFile != "" {
		return fileutil.ResolvePath(l.configFile)
	}
	if env := os.Getenv("CHARTD_CONFIG"); env != "" {
		return fileutil.ResolvePath(env)
	}
	return filepath.Join(xdg.ConfigHome, appDirName, configFileName)
}

func (l *Loader) resolveDataDir() string {
	if l.dataDir != "" {
		return fileutil.ResolvePath(l.dataDir)
	}
	if env := os.Getenv("CHARTD_DATA_DIR"); env != "" {
		return fileutil.ResolvePath(env)
	}
	return filepath.Join(xdg.DataHome, appDirName)
}

// applyEnvOverrides pushes set environment variables into viper as
// explicit overrides, which beat any file value. health.port is numeric;
// a malformed value is ignored rather than failing startup.
func applyEnvOverrides(v *viper.Viper) {
	for key, env := range envBindings {
		value := os.Getenv(env)
		if value == "" {
			continue
		}
		if key == "health.port" {
			if port, err := strconv.Atoi(value); err == nil {
				v.Set(key, port)
			}
			continue
		}
		v.Set(key, value)
	}
}

// loadDotEnv loads a .env file next to the config file, if present.
// Existing environment variables win.
func loadDotEnv(configFile string) {
	dotenv := filepath.Join(filepath.Dir(configFile), ".env")
	if fileutil.FileExists(dotenv) {
		_ = godotenv.Load(dotenv)
	}
}

// buildConfig overlays the raw definition on the defaults, validating each
// optional value and recording a warning when one is rejected.
func (l *Loader) buildConfig(def *Definition, dataDir, configFile string) *Config {
	cfg := Default(dataDir)
	cfg.setPaths(dataDir, configFile)
	warn := func(format string, args ...any) {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf(format, args...))
	}

	cfg.Tautulli.URL = strings.TrimSpace(def.Tautulli.URL)
	if cfg.Tautulli.URL != "" {
		if err := validateServiceURL("tautulli_url", cfg.Tautulli.URL); err != nil {
			warn("tautulli_url rejected: %v", err)
			cfg.Tautulli.URL = ""
		}
	}
	cfg.Tautulli.APIKey = strings.TrimSpace(def.Tautulli.APIKey)
	cfg.Discord.Token = strings.TrimSpace(def.Discord.Token)
	cfg.Discord.ChannelID = strings.TrimSpace(def.Discord.ChannelID)
	if cfg.Discord.ChannelID != "" {
		if err := validateSnowflake("channel_id", cfg.Discord.ChannelID); err != nil {
			warn("channel_id rejected: %v", err)
			cfg.Discord.ChannelID = ""
		}
	}
	if def.Discord.Ephemeral != nil {
		cfg.Discord.Ephemeral = *def.Discord.Ephemeral
	}
	cfg.Discord.ElevatedUploadLimit = def.Discord.ElevatedUploadLimit
	if def.Discord.DeleteLookback != nil {
		if n := *def.Discord.DeleteLookback; n >= 0 && n <= 200 {
			cfg.Discord.DeleteLookback = n
		} else {
			warn("discord.delete_lookback %d out of range [0,200], using %d", n, cfg.Discord.DeleteLookback)
		}
	}

	if def.Schedule.UpdateDays != 0 {
		if def.Schedule.UpdateDays >= 1 && def.Schedule.UpdateDays <= 365 {
			cfg.Schedule.UpdateDays = def.Schedule.UpdateDays
		} else {
			warn("schedule.update_days %d out of range [1,365], using %d", def.Schedule.UpdateDays, cfg.Schedule.UpdateDays)
		}
	}
	if def.Schedule.FixedUpdateTime != "" {
		value := strings.TrimSpace(def.Schedule.FixedUpdateTime)
		if err := validateFixedUpdateTime(value); err != nil {
			warn("schedule.fixed_update_time %q rejected: %v, using %q", value, err, scheduler.FixedTimeDisabled)
		} else {
			cfg.Schedule.FixedUpdateTime = value
		}
	}
	if def.Schedule.Recovery != nil {
		cfg.Schedule.Recovery = *def.Schedule.Recovery
	}

	if def.Retention.KeepDays != 0 {
		if def.Retention.KeepDays >= 1 && def.Retention.KeepDays <= 365 {
			cfg.Retention.KeepDays = def.Retention.KeepDays
		} else {
			warn("retention.keep_days %d out of range [1,365], using %d", def.Retention.KeepDays, cfg.Retention.KeepDays)
		}
	}
	if def.Data.TimeRangeDays != 0 {
		if def.Data.TimeRangeDays >= 1 && def.Data.TimeRangeDays <= 365 {
			cfg.Data.TimeRangeDays = def.Data.TimeRangeDays
		} else {
			warn("data.time_range_days %d out of range [1,365], using %d", def.Data.TimeRangeDays, cfg.Data.TimeRangeDays)
		}
	}
	if def.Data.TimeRangeMonths != 0 {
		if def.Data.TimeRangeMonths >= 1 && def.Data.TimeRangeMonths <= 120 {
			cfg.Data.TimeRangeMonths = def.Data.TimeRangeMonths
		} else {
			warn("data.time_range_months %d out of range [1,120], using %d", def.Data.TimeRangeMonths, cfg.Data.TimeRangeMonths)
		}
	}

	l.buildGraphs(cfg, def, warn)
	l.buildCooldowns(cfg, def, warn)

	if def.Language != "" {
		if err := validateLanguage("language", def.Language); err != nil {
			warn("language %q rejected: %v, using %q", def.Language, err, cfg.Language)
		} else {
			cfg.Language = def.Language
		}
	}
	cfg.TZ = strings.TrimSpace(def.TZ)

	if def.Logging.Level != "" {
		switch strings.ToLower(def.Logging.Level) {
		case "debug", "info", "warn", "error":
			cfg.Logging.Level = strings.ToLower(def.Logging.Level)
		default:
			warn("logging.level %q unknown, using %q", def.Logging.Level, cfg.Logging.Level)
		}
	}
	if def.Logging.Format != "" {
		switch def.Logging.Format {
		case "text", "json":
			cfg.Logging.Format = def.Logging.Format
		default:
			warn("logging.format %q unknown, using %q", def.Logging.Format, cfg.Logging.Format)
		}
	}
	if def.Logging.File != "" {
		cfg.Logging.File = fileutil.ResolvePath(def.Logging.File)
	}

	if def.Health.Port != nil {
		if p := *def.Health.Port; p >= 0 && p <= 65535 {
			cfg.Health.Port = p
		} else {
			warn("health.port %d out of range, using %d", p, cfg.Health.Port)
		}
	}
	if def.Maintenance.Cron != "" {
		if err := validateCron("maintenance.cron", def.Maintenance.Cron); err != nil {
			warn("maintenance.cron %q rejected: %v, using %q", def.Maintenance.Cron, err, cfg.Maintenance.Cron)
		} else {
			cfg.Maintenance.Cron = def.Maintenance.Cron
		}
	}
	if def.UpdateCheck != nil {
		cfg.UpdateCheck = *def.UpdateCheck
	}

	return cfg
}

func (l *Loader) buildGraphs(cfg *Config, def *Definition, warn func(string, ...any)) {
	for name, enabled := range def.Graphs.Enabled {
		if !core.ValidGraphType(name) {
			warn("graphs.enabled: unknown graph type %q ignored", name)
			continue
		}
		cfg.Graphs.Enabled[core.GraphType(name)] = enabled
	}
	if def.Graphs.MediaTypeSeparation != nil {
		cfg.Graphs.MediaTypeSeparation = *def.Graphs.MediaTypeSeparation
	}
	if def.Graphs.Colors.TV != "" {
		if err := validateHexColor("tv_color", def.Graphs.Colors.TV); err != nil {
			warn("graphs.colors.tv rejected: %v, using %s", err, cfg.Graphs.Colors.TV)
		} else {
			cfg.Graphs.Colors.TV = def.Graphs.Colors.TV
		}
	}
	if def.Graphs.Colors.Movie != "" {
		if err := validateHexColor("movie_color", def.Graphs.Colors.Movie); err != nil {
			warn("graphs.colors.movie rejected: %v, using %s", err, cfg.Graphs.Colors.Movie)
		} else {
			cfg.Graphs.Colors.Movie = def.Graphs.Colors.Movie
		}
	}
	for name, palette := range def.Graphs.Palettes {
		if !core.ValidGraphType(name) {
			warn("graphs.palettes: unknown graph type %q ignored", name)
			continue
		}
		key := "graphs.palettes." + name
		if err := validatePalette(key, palette); err != nil {
			warn("%s rejected: %v", key, err)
			continue
		}
		cfg.Graphs.Palettes[core.GraphType(name)] = palette
	}
	if def.Graphs.CensorUsernames != nil {
		cfg.Graphs.CensorUsernames = *def.Graphs.CensorUsernames
	}
	if def.Graphs.Width != 0 {
		if def.Graphs.Width >= 400 && def.Graphs.Width <= 4000 {
			cfg.Graphs.Width = def.Graphs.Width
		} else {
			warn("graphs.width %d out of range [400,4000], using %d", def.Graphs.Width, cfg.Graphs.Width)
		}
	}
	if def.Graphs.Height != 0 {
		if def.Graphs.Height >= 400 && def.Graphs.Height <= 4000 {
			cfg.Graphs.Height = def.Graphs.Height
		} else {
			warn("graphs.height %d out of range [400,4000], using %d", def.Graphs.Height, cfg.Graphs.Height)
		}
	}
}

func (l *Loader) buildCooldowns(cfg *Config, def *Definition, warn func(string, ...any)) {
	apply := func(name string, src cooldownDef, dst *Cooldown) {
		if src.PerUserMinutes != nil {
			if n := *src.PerUserMinutes; n <= 1440 {
				dst.PerUserMinutes = n
			} else {
				warn("cooldowns.%s.per_user_minutes %d above 1440, using %d", name, n, dst.PerUserMinutes)
			}
		}
		if src.GlobalSeconds != nil {
			if n := *src.GlobalSeconds; n <= 86400 {
				dst.GlobalSeconds = n
			} else {
				warn("cooldowns.%s.global_seconds %d above 86400, using %d", name, n, dst.GlobalSeconds)
			}
		}
	}
	apply("update_graphs", def.Cooldowns.UpdateGraphs, &cfg.Cooldowns.UpdateGraphs)
	apply("my_stats", def.Cooldowns.MyStats, &cfg.Cooldowns.MyStats)
	apply("config", def.Cooldowns.Config, &cfg.Cooldowns.Config)
}

// Redacted returns value masked for display; secrets keep only a short
// prefix.
func Redacted(value string) string {
	return stringutil.MaskSecret(value)
}
