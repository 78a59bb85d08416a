package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/chartd-org/chartd/internal/core"
)

// Entry describes one logical configuration key: a flat lower_snake name
// exposed to operators and slash commands, mapped onto the nested Config.
type Entry struct {
	Key string

	// Hot keys may be edited at runtime; the rest require a restart and
	// are rejected by Store.Edit.
	Hot bool

	// Secret values are masked in any user-facing rendering.
	Secret bool

	// ScheduleAffecting edits make the scheduler recompute next_update.
	ScheduleAffecting bool

	Get func(*Config) string
	Set func(*Config, string) error
}

var catalogueOnce = sync.OnceValues(buildCatalogue)

// Catalogue returns all logical keys in stable order.
func Catalogue() []Entry {
	entries, _ := catalogueOnce()
	return entries
}

// LookupEntry finds a logical key; ok is false for unknown keys.
func LookupEntry(key string) (Entry, bool) {
	_, index := catalogueOnce()
	e, ok := index[key]
	return e, ok
}

func buildCatalogue() ([]Entry, map[string]Entry) {
	entries := []Entry{
		{
			Key: "tautulli_url",
			Get: func(c *Config) string { return c.Tautulli.URL },
			Set: func(c *Config, v string) error {
				if err := validateServiceURL("tautulli_url", v); err != nil {
					return err
				}
				c.Tautulli.URL = v
				return nil
			},
		},
		{
			Key:    "tautulli_api_key",
			Secret: true,
			Get:    func(c *Config) string { return c.Tautulli.APIKey },
			Set: func(c *Config, v string) error {
				if v == "" {
					return core.NewConfigError("tautulli_api_key", "must not be empty")
				}
				c.Tautulli.APIKey = v
				return nil
			},
		},
		{
			Key:    "discord_token",
			Secret: true,
			Get:    func(c *Config) string { return c.Discord.Token },
			Set: func(c *Config, v string) error {
				if v == "" {
					return core.NewConfigError("discord_token", "must not be empty")
				}
				c.Discord.Token = v
				return nil
			},
		},
		{
			Key: "channel_id",
			Get: func(c *Config) string { return c.Discord.ChannelID },
			Set: func(c *Config, v string) error {
				if err := validateSnowflake("channel_id", v); err != nil {
					return err
				}
				c.Discord.ChannelID = v
				return nil
			},
		},
		boolEntry("ephemeral_responses", true, false,
			func(c *Config) *bool { return &c.Discord.Ephemeral }),
		boolEntry("elevated_upload_limit", true, false,
			func(c *Config) *bool { return &c.Discord.ElevatedUploadLimit }),
		intEntry("delete_lookback", true, false, 0, 200,
			func(c *Config) *int { return &c.Discord.DeleteLookback }),
		intEntry("update_days", true, true, 1, 365,
			func(c *Config) *int { return &c.Schedule.UpdateDays }),
		{
			Key:               "fixed_update_time",
			Hot:               true,
			ScheduleAffecting: true,
			Get:               func(c *Config) string { return c.Schedule.FixedUpdateTime },
			Set: func(c *Config, v string) error {
				if err := validateFixedUpdateTime(v); err != nil {
					return core.NewConfigError("fixed_update_time", err.Error())
				}
				c.Schedule.FixedUpdateTime = v
				return nil
			},
		},
		boolEntry("recovery_enabled", false, false,
			func(c *Config) *bool { return &c.Schedule.Recovery }),
		intEntry("keep_days", true, false, 1, 365,
			func(c *Config) *int { return &c.Retention.KeepDays }),
		intEntry("time_range_days", true, false, 1, 365,
			func(c *Config) *int { return &c.Data.TimeRangeDays }),
		intEntry("time_range_months", true, false, 1, 120,
			func(c *Config) *int { return &c.Data.TimeRangeMonths }),
		boolEntry("separate_media_types", true, false,
			func(c *Config) *bool { return &c.Graphs.MediaTypeSeparation }),
		colorEntry("tv_color", func(c *Config) *string { return &c.Graphs.Colors.TV }),
		colorEntry("movie_color", func(c *Config) *string { return &c.Graphs.Colors.Movie }),
		boolEntry("censor_usernames", true, false,
			func(c *Config) *bool { return &c.Graphs.CensorUsernames }),
		intEntry("graph_width", true, false, 400, 4000,
			func(c *Config) *int { return &c.Graphs.Width }),
		intEntry("graph_height", true, false, 400, 4000,
			func(c *Config) *int { return &c.Graphs.Height }),
		intEntry("update_graphs_cooldown_minutes", true, false, -1, 1440,
			func(c *Config) *int { return &c.Cooldowns.UpdateGraphs.PerUserMinutes }),
		intEntry("update_graphs_global_cooldown_seconds", true, false, -1, 86400,
			func(c *Config) *int { return &c.Cooldowns.UpdateGraphs.GlobalSeconds }),
		intEntry("my_stats_cooldown_minutes", true, false, -1, 1440,
			func(c *Config) *int { return &c.Cooldowns.MyStats.PerUserMinutes }),
		intEntry("my_stats_global_cooldown_seconds", true, false, -1, 86400,
			func(c *Config) *int { return &c.Cooldowns.MyStats.GlobalSeconds }),
		intEntry("config_cooldown_minutes", true, false, -1, 1440,
			func(c *Config) *int { return &c.Cooldowns.Config.PerUserMinutes }),
		intEntry("config_global_cooldown_seconds", true, false, -1, 86400,
			func(c *Config) *int { return &c.Cooldowns.Config.GlobalSeconds }),
		{
			Key: "language",
			Hot: true,
			Get: func(c *Config) string { return c.Language },
			Set: func(c *Config, v string) error {
				if err := validateLanguage("language", v); err != nil {
					return err
				}
				c.Language = v
				return nil
			},
		},
		{
			Key: "tz",
			Get: func(c *Config) string { return c.TZ },
			Set: func(c *Config, v string) error {
				c.TZ = v
				return nil
			},
		},
		{
			Key: "log_level",
			Get: func(c *Config) string { return c.Logging.Level },
			Set: func(c *Config, v string) error {
				switch strings.ToLower(v) {
				case "debug", "info", "warn", "error":
					c.Logging.Level = strings.ToLower(v)
					return nil
				}
				return core.NewConfigError("log_level", fmt.Sprintf("unknown level %q", v))
			},
		},
		{
			Key: "log_format",
			Get: func(c *Config) string { return c.Logging.Format },
			Set: func(c *Config, v string) error {
				switch v {
				case "text", "json":
					c.Logging.Format = v
					return nil
				}
				return core.NewConfigError("log_format", fmt.Sprintf("unknown format %q", v))
			},
		},
		{
			Key: "log_file",
			Get: func(c *Config) string { return c.Logging.File },
			Set: func(c *Config, v string) error {
				c.Logging.File = v
				return nil
			},
		},
		intEntry("health_port", false, false, 0, 65535,
			func(c *Config) *int { return &c.Health.Port }),
		{
			Key: "maintenance_cron",
			Get: func(c *Config) string { return c.Maintenance.Cron },
			Set: func(c *Config, v string) error {
				if err := validateCron("maintenance_cron", v); err != nil {
					return err
				}
				c.Maintenance.Cron = v
				return nil
			},
		},
		boolEntry("update_check", false, false,
			func(c *Config) *bool { return &c.UpdateCheck }),
	}

	for _, gt := range core.GraphTypes() {
		entries = append(entries, graphToggleEntry(gt), paletteEntry(gt))
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	index := make(map[string]Entry, len(entries))
	for _, e := range entries {
		index[e.Key] = e
	}
	return entries, index
}

func boolEntry(key string, hot, scheduleAffecting bool, field func(*Config) *bool) Entry {
	return Entry{
		Key:               key,
		Hot:               hot,
		ScheduleAffecting: scheduleAffecting,
		Get:               func(c *Config) string { return strconv.FormatBool(*field(c)) },
		Set: func(c *Config, v string) error {
			b, err := validateBool(key, v)
			if err != nil {
				return err
			}
			*field(c) = b
			return nil
		},
	}
}

func intEntry(key string, hot, scheduleAffecting bool, lo, hi int, field func(*Config) *int) Entry {
	return Entry{
		Key:               key,
		Hot:               hot,
		ScheduleAffecting: scheduleAffecting,
		Get:               func(c *Config) string { return strconv.Itoa(*field(c)) },
		Set: func(c *Config, v string) error {
			n, err := validateIntRange(key, v, lo, hi)
			if err != nil {
				return err
			}
			*field(c) = n
			return nil
		},
	}
}

func colorEntry(key string, field func(*Config) *string) Entry {
	return Entry{
		Key: key,
		Hot: true,
		Get: func(c *Config) string { return *field(c) },
		Set: func(c *Config, v string) error {
			if err := validateHexColor(key, v); err != nil {
				return err
			}
			*field(c) = v
			return nil
		},
	}
}

func graphToggleEntry(gt core.GraphType) Entry {
	key := "enable_" + string(gt)
	return Entry{
		Key: key,
		Hot: true,
		Get: func(c *Config) string { return strconv.FormatBool(c.Graphs.Enabled[gt]) },
		Set: func(c *Config, v string) error {
			b, err := validateBool(key, v)
			if err != nil {
				return err
			}
			c.Graphs.Enabled[gt] = b
			return nil
		},
	}
}

func paletteEntry(gt core.GraphType) Entry {
	key := "palette_" + string(gt)
	return Entry{
		Key: key,
		Hot: true,
		Get: func(c *Config) string { return c.Graphs.Palettes[gt] },
		Set: func(c *Config, v string) error {
			if err := validatePalette(key, v); err != nil {
				return err
			}
			c.Graphs.Palettes[gt] = v
			return nil
		},
	}
}
