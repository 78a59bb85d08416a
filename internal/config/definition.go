package config

// Definition is the raw on-disk configuration shape. Viper unmarshals
// into it; the loader transforms it into the typed Config. YAML saves
// marshal back out of it, so the two shapes stay bidirectional.
type Definition struct {
	Tautulli    tautulliDef    `yaml:"tautulli" mapstructure:"tautulli"`
	Discord     discordDef     `yaml:"discord" mapstructure:"discord"`
	Schedule    scheduleDef    `yaml:"schedule" mapstructure:"schedule"`
	Retention   retentionDef   `yaml:"retention" mapstructure:"retention"`
	Data        dataDef        `yaml:"data" mapstructure:"data"`
	Graphs      graphsDef      `yaml:"graphs" mapstructure:"graphs"`
	Cooldowns   cooldownsDef   `yaml:"cooldowns" mapstructure:"cooldowns"`
	Language    string         `yaml:"language" mapstructure:"language"`
	TZ          string         `yaml:"tz" mapstructure:"tz"`
	Logging     loggingDef     `yaml:"logging" mapstructure:"logging"`
	Health      healthDef      `yaml:"health" mapstructure:"health"`
	Maintenance maintenanceDef `yaml:"maintenance" mapstructure:"maintenance"`
	UpdateCheck *bool          `yaml:"update_check" mapstructure:"update_check"`
	DataDir     string         `yaml:"data_dir" mapstructure:"data_dir"`
}

type tautulliDef struct {
	URL    string `yaml:"url" mapstructure:"url"`
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
}

type discordDef struct {
	Token               string `yaml:"token" mapstructure:"token"`
	ChannelID           string `yaml:"channel_id" mapstructure:"channel_id"`
	Ephemeral           *bool  `yaml:"ephemeral" mapstructure:"ephemeral"`
	ElevatedUploadLimit bool   `yaml:"elevated_upload_limit" mapstructure:"elevated_upload_limit"`
	DeleteLookback      *int   `yaml:"delete_lookback" mapstructure:"delete_lookback"`
}

type scheduleDef struct {
	UpdateDays      int    `yaml:"update_days" mapstructure:"update_days"`
	FixedUpdateTime string `yaml:"fixed_update_time" mapstructure:"fixed_update_time"`
	Recovery        *bool  `yaml:"recovery" mapstructure:"recovery"`
}

type retentionDef struct {
	KeepDays int `yaml:"keep_days" mapstructure:"keep_days"`
}

type dataDef struct {
	TimeRangeDays   int `yaml:"time_range_days" mapstructure:"time_range_days"`
	TimeRangeMonths int `yaml:"time_range_months" mapstructure:"time_range_months"`
}

type graphColorsDef struct {
	TV    string `yaml:"tv" mapstructure:"tv"`
	Movie string `yaml:"movie" mapstructure:"movie"`
}

type graphsDef struct {
	Enabled             map[string]bool   `yaml:"enabled" mapstructure:"enabled"`
	MediaTypeSeparation *bool             `yaml:"media_type_separation" mapstructure:"media_type_separation"`
	Colors              graphColorsDef    `yaml:"colors" mapstructure:"colors"`
	Palettes            map[string]string `yaml:"palettes" mapstructure:"palettes"`
	CensorUsernames     *bool             `yaml:"censor_usernames" mapstructure:"censor_usernames"`
	Width               int               `yaml:"width" mapstructure:"width"`
	Height              int               `yaml:"height" mapstructure:"height"`
}

type cooldownDef struct {
	PerUserMinutes *int `yaml:"per_user_minutes" mapstructure:"per_user_minutes"`
	GlobalSeconds  *int `yaml:"global_seconds" mapstructure:"global_seconds"`
}

type cooldownsDef struct {
	UpdateGraphs cooldownDef `yaml:"update_graphs" mapstructure:"update_graphs"`
	MyStats      cooldownDef `yaml:"my_stats" mapstructure:"my_stats"`
	Config       cooldownDef `yaml:"config" mapstructure:"config"`
}

type loggingDef struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	File   string `yaml:"file" mapstructure:"file"`
}

type healthDef struct {
	Port *int `yaml:"port" mapstructure:"port"`
}

type maintenanceDef struct {
	Cron string `yaml:"cron" mapstructure:"cron"`
}

func cooldownToDef(c Cooldown) cooldownDef {
	per, global := c.PerUserMinutes, c.GlobalSeconds
	return cooldownDef{PerUserMinutes: &per, GlobalSeconds: &global}
}

// toDefinition converts the typed Config back into the on-disk shape.
func toDefinition(c *Config) Definition {
	enabled := make(map[string]bool, len(c.Graphs.Enabled))
	for k, v := range c.Graphs.Enabled {
		enabled[string(k)] = v
	}
	palettes := make(map[string]string, len(c.Graphs.Palettes))
	for k, v := range c.Graphs.Palettes {
		palettes[string(k)] = v
	}

	ephemeral := c.Discord.Ephemeral
	lookback := c.Discord.DeleteLookback
	recovery := c.Schedule.Recovery
	sep := c.Graphs.MediaTypeSeparation
	censor := c.Graphs.CensorUsernames
	port := c.Health.Port
	check := c.UpdateCheck

	return Definition{
		Tautulli: tautulliDef{URL: c.Tautulli.URL, APIKey: c.Tautulli.APIKey},
		Discord: discordDef{
			Token:               c.Discord.Token,
			ChannelID:           c.Discord.ChannelID,
			Ephemeral:           &ephemeral,
			ElevatedUploadLimit: c.Discord.ElevatedUploadLimit,
			DeleteLookback:      &lookback,
		},
		Schedule: scheduleDef{
			UpdateDays:      c.Schedule.UpdateDays,
			FixedUpdateTime: c.Schedule.FixedUpdateTime,
			Recovery:        &recovery,
		},
		Retention: retentionDef{KeepDays: c.Retention.KeepDays},
		Data: dataDef{
			TimeRangeDays:   c.Data.TimeRangeDays,
			TimeRangeMonths: c.Data.TimeRangeMonths,
		},
		Graphs: graphsDef{
			Enabled:             enabled,
			MediaTypeSeparation: &sep,
			Colors:              graphColorsDef{TV: c.Graphs.Colors.TV, Movie: c.Graphs.Colors.Movie},
			Palettes:            palettes,
			CensorUsernames:     &censor,
			Width:               c.Graphs.Width,
			Height:              c.Graphs.Height,
		},
		Cooldowns: cooldownsDef{
			UpdateGraphs: cooldownToDef(c.Cooldowns.UpdateGraphs),
			MyStats:      cooldownToDef(c.Cooldowns.MyStats),
			Config:       cooldownToDef(c.Cooldowns.Config),
		},
		Language:    c.Language,
		TZ:          c.TZ,
		Logging:     loggingDef(c.Logging),
		Health:      healthDef{Port: &port},
		Maintenance: maintenanceDef{Cron: c.Maintenance.Cron},
		UpdateCheck: &check,
		DataDir:     c.Paths.DataDir,
	}
}
