// Package config loads, validates, persists and hot-edits the typed
// application configuration. All access outside this package goes through
// the immutable Config snapshot or the flat logical-key catalogue.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/chartd-org/chartd/internal/core"
)

// Config is the typed, immutable configuration. Mutation happens only
// through Store.Edit, which swaps in a fresh copy.
type Config struct {
	Tautulli    Tautulli
	Discord     Discord
	Schedule    Schedule
	Retention   Retention
	Data        DataRange
	Graphs      Graphs
	Cooldowns   Cooldowns
	Language    string
	TZ          string
	Location    *time.Location
	Logging     Logging
	Health      Health
	Maintenance Maintenance
	UpdateCheck bool
	Paths       Paths

	// Warnings collected while loading; logged once at startup.
	Warnings []string
}

// Tautulli addresses the analytics server.
type Tautulli struct {
	URL    string
	APIKey string
}

// Discord holds the chat-service settings.
type Discord struct {
	Token               string
	ChannelID           string
	Ephemeral           bool
	ElevatedUploadLimit bool
	DeleteLookback      int
}

// Schedule holds the update cadence.
type Schedule struct {
	UpdateDays      int
	FixedUpdateTime string
	Recovery        bool
}

// Retention bounds how long rendered artifacts are kept.
type Retention struct {
	KeepDays int
}

// DataRange selects how much history the update pipeline fetches.
type DataRange struct {
	TimeRangeDays   int
	TimeRangeMonths int
}

// GraphColors are the media-type split colours.
type GraphColors struct {
	TV    string
	Movie string
}

// Graphs holds rendering settings.
type Graphs struct {
	Enabled             map[core.GraphType]bool
	MediaTypeSeparation bool
	Colors              GraphColors
	Palettes            map[core.GraphType]string
	CensorUsernames     bool
	Width               int
	Height              int
}

// EnabledTypes returns the graph types toggled on, in render order.
func (g Graphs) EnabledTypes() []core.GraphType {
	var out []core.GraphType
	for _, gt := range core.GraphTypes() {
		if g.Enabled[gt] {
			out = append(out, gt)
		}
	}
	return out
}

// Cooldown is one command's throttle; values <= 0 disable.
type Cooldown struct {
	PerUserMinutes int
	GlobalSeconds  int
}

// Cooldowns keys throttles by command.
type Cooldowns struct {
	UpdateGraphs Cooldown
	MyStats      Cooldown
	Config       Cooldown
}

// Logging configures the ambient logger.
type Logging struct {
	Level  string
	Format string
	File   string
}

// Health configures the health/metrics HTTP server; port 0 disables it.
type Health struct {
	Port int
}

// Maintenance schedules the janitor.
type Maintenance struct {
	Cron string
}

// Paths are the resolved filesystem locations.
type Paths struct {
	ConfigFile string
	DataDir    string
	StateFile  string
	GraphsDir  string
	LockFile   string
}

// Clone returns a deep copy safe to mutate.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Graphs.Enabled = make(map[core.GraphType]bool, len(c.Graphs.Enabled))
	for k, v := range c.Graphs.Enabled {
		cp.Graphs.Enabled[k] = v
	}
	cp.Graphs.Palettes = make(map[core.GraphType]string, len(c.Graphs.Palettes))
	for k, v := range c.Graphs.Palettes {
		cp.Graphs.Palettes[k] = v
	}
	cp.Warnings = append([]string(nil), c.Warnings...)
	return &cp
}

// Validate checks the required keys. Called by the daemon before wiring;
// read-only commands may skip it.
func (c *Config) Validate() error {
	var errs core.ErrorList
	if c.Tautulli.URL == "" {
		errs.Add(core.NewConfigError("tautulli_url", "required"))
	}
	if c.Tautulli.APIKey == "" {
		errs.Add(core.NewConfigError("tautulli_api_key", "required"))
	}
	if c.Discord.Token == "" {
		errs.Add(core.NewConfigError("discord_token", "required"))
	}
	if c.Discord.ChannelID == "" {
		errs.Add(core.NewConfigError("channel_id", "required"))
	}
	if errs.HasErrors() {
		return &errs
	}
	return nil
}

// Default returns the built-in configuration with paths rooted at dataDir.
func Default(dataDir string) *Config {
	cfg := &Config{
		Discord: Discord{
			Ephemeral:      true,
			DeleteLookback: 50,
		},
		Schedule: Schedule{
			UpdateDays:      7,
			FixedUpdateTime: "disabled",
			Recovery:        true,
		},
		Retention: Retention{KeepDays: 7},
		Data:      DataRange{TimeRangeDays: 30, TimeRangeMonths: 12},
		Graphs: Graphs{
			Enabled:             make(map[core.GraphType]bool),
			MediaTypeSeparation: true,
			Colors:              GraphColors{TV: "#1f77b4", Movie: "#ff7f0e"},
			Palettes:            make(map[core.GraphType]string),
			CensorUsernames:     true,
			Width:               1200,
			Height:              600,
		},
		Cooldowns: Cooldowns{
			UpdateGraphs: Cooldown{PerUserMinutes: 0, GlobalSeconds: 60},
			MyStats:      Cooldown{PerUserMinutes: 5, GlobalSeconds: 60},
			Config:       Cooldown{},
		},
		Language:    "en",
		Location:    time.Local,
		Logging:     Logging{Level: "info", Format: "text"},
		Health:      Health{Port: 8090},
		Maintenance: Maintenance{Cron: "0 4 * * *"},
		UpdateCheck: true,
	}
	for _, gt := range core.GraphTypes() {
		cfg.Graphs.Enabled[gt] = true
		cfg.Graphs.Palettes[gt] = ""
	}
	cfg.setPaths(dataDir, "")
	return cfg
}

func (c *Config) setPaths(dataDir, configFile string) {
	c.Paths = Paths{
		ConfigFile: configFile,
		DataDir:    dataDir,
		StateFile:  filepath.Join(dataDir, "state", "scheduler_state.json"),
		GraphsDir:  filepath.Join(dataDir, "graphs"),
		LockFile:   filepath.Join(dataDir, "chartd.lock"),
	}
}

// SchedulingValues returns the schedule keys consumed by the scheduler.
func (c *Config) SchedulingValues() (updateDays int, fixedUpdateTime string) {
	return c.Schedule.UpdateDays, c.Schedule.FixedUpdateTime
}

// UploadLimit returns the attachment size limit in bytes.
func (c *Config) UploadLimit() int64 {
	if c.Discord.ElevatedUploadLimit {
		return 25 << 20
	}
	return 8 << 20
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{schedule=%d/%s data=%s}", c.Schedule.UpdateDays, c.Schedule.FixedUpdateTime, c.Paths.DataDir)
}
