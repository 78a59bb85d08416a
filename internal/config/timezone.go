package config

import (
	"fmt"
	"os"
	"time"
)

// resolveTimezone fills Config.Location from the tz key. An empty key keeps
// the system zone. The TZ environment variable is set so libraries that
// consult it agree with us; an unknown zone falls back to the system zone
// with a warning.
func resolveTimezone(cfg *Config) {
	if cfg.TZ == "" {
		cfg.Location = time.Local
		return
	}
	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		cfg.Warnings = append(cfg.Warnings,
			fmt.Sprintf("tz %q unknown, using system zone: %v", cfg.TZ, err))
		cfg.TZ = ""
		cfg.Location = time.Local
		return
	}
	cfg.Location = loc
	if err := os.Setenv("TZ", cfg.TZ); err == nil {
		time.Local = loc
	}
}
