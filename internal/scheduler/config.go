package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chartd-org/chartd/internal/core"
)

// FixedTimeDisabled is the sentinel that selects pure interval mode.
const FixedTimeDisabled = "disabled"

// SchedulingConfig is the immutable schedule definition: run every
// UpdateDays days, optionally anchored to a wall-clock time.
type SchedulingConfig struct {
	UpdateDays      int
	FixedUpdateTime string

	hour   int
	minute int
	fixed  bool
}

// NewSchedulingConfig validates and builds a SchedulingConfig.
// fixedUpdateTime is "HH:MM" or "disabled".
func NewSchedulingConfig(updateDays int, fixedUpdateTime string) (SchedulingConfig, error) {
	if updateDays < 1 || updateDays > 365 {
		return SchedulingConfig{}, core.NewConfigError("update_days",
			fmt.Sprintf("must be between 1 and 365, got %d", updateDays))
	}

	cfg := SchedulingConfig{
		UpdateDays:      updateDays,
		FixedUpdateTime: fixedUpdateTime,
	}
	if fixedUpdateTime == FixedTimeDisabled {
		return cfg, nil
	}

	hour, minute, err := ParseFixedTime(fixedUpdateTime)
	if err != nil {
		return SchedulingConfig{}, err
	}
	cfg.hour, cfg.minute, cfg.fixed = hour, minute, true
	return cfg, nil
}

// Fixed reports whether the schedule is anchored to a wall-clock time.
func (c SchedulingConfig) Fixed() bool { return c.fixed }

// FixedTime returns the parsed hour and minute; only meaningful when
// Fixed() is true.
func (c SchedulingConfig) FixedTime() (hour, minute int) { return c.hour, c.minute }

// ParseFixedTime parses "HH:MM" with 0 <= h <= 23 and 0 <= m <= 59.
func ParseFixedTime(value string) (hour, minute int, err error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, 0, core.NewConfigError("fixed_update_time",
			fmt.Sprintf("must be HH:MM or %q, got %q", FixedTimeDisabled, value))
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, core.NewConfigError("fixed_update_time",
			fmt.Sprintf("must be HH:MM or %q, got %q", FixedTimeDisabled, value))
	}
	return hour, minute, nil
}
