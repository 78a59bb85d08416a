package scheduler

import (
	"fmt"
	"time"
)

// The calculator is the single source of truth for next_update. Every
// observer of the schedule (the loop, embeds, the status command) derives
// the timestamp from these functions; nothing else computes it.

const (
	// maxScheduleHorizon bounds how far ahead a schedule may point.
	maxScheduleHorizon = 365 * 24 * time.Hour

	// fixedTimeTolerance is the allowed deviation between the last->next
	// interval and the configured cadence in fixed-time mode. Anchoring to
	// a wall-clock time shifts the interval by up to a day.
	fixedTimeTolerance = 24 * time.Hour

	// intervalTolerance is the allowed deviation in interval mode.
	intervalTolerance = time.Second
)

// NextUpdate computes the next planned fire for cfg given the last
// successful run (zero when absent) and now. The result may be in the
// past in interval mode; the caller decides whether to replay.
func NextUpdate(cfg SchedulingConfig, lastUpdate, now time.Time) time.Time {
	if !cfg.Fixed() {
		if lastUpdate.IsZero() {
			return now.AddDate(0, 0, cfg.UpdateDays)
		}
		return lastUpdate.AddDate(0, 0, cfg.UpdateDays)
	}

	hour, minute := cfg.FixedTime()
	loc := now.Location()

	if lastUpdate.IsZero() {
		// First run: at least UpdateDays away, anchored to the fixed time.
		// With UpdateDays == 1 this lands tomorrow, never today, even when
		// the fixed time is still ahead of now.
		return time.Date(now.Year(), now.Month(), now.Day()+cfg.UpdateDays,
			hour, minute, 0, 0, loc)
	}

	last := lastUpdate.In(loc)
	candidate := time.Date(last.Year(), last.Month(), last.Day()+cfg.UpdateDays,
		hour, minute, 0, 0, loc)
	for !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, cfg.UpdateDays)
	}
	return candidate
}

// TimeUntil returns the wait from now until the next fire. Negative when
// the next fire is already due.
func TimeUntil(cfg SchedulingConfig, lastUpdate, now time.Time) time.Duration {
	return NextUpdate(cfg, lastUpdate, now).Sub(now)
}

// IsValidSchedule reports whether t is a usable fire time as seen from now:
// strictly in the future and within a year.
func IsValidSchedule(t, now time.Time) bool {
	return t.After(now) && !t.After(now.Add(maxScheduleHorizon))
}

// ValidateIntegrity checks a stored next_update against the schedule it
// was written under. Returns a human-readable issue list; empty means
// consistent.
func ValidateIntegrity(storedNext, lastUpdate time.Time, cfg SchedulingConfig, now time.Time) []string {
	var issues []string
	if storedNext.IsZero() {
		return issues
	}

	if !storedNext.After(now) {
		issues = append(issues, fmt.Sprintf(
			"next update %s is in the past", storedNext.Format(time.RFC3339)))
	}

	maxAhead := now.AddDate(0, 0, 2*cfg.UpdateDays)
	if storedNext.After(maxAhead) {
		issues = append(issues, fmt.Sprintf(
			"next update %s is more than %d days ahead",
			storedNext.Format(time.RFC3339), 2*cfg.UpdateDays))
	}

	if !lastUpdate.IsZero() {
		interval := storedNext.Sub(lastUpdate)
		expected := lastUpdate.AddDate(0, 0, cfg.UpdateDays).Sub(lastUpdate)
		tolerance := intervalTolerance
		if cfg.Fixed() {
			tolerance = fixedTimeTolerance
		}
		if diff := (interval - expected).Abs(); diff > tolerance {
			issues = append(issues, fmt.Sprintf(
				"interval between last and next update deviates from %d day(s) by %s",
				cfg.UpdateDays, diff))
		}
	}

	return issues
}
