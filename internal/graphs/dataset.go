package graphs

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/chartd-org/chartd/internal/tautulli"
)

// Dataset is the raw material for one render pass: the play history over
// the configured range plus the server-aggregated monthly totals.
type Dataset struct {
	Plays   []tautulli.Play
	Monthly tautulli.MonthlyPlays

	// Now anchors the daily series; days are counted back from it.
	Now           time.Time
	TimeRangeDays int
}

// seriesFilter selects plays for one drawn series.
type seriesFilter func(tautulli.Play) bool

func anyMedia(tautulli.Play) bool { return true }

func mediaIs(mt tautulli.MediaType) seriesFilter {
	return func(p tautulli.Play) bool { return p.MediaType == mt }
}

// dailyCounts returns one point per day over the range, oldest first.
func (d *Dataset) dailyCounts(filter seriesFilter) (xs []time.Time, ys []float64) {
	loc := d.Now.Location()
	start := time.Date(d.Now.Year(), d.Now.Month(), d.Now.Day(), 0, 0, 0, 0, loc).
		AddDate(0, 0, -(d.TimeRangeDays - 1))

	counts := make(map[string]float64, d.TimeRangeDays)
	for _, p := range d.Plays {
		if !filter(p) {
			continue
		}
		counts[p.Time.In(loc).Format("2006-01-02")]++
	}

	for i := 0; i < d.TimeRangeDays; i++ {
		day := start.AddDate(0, 0, i)
		xs = append(xs, day)
		ys = append(ys, counts[day.Format("2006-01-02")])
	}
	return xs, ys
}

// byDayOfWeek returns seven counts, Monday first.
func (d *Dataset) byDayOfWeek(filter seriesFilter) []float64 {
	counts := make([]float64, 7)
	for _, p := range d.Plays {
		if !filter(p) {
			continue
		}
		// time.Weekday is Sunday-based; shift so Monday is index 0.
		idx := (int(p.Time.Weekday()) + 6) % 7
		counts[idx]++
	}
	return counts
}

// byHourOfDay returns 24 counts, midnight first.
func (d *Dataset) byHourOfDay(filter seriesFilter) []float64 {
	counts := make([]float64, 24)
	for _, p := range d.Plays {
		if !filter(p) {
			continue
		}
		counts[p.Time.Hour()]++
	}
	return counts
}

type rankedEntry struct {
	Label string
	Count float64
}

// topN ranks plays by a label dimension and keeps the N largest. Ties
// break alphabetically so output is stable across runs.
func (d *Dataset) topN(n int, label func(tautulli.Play) string) []rankedEntry {
	counts := map[string]float64{}
	for _, p := range d.Plays {
		if key := label(p); key != "" {
			counts[key]++
		}
	}

	entries := lo.MapToSlice(counts, func(k string, v float64) rankedEntry {
		return rankedEntry{Label: k, Count: v}
	})
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Label < entries[j].Label
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

func (d *Dataset) topPlatforms(n int) []rankedEntry {
	return d.topN(n, func(p tautulli.Play) string { return p.Platform })
}

func (d *Dataset) topUsers(n int) []rankedEntry {
	return d.topN(n, func(p tautulli.Play) string { return p.User })
}
