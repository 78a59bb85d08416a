package graphs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/chartd-org/chartd/internal/core"
	"github.com/chartd-org/chartd/internal/tautulli"
)

func sampleDataset(now time.Time) *Dataset {
	play := func(offset time.Duration, user, platform string, mt tautulli.MediaType) tautulli.Play {
		return tautulli.Play{
			Time:      now.Add(-offset),
			User:      user,
			UserID:    1,
			MediaType: mt,
			Platform:  platform,
			Duration:  30 * time.Minute,
		}
	}
	return &Dataset{
		Plays: []tautulli.Play{
			play(1*time.Hour, "alice", "Roku", tautulli.MediaTV),
			play(2*time.Hour, "alice", "Roku", tautulli.MediaMovie),
			play(26*time.Hour, "bob", "Web", tautulli.MediaTV),
			play(50*time.Hour, "carol", "iOS", tautulli.MediaMusic),
		},
		Monthly: tautulli.MonthlyPlays{
			Categories: []string{"Jun 2025", "Jul 2025"},
			Series: []tautulli.MonthlySeries{
				{Name: "Movies", Data: []float64{3, 5}},
				{Name: "TV", Data: []float64{10, 7}},
			},
		},
		Now:           now,
		TimeRangeDays: 7,
	}
}

func TestDailyCounts(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC)
	ds := sampleDataset(now)

	xs, ys := ds.dailyCounts(anyMedia)
	require.Len(t, xs, 7)
	require.Len(t, ys, 7)
	assert.Equal(t, time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC), xs[0])
	// Today has two plays, yesterday one, two days ago one.
	assert.Equal(t, 2.0, ys[6])
	assert.Equal(t, 1.0, ys[5])
	assert.Equal(t, 1.0, ys[4])

	_, tvOnly := ds.dailyCounts(mediaIs(tautulli.MediaTV))
	assert.Equal(t, 1.0, tvOnly[6])
}

func TestByDayOfWeekMondayFirst(t *testing.T) {
	t.Parallel()

	// 2025-07-14 is a Monday.
	monday := time.Date(2025, 7, 14, 10, 0, 0, 0, time.UTC)
	ds := &Dataset{
		Plays: []tautulli.Play{
			{Time: monday, MediaType: tautulli.MediaTV},
			{Time: monday.AddDate(0, 0, 6), MediaType: tautulli.MediaTV}, // Sunday
		},
		Now:           monday.AddDate(0, 0, 7),
		TimeRangeDays: 7,
	}

	counts := ds.byDayOfWeek(anyMedia)
	assert.Equal(t, 1.0, counts[0])
	assert.Equal(t, 1.0, counts[6])
}

func TestTopNRankingStable(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC)
	ds := sampleDataset(now)

	entries := ds.topUsers(2)
	require.Len(t, entries, 2)
	assert.Equal(t, "alice", entries[0].Label)
	assert.Equal(t, 2.0, entries[0].Count)
	// bob and carol tie at 1; alphabetical order breaks it.
	assert.Equal(t, "bob", entries[1].Label)

	platforms := ds.topPlatforms(10)
	assert.Equal(t, "Roku", platforms[0].Label)
}

func TestEffectiveColorsPriority(t *testing.T) {
	t.Parallel()

	opts := Options{
		TVColor:    "#112233",
		MovieColor: "#445566",
		Palettes: map[core.GraphType]string{
			core.GraphTopUsers: "dark",
		},
	}

	// Palette wins where configured.
	withPalette := opts.EffectiveColors(core.GraphTopUsers)
	assert.Equal(t, palettes["dark"], withPalette.Series)

	// Elsewhere the media split colours apply.
	split := opts.EffectiveColors(core.GraphDailyPlayCount)
	assert.Equal(t, drawing.Color{R: 0x11, G: 0x22, B: 0x33, A: 0xff}, split.TV)
	assert.Equal(t, drawing.Color{R: 0x44, G: 0x55, B: 0x66, A: 0xff}, split.Movie)

	// Unknown palette names fall back to the split.
	opts.Palettes[core.GraphTopUsers] = "no_such_palette"
	fallback := opts.EffectiveColors(core.GraphTopUsers)
	assert.Equal(t, split.TV, fallback.TV)
}

func TestParseHexForms(t *testing.T) {
	t.Parallel()

	assert.Equal(t, drawing.Color{R: 0xaa, G: 0xbb, B: 0xcc, A: 0xff}, parseHex("#abc"))
	assert.Equal(t, drawing.Color{R: 0xaa, G: 0xbb, B: 0xcc, A: 0xdd}, parseHex("#abcd"))
	assert.Equal(t, drawing.Color{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}, parseHex("#1f77b4"))
	assert.Equal(t, drawing.Color{R: 0x1f, G: 0x77, B: 0xb4, A: 0x80}, parseHex("#1f77b480"))
}

func TestRenderAllTypesProducePNGs(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC)
	ds := sampleDataset(now)
	r := New(Options{Width: 600, Height: 300, MediaTypeSeparation: true, CensorUsernames: true})
	dir := t.TempDir()

	for _, gt := range core.GraphTypes() {
		path, err := r.Render(gt, ds, dir)
		require.NoError(t, err, "render %s", gt)
		assert.Equal(t, filepath.Join(dir, string(gt)+".png"), path)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestRenderFailureLeavesNoPartialFile(t *testing.T) {
	t.Parallel()

	ds := &Dataset{Now: time.Now(), TimeRangeDays: 7}
	r := New(Options{})
	dir := t.TempDir()

	_, err := r.Render(core.GraphTopUsers, ds, dir)
	var renderErr *core.RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, string(core.GraphTopUsers), renderErr.Graph)
	assert.NoFileExists(t, filepath.Join(dir, string(core.GraphTopUsers)+".png"))
}

func TestArtifactDirs(t *testing.T) {
	t.Parallel()

	day := time.Date(2025, 7, 16, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, filepath.Join("base", "2025-07-16"), DayDir("base", day))
	assert.Equal(t, filepath.Join("base", "users", "123"), UserDir("base", "123"))
}
