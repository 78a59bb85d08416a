package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartd-org/chartd/internal/clock"
)

func TestSystemClock(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	c := clock.System(loc)
	assert.Equal(t, loc, c.Location())
	assert.Equal(t, loc, c.Now().Location())

	c = clock.System(nil)
	assert.Equal(t, time.Local, c.Location())
}

func TestEnsureAware(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	assert.True(t, clock.EnsureAware(time.Time{}, loc).IsZero())

	utc := time.Date(2025, 7, 16, 21, 28, 0, 0, time.UTC)
	got := clock.EnsureAware(utc, loc)
	assert.Equal(t, loc, got.Location())
	assert.True(t, got.Equal(utc))
}

func TestStamp(t *testing.T) {
	t.Parallel()

	ts := time.Unix(1626901680, 0)

	assert.Equal(t, "<t:1626901680:R>", clock.Stamp(ts, clock.StyleRelative))
	assert.Equal(t, "<t:1626901680:f>", clock.Stamp(ts, clock.StyleShort))
	// Unknown styles fall back to the default.
	assert.Equal(t, "<t:1626901680:f>", clock.Stamp(ts, clock.Style('x')))
}

func TestStyleValid(t *testing.T) {
	t.Parallel()

	for _, s := range []clock.Style{'t', 'T', 'd', 'D', 'f', 'F', 'R'} {
		assert.True(t, s.Valid(), "style %c", s)
	}
	assert.False(t, clock.Style('z').Valid())
}

func TestFakeClock(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 7, 16, 21, 28, 0, 0, time.UTC)
	f := clock.NewFake(start)

	assert.True(t, f.Now().Equal(start))

	got := f.Advance(90 * time.Minute)
	assert.True(t, got.Equal(start.Add(90*time.Minute)))
	assert.True(t, f.Now().Equal(got))

	f.Set(start)
	assert.True(t, f.Now().Equal(start))
}
