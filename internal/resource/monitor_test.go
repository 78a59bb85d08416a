package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartd-org/chartd/internal/clock"
)

func TestSampleBeforeFirstCollect(t *testing.T) {
	t.Parallel()

	m, err := NewMonitor(clock.System(time.UTC))
	require.NoError(t, err)

	_, ok := m.Sample()
	assert.False(t, ok)
}

func TestCollectPublishesSample(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC)
	m, err := NewMonitor(clock.NewFake(now))
	require.NoError(t, err)

	m.collect(context.Background())

	sample, ok := m.Sample()
	require.True(t, ok)
	assert.Equal(t, now, sample.SampledAt)
	// Our own process always has resident memory.
	assert.Positive(t, sample.RSSBytes)
}
