package upgrade

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/logger"
)

func quietCtx() context.Context {
	return logger.WithLogger(context.Background(), logger.NewLogger(logger.WithQuiet()))
}

func releaseServer(t *testing.T, tag string, calls *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tag_name":"` + tag + `","html_url":"https://example.com"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckFetchesAndCaches(t *testing.T) {
	t.Parallel()

	var calls int
	srv := releaseServer(t, "v2.0.0", &calls)
	dir := t.TempDir()
	fake := clock.NewFake(time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC))

	c := New(dir, fake, WithEndpoint(srv.URL), WithVersion("1.0.0"))
	c.Check(quietCtx())
	require.Equal(t, 1, calls)

	data, err := os.ReadFile(filepath.Join(dir, cacheFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "v2.0.0")

	// Inside the TTL the cache answers.
	fake.Advance(time.Hour)
	c.Check(quietCtx())
	assert.Equal(t, 1, calls)

	// Past the TTL we go back to the network.
	fake.Advance(24 * time.Hour)
	c.Check(quietCtx())
	assert.Equal(t, 2, calls)
}

func TestCheckSkipsDevBuilds(t *testing.T) {
	t.Parallel()

	var calls int
	srv := releaseServer(t, "v2.0.0", &calls)
	fake := clock.NewFake(time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC))

	c := New(t.TempDir(), fake, WithEndpoint(srv.URL), WithVersion("dev"))
	c.Check(quietCtx())
	assert.Zero(t, calls)
}

func TestCheckSurvivesServerErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	fake := clock.NewFake(time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC))
	c := New(dir, fake, WithEndpoint(srv.URL), WithVersion("1.0.0"))

	// Must not panic or write a cache entry.
	c.Check(quietCtx())
	_, err := os.Stat(filepath.Join(dir, cacheFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestCheckIgnoresCorruptCache(t *testing.T) {
	t.Parallel()

	var calls int
	srv := releaseServer(t, "v1.5.0", &calls)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, cacheFileName), []byte("{nope"), 0600))

	fake := clock.NewFake(time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC))
	c := New(dir, fake, WithEndpoint(srv.URL), WithVersion("1.0.0"))
	c.Check(quietCtx())
	assert.Equal(t, 1, calls)
}
