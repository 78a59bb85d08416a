package tautulli_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/core"
	"github.com/chartd-org/chartd/internal/logger"
	"github.com/chartd-org/chartd/internal/tautulli"
)

func quietCtx() context.Context {
	return logger.WithLogger(context.Background(), logger.NewLogger(logger.WithQuiet()))
}

func success(data any) string {
	payload, _ := json.Marshal(data)
	return fmt.Sprintf(`{"response":{"result":"success","message":null,"data":%s}}`, payload)
}

func TestPing(t *testing.T) {
	t.Parallel()

	var gotKey, gotCmd string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("apikey")
		gotCmd = r.URL.Query().Get("cmd")
		fmt.Fprint(w, success(map[string]any{}))
	}))
	defer srv.Close()

	c := tautulli.New(srv.URL, "key-123")
	require.NoError(t, c.Ping(quietCtx()))
	assert.Equal(t, "key-123", gotKey)
	assert.Equal(t, "status", gotCmd)
}

func TestEnvelopeFailureBecomesServiceError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":{"result":"error","message":"Invalid apikey","data":null}}`)
	}))
	defer srv.Close()

	c := tautulli.New(srv.URL, "bad")
	err := c.Ping(quietCtx())
	var svcErr *core.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Contains(t, svcErr.Message, "Invalid apikey")
	// Invalid credentials classify as permanent through the message hints.
	assert.Equal(t, core.KindPermanent, core.Classify(err))
}

func TestHTTPErrorClassification(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := tautulli.New(srv.URL, "bad")
	err := c.Ping(quietCtx())
	var svcErr *core.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusUnauthorized, svcErr.StatusCode)
	assert.Equal(t, core.KindPermanent, core.Classify(err))
}

func TestServerErrorsAreRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, success(map[string]any{}))
	}))
	defer srv.Close()

	c := tautulli.New(srv.URL, "key")
	require.NoError(t, c.Ping(quietCtx()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHistoryPaginatesAndMaps(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)

	page := func(records ...map[string]any) string {
		return success(map[string]any{
			"recordsFiltered": 3,
			"data":            records,
		})
	}
	rec := func(ts time.Time, user, mediaType string) map[string]any {
		return map[string]any{
			"date":          ts.Unix(),
			"user":          user,
			"user_id":       42,
			"media_type":    mediaType,
			"platform":      "Roku",
			"play_duration": 1800,
		}
	}

	var starts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "get_history", r.URL.Query().Get("cmd"))
		starts = append(starts, r.URL.Query().Get("start"))
		fmt.Fprint(w, page(
			rec(now.Add(-1*time.Hour), "alice", "movie"),
			rec(now.Add(-2*time.Hour), "bob", "episode"),
			rec(now.AddDate(0, 0, -40), "carol", "track"), // beyond cutoff
		))
	}))
	defer srv.Close()

	c := tautulli.New(srv.URL, "key", tautulli.WithClock(fake))
	plays, err := c.History(quietCtx(), 30)
	require.NoError(t, err)
	require.Len(t, plays, 2)
	assert.Equal(t, "alice", plays[0].User)
	assert.Equal(t, tautulli.MediaMovie, plays[0].MediaType)
	assert.Equal(t, tautulli.MediaTV, plays[1].MediaType)
	assert.Equal(t, 30*time.Minute, plays[0].Duration)
	assert.Equal(t, []string{"0"}, starts)
}

func TestHistoryForUserPassesUserID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("user_id"))
		fmt.Fprint(w, success(map[string]any{"recordsFiltered": 0, "data": []any{}}))
	}))
	defer srv.Close()

	c := tautulli.New(srv.URL, "key")
	plays, err := c.HistoryForUser(quietCtx(), 30, 42)
	require.NoError(t, err)
	assert.Empty(t, plays)
}

func TestPlaysPerMonth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "get_plays_per_month", r.URL.Query().Get("cmd"))
		assert.Equal(t, "12", r.URL.Query().Get("time_range"))
		fmt.Fprint(w, success(map[string]any{
			"categories": []string{"Jun 2025", "Jul 2025"},
			"series": []map[string]any{
				{"name": "Movies", "data": []float64{3, 5}},
				{"name": "TV", "data": []float64{10, 7}},
			},
		}))
	}))
	defer srv.Close()

	c := tautulli.New(srv.URL, "key")
	monthly, err := c.PlaysPerMonth(quietCtx(), 12)
	require.NoError(t, err)
	assert.Equal(t, []string{"Jun 2025", "Jul 2025"}, monthly.Categories)
	require.Len(t, monthly.Series, 2)
	assert.Equal(t, "Movies", monthly.Series[0].Name)
	assert.Equal(t, []float64{3, 5}, monthly.Series[0].Data)
}

func TestLookupUserMatchesAndCaches(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, success([]map[string]any{
			{"user_id": 1, "username": "alice", "friendly_name": "Alice", "email": "alice@example.com"},
			{"user_id": 2, "username": "bob", "friendly_name": "Bobby", "email": "bob@example.com"},
		}))
	}))
	defer srv.Close()

	c := tautulli.New(srv.URL, "key")
	ctx := quietCtx()

	u, err := c.LookupUser(ctx, "Bobby")
	require.NoError(t, err)
	assert.Equal(t, 2, u.ID)

	// Second lookup for the same identifier is served from cache.
	_, err = c.LookupUser(ctx, "bobby")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	_, err = c.LookupUser(ctx, "nobody")
	var svcErr *core.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 404, svcErr.StatusCode)
}
