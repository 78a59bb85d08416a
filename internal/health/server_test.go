package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartd-org/chartd/internal/clock"
	"github.com/chartd-org/chartd/internal/supervisor"
)

type fakeSup struct {
	summary supervisor.Summary
}

func (f fakeSup) HealthSummary() supervisor.Summary { return f.summary }

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC)
	fake := clock.NewFake(now)

	healthy := New(8090, fakeSup{summary: supervisor.Summary{Healthy: true}}, nil, fake)
	healthy.startedAt = now.Add(-90 * time.Second)

	rec := httptest.NewRecorder()
	healthy.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1m30s", resp.Uptime)
}

func TestHealthEndpointDegraded(t *testing.T) {
	t.Parallel()

	fake := clock.NewFake(time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC))
	srv := New(8090, fakeSup{summary: supervisor.Summary{
		Healthy: false,
		Tasks:   []supervisor.TaskInfo{{Name: "update_scheduler", Stale: true}},
	}}, nil, fake)
	srv.startedAt = fake.Now()

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	require.Len(t, resp.Summary.Tasks, 1)
	assert.True(t, resp.Summary.Tasks[0].Stale)
}
