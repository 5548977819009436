package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fxmargin/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type staticLoops []worker.Status

func (s staticLoops) Statuses() []worker.Status { return s }

func TestLive(t *testing.T) {
	h := NewHandler(nil, nil, time.Now().Add(-time.Minute), "memory", ":8080", "tok")
	rec := httptest.NewRecorder()
	h.Live(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body liveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.GreaterOrEqual(t, body.UptimeSec, int64(59))
}

func TestReady(t *testing.T) {
	loops := staticLoops{{Name: "reprice", Runs: 3, Running: true}}

	t.Run("store up", func(t *testing.T) {
		h := NewHandler(pingFunc(func(context.Context) error { return nil }), loops, time.Now(), "memory", "", "")
		rec := httptest.NewRecorder()
		h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body readinessResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.Store.Reachable)
		assert.Equal(t, "memory", body.Store.Kind)
		require.Len(t, body.Loops, 1)
		assert.EqualValues(t, 3, body.Loops[0].Runs)
	})

	t.Run("store down", func(t *testing.T) {
		h := NewHandler(pingFunc(func(context.Context) error { return errors.New("connection refused") }), nil, time.Now(), "postgres", "", "")
		rec := httptest.NewRecorder()
		h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body readinessResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "degraded", body.Status)
		assert.Equal(t, "connection refused", body.Store.Error)
	})
}

func TestInternalEndpointsNeedToken(t *testing.T) {
	up := pingFunc(func(context.Context) error { return nil })
	h := NewHandler(up, staticLoops{{Name: "supervise", Runs: 7, LastErr: "x"}}, time.Now(), "memory", ":8080", "secret")

	rec := httptest.NewRecorder()
	h.Full(rec, httptest.NewRequest(http.MethodGet, "/health/full", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Internal-Token", "secret")
	rec = httptest.NewRecorder()
	h.Metrics(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fxmargin_store_up 1")
	assert.Contains(t, rec.Body.String(), `fxmargin_loop_runs_total{loop="supervise"} 7`)
	assert.Contains(t, rec.Body.String(), `fxmargin_loop_failing{loop="supervise"} 1`)

	req = httptest.NewRequest(http.MethodGet, "/health/full", nil)
	req.Header.Set("X-Internal-Token", "secret")
	rec = httptest.NewRecorder()
	h.Full(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"http_addr":":8080"`)

	closed := NewHandler(up, nil, time.Now(), "memory", "", "")
	rec = httptest.NewRecorder()
	closed.Metrics(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
