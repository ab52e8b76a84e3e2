// Package handlers tests for sync REST API endpoints.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/NOVUMSOLVO/careunity-network-sub001/internal/errors"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/kv"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/models"
	syncpkg "github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/connectivity"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/scheduler"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/transport"
)

type okTransport struct{}

func (okTransport) Do(ctx context.Context, req transport.Request) (*transport.Response, error) {
	return &transport.Response{StatusCode: http.StatusOK, Header: http.Header{}}, nil
}

type fixture struct {
	router  chi.Router
	client  *syncpkg.Client
	monitor *connectivity.Manual
}

func setup(t *testing.T) *fixture {
	t.Helper()
	monitor := connectivity.NewManual(true)
	client := syncpkg.NewClient(kv.NewMemoryStore(), syncpkg.Options{Transport: okTransport{}, Monitor: monitor})
	sched := scheduler.NewScheduler(client, monitor, nil)

	r := chi.NewRouter()
	NewSyncHandler(sched, client.Queue(), client.Ledger(), client.Cache()).Routes(r)
	r.Get("/api/health", HealthHandler("careunity-syncd"))
	return &fixture{router: r, client: client, monitor: monitor}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"careunity-syncd"}`, rec.Body.String())
}

func TestSyncHandler_EnqueueAndList(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodPost, "/sync/operations",
		map[string]interface{}{"method": "POST", "url": "/api/visits", "body": map[string]int{"n": 1}})
	require.Equal(t, http.StatusCreated, rec.Code)

	var op models.SyncOperation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &op))
	assert.Equal(t, models.StatusPending, op.Status)

	rec = f.do(t, http.MethodGet, "/sync/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Count      int                    `json:"count"`
		Operations []models.SyncOperation `json:"operations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, 1, listed.Count)
	assert.Equal(t, op.ID, listed.Operations[0].ID)
}

func TestSyncHandler_EnqueueInvalid(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodPost, "/sync/operations", map[string]string{"method": "TRACE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(apperrors.ErrInvalid), body["code"])
}

func TestSyncHandler_Remove(t *testing.T) {
	f := setup(t)
	op, err := f.client.Queue().Enqueue(context.Background(), models.SyncOperationInput{Method: "DELETE", URL: "/x"})
	require.NoError(t, err)

	rec := f.do(t, http.MethodDelete, "/sync/operations/"+op.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/sync/operations/"+op.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncHandler_Drain(t *testing.T) {
	f := setup(t)
	_, err := f.client.Queue().Enqueue(context.Background(), models.SyncOperationInput{
		Method: "PUT", URL: "/api/users/1", EntityType: "ServiceUser", EntityID: "1",
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/sync/drain", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result syncpkg.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Uploaded)

	rec = f.do(t, http.MethodGet, "/sync/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"entity_id":"1"`)
}

func TestSyncHandler_DrainOffline(t *testing.T) {
	f := setup(t)
	f.monitor.SetOnline(false)

	rec := f.do(t, http.MethodPost, "/sync/drain", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), string(apperrors.ErrDisconnected))
}

func TestSyncHandler_StatusAndStats(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodGet, "/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status scheduler.SchedulerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.IsOnline)
	assert.Equal(t, syncpkg.SyncStatusIdle, status.SyncStatus)

	rec = f.do(t, http.MethodGet, "/sync/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":0`)
}

func TestSyncHandler_RetryAbandoned(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodPost, "/sync/abandoned/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reset":0}`, rec.Body.String())
}

func TestSyncHandler_ClearCache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.client.Cache().Put(ctx, "k", map[string]int{"a": 1}, time.Minute))

	rec := f.do(t, http.MethodDelete, "/cache", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, ok, err := f.client.Cache().Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
