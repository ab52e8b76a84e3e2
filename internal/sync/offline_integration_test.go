// Integration tests for offline operation over the SQLite store.
// Everything except Sync must work without network connectivity.
package sync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/db"
	apperrors "github.com/NOVUMSOLVO/careunity-network-sub001/internal/errors"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/models"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/connectivity"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/offline"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/queue"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/transport"
)

// remoteAPI is a fake care-management API that fails the paths listed in failing.
type remoteAPI struct {
	mu       sync.Mutex
	requests []string
	failing  map[string]bool
}

func (a *remoteAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	a.mu.Lock()
	a.requests = append(a.requests, r.Method+" "+r.URL.Path)
	fail := a.failing[r.URL.Path]
	a.mu.Unlock()

	if fail {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"code":"UNAVAILABLE","message":"try later"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *remoteAPI) seen() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.requests...)
}

func (a *remoteAPI) setFailing(path string, fail bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failing[path] = fail
}

func openSQLiteClient(t *testing.T, dir string, remote *httptest.Server, monitor connectivity.Monitor) (*Client, func()) {
	t.Helper()
	store, err := db.Open(dir)
	require.NoError(t, err)
	c := NewClient(db.NewKVStore(store), Options{
		Transport: transport.NewHTTPTransport(transport.Options{BaseURL: remote.URL, RequestTimeout: time.Second}),
		Monitor:   monitor,
		Queue:     queue.Config{MaxRetries: 5},
	})
	return c, func() { require.NoError(t, store.Close()) }
}

// TestOfflineThenReconnect covers an offline session, an app restart and the drain
// once connectivity returns.
func TestOfflineThenReconnect(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	api := &remoteAPI{failing: map[string]bool{}}
	remote := httptest.NewServer(api)
	defer remote.Close()

	monitor := connectivity.NewManual(false)

	// Offline session: writes land locally and are queued.
	c, closeStore := openSQLiteClient(t, dir, remote, monitor)

	visit, _, err := c.SaveOffline(ctx, "visits", offline.Record{"client": "Ada", "notes": "meds given"},
		&models.SyncOperationInput{Method: "POST", URL: "/api/visits", Body: json.RawMessage(`{"client":"Ada"}`)})
	require.NoError(t, err)
	assert.NotEmpty(t, visit["id"], "offline records get a temporary id")

	_, _, err = c.SaveOffline(ctx, "users", offline.Record{"id": "u7", "name": "Ada"},
		&models.SyncOperationInput{Method: "PUT", URL: "/api/users/u7", EntityType: "ServiceUser"})
	require.NoError(t, err)
	_, _, err = c.SaveOffline(ctx, "users", offline.Record{"id": "u7", "phone": "0123"},
		&models.SyncOperationInput{Method: "PATCH", URL: "/api/users/u7", EntityType: "ServiceUser"})
	require.NoError(t, err)

	require.NoError(t, c.Cache().Put(ctx, "care-plans:u7", map[string]string{"plan": "daily"}, time.Hour))

	_, err = c.Sync(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrDisconnected))
	assert.Empty(t, api.seen())

	closeStore()

	// Restart: everything is still there.
	c, closeStore = openSQLiteClient(t, dir, remote, monitor)
	defer closeStore()

	assert.Equal(t, 3, c.PendingChanges())

	user, ok, err := c.Offline().Get(ctx, "users", "u7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", user["name"])
	assert.Equal(t, "0123", user["phone"])

	var plan map[string]string
	ok, err = c.Cache().GetInto(ctx, "care-plans:u7", &plan)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "daily", plan["plan"])

	// Reconnect with the user endpoint failing: the PATCH for the same user waits.
	monitor.SetOnline(true)
	api.setFailing("/api/users/u7", true)

	result, err := c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Uploaded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Deferred)
	assert.Equal(t, []string{"POST /api/visits", "PUT /api/users/u7"}, api.seen())

	pending, err := c.Queue().ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, models.StatusError, pending[0].Status)
	assert.Equal(t, 1, pending[0].Retries)
	assert.Contains(t, pending[0].ErrorMessage, "try later")
	assert.Equal(t, models.StatusPending, pending[1].Status)

	// Server recovers: both user operations go out in order.
	api.setFailing("/api/users/u7", false)
	result, err = c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Uploaded)
	assert.Zero(t, result.Pending)
	assert.Equal(t, []string{
		"POST /api/visits",
		"PUT /api/users/u7",
		"PUT /api/users/u7",
		"PATCH /api/users/u7",
	}, api.seen())

	v, err := c.Ledger().Get(ctx, "ServiceUser", "u7")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.EqualValues(t, 2, v.Version)
	assert.Equal(t, SyncStatusIdle, c.Status())
}
