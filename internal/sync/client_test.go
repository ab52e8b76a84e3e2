package sync

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/NOVUMSOLVO/careunity-network-sub001/internal/errors"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/kv"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/models"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/connectivity"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/offline"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/transport"
)

// testEventHandler records events.
type testEventHandler struct {
	mu     sync.Mutex
	events []SyncEvent
}

func (h *testEventHandler) OnSyncEvent(event SyncEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *testEventHandler) types() []SyncEventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SyncEventType, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.Type)
	}
	return out
}

type stubTransport struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (s *stubTransport) Do(ctx context.Context, req transport.Request) (*transport.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls = append(s.urls, req.URL)
	if s.err != nil {
		return nil, s.err
	}
	return &transport.Response{StatusCode: http.StatusOK, Header: http.Header{}}, nil
}

func newTestClient(t *testing.T) (*Client, *stubTransport, *connectivity.Manual) {
	t.Helper()
	tr := &stubTransport{}
	monitor := connectivity.NewManual(true)
	c := NewClient(kv.NewMemoryStore(), Options{Transport: tr, Monitor: monitor})
	return c, tr, monitor
}

// TestNewClient verifies initial state.
func TestNewClient(t *testing.T) {
	c, _, _ := newTestClient(t)

	assert.Equal(t, SyncStatusIdle, c.Status())
	assert.Nil(t, c.LastSync())
	assert.Nil(t, c.LastError())
	assert.Zero(t, c.PendingChanges())

	var _ SyncEngineInterface = c
}

// TestSaveOffline_EnqueuesMutation verifies the optimistic write and the queued mutation.
func TestSaveOffline_EnqueuesMutation(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()

	saved, op, err := c.SaveOffline(ctx, "visits", offline.Record{"id": 12.0, "note": "ok"},
		&models.SyncOperationInput{Method: "PUT", URL: "/api/visits/12", EntityType: "Visit"})
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, "ok", saved["note"])
	assert.Equal(t, "12", op.EntityID)

	records, err := c.Offline().List(ctx, "visits")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 1, c.PendingChanges())
}

// TestSaveOffline_WithoutMutation verifies nothing is queued without a mutation.
func TestSaveOffline_WithoutMutation(t *testing.T) {
	c, _, _ := newTestClient(t)

	_, op, err := c.SaveOffline(context.Background(), "notes", offline.Record{"text": "hi"}, nil)
	require.NoError(t, err)
	assert.Nil(t, op)
	assert.Zero(t, c.PendingChanges())
}

// TestSync_Success verifies status, events and ledger after a successful pass.
func TestSync_Success(t *testing.T) {
	c, tr, _ := newTestClient(t)
	ctx := context.Background()
	handler := &testEventHandler{}
	c.SetEventHandler(handler)

	_, _, err := c.SaveOffline(ctx, "users", offline.Record{"id": "u1", "name": "Ada"},
		&models.SyncOperationInput{Method: "PUT", URL: "/api/users/u1", EntityType: "ServiceUser"})
	require.NoError(t, err)

	result, err := c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Uploaded)
	assert.Zero(t, result.Pending)
	assert.Equal(t, []string{"/api/users/u1"}, tr.urls)

	assert.Equal(t, SyncStatusIdle, c.Status())
	assert.NotNil(t, c.LastSync())
	assert.Nil(t, c.LastError())
	assert.Equal(t, []SyncEventType{EventSyncStarted, EventOperation, EventSyncCompleted}, handler.types())

	v, err := c.Ledger().Get(ctx, "ServiceUser", "u1")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.EqualValues(t, 1, v.Version)
}

// TestSync_OperationFailure verifies a failing operation does not fail the pass.
func TestSync_OperationFailure(t *testing.T) {
	c, tr, _ := newTestClient(t)
	ctx := context.Background()
	tr.err = errors.New("503")

	_, _, err := c.SaveOffline(ctx, "visits", offline.Record{"note": "x"},
		&models.SyncOperationInput{Method: "POST", URL: "/api/visits"})
	require.NoError(t, err)

	result, err := c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Pending)
	assert.Equal(t, SyncStatusIdle, c.Status())
}

// TestSync_Offline verifies the failed status and event while disconnected.
func TestSync_Offline(t *testing.T) {
	c, tr, monitor := newTestClient(t)
	handler := &testEventHandler{}
	c.SetEventHandler(handler)
	monitor.SetOnline(false)

	_, err := c.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrDisconnected))
	assert.Equal(t, SyncStatusFailed, c.Status())
	assert.Error(t, c.LastError())
	assert.Nil(t, c.LastSync())
	assert.Empty(t, tr.urls)
	assert.Equal(t, []SyncEventType{EventSyncStarted, EventSyncFailed}, handler.types())

	monitor.SetOnline(true)
	_, err = c.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncStatusIdle, c.Status())
	assert.Nil(t, c.LastError())
}

// TestClearCache verifies cached items are removed.
func TestClearCache(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Cache().Put(ctx, "plans", []int{1, 2}, time.Minute))

	require.NoError(t, c.ClearCache(ctx))

	_, ok, err := c.Cache().Get(ctx, "plans")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestFormatID verifies record ids become entity ids without float formatting.
func TestFormatID(t *testing.T) {
	assert.Equal(t, "abc", formatID("abc"))
	assert.Equal(t, "1000000", formatID(1000000.0))
	assert.Equal(t, "1.5", formatID(1.5))
	assert.Equal(t, "true", formatID(true))
}
