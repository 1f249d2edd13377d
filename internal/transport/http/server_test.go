package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel/internal/queue"
	"sentinel/internal/resilience"
	"sentinel/internal/types"
)

func newTestServer(t *testing.T) (*Server, *queue.Queue, *resilience.ErrorLogger) {
	t.Helper()
	q := queue.New(func(context.Context, types.Order) error { return nil }, queue.Options{})
	audit := resilience.NewErrorLogger(10, nil)
	srv, err := NewServer(ServerConfig{
		Addr:      ":0",
		Orders:    q,
		Audit:     audit,
		StartedAt: time.Now().UTC().Add(-time.Minute),
	})
	require.NoError(t, err)
	return srv, q, audit
}

func doGet(srv *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	srv.router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doGet(srv, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStatusReportsQueueDepth(t *testing.T) {
	srv, q, _ := newTestServer(t)
	_, err := q.Enqueue(queue.Request{Symbol: "BTCUSDT", Side: types.SideSell, Quantity: 1, ReduceOnly: true})
	require.NoError(t, err)

	w := doGet(srv, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["orders"])
}

func TestOrdersListAndLookup(t *testing.T) {
	srv, q, _ := newTestServer(t)
	order, err := q.Enqueue(queue.Request{Symbol: "ETHUSDT", Side: types.SideBuy, Quantity: 2, ReduceOnly: true})
	require.NoError(t, err)

	w := doGet(srv, "/api/orders")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Orders []types.Order `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Orders, 1)
	assert.Equal(t, order.ID, list.Orders[0].ID)

	w = doGet(srv, "/api/orders/"+order.ID)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doGet(srv, "/api/orders/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuditReturnsRecentEvents(t *testing.T) {
	srv, _, audit := newTestServer(t)
	audit.Log(context.Background(), resilience.Record{Event: resilience.EventOrderExecuted, Symbol: "BTCUSDT"})

	w := doGet(srv, "/api/audit?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Events []resilience.Record `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, "BTCUSDT", body.Events[0].Symbol)
}

func TestServerRequiresQueue(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}
