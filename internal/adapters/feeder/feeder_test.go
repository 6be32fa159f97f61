package feeder

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/flyoverhead/core/internal/governor"
	"github.com/flyoverhead/core/internal/logging"
	"github.com/flyoverhead/core/internal/queue"
)

func newTestHandler(t *testing.T) (*Handler, *queue.Queue) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := queue.New(client, "ingest", "flyoverhead:test_feeder")
	gov := governor.New(client, 5, 300)
	registry := StaticRegistry{"token-123": "feeder-7"}

	return New(registry, gov, q, logging.New("feeder-test"), 60, 3), q
}

func doRequest(h *Handler, token string, body submitRequest) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/ingest/feeder", bytes.NewReader(b))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServeHTTPRejectsMissingToken(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(h, "", submitRequest{FeederID: "feeder-7"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeHTTPRejectsWrongToken(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(h, "wrong-token", submitRequest{FeederID: "feeder-7"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeHTTPRejectsFeederIDMismatch(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(h, "token-123", submitRequest{FeederID: "someone-else"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServeHTTPEnqueuesValidBatch(t *testing.T) {
	h, q := newTestHandler(t)
	rec := doRequest(h, "token-123", submitRequest{
		FeederID: "feeder-7",
		States: []submittedState{
			{ICAO24: "a12b34", Latitude: 10, Longitude: 10, BaroAltitude: 1000, LastContact: time.Now().Unix()},
			{Latitude: 10, Longitude: 10, LastContact: time.Now().Unix()},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Enqueued)
	require.Equal(t, 1, resp.Rejected)

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestServeHTTPRejectsNonPostMethod(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/ingest/feeder", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServeHTTPRateLimitsReturns429(t *testing.T) {
	h, _ := newTestHandler(t)
	h.rateLimitPerMinute = 1

	doRequest(h, "token-123", submitRequest{FeederID: "feeder-7"})
	rec := doRequest(h, "token-123", submitRequest{FeederID: "feeder-7"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}
