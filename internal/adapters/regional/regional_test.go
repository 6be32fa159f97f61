package regional

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/flyoverhead/core/internal/config"
	"github.com/flyoverhead/core/internal/logging"
	"github.com/flyoverhead/core/internal/queue"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*Adapter, *queue.Queue) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := queue.New(client, "ingest", "flyoverhead:test_regional")

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Config{RegionalRatePerSec: 1000, QueueMaxAttempts: 3, RegionalPollInterval: time.Hour, RegionalStaleBackoff: 5}
	tiny := []Region{{Name: "test", MinLat: 0, MaxLat: 1, MinLon: 0, MaxLon: 1}}
	a := New(cfg, q, logging.New("regional-test"), tiny)
	a.baseURL = srv.URL
	return a, q
}

func TestPollCellEnqueuesAircraft(t *testing.T) {
	a, q := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(vendorResponse{Aircraft: []vendorAircraft{
			{ICAO24: "a12b34", Callsign: "TST1", Latitude: 0.5, Longitude: 0.5, AltitudeFt: 35000, SpeedKnots: 450, Timestamp: time.Now().Unix()},
		}})
	})

	cells := cellsForRegion(a.regions[0])
	require.NotEmpty(t, cells)
	a.pollCell(context.Background(), cells[0])

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestPollCellSkipsOnUpstreamError(t *testing.T) {
	a, q := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	cells := cellsForRegion(a.regions[0])
	a.pollCell(context.Background(), cells[0])

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), depth)
}

func TestRecordResultBacksOffEmptyCells(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(vendorResponse{})
	})

	cells := cellsForRegion(a.regions[0])
	cell := cells[0]

	require.True(t, a.due(cell))
	a.recordResult(cell, 0)
	require.False(t, a.due(cell))
}

func TestRecordResultClearsBackoffOnNonEmptyResult(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})

	cells := cellsForRegion(a.regions[0])
	cell := cells[0]

	a.recordResult(cell, 0)
	require.False(t, a.due(cell))
	a.recordResult(cell, 3)
	require.True(t, a.due(cell))
}

func TestCellsForRegionDedupesOverlappingSamplePoints(t *testing.T) {
	cells := cellsForRegion(Region{Name: "tiny", MinLat: 10, MaxLat: 10.01, MinLon: 10, MaxLon: 10.01})
	require.NotEmpty(t, cells)
	// 7x7 sample points across a 0.01-degree box fall into far fewer
	// resolution-3 cells than there are points.
	require.Less(t, len(cells), 49)
}
