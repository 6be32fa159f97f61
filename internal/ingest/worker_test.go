package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flyoverhead/core/internal/domain"
)

func newTestWorker() *Worker {
	return New(nil, nil, nil, nil, nil, 10*time.Minute, 0.01, 50, 60*time.Second, time.Second, 0)
}

func TestShouldEmitFirstSightingAlwaysEmits(t *testing.T) {
	w := newTestWorker()
	require.True(t, w.shouldEmit(domain.AircraftState{ICAO24: "a12b34", Latitude: 1, Longitude: 1}))
}

func TestShouldEmitSuppressesSmallMovement(t *testing.T) {
	w := newTestWorker()
	s := domain.AircraftState{ICAO24: "a12b34", Latitude: 1, Longitude: 1, BaroAltitude: 1000}
	w.shouldEmit(s)
	w.emittedMu.Lock()
	w.lastEmitted["a12b34"] = emission{lat: 1, lon: 1, alt: 1000, at: time.Now()}
	w.emittedMu.Unlock()

	moved := domain.AircraftState{ICAO24: "a12b34", Latitude: 1.001, Longitude: 1, BaroAltitude: 1010}
	require.False(t, w.shouldEmit(moved))
}

func TestShouldEmitFiresOnLargePositionChange(t *testing.T) {
	w := newTestWorker()
	w.emittedMu.Lock()
	w.lastEmitted["a12b34"] = emission{lat: 1, lon: 1, alt: 1000, at: time.Now()}
	w.emittedMu.Unlock()

	moved := domain.AircraftState{ICAO24: "a12b34", Latitude: 1.5, Longitude: 1, BaroAltitude: 1000}
	require.True(t, w.shouldEmit(moved))
}

func TestShouldEmitFiresOnLargeAltitudeChange(t *testing.T) {
	w := newTestWorker()
	w.emittedMu.Lock()
	w.lastEmitted["a12b34"] = emission{lat: 1, lon: 1, alt: 1000, at: time.Now()}
	w.emittedMu.Unlock()

	moved := domain.AircraftState{ICAO24: "a12b34", Latitude: 1, Longitude: 1, BaroAltitude: 1100}
	require.True(t, w.shouldEmit(moved))
}

func TestShouldEmitFiresAfterHeartbeatInterval(t *testing.T) {
	w := newTestWorker()
	w.heartbeatInterval = 10 * time.Millisecond
	w.emittedMu.Lock()
	w.lastEmitted["a12b34"] = emission{lat: 1, lon: 1, alt: 1000, at: time.Now().Add(-time.Second)}
	w.emittedMu.Unlock()

	same := domain.AircraftState{ICAO24: "a12b34", Latitude: 1, Longitude: 1, BaroAltitude: 1000}
	require.True(t, w.shouldEmit(same))
}
