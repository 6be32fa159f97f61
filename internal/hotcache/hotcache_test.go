package hotcache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flyoverhead/core/internal/domain"
	"github.com/flyoverhead/core/internal/hotcache"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := hotcache.New(time.Minute, 100)
	state := domain.AircraftState{ICAO24: "a12b34", Latitude: 10, Longitude: 20, LastContact: 1000}
	c.Put(state)

	got, ok := c.Get("a12b34")
	require.True(t, ok)
	require.Equal(t, state, got)
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := hotcache.New(time.Minute, 100)
	_, ok := c.Get("nonexistent")
	require.False(t, ok)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c := hotcache.New(10*time.Millisecond, 100)
	c.Put(domain.AircraftState{ICAO24: "a12b34"})

	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("a12b34")
	require.False(t, ok)
}

func TestQueryFiltersByBounds(t *testing.T) {
	c := hotcache.New(time.Minute, 100)
	c.Put(domain.AircraftState{ICAO24: "in-bounds", Latitude: 10, Longitude: 10})
	c.Put(domain.AircraftState{ICAO24: "out-of-bounds", Latitude: 80, Longitude: 80})

	results := c.Query(domain.BoundsQuery{LatMin: 0, LatMax: 20, LonMin: 0, LonMax: 20})
	require.Len(t, results, 1)
	require.Equal(t, "in-bounds", results[0].ICAO24)
}

func TestEvictsOldestLastContactWhenOverCapacity(t *testing.T) {
	c := hotcache.New(time.Minute, 2)

	c.Put(domain.AircraftState{ICAO24: "oldest", LastContact: 100})
	c.Put(domain.AircraftState{ICAO24: "middle", LastContact: 200})
	c.Put(domain.AircraftState{ICAO24: "newest", LastContact: 300})

	require.LessOrEqual(t, c.Len(), 2)
	_, ok := c.Get("oldest")
	require.False(t, ok)

	_, ok = c.Get("newest")
	require.True(t, ok)
}

func TestDeleteRemovesEntry(t *testing.T) {
	c := hotcache.New(time.Minute, 100)
	c.Put(domain.AircraftState{ICAO24: "a12b34"})
	c.Delete("a12b34")

	_, ok := c.Get("a12b34")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}
