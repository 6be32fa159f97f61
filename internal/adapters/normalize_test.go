package adapters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeConvertsFeetToMeters(t *testing.T) {
	raw := RawObservation{
		ICAO24: "a12b34", Latitude: 10, Longitude: 10,
		BaroAltitude: 10000, AltitudeIsFeet: true,
		Velocity: 100, VelocityUnit: VelocityKnots,
		LastContact: time.Now().Unix(),
	}
	state, ok := Normalize(raw, "global-public", 30, nil, time.Now())
	require.True(t, ok)
	require.InDelta(t, 3048.0, state.BaroAltitude, 0.01)
}

func TestNormalizeConvertsMetersPerSecondToKnots(t *testing.T) {
	raw := RawObservation{
		ICAO24: "a12b34", Latitude: 10, Longitude: 10,
		BaroAltitude: 1000, Velocity: 100, VelocityUnit: VelocityMetersPerSecond,
		LastContact: time.Now().Unix(),
	}
	state, ok := Normalize(raw, "global-public", 30, nil, time.Now())
	require.True(t, ok)
	require.InDelta(t, 194.384, state.Velocity, 0.01)
}

func TestNormalizeTrimsCallsignWhitespace(t *testing.T) {
	raw := RawObservation{
		ICAO24: "a12b34", Callsign: "UAL123  ", Latitude: 10, Longitude: 10,
		LastContact: time.Now().Unix(),
	}
	state, ok := Normalize(raw, "global-public", 30, nil, time.Now())
	require.True(t, ok)
	require.Equal(t, "UAL123", state.Callsign)
}

func TestNormalizeDropsMissingICAO24(t *testing.T) {
	raw := RawObservation{Latitude: 10, Longitude: 10, LastContact: time.Now().Unix()}
	_, ok := Normalize(raw, "global-public", 30, nil, time.Now())
	require.False(t, ok)
}

func TestNormalizeDropsOutOfRangeLatitude(t *testing.T) {
	raw := RawObservation{ICAO24: "a12b34", Latitude: 91, Longitude: 10, LastContact: time.Now().Unix()}
	_, ok := Normalize(raw, "global-public", 30, nil, time.Now())
	require.False(t, ok)
}

func TestNormalizeTagsSourcePriorityAndFeederID(t *testing.T) {
	feederID := "feeder-7"
	raw := RawObservation{ICAO24: "a12b34", Latitude: 10, Longitude: 10, LastContact: time.Now().Unix()}
	state, ok := Normalize(raw, "feeder", 10, &feederID, time.Now())
	require.True(t, ok)
	require.Equal(t, "feeder", state.DataSource)
	require.Equal(t, 10, state.SourcePriority)
	require.Equal(t, &feederID, state.FeederID)
}
