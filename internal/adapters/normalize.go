// Package adapters holds the three source adapters of spec.md §4.3
// (global-public, regional-commercial, feeder) plus the optional self-push
// receiver, and the normalization helpers they all share.
package adapters

import (
	"time"

	"github.com/flyoverhead/core/internal/domain"
	"github.com/flyoverhead/core/internal/telemetry"
)

// VelocityUnit tags the unit an adapter's upstream reports velocity in, per
// spec.md §9 open question (b): some sources report m/s, some knots, and
// nothing upstream reliably says which.
type VelocityUnit string

const (
	VelocityKnots VelocityUnit = "knots"
	VelocityMetersPerSecond VelocityUnit = "mps"
)

// MinPlausibleKnots and MaxPlausibleKnots bound velocities considered
// sane after conversion. Commercial jets cruise around 450-500kt; 1200kt
// comfortably covers anything short of a sensor glitch.
const (
	MinPlausibleKnots = 0.0
	MaxPlausibleKnots = 1200.0
)

// RawObservation is what a source adapter decodes its upstream payload
// into before normalization. AltitudeIsFeet/VelocityUnit record the
// source's reporting convention so Normalize can convert it.
type RawObservation struct {
	ICAO24       string
	Callsign     string
	Country      string
	Latitude     float64
	Longitude    float64
	BaroAltitude float64
	GeoAltitude  float64
	AltitudeIsFeet bool
	OnGround     bool
	Velocity     float64
	VelocityUnit VelocityUnit
	TrueTrack    float64
	VerticalRate float64
	LastContact  int64
	Category     int
	Squawk       string
	Emergency    bool
}

// Normalize converts a RawObservation into a domain.AircraftState tagged
// with source/priority/feederID, applying the ft->m and m/s->knots
// conversions of spec.md §4.3 and counting implausible velocities and
// dropped observations. It returns ok=false when Validate rejects the
// result, in which case the caller must not enqueue it.
func Normalize(raw RawObservation, source string, priority int, feederID *string, now time.Time) (domain.AircraftState, bool) {
	baro := raw.BaroAltitude
	geo := raw.GeoAltitude
	if raw.AltitudeIsFeet {
		baro = domain.FeetToMeters(baro)
		geo = domain.FeetToMeters(geo)
	}

	velocity := raw.Velocity
	if raw.VelocityUnit == VelocityMetersPerSecond {
		velocity = domain.MetersPerSecondToKnots(velocity)
	}
	if velocity < MinPlausibleKnots || velocity > MaxPlausibleKnots {
		telemetry.OutOfRangeVelocity.WithLabelValues(source).Inc()
	}

	state := domain.AircraftState{
		ICAO24:             raw.ICAO24,
		Callsign:           domain.NormalizeCallsign(raw.Callsign),
		Country:            raw.Country,
		Latitude:           raw.Latitude,
		Longitude:          raw.Longitude,
		BaroAltitude:       baro,
		GeoAltitude:        geo,
		OnGround:           raw.OnGround,
		Velocity:           velocity,
		TrueTrack:          raw.TrueTrack,
		VerticalRate:       raw.VerticalRate,
		LastContact:        raw.LastContact,
		IngestionTimestamp: now,
		DataSource:         source,
		SourcePriority:     priority,
		FeederID:           feederID,
		Category:           raw.Category,
		Squawk:             raw.Squawk,
		Emergency:          raw.Emergency,
	}

	if err := domain.Validate(state); err != nil {
		reason := "unknown"
		if issue, ok := err.(*domain.ValidationIssue); ok {
			reason = string(issue.Code)
		}
		telemetry.ObservationsDropped.WithLabelValues(source, reason).Inc()
		return domain.AircraftState{}, false
	}
	return state, true
}
