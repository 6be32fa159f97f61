// Package domain holds the wire and storage types shared across flyoverhead's
// ingestion, storage, and webhook-delivery paths.
package domain

import "time"

// AircraftState is the most-recently-accepted telemetry for one aircraft,
// keyed by ICAO24.
type AircraftState struct {
	ICAO24  string `json:"icao24"`
	Callsign string `json:"callsign"`
	Country  string `json:"country"`

	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	BaroAltitude float64 `json:"baro_altitude"`
	GeoAltitude  float64 `json:"geo_altitude"`
	OnGround     bool    `json:"on_ground"`

	Velocity     float64 `json:"velocity"`
	TrueTrack    float64 `json:"true_track"`
	VerticalRate float64 `json:"vertical_rate"`

	LastContact        int64     `json:"last_contact"`
	IngestionTimestamp time.Time `json:"ingestion_timestamp"`
	DataSource         string    `json:"data_source"`
	SourcePriority     int       `json:"source_priority"`
	FeederID           *string   `json:"feeder_id,omitempty"`

	Category  int     `json:"category"`
	Squawk    string  `json:"squawk"`
	Emergency bool    `json:"emergency"`
}

// HistoryRecord is an append-only copy of an accepted state change.
type HistoryRecord struct {
	AircraftState
	RecordedAt time.Time `json:"recorded_at"`
}

// Source priority tags, per spec.md §4.4. Lower is higher priority.
const (
	PrioritySelfPush          = 5
	PriorityFeeder            = 10
	PriorityRegionalCommercial = 20
	PriorityGlobalPublic      = 30
)

// Source tags used in AircraftState.DataSource / QueueMessage.Source.
const (
	SourceSelfPush          = "websocket"
	SourceFeeder            = "feeder"
	SourceRegionalCommercial = "regional-commercial"
	SourceGlobalPublic      = "global-public"
)

// BoundsQuery is a lat/lon bounding box for C9's read API and C5's repository.
type BoundsQuery struct {
	LatMin float64
	LonMin float64
	LatMax float64
	LonMax float64
}

// Contains reports whether the state's position falls within the box.
func (b BoundsQuery) Contains(s AircraftState) bool {
	return s.Latitude >= b.LatMin && s.Latitude <= b.LatMax &&
		s.Longitude >= b.LonMin && s.Longitude <= b.LonMax
}
