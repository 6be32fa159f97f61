// Package repository implements the state repository (C5): the conditional
// upsert into the durable store and the append-only history insert of
// spec.md §4.4/§4.5, plus the bounds query used by the read API (C9).
// Grounded on the pack's austindbirch-harbor_hook ingest service
// (pgx/v5 + pgxpool.Pool, raw SQL via pool.QueryRow/pool.Exec, no ORM).
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flyoverhead/core/internal/domain"
)

// Repository wraps a pgxpool.Pool with flyoverhead's state, history, and
// subscription queries.
type Repository struct {
	pool *pgxpool.Pool
}

// New builds a Repository over an already-connected pool.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// acceptancePredicateSQL encodes spec.md §4.4's five-rule acceptance
// decision (accept R over stored S) plus the §4.4 staleness override, as a
// single boolean expression evaluated against EXCLUDED (the incoming row)
// and aircraft_states (the stored row). Used verbatim inside the upsert's
// ON CONFLICT ... DO UPDATE ... WHERE clause.
const acceptancePredicateSQL = `
  (EXCLUDED.last_contact > aircraft_states.last_contact)
  OR (EXCLUDED.last_contact = aircraft_states.last_contact AND EXCLUDED.source_priority < aircraft_states.source_priority)
  OR (EXCLUDED.last_contact = aircraft_states.last_contact AND EXCLUDED.source_priority = aircraft_states.source_priority AND EXCLUDED.ingestion_timestamp > aircraft_states.ingestion_timestamp)
  OR (
       (
         EXCLUDED.last_contact < aircraft_states.last_contact
         OR (EXCLUDED.last_contact = aircraft_states.last_contact AND EXCLUDED.source_priority > aircraft_states.source_priority)
       )
       AND aircraft_states.last_contact < $13
     )
`

// UpsertState applies spec.md §4.4's acceptance rules atomically at the
// row level: the new state is written iff it wins the priority/recency
// reconciliation against whatever is currently stored for this icao24
// (or no row exists yet). The staleness threshold is the boundary below
// which a stored record is considered stale enough to override rules 3
// and 4b. Returns whether the write was accepted.
func (r *Repository) UpsertState(ctx context.Context, s domain.AircraftState, staleThreshold time.Duration) (accepted bool, err error) {
	staleBefore := s.IngestionTimestamp.Add(-staleThreshold).Unix()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO aircraft_states (
			icao24, callsign, country,
			latitude, longitude, baro_altitude, geo_altitude, on_ground,
			velocity, true_track, vertical_rate,
			last_contact, ingestion_timestamp, data_source, source_priority, feeder_id,
			category, squawk, emergency
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7, $8,
			$9, $10, $11,
			$12, $14, $15, $16, $17,
			$18, $19, $20
		)
		ON CONFLICT (icao24) DO UPDATE SET
			callsign = EXCLUDED.callsign,
			country = EXCLUDED.country,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			baro_altitude = EXCLUDED.baro_altitude,
			geo_altitude = EXCLUDED.geo_altitude,
			on_ground = EXCLUDED.on_ground,
			velocity = EXCLUDED.velocity,
			true_track = EXCLUDED.true_track,
			vertical_rate = EXCLUDED.vertical_rate,
			last_contact = EXCLUDED.last_contact,
			ingestion_timestamp = EXCLUDED.ingestion_timestamp,
			data_source = EXCLUDED.data_source,
			source_priority = EXCLUDED.source_priority,
			feeder_id = EXCLUDED.feeder_id,
			category = EXCLUDED.category,
			squawk = EXCLUDED.squawk,
			emergency = EXCLUDED.emergency
		WHERE `+acceptancePredicateSQL+`
		RETURNING icao24
	`,
		s.ICAO24, s.Callsign, s.Country,
		s.Latitude, s.Longitude, s.BaroAltitude, s.GeoAltitude, s.OnGround,
		s.Velocity, s.TrueTrack, s.VerticalRate,
		s.LastContact, staleBefore,
		s.IngestionTimestamp, s.DataSource, s.SourcePriority, s.FeederID,
		s.Category, s.Squawk, s.Emergency,
	)

	var written string
	if err := row.Scan(&written); err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("upsert state %s: %w", s.ICAO24, err)
	}
	return true, nil
}

// InsertHistory appends an immutable copy of an accepted state change, per
// spec.md §3's history record.
func (r *Repository) InsertHistory(ctx context.Context, s domain.AircraftState) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO aircraft_state_history (
			icao24, callsign, country,
			latitude, longitude, baro_altitude, geo_altitude, on_ground,
			velocity, true_track, vertical_rate,
			last_contact, ingestion_timestamp, data_source, source_priority, feeder_id,
			category, squawk, emergency, recorded_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7, $8,
			$9, $10, $11,
			$12, $13, $14, $15, $16,
			$17, $18, $19, now()
		)
	`,
		s.ICAO24, s.Callsign, s.Country,
		s.Latitude, s.Longitude, s.BaroAltitude, s.GeoAltitude, s.OnGround,
		s.Velocity, s.TrueTrack, s.VerticalRate,
		s.LastContact, s.IngestionTimestamp, s.DataSource, s.SourcePriority, s.FeederID,
		s.Category, s.Squawk, s.Emergency,
	)
	if err != nil {
		return fmt.Errorf("insert history %s: %w", s.ICAO24, err)
	}
	return nil
}

// QueryBounds returns every stored state within bounds whose last_contact
// falls within the visibility window, for C9's read API store fallback.
func (r *Repository) QueryBounds(ctx context.Context, bounds domain.BoundsQuery, visibilityWindow time.Duration) ([]domain.AircraftState, error) {
	cutoff := time.Now().Add(-visibilityWindow).Unix()

	rows, err := r.pool.Query(ctx, `
		SELECT icao24, callsign, country,
			latitude, longitude, baro_altitude, geo_altitude, on_ground,
			velocity, true_track, vertical_rate,
			last_contact, ingestion_timestamp, data_source, source_priority, feeder_id,
			category, squawk, emergency
		FROM aircraft_states
		WHERE latitude BETWEEN $1 AND $2
		  AND longitude BETWEEN $3 AND $4
		  AND last_contact >= $5
	`, bounds.LatMin, bounds.LatMax, bounds.LonMin, bounds.LonMax, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query bounds: %w", err)
	}
	defer rows.Close()

	var out []domain.AircraftState
	for rows.Next() {
		var s domain.AircraftState
		if err := rows.Scan(
			&s.ICAO24, &s.Callsign, &s.Country,
			&s.Latitude, &s.Longitude, &s.BaroAltitude, &s.GeoAltitude, &s.OnGround,
			&s.Velocity, &s.TrueTrack, &s.VerticalRate,
			&s.LastContact, &s.IngestionTimestamp, &s.DataSource, &s.SourcePriority, &s.FeederID,
			&s.Category, &s.Squawk, &s.Emergency,
		); err != nil {
			return nil, fmt.Errorf("scan bounds row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query bounds: %w", err)
	}
	return out, nil
}

// GetState fetches the single stored state for icao24, if any.
func (r *Repository) GetState(ctx context.Context, icao24 string) (domain.AircraftState, bool, error) {
	var s domain.AircraftState
	err := r.pool.QueryRow(ctx, `
		SELECT icao24, callsign, country,
			latitude, longitude, baro_altitude, geo_altitude, on_ground,
			velocity, true_track, vertical_rate,
			last_contact, ingestion_timestamp, data_source, source_priority, feeder_id,
			category, squawk, emergency
		FROM aircraft_states WHERE icao24 = $1
	`, icao24).Scan(
		&s.ICAO24, &s.Callsign, &s.Country,
		&s.Latitude, &s.Longitude, &s.BaroAltitude, &s.GeoAltitude, &s.OnGround,
		&s.Velocity, &s.TrueTrack, &s.VerticalRate,
		&s.LastContact, &s.IngestionTimestamp, &s.DataSource, &s.SourcePriority, &s.FeederID,
		&s.Category, &s.Squawk, &s.Emergency,
	)
	if err == pgx.ErrNoRows {
		return domain.AircraftState{}, false, nil
	}
	if err != nil {
		return domain.AircraftState{}, false, fmt.Errorf("get state %s: %w", icao24, err)
	}
	return s, true, nil
}
