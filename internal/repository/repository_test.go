package repository_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/flyoverhead/core/internal/domain"
	"github.com/flyoverhead/core/internal/repository"
)

// requireTestPool connects to FLYOVERHEAD_TEST_POSTGRES_DSN, skipping the
// test when it isn't set. The acceptance predicate lives in raw SQL (see
// repository.go's acceptancePredicateSQL), so exercising it end-to-end
// needs a real Postgres; internal/domain's Accept tests cover the same
// rule set without one.
func requireTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("FLYOVERHEAD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FLYOVERHEAD_TEST_POSTGRES_DSN not set, skipping repository integration test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestUpsertStateAcceptsFirstWrite(t *testing.T) {
	pool := requireTestPool(t)
	repo := repository.New(pool)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `DELETE FROM aircraft_states WHERE icao24 = 'a12b34'`)
	require.NoError(t, err)

	now := time.Now()
	s := domain.AircraftState{
		ICAO24: "a12b34", LastContact: now.Unix(), IngestionTimestamp: now,
		SourcePriority: domain.PriorityGlobalPublic, DataSource: domain.SourceGlobalPublic,
	}
	accepted, err := repo.UpsertState(ctx, s, 10*time.Minute)
	require.NoError(t, err)
	require.True(t, accepted)
}

func TestUpsertStateRejectsLowerPriorityRecordOnTie(t *testing.T) {
	pool := requireTestPool(t)
	repo := repository.New(pool)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `DELETE FROM aircraft_states WHERE icao24 = 'a12b34'`)
	require.NoError(t, err)

	now := time.Now()
	first := domain.AircraftState{
		ICAO24: "a12b34", LastContact: now.Unix(), IngestionTimestamp: now,
		SourcePriority: domain.PriorityFeeder, DataSource: domain.SourceFeeder,
	}
	accepted, err := repo.UpsertState(ctx, first, 10*time.Minute)
	require.NoError(t, err)
	require.True(t, accepted)

	second := domain.AircraftState{
		ICAO24: "a12b34", LastContact: now.Unix(), IngestionTimestamp: now.Add(time.Second),
		SourcePriority: domain.PriorityGlobalPublic, DataSource: domain.SourceGlobalPublic,
	}
	accepted, err = repo.UpsertState(ctx, second, 10*time.Minute)
	require.NoError(t, err)
	require.False(t, accepted)

	stored, ok, err := repo.GetState(ctx, "a12b34")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.SourceFeeder, stored.DataSource)
}

func TestQueryBoundsFiltersByVisibilityWindow(t *testing.T) {
	pool := requireTestPool(t)
	repo := repository.New(pool)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `DELETE FROM aircraft_states WHERE icao24 IN ('fresh01', 'stale01')`)
	require.NoError(t, err)

	now := time.Now()
	fresh := domain.AircraftState{
		ICAO24: "fresh01", Latitude: 10, Longitude: 10,
		LastContact: now.Unix(), IngestionTimestamp: now, SourcePriority: domain.PriorityFeeder,
	}
	stale := domain.AircraftState{
		ICAO24: "stale01", Latitude: 10, Longitude: 10,
		LastContact: now.Add(-time.Hour).Unix(), IngestionTimestamp: now.Add(-time.Hour), SourcePriority: domain.PriorityFeeder,
	}
	_, err = repo.UpsertState(ctx, fresh, 10*time.Minute)
	require.NoError(t, err)
	_, err = repo.UpsertState(ctx, stale, 10*time.Minute)
	require.NoError(t, err)

	results, err := repo.QueryBounds(ctx, domain.BoundsQuery{LatMin: 0, LatMax: 20, LonMin: 0, LonMax: 20}, 15*time.Minute)
	require.NoError(t, err)

	var icaos []string
	for _, r := range results {
		icaos = append(icaos, r.ICAO24)
	}
	require.Contains(t, icaos, "fresh01")
	require.NotContains(t, icaos, "stale01")
}
