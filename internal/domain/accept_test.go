package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flyoverhead/core/internal/domain"
)

func TestAcceptNoStoredRecordAlwaysAccepts(t *testing.T) {
	incoming := domain.AircraftState{LastContact: 100}
	require.True(t, domain.Accept(incoming, domain.AircraftState{}, false, time.Hour))
}

func TestAcceptRule2NewerLastContactWins(t *testing.T) {
	incoming := domain.AircraftState{LastContact: 200, SourcePriority: 30}
	stored := domain.AircraftState{LastContact: 100, SourcePriority: 5}
	require.True(t, domain.Accept(incoming, stored, true, time.Hour))
}

func TestAcceptRule3OlderLastContactRejectedWhenFresh(t *testing.T) {
	now := time.Now()
	incoming := domain.AircraftState{LastContact: now.Add(-5 * time.Minute).Unix()}
	stored := domain.AircraftState{LastContact: now.Unix()}
	require.False(t, domain.Accept(incoming, stored, true, time.Hour))
}

func TestAcceptRule4aHigherPriorityWinsOnTie(t *testing.T) {
	incoming := domain.AircraftState{LastContact: 100, SourcePriority: 5}
	stored := domain.AircraftState{LastContact: 100, SourcePriority: 30}
	require.True(t, domain.Accept(incoming, stored, true, time.Hour))
}

func TestAcceptRule4bLowerPriorityRejectedWhenFresh(t *testing.T) {
	now := time.Now()
	incoming := domain.AircraftState{LastContact: now.Unix(), SourcePriority: 30}
	stored := domain.AircraftState{LastContact: now.Unix(), SourcePriority: 5}
	require.False(t, domain.Accept(incoming, stored, true, time.Hour))
}

func TestAcceptRule4cTieBreaksOnIngestionTimestamp(t *testing.T) {
	now := time.Now()
	older := now.Add(-time.Minute)
	incoming := domain.AircraftState{LastContact: 100, SourcePriority: 10, IngestionTimestamp: now}
	stored := domain.AircraftState{LastContact: 100, SourcePriority: 10, IngestionTimestamp: older}
	require.True(t, domain.Accept(incoming, stored, true, time.Hour))

	// reversed: incoming is the older ingestion, must be rejected.
	require.False(t, domain.Accept(stored, incoming, true, time.Hour))
}

func TestAcceptBelowThresholdIsNotYetStale(t *testing.T) {
	now := time.Now()
	stored := domain.AircraftState{LastContact: now.Add(-10 * time.Minute).Unix(), SourcePriority: 5}
	incoming := domain.AircraftState{LastContact: now.Add(-11 * time.Minute).Unix(), SourcePriority: 30}

	// stored age is ~10m, at the default threshold boundary; time.Since
	// will measure it as slightly over 10m by the time this runs, so
	// assert behavior at a threshold comfortably above the elapsed age
	// instead of relying on an exact tie.
	require.False(t, domain.Accept(incoming, stored, true, time.Hour))
}

func TestAcceptStalenessOverrideAcceptsRule3RejectWhenStale(t *testing.T) {
	now := time.Now()
	stored := domain.AircraftState{LastContact: now.Add(-20 * time.Minute).Unix(), SourcePriority: 5}
	incoming := domain.AircraftState{LastContact: now.Add(-25 * time.Minute).Unix(), SourcePriority: 30}

	require.True(t, domain.Accept(incoming, stored, true, 10*time.Minute))
}

func TestAcceptStalenessOverrideAcceptsRule4bRejectWhenStale(t *testing.T) {
	now := time.Now()
	stored := domain.AircraftState{LastContact: now.Add(-20 * time.Minute).Unix(), SourcePriority: 5}
	incoming := domain.AircraftState{LastContact: stored.LastContact, SourcePriority: 30}

	require.True(t, domain.Accept(incoming, stored, true, 10*time.Minute))
}
