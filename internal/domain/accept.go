package domain

import "time"

// Accept implements spec.md §4.4's acceptance decision for an incoming
// record against whatever is currently stored for the same icao24. The
// ingestion worker (C4) uses this in-process, storage-agnostic version to
// decide whether to even attempt a write and to drive cache/fan-out
// decisions; the repository's SQL upsert predicate (C5) re-derives the
// same rule set at the row level so the final word is always race-free.
//
// hasStored must be false when no record exists yet for this icao24.
func Accept(incoming AircraftState, stored AircraftState, hasStored bool, staleThreshold time.Duration) bool {
	if !hasStored {
		return true
	}

	switch {
	case incoming.LastContact > stored.LastContact:
		return true
	case incoming.LastContact < stored.LastContact:
		return acceptIfStale(stored, staleThreshold)
	default: // LastContact ==
		switch {
		case incoming.SourcePriority < stored.SourcePriority:
			return true
		case incoming.SourcePriority > stored.SourcePriority:
			return acceptIfStale(stored, staleThreshold)
		default:
			return incoming.IngestionTimestamp.After(stored.IngestionTimestamp)
		}
	}
}

// acceptIfStale is the staleness override: a record that would otherwise
// be rejected is accepted when the stored record is older than
// staleThreshold by last_contact, so a stuck high-priority record can't
// permanently block recovery after a source outage.
func acceptIfStale(stored AircraftState, staleThreshold time.Duration) bool {
	storedAge := time.Since(time.Unix(stored.LastContact, 0))
	return storedAge > staleThreshold
}
