// Package ingest implements the ingestion worker (C4) of spec.md §4.4: the
// authoritative serializer that consumes the ingest queue, applies the
// source-priority acceptance rules, persists, updates the hot cache, and
// triggers webhook fan-out on significant change. Grounded on the pack's
// austindbirch-harbor_hook worker's reserve-decide-persist loop shape,
// generalized from NSQ consumption to this module's own durable queue.
package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/flyoverhead/core/internal/domain"
	"github.com/flyoverhead/core/internal/errs"
	"github.com/flyoverhead/core/internal/hotcache"
	"github.com/flyoverhead/core/internal/logging"
	"github.com/flyoverhead/core/internal/queue"
	"github.com/flyoverhead/core/internal/repository"
	"github.com/flyoverhead/core/internal/telemetry"
	"github.com/flyoverhead/core/internal/webhook/publisher"
)

// Worker drains the ingest queue through small single-purpose
// collaborators (queue, repository, cache, publisher), held as concrete
// pointer types, rather than one monolithic service object.
type Worker struct {
	queue     *queue.Queue
	repo      *repository.Repository
	cache     *hotcache.Cache
	publisher *publisher.Publisher
	log       *logging.Logger

	staleThreshold      time.Duration
	positionEpsilonDeg  float64
	altitudeDeltaMeters float64
	heartbeatInterval   time.Duration
	retryBase           time.Duration
	retryJitter         time.Duration

	emittedMu   sync.Mutex
	lastEmitted map[string]emission
}

type emission struct {
	lat, lon, alt float64
	at            time.Time
}

// New builds a Worker.
func New(q *queue.Queue, repo *repository.Repository, cache *hotcache.Cache, pub *publisher.Publisher, log *logging.Logger,
	staleThreshold time.Duration, positionEpsilonDeg, altitudeDeltaMeters float64, heartbeatInterval, retryBase, retryJitter time.Duration,
) *Worker {
	return &Worker{
		queue:               q,
		repo:                repo,
		cache:               cache,
		publisher:           pub,
		log:                 log,
		staleThreshold:      staleThreshold,
		positionEpsilonDeg:  positionEpsilonDeg,
		altitudeDeltaMeters: altitudeDeltaMeters,
		heartbeatInterval:   heartbeatInterval,
		retryBase:           retryBase,
		retryJitter:         retryJitter,
		lastEmitted:         make(map[string]emission),
	}
}

// Run blocks in a reserve → decide → persist → fan-out loop until ctx is
// cancelled, opportunistically draining up to batchSize messages per
// reservation cycle per spec.md §4.4.
func (w *Worker) Run(ctx context.Context, reserveTimeout time.Duration, batchSize int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		raw, err := w.queue.Reserve(ctx, reserveTimeout)
		if err != nil {
			w.log.WithError(err).Warn("reserve failed")
			continue
		}
		if raw == nil {
			continue
		}

		w.handleRaw(ctx, raw)

		for i := 1; i < batchSize; i++ {
			more, err := w.queue.Reserve(ctx, 10*time.Millisecond)
			if err != nil || more == nil {
				break
			}
			w.handleRaw(ctx, more)
		}
	}
}

func (w *Worker) handleRaw(ctx context.Context, raw []byte) {
	var msg domain.QueueMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		w.log.WithError(err).Error("dropping undecodable ingest message")
		return
	}

	if err := w.process(ctx, msg); err != nil {
		w.handleError(ctx, msg, err)
	}
}

func (w *Worker) process(ctx context.Context, msg domain.QueueMessage) error {
	log := w.log.WithField("icao24", msg.State.ICAO24)

	stored, hasStored, err := w.repo.GetState(ctx, msg.State.ICAO24)
	if err != nil {
		return &errs.TransientStoreError{Err: err}
	}

	if !domain.Accept(msg.State, stored, hasStored, w.staleThreshold) {
		telemetry.RecordsRejected.WithLabelValues(msg.Source).Inc()
		return nil
	}

	accepted, err := w.repo.UpsertState(ctx, msg.State, w.staleThreshold)
	if err != nil {
		return &errs.TransientStoreError{Err: err}
	}
	if !accepted {
		// another worker won the race for this icao24; not an error.
		telemetry.RecordsRejected.WithLabelValues(msg.Source).Inc()
		return nil
	}

	telemetry.RecordsAccepted.WithLabelValues(msg.Source).Inc()

	if !msg.SkipHistory {
		if err := w.repo.InsertHistory(ctx, msg.State); err != nil {
			// per spec.md §4.5, a history-insert failure must not fail
			// the upsert: the authoritative state is already written.
			log.WithError(err).Warn("history insert failed, swallowing")
		}
	}

	w.cache.Put(msg.State)

	if w.shouldEmit(msg.State) {
		w.emit(ctx, msg.State, log)
	}

	return nil
}

// shouldEmit reports whether msg.State has changed enough since the last
// emitted position_update for this icao24 to warrant another webhook
// event, per spec.md §4.4's "position changed by > ε or altitude changed
// > δ, or every T seconds per aircraft" threshold.
func (w *Worker) shouldEmit(s domain.AircraftState) bool {
	w.emittedMu.Lock()
	defer w.emittedMu.Unlock()

	prev, ok := w.lastEmitted[s.ICAO24]
	if !ok {
		return true
	}
	if time.Since(prev.at) >= w.heartbeatInterval {
		return true
	}
	if absFloat(s.Latitude-prev.lat) > w.positionEpsilonDeg || absFloat(s.Longitude-prev.lon) > w.positionEpsilonDeg {
		return true
	}
	if absFloat(s.BaroAltitude-prev.alt) > w.altitudeDeltaMeters {
		return true
	}
	return false
}

func (w *Worker) emit(ctx context.Context, s domain.AircraftState, log *logging.Logger) {
	w.emittedMu.Lock()
	w.lastEmitted[s.ICAO24] = emission{lat: s.Latitude, lon: s.Longitude, alt: s.BaroAltitude, at: time.Now()}
	w.emittedMu.Unlock()

	payload := map[string]any{
		"icao24":        s.ICAO24,
		"callsign":      s.Callsign,
		"latitude":      s.Latitude,
		"longitude":     s.Longitude,
		"baro_altitude": s.BaroAltitude,
		"velocity":      s.Velocity,
		"on_ground":     s.OnGround,
		"last_contact":  s.LastContact,
		"data_source":   s.DataSource,
	}
	if _, err := w.publisher.Publish(ctx, "aircraft.position_update", payload); err != nil {
		log.WithError(err).Warn("failed to publish position_update event")
	}
}

func (w *Worker) handleError(ctx context.Context, msg domain.QueueMessage, err error) {
	log := w.log.WithField("icao24", msg.State.ICAO24).WithError(err)

	if fatal, ok := err.(*errs.FatalStoreError); ok {
		log.Error("fatal store error, parking message")
		w.park(ctx, msg, fatal.Error())
		return
	}

	msg.Attempts++
	if msg.Attempts >= msg.MaxAttempts {
		log.Error("max attempts reached, parking message")
		w.park(ctx, msg, err.Error())
		return
	}

	retryAt := time.Now().Add(queue.NextBackoff(msg.Attempts, w.retryBase, w.retryJitter))
	msg.AvailableAt = retryAt
	b, marshalErr := json.Marshal(msg)
	if marshalErr != nil {
		log.WithError(marshalErr).Error("failed to marshal message for retry")
		return
	}
	if err := w.queue.Schedule(ctx, b, retryAt); err != nil {
		log.WithError(err).Error("failed to schedule retry")
	}
}

func (w *Worker) park(ctx context.Context, msg domain.QueueMessage, reason string) {
	b, err := json.Marshal(msg)
	if err != nil {
		w.log.WithError(err).Error("failed to marshal message for parking")
		return
	}
	if err := w.queue.Park(ctx, b, reason); err != nil {
		w.log.WithError(err).Error("failed to park message")
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
