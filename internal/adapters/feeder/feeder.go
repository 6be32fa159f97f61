// Package feeder implements the feeder source adapter of spec.md §4.3 and
// §6: an HTTP endpoint receiving batched POSTs from authenticated trusted
// clients, synchronously enqueuing each valid observation after consulting
// the governor (C8). Grounded on the teacher's handleGetAircraft/http.HandleFunc
// wiring style, generalized from a read-only query handler to a validating
// write endpoint.
package feeder

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/flyoverhead/core/internal/adapters"
	"github.com/flyoverhead/core/internal/domain"
	"github.com/flyoverhead/core/internal/errs"
	"github.com/flyoverhead/core/internal/governor"
	"github.com/flyoverhead/core/internal/logging"
	"github.com/flyoverhead/core/internal/queue"
)

const governorKind = "feeder"

// Registry maps a bearer token to the feeder_id it authenticates, per
// spec.md §6 ("the endpoint validates the authentication token").
type Registry interface {
	FeederIDForToken(token string) (feederID string, ok bool)
}

// StaticRegistry is a Registry backed by a fixed token->feeder_id map,
// loaded once at startup from configuration.
type StaticRegistry map[string]string

func (r StaticRegistry) FeederIDForToken(token string) (string, bool) {
	id, ok := r[token]
	return id, ok
}

// submittedState is the wire shape of one observation in a feeder batch.
type submittedState struct {
	ICAO24       string  `json:"icao24"`
	Callsign     string  `json:"callsign"`
	Country      string  `json:"country"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	BaroAltitude float64 `json:"baro_altitude"`
	GeoAltitude  float64 `json:"geo_altitude"`
	OnGround     bool    `json:"on_ground"`
	Velocity     float64 `json:"velocity"`
	TrueTrack    float64 `json:"true_track"`
	VerticalRate float64 `json:"vertical_rate"`
	LastContact  int64   `json:"last_contact"`
	Category     int     `json:"category"`
	Squawk       string  `json:"squawk"`
	Emergency    bool    `json:"emergency"`
}

type submitRequest struct {
	FeederID string           `json:"feeder_id"`
	States   []submittedState `json:"states"`
}

type submitResponse struct {
	Enqueued int      `json:"enqueued"`
	Rejected int      `json:"rejected"`
	Reasons  []string `json:"reasons,omitempty"`
}

// Handler serves POST /ingest/feeder.
type Handler struct {
	registry Registry
	governor *governor.Governor
	queue    *queue.Queue
	log      *logging.Logger
	rateLimitPerMinute int
	maxAttempts        int
}

// New builds a feeder Handler.
func New(registry Registry, gov *governor.Governor, q *queue.Queue, log *logging.Logger, rateLimitPerMinute, maxAttempts int) *Handler {
	return &Handler{
		registry:           registry,
		governor:           gov,
		queue:              q,
		log:                log,
		rateLimitPerMinute: rateLimitPerMinute,
		maxAttempts:        maxAttempts,
	}
}

// ServeHTTP implements the bearer-token-checked, governor-gated batch
// submit endpoint of spec.md §6.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token := bearerToken(r)
	feederID, ok := h.registry.FeederIDForToken(token)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.FeederID != feederID {
		http.Error(w, "feeder_id does not match token", http.StatusUnauthorized)
		return
	}

	ctx := r.Context()
	if err := h.governor.Check(ctx, governorKind, feederID, h.rateLimitPerMinute); err != nil {
		h.writeGovernorDenial(w, err)
		return
	}

	now := time.Now()
	resp := submitResponse{}
	var rejections *multierror.Error
	for _, s := range req.States {
		raw := adapters.RawObservation{
			ICAO24: s.ICAO24, Callsign: s.Callsign, Country: s.Country,
			Latitude: s.Latitude, Longitude: s.Longitude,
			BaroAltitude: s.BaroAltitude, GeoAltitude: s.GeoAltitude,
			OnGround: s.OnGround, Velocity: s.Velocity, VelocityUnit: adapters.VelocityKnots,
			TrueTrack: s.TrueTrack, VerticalRate: s.VerticalRate,
			LastContact: s.LastContact, Category: s.Category, Squawk: s.Squawk, Emergency: s.Emergency,
		}
		state, ok := adapters.Normalize(raw, domain.SourceFeeder, domain.PriorityFeeder, &feederID, now)
		if !ok {
			resp.Rejected++
			rejections = multierror.Append(rejections, &errs.ValidationError{ICAO24: s.ICAO24, Reason: "failed normalization"})
			continue
		}

		msg := domain.QueueMessage{
			State:              state,
			Source:             domain.SourceFeeder,
			SourcePriority:     domain.PriorityFeeder,
			IngestionTimestamp: now,
			FeederID:           &feederID,
			MaxAttempts:        h.maxAttempts,
			AvailableAt:        now,
		}
		if err := h.queue.EnqueueJSON(ctx, msg); err != nil {
			resp.Rejected++
			rejections = multierror.Append(rejections, err)
			continue
		}
		resp.Enqueued++
	}

	// Aggregated via go-multierror rather than appending strings one at a
	// time, so every rejected observation's reason reaches the 202 body,
	// not just the first.
	if rejections != nil {
		for _, err := range rejections.Errors {
			resp.Reasons = append(resp.Reasons, err.Error())
		}
	}

	if err := h.governor.RecordSuccess(ctx, governorKind, feederID); err != nil {
		h.log.WithError(err).WithField("feeder_id", feederID).Warn("failed to record governor success")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) writeGovernorDenial(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *errs.BreakerOpen:
		w.Header().Set("Retry-After", retryAfterSeconds(e.RetryAt))
		w.WriteHeader(http.StatusServiceUnavailable)
	case *errs.GovernorDenied:
		w.Header().Set("Retry-After", retryAfterSeconds(e.RetryAt))
		w.WriteHeader(http.StatusTooManyRequests)
	default:
		w.WriteHeader(http.StatusTooManyRequests)
	}
}

func retryAfterSeconds(retryAtMillis int64) string {
	d := time.Until(time.UnixMilli(retryAtMillis))
	if d < 0 {
		d = 0
	}
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}
