// Package selfpush implements the priority-5 "websocket" source of
// spec.md §9 open question (a): a trusted, same-process/same-network push
// receiver rather than a polled fetcher. Repurposes the teacher's
// handleWebSocket/gorilla-websocket hub (GChief117-SwarmC2/backend
// main.go), which originally broadcast cached reads out to browser
// clients, into a receiver that accepts pushed observations in.
package selfpush

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flyoverhead/core/internal/adapters"
	"github.com/flyoverhead/core/internal/domain"
	"github.com/flyoverhead/core/internal/logging"
	"github.com/flyoverhead/core/internal/queue"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Trusted internal push clients only; operators front this with
		// network-level access control, per spec.md §9.
		return true
	},
}

// pushedState is the wire shape of one observation sent over the socket.
type pushedState struct {
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

// Handler upgrades connections and enqueues each pushed state. Unlike the
// teacher's hub, it tracks no per-client subscription map: a self-push
// client is a source, not a reader.
type Handler struct {
	queue       *queue.Queue
	log         *logging.Logger
	maxAttempts int
}

// New builds a self-push Handler.
func New(q *queue.Queue, log *logging.Logger, maxAttempts int) *Handler {
	return &Handler{queue: q, log: log, maxAttempts: maxAttempts}
}

// ServeHTTP upgrades the connection and reads pushed states until the
// client disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("self-push websocket upgrade failed")
		return
	}
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleMessage(r.Context(), msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, raw []byte) {
	var pushed pushedState
	if err := json.Unmarshal(raw, &pushed); err != nil {
		h.log.WithError(err).Warn("dropping undecodable self-push message")
		return
	}

	now := time.Now()
	rawObs := adapters.RawObservation{
		ICAO24: pushed.ICAO24, Callsign: pushed.Callsign, Country: pushed.Country,
		Latitude: pushed.Latitude, Longitude: pushed.Longitude,
		BaroAltitude: pushed.BaroAltitude, GeoAltitude: pushed.GeoAltitude,
		OnGround: pushed.OnGround, Velocity: pushed.Velocity, VelocityUnit: adapters.VelocityKnots,
		TrueTrack: pushed.TrueTrack, VerticalRate: pushed.VerticalRate,
		LastContact: pushed.LastContact, Category: pushed.Category,
		Squawk: pushed.Squawk, Emergency: pushed.Emergency,
	}

	state, ok := adapters.Normalize(rawObs, domain.SourceSelfPush, domain.PrioritySelfPush, nil, now)
	if !ok {
		return
	}

	msgBody := domain.QueueMessage{
		State:              state,
		Source:             domain.SourceSelfPush,
		SourcePriority:     domain.PrioritySelfPush,
		IngestionTimestamp: now,
		MaxAttempts:        h.maxAttempts,
		AvailableAt:        now,
	}
	if err := h.queue.EnqueueJSON(ctx, msgBody); err != nil {
		h.log.WithError(err).Warn("failed to enqueue self-push observation")
	}
}
