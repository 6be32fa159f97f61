// Package api implements the read API (C9) of spec.md §4.9 and §6: bounds
// queries merging the hot cache with a store fallback. Grounded on the
// teacher's mux := http.NewServeMux() + cors.New(...) wiring
// (GChief117-SwarmC2/backend main.go) and its handleGetAircraft/handleHealth
// REST handlers, retargeted from a region-cache read to a bounds query
// merged with the authoritative store.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"

	"github.com/flyoverhead/core/internal/domain"
	"github.com/flyoverhead/core/internal/hotcache"
	"github.com/flyoverhead/core/internal/logging"
	"github.com/flyoverhead/core/internal/repository"
)

// Server serves the bounds-query and health endpoints.
type Server struct {
	cache              *hotcache.Cache
	repo               *repository.Repository
	log                *logging.Logger
	minResultsBeforeDB int
	visibilityWindow   time.Duration
	staleThreshold     time.Duration
}

// New builds a Server.
func New(cache *hotcache.Cache, repo *repository.Repository, log *logging.Logger, minResultsBeforeDB int, visibilityWindow, staleThreshold time.Duration) *Server {
	return &Server{
		cache:              cache,
		repo:               repo,
		log:                log,
		minResultsBeforeDB: minResultsBeforeDB,
		visibilityWindow:   visibilityWindow,
		staleThreshold:     staleThreshold,
	}
}

// Handler builds the CORS-wrapped http.Handler serving every C9 route, in
// the teacher's mux+cors.New(...) shape.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/states/bounds", s.handleBounds)
	mux.HandleFunc("/health", s.handleHealth)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(mux)
}

type boundsResponse struct {
	States []domain.AircraftState `json:"states"`
}

func (s *Server) handleBounds(w http.ResponseWriter, r *http.Request) {
	bounds, err := parseBounds(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	states := s.cache.Query(bounds)

	if len(states) < s.minResultsBeforeDB {
		dbStates, err := s.repo.QueryBounds(r.Context(), bounds, s.visibilityWindow)
		if err != nil {
			s.log.WithError(err).Warn("bounds query store fallback failed")
		} else {
			states = mergeByICAO24(states, dbStates, s.staleThreshold)
		}
	}

	cutoff := time.Now().Add(-s.visibilityWindow).Unix()
	filtered := states[:0:0]
	for _, st := range states {
		if st.LastContact >= cutoff {
			filtered = append(filtered, st)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(boundsResponse{States: filtered})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// mergeByICAO24 reconciles cache and store results for the same icao24
// using the same acceptance rules the ingestion worker uses, per spec.md
// §4.9 ("the merge uses the same §4.4 rules").
func mergeByICAO24(cached, stored []domain.AircraftState, staleThreshold time.Duration) []domain.AircraftState {
	byID := make(map[string]domain.AircraftState, len(cached)+len(stored))
	for _, s := range cached {
		byID[s.ICAO24] = s
	}
	for _, s := range stored {
		existing, ok := byID[s.ICAO24]
		if !ok || domain.Accept(s, existing, true, staleThreshold) {
			byID[s.ICAO24] = s
		}
	}

	merged := make([]domain.AircraftState, 0, len(byID))
	for _, s := range byID {
		merged = append(merged, s)
	}
	return merged
}

func parseBounds(r *http.Request) (domain.BoundsQuery, error) {
	q := r.URL.Query()
	latMin, err := strconv.ParseFloat(q.Get("lat_min"), 64)
	if err != nil {
		return domain.BoundsQuery{}, errInvalidParam("lat_min")
	}
	lonMin, err := strconv.ParseFloat(q.Get("lon_min"), 64)
	if err != nil {
		return domain.BoundsQuery{}, errInvalidParam("lon_min")
	}
	latMax, err := strconv.ParseFloat(q.Get("lat_max"), 64)
	if err != nil {
		return domain.BoundsQuery{}, errInvalidParam("lat_max")
	}
	lonMax, err := strconv.ParseFloat(q.Get("lon_max"), 64)
	if err != nil {
		return domain.BoundsQuery{}, errInvalidParam("lon_max")
	}
	return domain.BoundsQuery{LatMin: latMin, LonMin: lonMin, LatMax: latMax, LonMax: lonMax}, nil
}

type paramError string

func (e paramError) Error() string { return "invalid or missing query parameter: " + string(e) }

func errInvalidParam(name string) error { return paramError(name) }
