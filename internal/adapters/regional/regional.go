// Package regional implements the regional-commercial source adapter of
// spec.md §4.3: per-cell polling of a commercial per-region vendor,
// gated by a global token bucket. Cells are generated with
// github.com/uber/h3-go/v4 (grounded on the pack's
// mohammed-shakir-h3-spatial-cache, which tiles bounding boxes into H3
// cells for its own cache-fill fan-out) instead of the teacher's manual
// lat/lon named-region table, and polling is rate-limited with
// golang.org/x/time/rate (grounded on hashicorp-nomad's and
// ava-labs-libevm's golang.org/x/time dependency) instead of the teacher's
// hand-rolled openSkyMutex/lastOpenSkyCall gap timer.
package regional

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	h3 "github.com/uber/h3-go/v4"
	"golang.org/x/time/rate"

	"github.com/flyoverhead/core/internal/adapters"
	"github.com/flyoverhead/core/internal/config"
	"github.com/flyoverhead/core/internal/domain"
	"github.com/flyoverhead/core/internal/errs"
	"github.com/flyoverhead/core/internal/logging"
	"github.com/flyoverhead/core/internal/queue"
)

// cellResolution is the H3 resolution used to tile configured regions.
// Res 3 cells are ~12,000 km² each, a reasonable per-request footprint
// for a commercial per-region vendor.
const cellResolution = 3

// Region names a bounding box to tile into cells, generalized from the
// teacher's package-level `regions` map.
type Region struct {
	Name   string
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// DefaultRegions mirrors the teacher's predefined coverage areas.
var DefaultRegions = []Region{
	{Name: "taiwan", MinLat: 21.5, MaxLat: 26.0, MinLon: 117.0, MaxLon: 123.0},
	{Name: "socal", MinLat: 32.5, MaxLat: 34.5, MinLon: -120.0, MaxLon: -117.0},
	{Name: "europe", MinLat: 49.9, MaxLat: 60.9, MinLon: -8.2, MaxLon: 1.8},
}

type cellState struct {
	lastEmpty      int
	nextPollAfter  time.Time
}

// Adapter polls each cell of each configured region, gated by a global
// token bucket, and enqueues normalized observations. Implements
// adapters.Source.
type Adapter struct {
	cfg     config.Config
	queue   *queue.Queue
	log     *logging.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
	regions []Region

	mu     sync.Mutex
	states map[string]*cellState
}

// New builds a regional Adapter tiling regions (DefaultRegions if nil)
// into H3 cells, gated by cfg.RegionalRatePerSec requests/second.
func New(cfg config.Config, q *queue.Queue, log *logging.Logger, regions []Region) *Adapter {
	if regions == nil {
		regions = DefaultRegions
	}
	rps := cfg.RegionalRatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Adapter{
		cfg:     cfg,
		queue:   q,
		log:     log,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		baseURL: cfg.RegionalBaseURL,
		regions: regions,
		states:  make(map[string]*cellState),
	}
}

// Run polls every cell on cfg.RegionalPollInterval, skipping cells whose
// backoff has not yet elapsed, until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.RegionalPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.pollDueCells(ctx)
		}
	}
}

func (a *Adapter) pollDueCells(ctx context.Context) {
	for _, region := range a.regions {
		for _, cell := range cellsForRegion(region) {
			if !a.due(cell) {
				continue
			}
			if err := a.limiter.Wait(ctx); err != nil {
				return
			}
			a.pollCell(ctx, cell)
		}
	}
}

func (a *Adapter) due(cell h3.Cell) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[cell.String()]
	if !ok {
		return true
	}
	return !time.Now().Before(st.nextPollAfter)
}

func (a *Adapter) pollCell(ctx context.Context, cell h3.Cell) {
	center, _ := cell.LatLng()
	bounds := boundaryBounds(cell)

	states, err := a.fetch(ctx, bounds)
	if err != nil {
		a.log.WithError(&errs.TransientSourceError{Source: domain.SourceRegionalCommercial, Err: err}).
			WithField("cell", cell.String()).Warn("regional poll skipped")
		return
	}

	now := time.Now()
	enqueued := 0
	for _, raw := range states {
		state, ok := adapters.Normalize(raw, domain.SourceRegionalCommercial, domain.PriorityRegionalCommercial, nil, now)
		if !ok {
			continue
		}
		msg := domain.QueueMessage{
			State:              state,
			Source:             domain.SourceRegionalCommercial,
			SourcePriority:     domain.PriorityRegionalCommercial,
			IngestionTimestamp: now,
			MaxAttempts:        a.cfg.QueueMaxAttempts,
			AvailableAt:        now,
		}
		if err := a.queue.EnqueueJSON(ctx, msg); err != nil {
			a.log.WithError(err).Warn("failed to enqueue regional observation")
			continue
		}
		enqueued++
	}

	a.recordResult(cell, enqueued)
	a.log.WithFields(map[string]any{"cell": cell.String(), "lat": center.Lat, "lon": center.Lng, "count": enqueued}).
		Debug("regional cell poll complete")
}

// recordResult tracks how many consecutive empty polls a cell has had and
// backs off its next-poll time proportionally, per spec.md §4.3's "stale
// cells are polled less often".
func (a *Adapter) recordResult(cell h3.Cell, count int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := cell.String()
	st, ok := a.states[key]
	if !ok {
		st = &cellState{}
		a.states[key] = st
	}

	if count > 0 {
		st.lastEmpty = 0
		st.nextPollAfter = time.Time{}
		return
	}

	st.lastEmpty++
	backoff := a.cfg.RegionalStaleBackoff
	if backoff <= 0 {
		backoff = 1
	}
	multiplier := st.lastEmpty
	if multiplier > backoff {
		multiplier = backoff
	}
	st.nextPollAfter = time.Now().Add(time.Duration(multiplier) * a.cfg.RegionalPollInterval)
}

func (a *Adapter) fetch(ctx context.Context, bounds domain.BoundsQuery) ([]adapters.RawObservation, error) {
	url := fmt.Sprintf("%s?lamin=%.4f&lomin=%.4f&lamax=%.4f&lomax=%.4f",
		a.baseURL, bounds.LatMin, bounds.LonMin, bounds.LatMax, bounds.LonMax)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if a.cfg.RegionalAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.RegionalAPIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("api returned %d: %s", resp.StatusCode, string(body))
	}

	var decoded vendorResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := make([]adapters.RawObservation, 0, len(decoded.Aircraft))
	for _, ac := range decoded.Aircraft {
		out = append(out, adapters.RawObservation{
			ICAO24:         ac.ICAO24,
			Callsign:       ac.Callsign,
			Latitude:       ac.Latitude,
			Longitude:      ac.Longitude,
			BaroAltitude:   ac.AltitudeFt,
			AltitudeIsFeet: true,
			OnGround:       ac.OnGround,
			Velocity:       ac.SpeedKnots,
			VelocityUnit:   adapters.VelocityKnots,
			TrueTrack:      ac.Heading,
			LastContact:    ac.Timestamp,
		})
	}
	return out, nil
}

type vendorResponse struct {
	Aircraft []vendorAircraft `json:"aircraft"`
}

type vendorAircraft struct {
	ICAO24     string  `json:"icao24"`
	Callsign   string  `json:"callsign"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	AltitudeFt float64 `json:"altitude_ft"`
	OnGround   bool    `json:"on_ground"`
	SpeedKnots float64 `json:"speed_knots"`
	Heading    float64 `json:"heading"`
	Timestamp  int64   `json:"timestamp"`
}

// cellsForRegion tiles a region's bounding box into H3 cells at
// cellResolution by sampling a grid of points across it and deduplicating
// the cells they fall into.
func cellsForRegion(r Region) []h3.Cell {
	seen := make(map[h3.Cell]struct{})
	const steps = 6
	latStep := (r.MaxLat - r.MinLat) / steps
	lonStep := (r.MaxLon - r.MinLon) / steps
	if latStep == 0 {
		latStep = 1
	}
	if lonStep == 0 {
		lonStep = 1
	}

	for i := 0; i <= steps; i++ {
		lat := r.MinLat + float64(i)*latStep
		for j := 0; j <= steps; j++ {
			lon := r.MinLon + float64(j)*lonStep
			cell := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, cellResolution)
			seen[cell] = struct{}{}
		}
	}

	cells := make([]h3.Cell, 0, len(seen))
	for c := range seen {
		cells = append(cells, c)
	}
	return cells
}

// boundaryBounds computes a lat/lon bounding box enclosing an H3 cell's
// boundary, used to build the vendor fetch query.
func boundaryBounds(cell h3.Cell) domain.BoundsQuery {
	boundary, err := cell.Boundary()
	if err != nil || len(boundary) == 0 {
		center, _ := cell.LatLng()
		return domain.BoundsQuery{LatMin: center.Lat - 0.5, LatMax: center.Lat + 0.5, LonMin: center.Lng - 0.5, LonMax: center.Lng + 0.5}
	}

	b := domain.BoundsQuery{LatMin: 90, LatMax: -90, LonMin: 180, LonMax: -180}
	for _, v := range boundary {
		if v.Lat < b.LatMin {
			b.LatMin = v.Lat
		}
		if v.Lat > b.LatMax {
			b.LatMax = v.Lat
		}
		if v.Lng < b.LonMin {
			b.LonMin = v.Lng
		}
		if v.Lng > b.LonMax {
			b.LonMax = v.Lng
		}
	}
	return b
}
