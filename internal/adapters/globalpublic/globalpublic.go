// Package globalpublic implements the global-public source adapter of
// spec.md §4.3: a single worldwide-states poll on a fixed interval.
// Directly generalized from the teacher's fetchOpenSkyData/getOpenSkyToken
// pair (GChief117-SwarmC2/backend/main.go) — same OAuth2 client-credentials
// + Basic Auth + anonymous fallback chain, same package-level min-gap rate
// limiter, same row-array decoder family — retargeted from a websocket
// broadcast to the ingest queue.
package globalpublic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/flyoverhead/core/internal/adapters"
	"github.com/flyoverhead/core/internal/config"
	"github.com/flyoverhead/core/internal/domain"
	"github.com/flyoverhead/core/internal/errs"
	"github.com/flyoverhead/core/internal/logging"
	"github.com/flyoverhead/core/internal/queue"
)

const (
	statesURL = "https://opensky-network.org/api/states/all"
	tokenURL  = "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"
)

// Adapter polls the global-public states endpoint on a fixed interval and
// enqueues every observation with a valid position. It implements
// adapters.Source.
type Adapter struct {
	cfg    config.Config
	queue  *queue.Queue
	log    *logging.Logger
	client *http.Client

	statesURL string
	tokenURL  string

	tokenMu    sync.Mutex
	token      string
	tokenExpiry time.Time

	rateMu       sync.Mutex
	lastCallAt   time.Time
}

// New builds a global-public Adapter.
func New(cfg config.Config, q *queue.Queue, log *logging.Logger) *Adapter {
	return &Adapter{
		cfg:       cfg,
		queue:     q,
		log:       log,
		client:    &http.Client{Timeout: 15 * time.Second},
		statesURL: statesURL,
		tokenURL:  tokenURL,
	}
}

// Run polls every cfg.PublicPollInterval until ctx is cancelled. Per
// spec.md §4.3, a failed or rate-limited cycle is skipped, not retried
// inline — the next tick tries again.
func (a *Adapter) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.PublicPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.poll(ctx)
		}
	}
}

func (a *Adapter) poll(ctx context.Context) {
	states, err := a.fetch(ctx)
	if err != nil {
		a.log.WithError(&errs.TransientSourceError{Source: domain.SourceGlobalPublic, Err: err}).Warn("global-public poll skipped")
		return
	}

	now := time.Now()
	enqueued := 0
	for _, raw := range states {
		state, ok := adapters.Normalize(raw, domain.SourceGlobalPublic, domain.PriorityGlobalPublic, nil, now)
		if !ok {
			continue
		}
		msg := domain.QueueMessage{
			State:              state,
			Source:             domain.SourceGlobalPublic,
			SourcePriority:     domain.PriorityGlobalPublic,
			IngestionTimestamp: now,
			MaxAttempts:        a.cfg.QueueMaxAttempts,
			AvailableAt:        now,
		}
		if err := a.queue.EnqueueJSON(ctx, msg); err != nil {
			a.log.WithError(err).Warn("failed to enqueue global-public observation")
			continue
		}
		enqueued++
	}
	a.log.WithField("count", enqueued).Info("global-public poll complete")
}

// fetch performs one rate-limited, authenticated call to the states
// endpoint and decodes the response into normalizable observations.
func (a *Adapter) fetch(ctx context.Context) ([]adapters.RawObservation, error) {
	a.waitForRateLimit()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.statesURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	a.authenticate(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("rate limited (429)")
	case http.StatusUnauthorized:
		a.tokenMu.Lock()
		a.token = ""
		a.tokenMu.Unlock()
		return nil, fmt.Errorf("auth failed (401)")
	case http.StatusOK:
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("api returned %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var decoded statesResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return parseStates(decoded.States), nil
}

// waitForRateLimit blocks the calling goroutine until the global min-gap
// since the last call has elapsed, matching the teacher's single-caller
// openSkyMutex limiter (the adapter only ever has one poll loop, so a
// mutex is sufficient — no token bucket needed here).
func (a *Adapter) waitForRateLimit() {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	minGap := 6 * time.Second
	if a.cfg.OpenSkyClientID != "" || a.cfg.OpenSkyUsername != "" {
		minGap = 3 * time.Second
	}
	if elapsed := time.Since(a.lastCallAt); elapsed < minGap {
		time.Sleep(minGap - elapsed)
	}
	a.lastCallAt = time.Now()
}

// authenticate attaches credentials in priority order: OAuth2 client
// credentials, then HTTP Basic, then anonymous.
func (a *Adapter) authenticate(req *http.Request) {
	if a.cfg.OpenSkyClientID != "" {
		token, err := a.oauthToken()
		if err != nil {
			a.log.WithError(err).Warn("oauth2 token unavailable, falling back to anonymous")
			return
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return
	}
	if a.cfg.OpenSkyUsername != "" && a.cfg.OpenSkyPassword != "" {
		req.SetBasicAuth(a.cfg.OpenSkyUsername, a.cfg.OpenSkyPassword)
	}
}

func (a *Adapter) oauthToken() (string, error) {
	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()

	if a.token != "" && time.Now().Before(a.tokenExpiry.Add(-60*time.Second)) {
		return a.token, nil
	}

	body := fmt.Sprintf("grant_type=client_credentials&client_id=%s&client_secret=%s", a.cfg.OpenSkyClientID, a.cfg.OpenSkyClientSecret)
	resp, err := http.Post(a.tokenURL, "application/x-www-form-urlencoded", bytes.NewBufferString(body))
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token request returned %d: %s", resp.StatusCode, string(respBody))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("token parse failed: %w", err)
	}

	a.token = tokenResp.AccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	return a.token, nil
}

type statesResponse struct {
	Time   int64           `json:"time"`
	States [][]interface{} `json:"states"`
}

// parseStates decodes the OpenSky state-vector row format into
// RawObservations, dropping rows without a valid position. Column layout
// and decoder helpers are ported from the teacher's parseAircraftStates.
func parseStates(rows [][]interface{}) []adapters.RawObservation {
	out := make([]adapters.RawObservation, 0, len(rows))
	for _, row := range rows {
		if len(row) < 17 {
			continue
		}

		lon := getFloat64Ptr(row[5])
		lat := getFloat64Ptr(row[6])
		if lat == nil || lon == nil {
			continue
		}

		out = append(out, adapters.RawObservation{
			ICAO24:         getString(row[0]),
			Callsign:       getString(row[1]),
			Country:        getString(row[2]),
			Latitude:       *lat,
			Longitude:      *lon,
			BaroAltitude:   getFloat64(row[7]),
			AltitudeIsFeet: false,
			OnGround:       getBool(row[8]),
			Velocity:       getFloat64(row[9]),
			VelocityUnit:   adapters.VelocityMetersPerSecond,
			TrueTrack:      getFloat64(row[10]),
			VerticalRate:   getFloat64(row[11]),
			GeoAltitude:    getFloat64(row[13]),
			Squawk:         getString(row[14]),
			LastContact:    getInt64(row[4]),
		})
	}
	return out
}

func getString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func getFloat64(v interface{}) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return 0
}

func getFloat64Ptr(v interface{}) *float64 {
	if f, ok := v.(float64); ok {
		return &f
	}
	return nil
}

func getInt64(v interface{}) int64 {
	if f, ok := v.(float64); ok {
		return int64(f)
	}
	return 0
}

func getBool(v interface{}) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}
