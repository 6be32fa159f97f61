// Package dispatcher implements the webhook dispatcher (C7) of spec.md
// §4.7: drain the webhook queue, consult the governor, sign and POST each
// delivery, classify the outcome, and retry/back off/park accordingly.
// Grounded on the pack's austindbirch-harbor_hook worker main.go (HMAC
// signing over body+timestamp, attempt-count-driven requeue vs DLQ).
package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flyoverhead/core/internal/config"
	"github.com/flyoverhead/core/internal/domain"
	"github.com/flyoverhead/core/internal/errs"
	"github.com/flyoverhead/core/internal/governor"
	"github.com/flyoverhead/core/internal/logging"
	"github.com/flyoverhead/core/internal/queue"
	"github.com/flyoverhead/core/internal/repository"
	"github.com/flyoverhead/core/internal/telemetry"
)

const (
	governorKind        = "webhook"
	maxResponseBodyBytes = 500
)

// Dispatcher drains the webhook queue and drives each delivery message to
// a terminal outcome.
type Dispatcher struct {
	queue     *queue.Queue
	repo      *repository.Repository
	governor  *governor.Governor
	client    *http.Client
	log       *logging.Logger
	enforceHTTPS bool
	retryBase   time.Duration
	retryJitter time.Duration
}

// New builds a Dispatcher. The HTTP client disables redirects and relies
// on the queue for retries, per spec.md §4.7.
func New(q *queue.Queue, repo *repository.Repository, gov *governor.Governor, cfg config.Config, log *logging.Logger) *Dispatcher {
	return &Dispatcher{
		queue:    q,
		repo:     repo,
		governor: gov,
		client: &http.Client{
			Timeout: cfg.WebhookTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log:          log,
		enforceHTTPS: cfg.WebhookEnforceHTTPS,
		retryBase:    cfg.QueueRetryBase,
		retryJitter:  cfg.QueueRetryJitter,
	}
}

// Run blocks, repeatedly reserving and processing webhook queue messages
// until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, reserveTimeout time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		raw, err := d.queue.Reserve(ctx, reserveTimeout)
		if err != nil {
			d.log.WithError(err).Warn("reserve failed")
			continue
		}
		if raw == nil {
			continue
		}

		var msg domain.WebhookQueueMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			d.log.WithError(err).Error("dropping undecodable webhook message")
			continue
		}

		d.processOne(ctx, msg)
	}
}

func (d *Dispatcher) processOne(ctx context.Context, msg domain.WebhookQueueMessage) {
	log := d.log.WithFields(map[string]any{
		"delivery_id":     msg.DeliveryID,
		"subscription_id": msg.SubscriptionID,
		"attempt":         msg.Attempt,
	})

	if err := d.governor.Check(ctx, governorKind, msg.SubscriptionID, msg.RateLimitPerMinute); err != nil {
		d.reschedule(ctx, msg, retryAtFromGovernorError(err), false)
		return
	}

	if d.enforceHTTPS && !strings.HasPrefix(msg.CallbackURL, "https://") {
		d.terminal(ctx, msg, domain.DeliveryFailed, "callback url is not https", 0, "", false)
		log.Warn("parked: https policy violation")
		return
	}

	body, sig, ts := d.sign(msg)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.CallbackURL, bytes.NewReader(body))
	if err != nil {
		d.terminal(ctx, msg, domain.DeliveryFailed, fmt.Sprintf("build request: %v", err), 0, "", false)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Flyover-Signature", "v1="+sig)
	req.Header.Set("X-Flyover-Timestamp", ts)
	req.Header.Set("X-Flyover-Event", msg.Event.EventType)
	req.Header.Set("X-Flyover-Delivery", msg.DeliveryID)
	req.Header.Set("X-Flyover-Event-Id", msg.Event.EventID)

	start := time.Now()
	resp, doErr := d.client.Do(req)
	latency := time.Since(start)

	status := 0
	respBody := ""
	if doErr == nil {
		status = resp.StatusCode
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
		respBody = string(b)
		_ = resp.Body.Close()
	}

	success := doErr == nil && status >= 200 && status < 300
	outcome := "failure"
	if success {
		outcome = "success"
	}
	telemetry.DeliveryOutcomes.WithLabelValues(outcome).Inc()
	telemetry.DeliveryLatency.WithLabelValues(outcome).Observe(latency.Seconds())

	if success {
		if err := d.governor.RecordSuccess(ctx, governorKind, msg.SubscriptionID); err != nil {
			log.WithError(err).Warn("failed to record governor success")
		}
		d.terminal(ctx, msg, domain.DeliverySuccess, "", status, respBody, true)
		return
	}

	if err := d.governor.RecordFailure(ctx, governorKind, msg.SubscriptionID); err != nil {
		log.WithError(err).Warn("failed to record governor failure")
	}

	lastErr := ""
	if doErr != nil {
		lastErr = doErr.Error()
	} else {
		lastErr = fmt.Sprintf("http %d", status)
	}

	if msg.Attempt+1 < msg.MaxAttempts {
		retryAt := time.Now().Add(queue.NextBackoff(msg.Attempt+1, d.retryBase, d.retryJitter))
		d.reschedule(ctx, msg, retryAt, true)
		d.updateDeliveryRow(ctx, msg, domain.DeliveryPending, lastErr, status, respBody, retryAt)
		return
	}

	d.terminal(ctx, msg, domain.DeliveryFailed, lastErr, status, respBody, false)
}

// sign builds the HTTP body and HMAC-SHA256 signature per spec.md §4.7.
func (d *Dispatcher) sign(msg domain.WebhookQueueMessage) (body []byte, signatureHex string, timestampMS string) {
	payload := map[string]any{
		"id":          msg.Event.EventID,
		"type":        msg.Event.EventType,
		"occurred_at": msg.Event.OccurredAt,
		"version":     msg.Event.Version,
		"data":        msg.Event.Payload,
	}
	body, _ = json.Marshal(payload)

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(msg.SigningSecret))
	mac.Write([]byte(ts + "." + string(body)))
	return body, hex.EncodeToString(mac.Sum(nil)), ts
}

// reschedule requeues msg on the webhook delayed set at retryAt.
// incrementAttempt controls whether this reschedule counts as a delivery
// attempt (true for an actual failed send) or not (false for a
// governor-denied/breaker-open reschedule, per spec.md §4.8: "not a
// failure").
func (d *Dispatcher) reschedule(ctx context.Context, msg domain.WebhookQueueMessage, retryAt time.Time, incrementAttempt bool) {
	if incrementAttempt {
		msg.Attempt++
	}
	msg.AvailableAt = retryAt
	b, err := json.Marshal(msg)
	if err != nil {
		d.log.WithError(err).Error("failed to marshal rescheduled webhook message")
		return
	}
	if err := d.queue.Schedule(ctx, b, retryAt); err != nil {
		d.log.WithError(err).Error("failed to schedule rescheduled webhook message")
	}
}

func (d *Dispatcher) terminal(ctx context.Context, msg domain.WebhookQueueMessage, status domain.DeliveryStatus, lastErr string, respStatus int, respBody string, success bool) {
	d.updateDeliveryRow(ctx, msg, status, lastErr, respStatus, respBody, time.Time{})

	if !success && status == domain.DeliveryFailed {
		b, err := json.Marshal(msg)
		if err == nil {
			if err := d.queue.Park(ctx, b, lastErr); err != nil {
				d.log.WithError(err).Error("failed to park webhook message")
			}
		}
	}
}

func (d *Dispatcher) updateDeliveryRow(ctx context.Context, msg domain.WebhookQueueMessage, status domain.DeliveryStatus, lastErr string, respStatus int, respBody string, nextAttemptAt time.Time) {
	attemptCount := msg.Attempt + 1
	err := d.repo.UpdateDelivery(ctx, domain.DeliveryAttempt{
		DeliveryID:     msg.DeliveryID,
		EventID:        msg.Event.EventID,
		SubscriptionID: msg.SubscriptionID,
		Status:         status,
		AttemptCount:   attemptCount,
		NextAttemptAt:  nextAttemptAt,
		LastError:      lastErr,
		ResponseStatus: respStatus,
		ResponseBody:   respBody,
	})
	if err != nil {
		d.log.WithError(err).WithField("delivery_id", msg.DeliveryID).Error("failed to update delivery row")
	}
}

func retryAtFromGovernorError(err error) time.Time {
	switch e := err.(type) {
	case *errs.GovernorDenied:
		return time.UnixMilli(e.RetryAt)
	case *errs.BreakerOpen:
		return time.UnixMilli(e.RetryAt)
	default:
		return time.Now().Add(time.Second)
	}
}
