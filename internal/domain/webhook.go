package domain

import "time"

// SubscriptionStatus is the lifecycle state of a WebhookSubscription.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPaused   SubscriptionStatus = "paused"
	SubscriptionDisabled SubscriptionStatus = "disabled"
)

// WebhookSubscription is a third-party subscriber's delivery configuration.
// Created out of band (operator or self-service endpoint, both out of
// scope); consumed read-only by the publisher and dispatcher.
type WebhookSubscription struct {
	ID                 string             `json:"id"`
	SubscriberID       string             `json:"subscriber_id"`
	CallbackURL        string             `json:"callback_url"`
	EventTypeFilter    string             `json:"event_type_filter"`
	SigningSecret      string             `json:"signing_secret"`
	Status             SubscriptionStatus `json:"status"`
	RateLimitPerMinute int                `json:"rate_limit_per_minute"`
	MaxAttempts        int                `json:"max_attempts"`
	BackoffMS          int64              `json:"backoff_ms"`
}

// MatchesEventType reports whether this subscription's filter matches the
// given event type, honoring the "*"/"all" wildcard of spec.md §4.6.
func (s WebhookSubscription) MatchesEventType(eventType string) bool {
	switch s.EventTypeFilter {
	case "*", "all", "":
		return true
	default:
		return s.EventTypeFilter == eventType
	}
}

// WebhookEvent is an immutable, persisted fact: something happened.
type WebhookEvent struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	Version    string          `json:"version"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    map[string]any  `json:"payload"`
}

// DeliveryStatus is the terminal/in-flight state of a DeliveryAttempt.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryDelivering DeliveryStatus = "delivering"
	DeliverySuccess    DeliveryStatus = "success"
	DeliveryFailed     DeliveryStatus = "failed"
)

// DeliveryAttempt tracks the retry state of one (event, subscription) pair.
// Exclusively owned by the dispatcher (C7).
type DeliveryAttempt struct {
	DeliveryID     string         `json:"delivery_id"`
	EventID        string         `json:"event_id"`
	SubscriptionID string         `json:"subscription_id"`
	Status         DeliveryStatus `json:"status"`
	AttemptCount   int            `json:"attempt_count"`
	NextAttemptAt  time.Time      `json:"next_attempt_at"`
	LastError      string         `json:"last_error,omitempty"`
	ResponseStatus int            `json:"response_status,omitempty"`
	ResponseBody   string         `json:"response_body,omitempty"`
}

// QueueMessage is the JSON envelope carried on the ingest queue (spec.md
// §3, "Queue message"). It wraps one normalized observation.
type QueueMessage struct {
	State              AircraftState `json:"state"`
	Source             string        `json:"source"`
	SourcePriority     int           `json:"source_priority"`
	IngestionTimestamp time.Time     `json:"ingestion_timestamp"`
	FeederID           *string       `json:"feeder_id,omitempty"`
	Attempts           int           `json:"attempts"`
	MaxAttempts        int           `json:"max_attempts"`
	AvailableAt        time.Time     `json:"available_at"`
	SkipHistory        bool          `json:"skip_history,omitempty"`
}

// WebhookQueueMessage is the JSON envelope carried on the webhook queue: a
// single delivery attempt to drive to completion.
type WebhookQueueMessage struct {
	DeliveryID         string         `json:"delivery_id"`
	EventID            string         `json:"event_id"`
	SubscriptionID     string         `json:"subscription_id"`
	CallbackURL        string         `json:"callback_url"`
	SigningSecret      string         `json:"signing_secret"`
	Event              WebhookEvent   `json:"event"`
	Attempt            int            `json:"attempt"`
	MaxAttempts        int            `json:"max_attempts"`
	BackoffMS          int64          `json:"backoff_ms"`
	RateLimitPerMinute int            `json:"rate_limit_per_minute"`
	AvailableAt        time.Time      `json:"available_at"`
}
