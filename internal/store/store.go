package store

import (
	"context"
	"errors"
	"time"

	"ratehub/internal/model"
)

// Store is the persistence interface used by the API server and the
// aggregation core's collaborators.
type Store interface {
	// Company carrier configuration
	GetCompanyCarrierConfig(ctx context.Context, tenantID string) ([]string, error)
	SaveCompanyCarrierConfig(ctx context.Context, tenantID string, carrierKeys []string) error

	// Markup rules
	GetMarkupRules(ctx context.Context, tenantID string) ([]model.MarkupRule, error)
	SaveMarkupRules(ctx context.Context, tenantID string, rules []model.MarkupRule) error

	// Settled quote results (draft persistence handoff)
	SaveQuoteResult(ctx context.Context, res model.FinalResult) error
	ListQuoteResults(ctx context.Context, tenantID string, limit int) ([]model.FinalResult, error)

	// Carrier latency telemetry feeding cold-start classification review
	RecordCarrierLatency(ctx context.Context, carrierKey, status string, latencyMs int) error
	CarrierLatencyStats(ctx context.Context, carrierKey string, since time.Time) (map[string]any, error)

	// Subscriptions (quote.settled notifications)
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID string) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, tenantID, id string) error

	// Webhook delivery queue
	EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
}

var ErrNotFound = errors.New("not found")
