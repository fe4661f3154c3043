package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"ratehub/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu       sync.Mutex
	carriers map[string][]string           // tenant -> enabled carrier keys
	rules    map[string][]model.MarkupRule // tenant -> markup rules
	results  map[string][]model.FinalResult
	latency  map[string][]latencySample
	subs     map[string][]model.Subscription // tenant -> subscriptions
	// Webhook queue state
	deliveries         map[string]*memDelivery
	deliveriesByTenant map[string][]string
}

type latencySample struct {
	Status    string
	LatencyMs int
	At        time.Time
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func NewMemory() *Memory {
	return &Memory{
		carriers:           map[string][]string{},
		rules:              map[string][]model.MarkupRule{},
		results:            map[string][]model.FinalResult{},
		latency:            map[string][]latencySample{},
		subs:               map[string][]model.Subscription{},
		deliveries:         map[string]*memDelivery{},
		deliveriesByTenant: map[string][]string{},
	}
}

func (m *Memory) GetCompanyCarrierConfig(ctx context.Context, tenantID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys, ok := m.carriers[tenantID]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), keys...), nil
}

func (m *Memory) SaveCompanyCarrierConfig(ctx context.Context, tenantID string, carrierKeys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carriers[tenantID] = append([]string(nil), carrierKeys...)
	return nil
}

func (m *Memory) GetMarkupRules(ctx context.Context, tenantID string) ([]model.MarkupRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.MarkupRule(nil), m.rules[tenantID]...), nil
}

func (m *Memory) SaveMarkupRules(ctx context.Context, tenantID string, rules []model.MarkupRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[tenantID] = append([]model.MarkupRule(nil), rules...)
	return nil
}

func (m *Memory) SaveQuoteResult(ctx context.Context, res model.FinalResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[res.TenantID] = append(m.results[res.TenantID], res)
	return nil
}

func (m *Memory) ListQuoteResults(ctx context.Context, tenantID string, limit int) ([]model.FinalResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.results[tenantID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	// newest first
	out := make([]model.FinalResult, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *Memory) RecordCarrierLatency(ctx context.Context, carrierKey, status string, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency[carrierKey] = append(m.latency[carrierKey], latencySample{Status: status, LatencyMs: latencyMs, At: time.Now()})
	return nil
}

func (m *Memory) CarrierLatencyStats(ctx context.Context, carrierKey string, since time.Time) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	samples := m.latency[carrierKey]
	count, failed, sum, max := 0, 0, 0, 0
	for _, s := range samples {
		if s.At.Before(since) {
			continue
		}
		count++
		sum += s.LatencyMs
		if s.LatencyMs > max {
			max = s.LatencyMs
		}
		if s.Status == model.OutcomeFailed {
			failed++
		}
	}
	out := map[string]any{"carrier": carrierKey, "count": count, "failed": failed, "maxMs": max}
	if count > 0 {
		out["avgMs"] = sum / count
	}
	return out, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Subscription{}
	for _, s := range m.subs[tenantID] {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Subscription(nil), m.subs[tenantID]...), nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subs[tenantID]
	out := subs[:0]
	found := false
	for _, s := range subs {
		if s.ID == id {
			found = true
			continue
		}
		out = append(out, s)
	}
	if !found {
		return ErrNotFound
	}
	m.subs[tenantID] = out
	return nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending", Attempts: 0}, NextAttemptAt: time.Now()}
	m.deliveries[id] = d
	m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, ids := range m.deliveriesByTenant {
		for _, id := range ids {
			d := m.deliveries[id]
			if d == nil {
				continue
			}
			if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
				out = append(out, d.WebhookDelivery)
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return nil
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := time.Now()
		d.DeliveredAt = &now
	} else {
		d.Status = "retry"
		d.LastError = lastError
		if nextAttemptAt != nil {
			d.NextAttemptAt = *nextAttemptAt
		} else {
			d.NextAttemptAt = time.Now().Add(1 * time.Minute)
		}
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d != nil {
		d.Status = "failed"
		d.LastError = lastError
		d.ResponseCode = responseCode
		d.LatencyMs = latencyMs
	}
	return nil
}
