package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ratehub/internal/model"
	"ratehub/internal/store"
)

// EventQuoteSettled fires when an aggregation session settles with a
// final result.
const EventQuoteSettled = "quote.settled"

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit enqueues an event for every matching subscription of the tenant.
func (p *Publisher) Emit(ctx context.Context, tenantID, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, tenantID, eventType)
	if err != nil || len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":       fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		"type":     eventType,
		"tenantId": tenantID,
		"ts":       time.Now().UTC().Format(time.RFC3339),
		"data":     data,
	}
	body, _ := json.Marshal(payload)
	for _, s := range subs {
		_, _ = p.Store.EnqueueWebhook(ctx, tenantID, s.ID, eventType, s.URL, s.Secret, body)
	}
}

// EmitQuoteSettled publishes the settled result of a session, trimming the
// payload to what integrations need.
func (p *Publisher) EmitQuoteSettled(ctx context.Context, res model.FinalResult) {
	p.Emit(ctx, res.TenantID, EventQuoteSettled, map[string]any{
		"sessionId":         res.SessionID,
		"fingerprint":       res.Fingerprint,
		"state":             res.State,
		"rateCount":         len(res.Rates),
		"rates":             res.Rates,
		"completedCarriers": res.CompletedCarriers,
		"failedCarriers":    res.FailedCarriers,
		"error":             res.Error,
	})
}
