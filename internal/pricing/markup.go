package pricing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"ratehub/internal/model"
)

// RuleSource yields a tenant's markup rules. An empty CarrierKey is the
// default rule applied when no carrier-specific rule matches.
type RuleSource interface {
	GetMarkupRules(ctx context.Context, tenantID string) ([]model.MarkupRule, error)
}

// Engine applies the company's markup policy to raw carrier rates. It is
// injected into reconciliation; its failures degrade to cost price there.
type Engine struct {
	Rules RuleSource
}

func NewEngine(rules RuleSource) *Engine {
	return &Engine{Rules: rules}
}

// ApplyMarkupToRate transforms a RawRate into a PricedRate carrying both
// the cost and the charged breakdown.
func (e *Engine) ApplyMarkupToRate(raw model.RawRate, tenantID string, shipment model.ShipmentDraft) (model.PricedRate, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rules, err := e.Rules.GetMarkupRules(ctx, tenantID)
	if err != nil {
		return model.PricedRate{}, fmt.Errorf("load markup rules: %w", err)
	}
	rule := pickRule(rules, raw.Carrier)

	cost := model.ChargeBreakdown{
		Freight:     raw.Freight,
		Fuel:        raw.Fuel,
		Service:     raw.ServiceChg,
		Accessorial: raw.Accessorial,
		Total:       raw.Total(),
	}
	factor := 1 + rule.Percent/100
	if factor <= 0 {
		return model.PricedRate{}, fmt.Errorf("markup percent %.2f yields non-positive factor", rule.Percent)
	}
	charged := model.ChargeBreakdown{
		Freight:     round2(cost.Freight * factor),
		Fuel:        round2(cost.Fuel * factor),
		Accessorial: round2(cost.Accessorial * factor),
		Service:     round2(cost.Service*factor + rule.FlatFee),
	}
	charged.Total = round2(charged.Freight + charged.Fuel + charged.Service + charged.Accessorial)
	if margin := charged.Total - cost.Total; rule.MinMargin > 0 && margin < rule.MinMargin {
		bump := round2(rule.MinMargin - margin)
		charged.Service = round2(charged.Service + bump)
		charged.Total = round2(charged.Total + bump)
	}
	if charged.Total < cost.Total {
		return model.PricedRate{}, fmt.Errorf("charged total %.2f below cost %.2f", charged.Total, cost.Total)
	}

	return model.PricedRate{
		ID:          uuid.New().String(),
		Carrier:     raw.Carrier,
		Service:     raw.Service,
		TransitDays: raw.TransitDays,
		Cost:        cost,
		Charged:     charged,
		MarkedUp:    rule.Percent != 0 || rule.FlatFee != 0,
		ProviderRef: raw.ProviderRef(),
	}, nil
}

// pickRule prefers a carrier-specific rule, then the default (empty key).
func pickRule(rules []model.MarkupRule, carrier string) model.MarkupRule {
	var def model.MarkupRule
	for _, r := range rules {
		if r.CarrierKey == "" {
			def = r
			continue
		}
		if strings.EqualFold(r.CarrierKey, carrier) {
			return r
		}
	}
	return def
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// StaticRules is a RuleSource over a fixed slice, used when no store is
// configured and in tests.
type StaticRules []model.MarkupRule

func (s StaticRules) GetMarkupRules(ctx context.Context, tenantID string) ([]model.MarkupRule, error) {
	return s, nil
}
