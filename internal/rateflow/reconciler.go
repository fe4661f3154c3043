package rateflow

import (
	"log"
	"time"

	"github.com/google/uuid"
	"ratehub/internal/metrics"
	"ratehub/internal/model"
)

// MarkupEngine is the injected pricing policy. Failures must not abort
// reconciliation.
type MarkupEngine interface {
	ApplyMarkupToRate(raw model.RawRate, tenantID string, shipment model.ShipmentDraft) (model.PricedRate, error)
}

// RateValidator is the structural gate applied before a RawRate enters the
// pipeline.
type RateValidator interface {
	Validate(raw model.RawRate) (ok bool, reason string)
}

// Reconciler drains a session's outcome stream: validates, markup-adjusts,
// deduplicates, and merges rates, then settles the session. It is the only
// writer to a session's rate list.
type Reconciler struct {
	Markup    MarkupEngine
	Validator RateValidator
	// Notify pushes the merged rate list and carrier status to the
	// presentation layer on every update. May be nil.
	Notify func(model.SessionUpdate)
	// Observe sees every streamed carrier outcome (latency telemetry).
	// May be nil.
	Observe func(model.CarrierOutcome)
}

// Run consumes the stream produced by Dispatcher.Dispatch and returns the
// settled result. Outcomes are processed one at a time even though they
// arrive concurrently.
func (r *Reconciler) Run(sess *Session, outcomes <-chan model.CarrierOutcome, summaryCh <-chan DispatchSummary) model.FinalResult {
	for oc := range outcomes {
		r.OnOutcome(sess, oc)
	}
	sess.setState(model.SessionReconciling)
	summary := <-summaryCh
	return r.Finalize(sess, summary)
}

// OnOutcome merges one carrier outcome into the session. Invalid rates are
// discarded without failing the carrier; a failed carrier's salvaged valid
// subset is still accepted.
func (r *Reconciler) OnOutcome(sess *Session, oc model.CarrierOutcome) {
	if sess.Retired() {
		return
	}
	if r.Observe != nil {
		r.Observe(oc)
	}
	accepted := r.mergeRates(sess, oc.Carrier, oc.Rates)
	sess.settleCarrier(oc.Carrier, oc.Status, accepted, oc.Error)
	if r.Notify != nil {
		r.Notify(sess.Snapshot())
	}
}

// mergeRates validates, prices, and appends rates; returns how many new
// rates entered the session. Duplicate RateKeys are silently absorbed.
func (r *Reconciler) mergeRates(sess *Session, carrier string, rates []model.RawRate) int {
	added := 0
	for _, raw := range rates {
		if r.Validator != nil {
			if ok, reason := r.Validator.Validate(raw); !ok {
				log.Printf("session %s: dropping invalid rate from %s: %s", sess.ID, carrier, reason)
				continue
			}
		}
		priced, err := r.price(sess, raw)
		if err != nil {
			// Markup failure degrades to the cost price, never drops the rate.
			log.Printf("session %s: markup failed for %s rate %s, keeping cost price: %v", sess.ID, carrier, raw.ProviderRef(), err)
			metrics.MarkupFailures.Inc()
			priced = PriceAtCost(raw)
		}
		if sess.addRate(priced) {
			added++
		}
	}
	return added
}

func (r *Reconciler) price(sess *Session, raw model.RawRate) (model.PricedRate, error) {
	if r.Markup == nil {
		return PriceAtCost(raw), nil
	}
	return r.Markup.ApplyMarkupToRate(raw, sess.TenantID, sess.Shipment)
}

// Finalize runs one more reconciliation pass over the dispatcher summary
// (covers providers whose rates only materialize in the terminal bulk
// result), then decides the session end-state.
func (r *Reconciler) Finalize(sess *Session, summary DispatchSummary) model.FinalResult {
	if !sess.Retired() {
		for _, oc := range summary.Outcomes {
			// Same RateKey dedup rule; already-delivered rates are never
			// overwritten, re-arrivals are absorbed.
			r.mergeRates(sess, oc.Carrier, oc.Rates)
			sess.settleCarrier(oc.Carrier, oc.Status, len(oc.Rates), oc.Error)
		}
	}

	snap := sess.Snapshot()
	res := model.FinalResult{
		SessionID:         sess.ID,
		TenantID:          sess.TenantID,
		Fingerprint:       sess.Fingerprint,
		Rates:             snap.Rates,
		CompletedCarriers: snap.CompletedCarriers,
		FailedCarriers:    snap.FailedCarriers,
		StartedAt:         sess.StartedAt.UTC().Format(time.RFC3339),
		SettledAt:         time.Now().UTC().Format(time.RFC3339),
		ElapsedMs:         int(time.Since(sess.StartedAt).Milliseconds()),
	}
	if sess.Retired() {
		res.State = model.SessionCancelled
		return res
	}

	switch {
	case len(res.Rates) > 0:
		// Partial success precedence: rates win even if some carriers failed.
		res.State = model.SessionSucceeded
	case len(res.FailedCarriers) > 0:
		res.State = model.SessionFailed
		res.Error = (&AggregateError{Failures: res.FailedCarriers}).Error()
	default:
		// Carriers queried, all came back empty: success with no rates,
		// distinct from failure.
		res.State = model.SessionEmptyResult
	}
	sess.setState(res.State)
	metrics.SessionsSettled.WithLabelValues(res.State).Inc()
	if r.Notify != nil {
		r.Notify(sess.Snapshot())
	}
	return res
}

// PriceAtCost wraps a raw rate with identical cost and charged breakdowns,
// used when no markup applies or markup fails.
func PriceAtCost(raw model.RawRate) model.PricedRate {
	b := model.ChargeBreakdown{
		Freight:     raw.Freight,
		Fuel:        raw.Fuel,
		Service:     raw.ServiceChg,
		Accessorial: raw.Accessorial,
		Total:       raw.Total(),
	}
	return model.PricedRate{
		ID:          uuid.New().String(),
		Carrier:     raw.Carrier,
		Service:     raw.Service,
		TransitDays: raw.TransitDays,
		Cost:        b,
		Charged:     b,
		MarkedUp:    false,
		ProviderRef: raw.ProviderRef(),
	}
}
