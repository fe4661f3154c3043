package rateflow

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"ratehub/internal/model"
)

type passValidator struct{}

func (passValidator) Validate(r model.RawRate) (bool, string) {
	if r.Carrier == "" || r.Total() <= 0 {
		return false, "invalid"
	}
	return true, ""
}

type failingMarkup struct{}

func (failingMarkup) ApplyMarkupToRate(raw model.RawRate, tenantID string, shipment model.ShipmentDraft) (model.PricedRate, error) {
	return model.PricedRate{}, fmt.Errorf("markup service down")
}

type pctMarkup struct{ pct float64 }

func (m pctMarkup) ApplyMarkupToRate(raw model.RawRate, tenantID string, shipment model.ShipmentDraft) (model.PricedRate, error) {
	p := PriceAtCost(raw)
	f := 1 + m.pct/100
	p.Charged.Freight *= f
	p.Charged.Fuel *= f
	p.Charged.Service *= f
	p.Charged.Accessorial *= f
	p.Charged.Total *= f
	p.MarkedUp = true
	return p, nil
}

func testSession(t *testing.T, carriers ...model.CarrierDescriptor) *Session {
	t.Helper()
	if len(carriers) == 0 {
		carriers = []model.CarrierDescriptor{{Key: "alpha"}, {Key: "beta"}}
	}
	shipment := model.ShipmentDraft{
		Type:        "parcel",
		Origin:      model.Address{City: "Memphis", State: "TN", PostalCode: "38118"},
		Destination: model.Address{City: "Louisville", State: "KY", PostalCode: "40213"},
		Packages:    []model.Package{{WeightLb: 10}},
	}
	return NewSession(context.Background(), 1, "t1", shipment, carriers, time.Minute, time.Now())
}

func rawRate(carrier, ref string, freight float64) model.RawRate {
	return model.RawRate{ProviderID: ref, Carrier: carrier, Service: "ground", Freight: freight, TransitDays: 3}
}

func TestReconcilerIdempotentMerge(t *testing.T) {
	r := &Reconciler{Validator: passValidator{}}
	sess := testSession(t)
	oc := model.CarrierOutcome{Carrier: "alpha", Status: model.OutcomeSuccess, Rates: []model.RawRate{rawRate("alpha", "q1", 100)}}

	r.OnOutcome(sess, oc)
	if got := sess.RateCount(); got != 1 {
		t.Fatalf("rate count after first delivery = %d, want 1", got)
	}
	// Re-delivering the same RateKey never increases the count.
	r.OnOutcome(sess, oc)
	r.OnOutcome(sess, oc)
	if got := sess.RateCount(); got != 1 {
		t.Fatalf("rate count after re-delivery = %d, want 1", got)
	}
}

func TestReconcilerOrderIndependence(t *testing.T) {
	outcomes := []model.CarrierOutcome{
		{Carrier: "alpha", Status: model.OutcomeSuccess, Rates: []model.RawRate{rawRate("alpha", "a1", 100), rawRate("alpha", "a2", 120)}},
		{Carrier: "beta", Status: model.OutcomeSuccess, Rates: []model.RawRate{rawRate("beta", "b1", 90)}},
		{Carrier: "gamma", Status: model.OutcomeEmpty},
	}
	carriers := []model.CarrierDescriptor{{Key: "alpha"}, {Key: "beta"}, {Key: "gamma"}}

	collect := func(order []int) map[model.RateKey]struct{} {
		r := &Reconciler{Validator: passValidator{}}
		sess := testSession(t, carriers...)
		for _, i := range order {
			r.OnOutcome(sess, outcomes[i])
		}
		res := r.Finalize(sess, DispatchSummary{Outcomes: outcomes})
		keys := map[model.RateKey]struct{}{}
		for _, p := range res.Rates {
			keys[p.Key()] = struct{}{}
		}
		return keys
	}

	base := collect([]int{0, 1, 2})
	for _, order := range [][]int{{2, 1, 0}, {1, 0, 2}, {2, 0, 1}} {
		got := collect(order)
		if len(got) != len(base) {
			t.Fatalf("order %v produced %d keys, want %d", order, len(got), len(base))
		}
		for k := range base {
			if _, ok := got[k]; !ok {
				t.Fatalf("order %v missing key %+v", order, k)
			}
		}
	}
}

func TestReconcilerPartialSuccessPrecedence(t *testing.T) {
	r := &Reconciler{Validator: passValidator{}}
	sess := testSession(t)
	r.OnOutcome(sess, model.CarrierOutcome{Carrier: "alpha", Status: model.OutcomeFailed, Error: "carrier alpha: timeout: deadline exceeded"})
	r.OnOutcome(sess, model.CarrierOutcome{Carrier: "beta", Status: model.OutcomeSuccess, Rates: []model.RawRate{rawRate("beta", "b1", 80)}})
	res := r.Finalize(sess, DispatchSummary{})

	if res.State != model.SessionSucceeded {
		t.Fatalf("state = %s, want %s", res.State, model.SessionSucceeded)
	}
	if len(res.Rates) != 1 {
		t.Fatalf("rates = %d, want 1", len(res.Rates))
	}
	if _, ok := res.FailedCarriers["alpha"]; !ok {
		t.Fatalf("alpha missing from failed set: %+v", res.FailedCarriers)
	}
	if _, ok := res.CompletedCarriers["beta"]; !ok {
		t.Fatalf("beta missing from completed set: %+v", res.CompletedCarriers)
	}
}

func TestReconcilerAggregateFailure(t *testing.T) {
	r := &Reconciler{Validator: passValidator{}}
	sess := testSession(t, model.CarrierDescriptor{Key: "x"})
	r.OnOutcome(sess, model.CarrierOutcome{Carrier: "x", Status: model.OutcomeFailed, Error: "carrier x: timeout: deadline exceeded"})
	res := r.Finalize(sess, DispatchSummary{})

	if res.State != model.SessionFailed {
		t.Fatalf("state = %s, want %s", res.State, model.SessionFailed)
	}
	if len(res.Rates) != 0 {
		t.Fatalf("rates = %d, want 0", len(res.Rates))
	}
	if !strings.Contains(res.Error, "all carriers failed") {
		t.Fatalf("error = %q, want aggregate message", res.Error)
	}
}

func TestReconcilerAllEmptyIsSuccessNotFailure(t *testing.T) {
	r := &Reconciler{Validator: passValidator{}}
	sess := testSession(t, model.CarrierDescriptor{Key: "y"})
	r.OnOutcome(sess, model.CarrierOutcome{Carrier: "y", Status: model.OutcomeEmpty})
	res := r.Finalize(sess, DispatchSummary{})

	if res.State != model.SessionEmptyResult {
		t.Fatalf("state = %s, want %s", res.State, model.SessionEmptyResult)
	}
	if _, ok := res.CompletedCarriers["y"]; !ok {
		t.Fatalf("y should be completed, not failed: %+v", res)
	}
	if len(res.FailedCarriers) != 0 {
		t.Fatalf("failed set should be empty: %+v", res.FailedCarriers)
	}
}

func TestReconcilerMarkupFailureKeepsCostPrice(t *testing.T) {
	r := &Reconciler{Validator: passValidator{}, Markup: failingMarkup{}}
	sess := testSession(t)
	r.OnOutcome(sess, model.CarrierOutcome{Carrier: "alpha", Status: model.OutcomeSuccess, Rates: []model.RawRate{rawRate("alpha", "a1", 100)}})

	snap := sess.Snapshot()
	if len(snap.Rates) != 1 {
		t.Fatalf("rate dropped on markup failure: %+v", snap.Rates)
	}
	p := snap.Rates[0]
	if p.MarkedUp {
		t.Fatalf("rate should not be marked up")
	}
	if p.Charged.Total != p.Cost.Total {
		t.Fatalf("charged %v != cost %v", p.Charged.Total, p.Cost.Total)
	}
}

func TestReconcilerSalvagesValidSubsetOfFailedCarrier(t *testing.T) {
	r := &Reconciler{Validator: passValidator{}}
	sess := testSession(t)
	// Carrier failed schema validation overall, but one rate was salvageable.
	r.OnOutcome(sess, model.CarrierOutcome{
		Carrier: "alpha",
		Status:  model.OutcomeFailed,
		Error:   "carrier alpha: invalid_response: 2 of 3 rate entries malformed",
		Rates:   []model.RawRate{rawRate("alpha", "ok1", 55)},
	})
	res := r.Finalize(sess, DispatchSummary{})

	if len(res.Rates) != 1 {
		t.Fatalf("salvaged rate missing, rates = %d", len(res.Rates))
	}
	if _, ok := res.FailedCarriers["alpha"]; !ok {
		t.Fatalf("alpha should still be failed: %+v", res.FailedCarriers)
	}
	// Accumulated rates still win the end-state decision.
	if res.State != model.SessionSucceeded {
		t.Fatalf("state = %s, want %s", res.State, model.SessionSucceeded)
	}
}

func TestReconcilerInvalidRatesDroppedWithoutFailingCarrier(t *testing.T) {
	r := &Reconciler{Validator: passValidator{}}
	sess := testSession(t)
	r.OnOutcome(sess, model.CarrierOutcome{Carrier: "alpha", Status: model.OutcomeSuccess, Rates: []model.RawRate{
		{Carrier: "", Freight: 10},          // missing carrier
		{Carrier: "alpha", Freight: 0},      // no identifiable price
		rawRate("alpha", "good", 42),        // valid
	}})
	snap := sess.Snapshot()
	if len(snap.Rates) != 1 {
		t.Fatalf("rates = %d, want 1 (invalid entries dropped)", len(snap.Rates))
	}
	if _, ok := snap.CompletedCarriers["alpha"]; !ok {
		t.Fatalf("alpha should be completed despite invalid entries")
	}
}

func TestReconcilerFinalPassMergesUnstreamedRates(t *testing.T) {
	// Scenario D plus bulk coverage: the final summary re-reports a
	// streamed rate and introduces a new one.
	r := &Reconciler{Validator: passValidator{}}
	sess := testSession(t)
	streamed := rawRate("alpha", "dup", 100)
	r.OnOutcome(sess, model.CarrierOutcome{Carrier: "alpha", Status: model.OutcomeSuccess, Rates: []model.RawRate{streamed}})

	res := r.Finalize(sess, DispatchSummary{Outcomes: []model.CarrierOutcome{
		{Carrier: "alpha", Status: model.OutcomeSuccess, Rates: []model.RawRate{streamed, rawRate("alpha", "bulk-only", 130)}},
	}})
	if len(res.Rates) != 2 {
		t.Fatalf("rates = %d, want 2 (dup absorbed, bulk merged)", len(res.Rates))
	}
}

func TestReconcilerProgressiveNotify(t *testing.T) {
	var updates []model.SessionUpdate
	r := &Reconciler{Validator: passValidator{}, Notify: func(u model.SessionUpdate) { updates = append(updates, u) }}
	sess := testSession(t)
	r.OnOutcome(sess, model.CarrierOutcome{Carrier: "alpha", Status: model.OutcomeSuccess, Rates: []model.RawRate{rawRate("alpha", "a1", 100)}})
	r.OnOutcome(sess, model.CarrierOutcome{Carrier: "beta", Status: model.OutcomeSuccess, Rates: []model.RawRate{rawRate("beta", "b1", 90)}})
	r.Finalize(sess, DispatchSummary{})

	if len(updates) < 3 {
		t.Fatalf("expected at least 3 pushes, got %d", len(updates))
	}
	// Monotonically non-decreasing rate list.
	prev := 0
	for i, u := range updates {
		if len(u.Rates) < prev {
			t.Fatalf("update %d shrank rate list: %d < %d", i, len(u.Rates), prev)
		}
		prev = len(u.Rates)
	}
	last := updates[len(updates)-1]
	if last.State != model.SessionSucceeded {
		t.Fatalf("final update state = %s", last.State)
	}
}

func TestRetiredSessionDiscardsLateOutcomes(t *testing.T) {
	r := &Reconciler{Validator: passValidator{}}
	sess := testSession(t)
	sess.Retire()
	r.OnOutcome(sess, model.CarrierOutcome{Carrier: "alpha", Status: model.OutcomeSuccess, Rates: []model.RawRate{rawRate("alpha", "late", 100)}})
	if sess.RateCount() != 0 {
		t.Fatalf("late outcome mutated retired session")
	}
	res := r.Finalize(sess, DispatchSummary{})
	if res.State != model.SessionCancelled {
		t.Fatalf("state = %s, want %s", res.State, model.SessionCancelled)
	}
}

func TestCarrierNeverInBothSets(t *testing.T) {
	r := &Reconciler{Validator: passValidator{}}
	sess := testSession(t)
	r.OnOutcome(sess, model.CarrierOutcome{Carrier: "alpha", Status: model.OutcomeSuccess, Rates: []model.RawRate{rawRate("alpha", "a1", 10)}})
	// A duplicate terminal outcome with a different status must not move
	// the carrier into the other set.
	r.OnOutcome(sess, model.CarrierOutcome{Carrier: "alpha", Status: model.OutcomeFailed, Error: "late duplicate"})
	snap := sess.Snapshot()
	_, completed := snap.CompletedCarriers["alpha"]
	_, failed := snap.FailedCarriers["alpha"]
	if !completed || failed {
		t.Fatalf("carrier in both or neither set: completed=%v failed=%v", completed, failed)
	}
}

func TestMarkupAppliedCarriesBothBreakdowns(t *testing.T) {
	r := &Reconciler{Validator: passValidator{}, Markup: pctMarkup{pct: 10}}
	sess := testSession(t)
	r.OnOutcome(sess, model.CarrierOutcome{Carrier: "alpha", Status: model.OutcomeSuccess, Rates: []model.RawRate{rawRate("alpha", "a1", 100)}})
	p := sess.Snapshot().Rates[0]
	if !p.MarkedUp {
		t.Fatalf("expected marked-up rate")
	}
	if p.Cost.Total != 100 {
		t.Fatalf("cost total = %v, want 100", p.Cost.Total)
	}
	if p.Charged.Total <= p.Cost.Total {
		t.Fatalf("charged %v should exceed cost %v", p.Charged.Total, p.Cost.Total)
	}
}
