package rateflow

import (
	"context"
	"log"
	"sync"
	"time"

	"ratehub/internal/model"
)

// CarrierResolver produces the ordered carrier set to query for a draft.
type CarrierResolver interface {
	Resolve(ctx context.Context, tenantID string, shipment model.ShipmentDraft) ([]model.CarrierDescriptor, error)
}

// WarmupCoordinator primes cold-start carriers. Best-effort: the
// controller never waits on it and ignores its report.
type WarmupCoordinator interface {
	Warmup(ctx context.Context, shipment model.ShipmentDraft, carriers []model.CarrierDescriptor)
}

// Controller owns the single active aggregation session. It debounces
// shipment edits, decides when an edit supersedes the in-flight session,
// and defers cancellation while a cold-start carrier is still pending so
// churn cannot starve slow carriers indefinitely.
type Controller struct {
	Resolver   CarrierResolver
	Warmup     WarmupCoordinator // optional
	Dispatcher *Dispatcher
	Reconciler *Reconciler
	Clock      Clock

	Debounce       time.Duration
	ColdGrace      time.Duration
	SessionCeiling time.Duration

	// OnSettled receives the final result of every non-cancelled session
	// (persistence handoff). May be nil.
	OnSettled func(model.FinalResult)

	mu         sync.Mutex
	state      string
	seq        int64 // bumps on every edit; stale debounce fires are dropped
	gen        int64 // session generation counter
	active     *Session
	lastResult *model.FinalResult
	pending    pendingEdit
}

type pendingEdit struct {
	tenantID string
	shipment model.ShipmentDraft
	force    bool
}

// NewController wires a controller with production defaults. The session
// ceiling is the max per-carrier extended timeout plus slack, not a sum:
// multiple cold carriers run concurrently and share the same ceiling.
func NewController(resolver CarrierResolver, d *Dispatcher, r *Reconciler) *Controller {
	return &Controller{
		Resolver:       resolver,
		Dispatcher:     d,
		Reconciler:     r,
		Clock:          RealClock(),
		Debounce:       600 * time.Millisecond,
		ColdGrace:      5 * time.Second,
		SessionCeiling: d.ColdTimeout + d.RetryBackoff + d.ColdTimeout,
		state:          model.SessionIdle,
	}
}

// State reports the controller position in its lifecycle.
func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() string {
	if c.state == model.SessionDebouncing {
		return c.state
	}
	if c.active != nil && !c.active.Retired() {
		return c.active.Snapshot().State
	}
	return c.state
}

// Snapshot returns the caller-facing view of the active (or last settled)
// session.
func (c *Controller) Snapshot() model.SessionUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		snap := c.active.Snapshot()
		if c.state == model.SessionDebouncing {
			snap.State = model.SessionDebouncing
		}
		return snap
	}
	if c.lastResult != nil {
		return model.SessionUpdate{
			SessionID:         c.lastResult.SessionID,
			TenantID:          c.lastResult.TenantID,
			State:             c.stateLocked(),
			Rates:             c.lastResult.Rates,
			CompletedCarriers: c.lastResult.CompletedCarriers,
			FailedCarriers:    c.lastResult.FailedCarriers,
		}
	}
	return model.SessionUpdate{State: c.stateLocked()}
}

// OnShipmentEdit feeds a draft edit into the state machine. Edits that do
// not change the request fingerprint are unrelated churn and are ignored.
func (c *Controller) OnShipmentEdit(tenantID string, shipment model.ShipmentDraft) {
	c.trigger(tenantID, shipment, false)
}

// Refresh forces a new session regardless of fingerprint equality.
func (c *Controller) Refresh(tenantID string, shipment model.ShipmentDraft) {
	c.trigger(tenantID, shipment, true)
}

func (c *Controller) trigger(tenantID string, shipment model.ShipmentDraft, force bool) {
	fp := shipment.Fingerprint()
	c.mu.Lock()
	if !force {
		if c.active != nil && !c.active.Retired() && c.active.Fingerprint == fp {
			c.mu.Unlock()
			return
		}
		if c.active == nil && c.lastResult != nil && c.lastResult.Fingerprint == fp && c.state != model.SessionIdle {
			c.mu.Unlock()
			return
		}
	}
	c.seq++
	seq := c.seq
	c.pending = pendingEdit{tenantID: tenantID, shipment: shipment, force: force}
	c.state = model.SessionDebouncing
	c.mu.Unlock()

	// Every further edit bumps seq, so only the latest timer fire survives.
	t := c.Clock.NewTimer(c.Debounce)
	go func() {
		<-t.C()
		c.debounceElapsed(seq)
	}()
}

func (c *Controller) debounceElapsed(seq int64) {
	c.mu.Lock()
	if seq != c.seq {
		c.mu.Unlock()
		return
	}
	edit := c.pending
	if !fetchEligible(edit.shipment) {
		c.state = model.SessionIdle
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.runFetch(seq, edit)
}

// runFetch executes one aggregation session end to end. It runs on the
// debounce goroutine; the dispatcher fans out from here.
func (c *Controller) runFetch(seq int64, edit pendingEdit) {
	// Cold-start protection: an in-flight session with a pending
	// cold-start carrier is not cancelled immediately. Cancellation is
	// deferred until the cold carrier settles or the grace period lapses.
	c.mu.Lock()
	old := c.active
	c.mu.Unlock()
	if old != nil && !old.Retired() && old.HasPendingCold() {
		select {
		case <-old.ColdSettled():
		case <-c.Clock.After(c.ColdGrace):
		}
		c.mu.Lock()
		stale := seq != c.seq
		c.mu.Unlock()
		if stale {
			return
		}
	}

	ctx := context.Background()
	carriers, err := c.Resolver.Resolve(ctx, edit.tenantID, edit.shipment)
	if err != nil {
		log.Printf("carrier resolve failed for tenant %s: %v", edit.tenantID, err)
		c.settleWithoutSession(edit, model.SessionFailed, err.Error())
		return
	}
	if len(carriers) == 0 {
		c.settleWithoutSession(edit, model.SessionFailed, ErrNoEligibleCarriers.Error())
		return
	}

	c.mu.Lock()
	if seq != c.seq {
		c.mu.Unlock()
		return
	}
	c.gen++
	sess := NewSession(ctx, c.gen, edit.tenantID, edit.shipment, carriers, c.SessionCeiling, c.Clock.Now())
	if c.active != nil {
		c.active.Retire()
	}
	c.active = sess
	c.state = model.SessionDispatching
	c.mu.Unlock()

	if c.Warmup != nil {
		// Alongside the main dispatch; the coordinator bounds its own wait.
		go c.Warmup.Warmup(sess.Context(), edit.shipment, carriers)
	}

	outcomes, summary := c.Dispatcher.Dispatch(sess, carriers)
	res := c.Reconciler.Run(sess, outcomes, summary)

	c.mu.Lock()
	if c.active == sess {
		c.state = res.State
		c.lastResult = &res
		c.active = nil
	}
	c.mu.Unlock()
	if res.State != model.SessionCancelled && c.OnSettled != nil {
		c.OnSettled(res)
	}
}

// settleWithoutSession records a failure that precedes any dispatch, e.g.
// no eligible carriers. The user keeps their draft and can retry.
func (c *Controller) settleWithoutSession(edit pendingEdit, state, errMsg string) {
	res := model.FinalResult{
		TenantID:          edit.tenantID,
		Fingerprint:       edit.shipment.Fingerprint(),
		State:             state,
		Error:             errMsg,
		CompletedCarriers: map[string]int{},
		FailedCarriers:    map[string]string{},
		SettledAt:         c.Clock.Now().UTC().Format(time.RFC3339),
	}
	c.mu.Lock()
	c.state = state
	c.lastResult = &res
	c.mu.Unlock()
	if r := c.Reconciler; r != nil && r.Notify != nil {
		r.Notify(model.SessionUpdate{
			TenantID:          edit.tenantID,
			State:             state,
			CompletedCarriers: map[string]int{},
			FailedCarriers:    map[string]string{},
		})
	}
	if c.OnSettled != nil {
		c.OnSettled(res)
	}
}

// Cancel retires the active session (caller navigated away). Late
// outcomes are discarded by session identity, never by global state.
func (c *Controller) Cancel() {
	c.mu.Lock()
	c.seq++ // drop any pending debounce
	if c.active != nil {
		c.active.Retire()
		c.active = nil
	}
	c.state = model.SessionIdle
	c.mu.Unlock()
}

// fetchEligible gates dispatch: both addresses routable and at least one
// complete package.
func fetchEligible(d model.ShipmentDraft) bool {
	if !addressRoutable(d.Origin) || !addressRoutable(d.Destination) {
		return false
	}
	for _, p := range d.Packages {
		if p.WeightLb > 0 {
			return true
		}
	}
	return false
}

func addressRoutable(a model.Address) bool {
	return a.PostalCode != "" && a.City != "" && a.State != ""
}
