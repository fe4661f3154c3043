package rateflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"ratehub/internal/model"
)

// Session is one aggregation attempt. It owns the shipment snapshot, the
// carrier set, the accumulated rate list, and the cancellation context.
// All rate-list mutation goes through the Reconciler on a single
// goroutine; the mutex only guards snapshot reads against that writer.
type Session struct {
	ID          string
	TenantID    string
	Fingerprint string
	Gen         int64
	Shipment    model.ShipmentDraft
	Carriers    []model.CarrierDescriptor
	StartedAt   time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       string
	rates       []model.PricedRate
	seen        map[model.RateKey]struct{}
	completed   map[string]int
	failed      map[string]string
	retired     bool
	coldPending map[string]struct{}
	coldDone    chan struct{}
}

// NewSession snapshots the shipment and carrier set under a fresh context
// bounded by ceiling (the coarse session-level timeout).
func NewSession(parent context.Context, gen int64, tenantID string, shipment model.ShipmentDraft, carriers []model.CarrierDescriptor, ceiling time.Duration, now time.Time) *Session {
	ctx, cancel := context.WithTimeout(parent, ceiling)
	s := &Session{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Fingerprint: shipment.Fingerprint(),
		Gen:         gen,
		Shipment:    shipment,
		Carriers:    carriers,
		StartedAt:   now,
		ctx:         ctx,
		cancel:      cancel,
		state:       model.SessionDispatching,
		seen:        map[model.RateKey]struct{}{},
		completed:   map[string]int{},
		failed:      map[string]string{},
		coldPending: map[string]struct{}{},
		coldDone:    make(chan struct{}),
	}
	for _, c := range carriers {
		if c.ColdStart {
			s.coldPending[c.Key] = struct{}{}
		}
	}
	if len(s.coldPending) == 0 {
		close(s.coldDone)
	}
	return s
}

func (s *Session) Context() context.Context { return s.ctx }

// Retire cancels outstanding carrier calls and marks the session so late
// outcomes are discarded by identity check.
func (s *Session) Retire() {
	s.mu.Lock()
	already := s.retired
	s.retired = true
	if !already {
		switch s.state {
		case model.SessionDispatching, model.SessionReconciling:
			s.state = model.SessionCancelled
		}
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *Session) Retired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retired
}

// ColdSettled is closed once every cold-start carrier in the session has
// reached a terminal outcome. Sessions without cold carriers start closed.
func (s *Session) ColdSettled() <-chan struct{} { return s.coldDone }

// HasPendingCold reports whether a cold-start carrier is still in flight.
func (s *Session) HasPendingCold() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.coldPending) > 0
}

func (s *Session) setState(state string) {
	s.mu.Lock()
	if !s.retired {
		s.state = state
	}
	s.mu.Unlock()
}

// addRate appends a priced rate unless its key is already present.
// Returns false for duplicates and for retired sessions.
func (s *Session) addRate(r model.PricedRate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return false
	}
	k := r.Key()
	if _, dup := s.seen[k]; dup {
		return false
	}
	s.seen[k] = struct{}{}
	s.rates = append(s.rates, r)
	return true
}

// settleCarrier records a carrier's terminal status. A carrier lands in
// completed or failed, never both; the first terminal status wins.
func (s *Session) settleCarrier(key, status string, rateCount int, reason string) {
	s.mu.Lock()
	_, inCompleted := s.completed[key]
	_, inFailed := s.failed[key]
	if !inCompleted && !inFailed && !s.retired {
		if status == model.OutcomeFailed {
			s.failed[key] = reason
		} else {
			s.completed[key] = rateCount
		}
	}
	if _, cold := s.coldPending[key]; cold {
		delete(s.coldPending, key)
		if len(s.coldPending) == 0 {
			close(s.coldDone)
		}
	}
	s.mu.Unlock()
}

// Snapshot returns the caller-facing view of the session.
func (s *Session) Snapshot() model.SessionUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	rates := make([]model.PricedRate, len(s.rates))
	copy(rates, s.rates)
	completed := make(map[string]int, len(s.completed))
	for k, v := range s.completed {
		completed[k] = v
	}
	failed := make(map[string]string, len(s.failed))
	for k, v := range s.failed {
		failed[k] = v
	}
	return model.SessionUpdate{
		SessionID:         s.ID,
		TenantID:          s.TenantID,
		State:             s.state,
		Rates:             rates,
		CompletedCarriers: completed,
		FailedCarriers:    failed,
	}
}

// RateCount is the current accumulated rate count.
func (s *Session) RateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rates)
}
