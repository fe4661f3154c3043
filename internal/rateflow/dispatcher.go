package rateflow

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"ratehub/internal/metrics"
	"ratehub/internal/model"
)

// Provider is one carrier's rate integration. A provider may return both a
// partial rate slice and an error: the valid subset is still accepted while
// the carrier is marked failed.
type Provider interface {
	GetRates(ctx context.Context, shipment model.ShipmentDraft) ([]model.RawRate, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, shipment model.ShipmentDraft) ([]model.RawRate, error)

func (f ProviderFunc) GetRates(ctx context.Context, shipment model.ShipmentDraft) ([]model.RawRate, error) {
	return f(ctx, shipment)
}

// DispatchSummary is delivered after the outcome stream closes. Finalize
// re-merges its outcomes so providers whose rates only materialize in the
// terminal summary are still covered.
type DispatchSummary struct {
	Outcomes []model.CarrierOutcome
}

// Dispatcher fans one rate request out to N carriers concurrently. Each
// carrier gets an independent timeout and failure isolation; cold-start
// carriers get an extended timeout and one retry with backoff.
type Dispatcher struct {
	Providers    func(key string) Provider
	BaseTimeout  time.Duration
	ColdTimeout  time.Duration
	RetryBackoff time.Duration
	// Per-carrier request throttle so refresh storms cannot hammer a
	// provider. Zero RPS disables throttling.
	RPS   float64
	Burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewDispatcher(providers func(key string) Provider) *Dispatcher {
	return &Dispatcher{
		Providers:    providers,
		BaseTimeout:  10 * time.Second,
		ColdTimeout:  45 * time.Second,
		RetryBackoff: 2 * time.Second,
		RPS:          2,
		Burst:        4,
		limiters:     map[string]*rate.Limiter{},
	}
}

func (d *Dispatcher) limiter(key string) *rate.Limiter {
	if d.RPS <= 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.limiters == nil {
		d.limiters = map[string]*rate.Limiter{}
	}
	l := d.limiters[key]
	if l == nil {
		burst := d.Burst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(d.RPS), burst)
		d.limiters[key] = l
	}
	return l
}

// Dispatch launches one call per carrier and returns the outcome stream
// plus a summary channel that yields once after the stream closes. If the
// session is retired mid-flight no further outcomes are delivered.
func (d *Dispatcher) Dispatch(sess *Session, carriers []model.CarrierDescriptor) (<-chan model.CarrierOutcome, <-chan DispatchSummary) {
	out := make(chan model.CarrierOutcome, len(carriers))
	summaryCh := make(chan DispatchSummary, 1)
	inner := make(chan model.CarrierOutcome, len(carriers))

	var wg sync.WaitGroup
	for _, c := range carriers {
		wg.Add(1)
		go func(c model.CarrierDescriptor) {
			defer wg.Done()
			oc := d.callCarrier(sess.Context(), sess.Shipment, c)
			select {
			case inner <- oc:
			case <-sess.Context().Done():
			}
		}(c)
	}
	go func() {
		wg.Wait()
		close(inner)
	}()
	go func() {
		var summary DispatchSummary
		for oc := range inner {
			summary.Outcomes = append(summary.Outcomes, oc)
			select {
			case out <- oc:
			case <-sess.Context().Done():
			}
		}
		close(out)
		summaryCh <- summary
		close(summaryCh)
	}()
	return out, summaryCh
}

func (d *Dispatcher) carrierTimeout(c model.CarrierDescriptor) time.Duration {
	if c.TimeoutMs > 0 {
		return time.Duration(c.TimeoutMs) * time.Millisecond
	}
	if c.ColdStart {
		return d.ColdTimeout
	}
	return d.BaseTimeout
}

// callCarrier runs the attempt loop for one carrier and produces its
// terminal outcome. One carrier's failure never aborts the others.
func (d *Dispatcher) callCarrier(ctx context.Context, shipment model.ShipmentDraft, c model.CarrierDescriptor) model.CarrierOutcome {
	p := d.Providers(c.Key)
	start := time.Now()
	if p == nil {
		return model.CarrierOutcome{Carrier: c.Key, Status: model.OutcomeFailed, Error: "no provider registered"}
	}
	if l := d.limiter(c.Key); l != nil {
		if err := l.Wait(ctx); err != nil {
			return model.CarrierOutcome{Carrier: c.Key, Status: model.OutcomeFailed, Error: "throttled: " + err.Error(), LatencyMs: int(time.Since(start).Milliseconds())}
		}
	}
	attempts := 1
	if c.ColdStart {
		attempts = 2
	}
	timeout := d.carrierTimeout(c)

	var rates []model.RawRate
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			backoff := d.RetryBackoff * time.Duration(1<<(i-1))
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				i = attempts
				continue
			case <-time.After(backoff):
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		rates, lastErr = p.GetRates(attemptCtx, shipment)
		cancel()
		if lastErr == nil {
			break
		}
		if !retryable(lastErr) {
			break
		}
	}
	latency := int(time.Since(start).Milliseconds())

	oc := model.CarrierOutcome{Carrier: c.Key, Rates: rates, LatencyMs: latency}
	switch {
	case lastErr != nil:
		oc.Status = model.OutcomeFailed
		oc.Error = classify(c.Key, lastErr).Error()
	case len(rates) == 0:
		// Application success with zero rates is empty, not failed.
		oc.Status = model.OutcomeEmpty
	default:
		oc.Status = model.OutcomeSuccess
	}
	metrics.CarrierRequests.WithLabelValues(c.Key, oc.Status).Inc()
	metrics.CarrierLatency.WithLabelValues(c.Key).Observe(float64(latency))
	if oc.Status == model.OutcomeFailed {
		log.Printf("carrier %s failed after %dms: %s", c.Key, latency, oc.Error)
	}
	return oc
}

// retryable reports whether a cold-start carrier's extra attempt should
// fire. Malformed responses are deterministic and not worth retrying.
func retryable(err error) bool {
	var ce *CarrierError
	if errors.As(err, &ce) {
		return ce.Kind != KindInvalidResponse
	}
	return true
}

// classify maps an arbitrary provider error onto the carrier taxonomy.
func classify(carrier string, err error) *CarrierError {
	var ce *CarrierError
	if errors.As(err, &ce) {
		return ce
	}
	kind := KindTransport
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &CarrierError{Carrier: carrier, Kind: kind, Err: err}
}
