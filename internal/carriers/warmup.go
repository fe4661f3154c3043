package carriers

import (
	"context"
	"log"
	"sync"
	"time"

	"ratehub/internal/model"
)

// Pinger is the lightweight priming call a provider exposes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WarmupReport summarizes one warmup pass. Warmup only affects latency,
// never correctness, so nothing here is fatal.
type WarmupReport struct {
	Attempted []string      `json:"attempted"`
	Warmed    []string      `json:"warmed"`
	Failed    []string      `json:"failed"`
	Elapsed   time.Duration `json:"-"`
}

// Warmup pings carriers with expensive cold starts before the real rate
// request to shrink worst-case latency. Errors are swallowed and logged.
type Warmup struct {
	Pingers func(key string) Pinger
	Grace   time.Duration
}

func NewWarmup(pingers func(key string) Pinger) *Warmup {
	return &Warmup{Pingers: pingers, Grace: 1500 * time.Millisecond}
}

// Run primes the cold-start carriers in the set when the shipment shape
// suggests them (freight or oversized). It waits at most Grace; pings
// still in flight keep running in the background.
func (w *Warmup) Run(ctx context.Context, shipment model.ShipmentDraft, carriers []model.CarrierDescriptor) WarmupReport {
	start := time.Now()
	var report WarmupReport
	if !shipment.IsFreight() {
		return report
	}
	var mu sync.Mutex
	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, c := range carriers {
		if !c.ColdStart {
			continue
		}
		p := w.Pingers(c.Key)
		if p == nil {
			continue
		}
		report.Attempted = append(report.Attempted, c.Key)
		wg.Add(1)
		go func(key string, p Pinger) {
			defer wg.Done()
			if err := p.Ping(ctx); err != nil {
				log.Printf("warmup ping %s failed: %v", key, err)
				mu.Lock()
				report.Failed = append(report.Failed, key)
				mu.Unlock()
				return
			}
			mu.Lock()
			report.Warmed = append(report.Warmed, key)
			mu.Unlock()
		}(c.Key, p)
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	grace := w.Grace
	if grace <= 0 {
		grace = 1500 * time.Millisecond
	}
	select {
	case <-done:
	case <-time.After(grace):
	case <-ctx.Done():
	}
	mu.Lock()
	report.Elapsed = time.Since(start)
	out := WarmupReport{
		Attempted: append([]string(nil), report.Attempted...),
		Warmed:    append([]string(nil), report.Warmed...),
		Failed:    append([]string(nil), report.Failed...),
		Elapsed:   report.Elapsed,
	}
	mu.Unlock()
	return out
}
