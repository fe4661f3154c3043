package carriers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"ratehub/internal/model"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func freightDraft() model.ShipmentDraft {
	d := parcelDraft(800)
	d.Type = "freight"
	return d
}

func coldCarrierSet() []model.CarrierDescriptor {
	return []model.CarrierDescriptor{
		{Key: "roadlink"},
		{Key: "glacierfreight", ColdStart: true},
		{Key: "oceanline", ColdStart: true},
	}
}

func TestWarmupPingsOnlyColdCarriers(t *testing.T) {
	var pinged int32
	w := NewWarmup(func(key string) Pinger {
		if key == "roadlink" {
			t.Errorf("warm carrier %s pinged", key)
		}
		return pingFunc(func(ctx context.Context) error {
			atomic.AddInt32(&pinged, 1)
			return nil
		})
	})
	report := w.Run(context.Background(), freightDraft(), coldCarrierSet())
	if n := atomic.LoadInt32(&pinged); n != 2 {
		t.Fatalf("pings = %d, want 2", n)
	}
	if len(report.Warmed) != 2 || len(report.Failed) != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestWarmupSkipsParcelShipments(t *testing.T) {
	w := NewWarmup(func(key string) Pinger {
		t.Errorf("parcel shipment triggered warmup of %s", key)
		return nil
	})
	report := w.Run(context.Background(), parcelDraft(10), coldCarrierSet())
	if len(report.Attempted) != 0 {
		t.Fatalf("attempted = %v", report.Attempted)
	}
}

func TestWarmupFailureIsSwallowed(t *testing.T) {
	w := NewWarmup(func(key string) Pinger {
		return pingFunc(func(ctx context.Context) error {
			if key == "glacierfreight" {
				return errors.New("cold instance 503")
			}
			return nil
		})
	})
	report := w.Run(context.Background(), freightDraft(), coldCarrierSet())
	if len(report.Failed) != 1 || report.Failed[0] != "glacierfreight" {
		t.Fatalf("failed = %v", report.Failed)
	}
	if len(report.Warmed) != 1 {
		t.Fatalf("warmed = %v", report.Warmed)
	}
}

func TestWarmupBoundedByGrace(t *testing.T) {
	w := NewWarmup(func(key string) Pinger {
		return pingFunc(func(ctx context.Context) error {
			time.Sleep(2 * time.Second)
			return nil
		})
	})
	w.Grace = 20 * time.Millisecond
	start := time.Now()
	w.Run(context.Background(), freightDraft(), coldCarrierSet())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("warmup blocked for %v past its grace", elapsed)
	}
}

func TestWarmupNilPingerSkipped(t *testing.T) {
	w := NewWarmup(func(key string) Pinger { return nil })
	report := w.Run(context.Background(), freightDraft(), coldCarrierSet())
	if len(report.Attempted) != 0 {
		t.Fatalf("attempted = %v with no pingers", report.Attempted)
	}
}
