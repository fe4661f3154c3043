package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"ratehub/internal/carriers"
	"ratehub/internal/model"
	"ratehub/internal/pricing"
	"ratehub/internal/rateflow"
	"ratehub/internal/store"
	"ratehub/internal/webhooks"
)

type Server struct {
	Store    store.Store
	Catalog  *carriers.Catalog
	Registry *carriers.Registry
	Resolver *carriers.Resolver
	Warm     *carriers.Warmup
	Pub      *webhooks.Publisher
	Broker   EventBroker

	mu          sync.Mutex
	controllers map[string]*rateflow.Controller
}

// NewServer creates a Server. If DATABASE_URL is unset, uses in-memory store.
func NewServer() (*Server, error) {
	dsn := os.Getenv("DATABASE_URL")
	var s store.Store
	if strings.TrimSpace(dsn) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		// Run migrations (dev helper)
		if os.Getenv("DB_MIGRATE") != "false" {
			if err := sp.MigrateDir("db/migrations"); err != nil {
				log.Printf("migrations skipped: %v", err)
			}
		}
		s = sp
	}
	catalog, err := carriers.LoadCatalog(os.Getenv("CARRIER_CATALOG"))
	if err != nil {
		return nil, err
	}
	registry := carriers.NewRegistry(catalog)
	warm := carriers.NewWarmup(func(key string) carriers.Pinger {
		if p := registry.Get(key); p != nil {
			return p
		}
		return nil
	})
	if v := envMs("WARMUP_GRACE_MS"); v > 0 {
		warm.Grace = v
	}
	// Broker selection
	var broker EventBroker
	if os.Getenv("REDIS_URL") != "" {
		if rb, err := NewRedisBroker(); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}
	return &Server{
		Store:       s,
		Catalog:     catalog,
		Registry:    registry,
		Resolver:    carriers.NewResolver(catalog, s),
		Warm:        warm,
		Pub:         webhooks.NewPublisher(s),
		Broker:      broker,
		controllers: map[string]*rateflow.Controller{},
	}, nil
}

// controllerFor returns the tenant's lifecycle controller, creating it on
// first use. Each tenant owns at most one active aggregation session.
func (s *Server) controllerFor(tenantID string) *rateflow.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctl, ok := s.controllers[tenantID]; ok {
		return ctl
	}
	d := rateflow.NewDispatcher(func(key string) rateflow.Provider {
		if p := s.Registry.Get(key); p != nil {
			return p
		}
		return nil
	})
	if v := envMs("CARRIER_TIMEOUT_MS"); v > 0 {
		d.BaseTimeout = v
	}
	if v := envMs("CARRIER_COLD_TIMEOUT_MS"); v > 0 {
		d.ColdTimeout = v
	}
	r := &rateflow.Reconciler{
		Markup:    pricing.NewEngine(s.Store),
		Validator: pricing.Validator{},
		Notify: func(u model.SessionUpdate) {
			s.Broker.Publish(tenantID, SSEEvent{Type: "rates.updated", Data: eventData(u)})
		},
		Observe: func(oc model.CarrierOutcome) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = s.Store.RecordCarrierLatency(ctx, oc.Carrier, oc.Status, oc.LatencyMs)
		},
	}
	ctl := rateflow.NewController(s.Resolver, d, r)
	ctl.Warmup = warmupAdapter{s.Warm}
	if v := envMs("RATE_DEBOUNCE_MS"); v > 0 {
		ctl.Debounce = v
	}
	if v := envMs("COLD_GRACE_MS"); v > 0 {
		ctl.ColdGrace = v
	}
	ctl.OnSettled = func(res model.FinalResult) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Store.SaveQuoteResult(ctx, res); err != nil {
			log.Printf("save quote result %s: %v", res.SessionID, err)
		}
		s.Broker.Publish(tenantID, SSEEvent{Type: "quote.settled", Data: eventData(res)})
		s.Pub.EmitQuoteSettled(ctx, res)
	}
	s.controllers[tenantID] = ctl
	return ctl
}

// warmupAdapter satisfies rateflow.WarmupCoordinator, discarding the
// report the coordinator produces.
type warmupAdapter struct{ w *carriers.Warmup }

func (a warmupAdapter) Warmup(ctx context.Context, shipment model.ShipmentDraft, cs []model.CarrierDescriptor) {
	_ = a.w.Run(ctx, shipment, cs)
}

func (s *Server) withTenant(r *http.Request) (context.Context, string) {
	// For now, get tenant from header; in production decode from JWT.
	tenant := r.Header.Get("X-Tenant-Id")
	if tenant == "" {
		tenant = "t_demo"
	}
	ctx := context.WithValue(r.Context(), ctxKeyTenant{}, tenant)
	return ctx, tenant
}

type ctxKeyTenant struct{}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store)
}

func envMs(name string) time.Duration {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return 0
}

// eventData flattens a payload struct into the broker's map shape.
func eventData(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{}
	}
	return m
}
