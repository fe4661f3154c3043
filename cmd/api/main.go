package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ratehub/internal/api"
	"ratehub/internal/metrics"
)

func main() {
	srvDeps, err := api.NewServer()
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	metrics.RegisterDefault()

	mux := http.NewServeMux()

	// Shipment validation
	mux.HandleFunc("/v1/shipments/validate", srvDeps.ShipmentValidateHandler)

	// Quote lifecycle
	mux.HandleFunc("/v1/quotes", srvDeps.QuotesHandler)
	mux.HandleFunc("/v1/quotes/refresh", srvDeps.QuoteRefreshHandler)
	mux.HandleFunc("/v1/quotes/cancel", srvDeps.QuoteCancelHandler)
	mux.HandleFunc("/v1/quotes/active", srvDeps.ActiveQuoteHandler)
	mux.HandleFunc("/v1/quotes/results", srvDeps.QuoteResultsHandler)
	mux.HandleFunc("/v1/quotes/stream", srvDeps.QuoteStreamHandler)

	// WebSocket rate subscriptions
	mux.HandleFunc("/v1/rates/ws", srvDeps.RatesWSHandler)

	// Carrier config & markup rules
	mux.HandleFunc("/v1/carriers", srvDeps.CarriersHandler)
	mux.HandleFunc("/v1/markup-rules", srvDeps.MarkupRulesHandler)

	// Subscriptions
	mux.HandleFunc("/v1/subscriptions", srvDeps.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", srvDeps.SubscriptionByIDHandler)

	// Admin
	mux.HandleFunc("/v1/admin/carrier-stats", srvDeps.CarrierStatsHandler)
	mux.HandleFunc("/v1/admin/debug", srvDeps.DebugJSON)

	// Health
	mux.HandleFunc("/healthz", srvDeps.HealthHandler)
	mux.HandleFunc("/readyz", srvDeps.ReadyHandler)

	// Metrics
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("API listening on %s", addr)
	// Start webhook worker
	if srvDeps.Pub != nil {
		worker := srvDeps.NewWebhookWorker()
		worker.Start()
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		dur := time.Since(start)
		log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
	})
}
