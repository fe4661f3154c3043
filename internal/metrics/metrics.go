package metrics

import (
    "sync"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // CarrierRequests counts carrier rate calls by carrier and outcome status
    CarrierRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "carrier_requests_total", Help: "Carrier rate requests by carrier and outcome."},
        []string{"carrier", "status"},
    )
    // CarrierLatency tracks carrier response latencies in milliseconds
    CarrierLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "carrier_latency_ms", Help: "Carrier rate call latency in ms.", Buckets: []float64{50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000, 60000}},
        []string{"carrier"},
    )
    // SessionsSettled counts aggregation sessions by end state
    SessionsSettled = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "rate_sessions_settled_total", Help: "Aggregation sessions settled by state."},
        []string{"state"},
    )
    // MarkupFailures counts rates kept at cost price after markup errors
    MarkupFailures = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "markup_failures_total", Help: "Rates kept at cost price after a markup failure."},
    )
    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(CarrierRequests)
        Registry.MustRegister(CarrierLatency)
        Registry.MustRegister(SessionsSettled)
        Registry.MustRegister(MarkupFailures)
        Registry.MustRegister(WebhookDeliveries)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
