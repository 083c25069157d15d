package metrics

import (
    "sync"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the service
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

    // WebhookDeliveries counts delivery attempts by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook delivery attempts by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 30000}},
        []string{"event_type", "status"},
    )
    // WebhookPermanentFailures counts jobs dropped after exhausting attempts
    WebhookPermanentFailures = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_permanent_failures_total", Help: "Webhook jobs that exhausted all attempts."},
        []string{"event_type"},
    )
    // QueueDepth is the number of jobs waiting (ready or delayed)
    QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{Name: "webhook_queue_depth", Help: "Pending webhook jobs."})
    // QueueInFlight is the number of deliveries currently running
    QueueInFlight = prometheus.NewGauge(prometheus.GaugeOpts{Name: "webhook_queue_in_flight", Help: "Webhook deliveries in flight."})
    // RateLimited counts deferrals caused by the per-key rate limiter
    RateLimited = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_rate_limited_total", Help: "Requests deferred or rejected by the rate limiter."},
        []string{"direction"},
    )
    // InboundWebhooks counts inbound callbacks by integration and outcome
    InboundWebhooks = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "inbound_webhooks_total", Help: "Inbound webhooks by integration and outcome."},
        []string{"integration", "outcome"},
    )
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        Registry.MustRegister(WebhookPermanentFailures)
        Registry.MustRegister(QueueDepth)
        Registry.MustRegister(QueueInFlight)
        Registry.MustRegister(RateLimited)
        Registry.MustRegister(InboundWebhooks)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
