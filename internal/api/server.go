// Package api exposes the webhook manager over HTTP.
package api

import (
    "net/http"
    "strings"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "hookrelay/internal/auth"
    "hookrelay/internal/config"
    "hookrelay/internal/logging"
    "hookrelay/internal/metrics"
    "hookrelay/internal/store"
    "hookrelay/internal/webhooks"
)

type Server struct {
    Manager *webhooks.Manager
    Store   store.Store
    Broker  EventBroker
    Auth    *auth.Verifier
    Cfg     config.Config
}

func NewServer(m *webhooks.Manager, broker EventBroker, v *auth.Verifier, cfg config.Config) *Server {
    if broker == nil { broker = NewBroker() }
    return &Server{Manager: m, Store: m.Store, Broker: broker, Auth: v, Cfg: cfg}
}

// Handler wires every route behind the access-log middleware.
func (s *Server) Handler() http.Handler {
    mux := http.NewServeMux()

    // External tools
    mux.HandleFunc("/v1/integrations/", s.IntegrationWebhookHandler)

    // Registrations
    mux.HandleFunc("/v1/webhooks", s.WebhooksHandler)
    mux.HandleFunc("/v1/webhooks/", s.WebhookByIDHandler) // includes /test, /analytics, /events/ws

    // Domain producers
    mux.HandleFunc("/v1/events", s.EventsHandler)

    // Ops
    mux.HandleFunc("/healthz", s.HealthHandler)
    mux.HandleFunc("/readyz", s.ReadyHandler)
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
    mux.HandleFunc("/debug", s.DebugJSON)

    return logging.HTTPLogger(routeLabel, mux)
}

// routeLabel collapses ids so metric label cardinality stays bounded.
func routeLabel(r *http.Request) string {
    p := r.URL.Path
    switch {
    case strings.HasPrefix(p, "/v1/integrations/"):
        return "/v1/integrations/{name}/webhook"
    case strings.HasPrefix(p, "/v1/webhooks/"):
        rest := strings.TrimPrefix(p, "/v1/webhooks/")
        if i := strings.Index(rest, "/"); i >= 0 {
            return "/v1/webhooks/{id}" + rest[i:]
        }
        return "/v1/webhooks/{id}"
    case p == "/v1/webhooks", p == "/v1/events", p == "/healthz", p == "/readyz", p == "/metrics", p == "/debug":
        return p
    default:
        return "other"
    }
}
