package api

import (
    "net/http"
    "time"

    "hookrelay/internal/buildinfo"
)

// DebugJSON reports build info and the effective, non-secret configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    c := s.Cfg
    info := map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "listenAddr": c.ListenAddr,
            "authMode": c.Auth.Mode,
            "systemName": c.Delivery.SystemName,
            "deliveryTimeout": c.Delivery.Timeout.String(),
            "maxConcurrency": c.Delivery.MaxConcurrency,
            "maxAttempts": c.Delivery.MaxAttempts,
            "backoffBase": c.Delivery.BackoffBase.String(),
            "rateLimitEnabled": c.RateLimit.Enabled,
            "hasDatabaseUrl": c.DatabaseURL != "",
            "hasRedisUrl": c.RedisURL != "",
        },
        "queue": map[string]int{"pending": s.Manager.Queue.Len(), "inFlight": s.Manager.Queue.InFlight()},
    }
    writeJSON(w, http.StatusOK, info)
}
