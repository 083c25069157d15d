package api

import (
    "context"
    "errors"
    "io"
    "net/http"
    "strconv"
    "strings"
    "time"

    "hookrelay/internal/model"
    "hookrelay/internal/store"
    "hookrelay/internal/webhooks"
)

const maxInboundBody = 1 << 20

// IntegrationWebhookHandler handles POST /v1/integrations/{name}/webhook.
// External tools authenticate with their signature header, not a bearer token.
func (s *Server) IntegrationWebhookHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/integrations/")
    parts := strings.Split(rest, "/")
    if len(parts) != 2 || parts[0] == "" || parts[1] != "webhook" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }

    body, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBody+1))
    if err != nil { writeProblem(w, 400, "Unreadable body", err.Error(), r.URL.Path); return }
    if len(body) > maxInboundBody { writeProblem(w, http.StatusRequestEntityTooLarge, "Payload too large", "", r.URL.Path); return }

    headers := make(map[string]string, len(r.Header))
    for k := range r.Header { headers[k] = r.Header.Get(k) }

    res := s.Manager.ProcessIncoming(r.Context(), parts[0], headers, body)
    if res.Success { writeJSON(w, http.StatusOK, res); return }
    writeProblem(w, inboundStatus(res.Message), res.Message, "", r.URL.Path)
}

func inboundStatus(msg string) int {
    switch msg {
    case webhooks.MsgIntegrationUnknown:
        return http.StatusNotFound
    case webhooks.MsgInvalidSignature:
        return http.StatusUnauthorized
    case webhooks.MsgRateLimited:
        return http.StatusTooManyRequests
    case webhooks.MsgInternalError:
        return http.StatusInternalServerError
    default:
        return http.StatusBadRequest
    }
}

// createdWebhook returns the secret once, on creation, so it can be pasted
// into the external tool.
type createdWebhook struct {
    model.Registration
    Secret string `json:"secret,omitempty"`
}

// WebhooksHandler handles POST/GET /v1/webhooks
func (s *Server) WebhooksHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/webhooks" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p, ok := s.requirePrincipal(w, r)
    if !ok { return }
    switch r.Method {
    case http.MethodPost:
        var in model.RegistrationInput
        if !decodeJSON(w, r, &in) { return }
        if !p.IsAdmin() || in.OwnerID == "" { in.OwnerID = p.OwnerID }
        reg, err := s.Manager.CreateWebhook(r.Context(), in)
        if err != nil { s.writeError(w, r, "Create webhook failed", err); return }
        writeJSON(w, http.StatusCreated, createdWebhook{Registration: reg, Secret: reg.Secret})
    case http.MethodGet:
        owner := p.OwnerID
        if p.IsAdmin() { owner = r.URL.Query().Get("ownerId") }
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" {
            if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 { limit = n }
        }
        items, next, err := s.Store.List(r.Context(), owner, cursor, limit)
        if err != nil { writeProblem(w, 500, "List webhooks failed", err.Error(), r.URL.Path); return }
        if items == nil { items = []model.Registration{} }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// WebhookByIDHandler handles GET/PATCH /v1/webhooks/{id} and the
// /test, /analytics and /events/ws sub-resources.
func (s *Server) WebhookByIDHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/webhooks/")
    if rest == "" { writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path); return }
    parts := strings.Split(rest, "/")
    id := parts[0]
    action := strings.Join(parts[1:], "/")

    p, ok := s.requirePrincipal(w, r)
    if !ok { return }
    reg, err := s.Store.Get(r.Context(), id)
    if err != nil { s.writeError(w, r, "Webhook not found", err); return }
    if !canAccess(p, reg) { writeProblem(w, 403, "Forbidden", "not authorized for this webhook", r.URL.Path); return }

    switch action {
    case "":
    case "test":
        if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
        writeJSON(w, http.StatusOK, s.Manager.TestWebhook(r.Context(), id))
        return
    case "analytics":
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        m, err := s.Manager.WebhookAnalytics(r.Context(), id)
        if err != nil { s.writeError(w, r, "Analytics failed", err); return }
        writeJSON(w, http.StatusOK, m)
        return
    case "events/ws":
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        s.EventsWSHandler(w, r, id)
        return
    default:
        writeProblem(w, 404, "Not Found", "", r.URL.Path)
        return
    }

    switch r.Method {
    case http.MethodGet:
        writeJSON(w, http.StatusOK, reg)
    case http.MethodPatch:
        var patch model.RegistrationPatch
        if !decodeJSON(w, r, &patch) { return }
        updated, err := s.Manager.UpdateWebhook(r.Context(), id, patch)
        if err != nil { s.writeError(w, r, "Update webhook failed", err); return }
        writeJSON(w, http.StatusOK, updated)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

type eventRequest struct {
    EventType   string `json:"eventType"`
    Payload     any    `json:"payload"`
    OwnerID     string `json:"ownerId,omitempty"`
    Integration string `json:"integration,omitempty"`
}

// EventsHandler handles POST /v1/events from domain producers.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/events" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p, ok := s.requirePrincipal(w, r)
    if !ok { return }
    if !(p.IsAdmin() || p.Role == "service") { writeProblem(w, 403, "Forbidden", "service or admin required", r.URL.Path); return }
    var req eventRequest
    if !decodeJSON(w, r, &req) { return }
    if strings.TrimSpace(req.EventType) == "" { writeProblem(w, 400, "Missing eventType", "", r.URL.Path); return }
    var opts []webhooks.SendOption
    if req.OwnerID != "" { opts = append(opts, webhooks.WithOwner(req.OwnerID)) }
    if req.Integration != "" { opts = append(opts, webhooks.WithIntegration(req.Integration)) }
    n := s.Manager.SendWebhook(r.Context(), req.EventType, req.Payload, opts...)
    writeJSON(w, http.StatusAccepted, map[string]int{"enqueued": n})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
    defer cancel()
    if err := s.Store.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    type pinger interface{ Ping(ctx context.Context) error }
    if pb, ok := s.Broker.(pinger); ok {
        if err := pb.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", "broker: "+err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]any{"status": "ready", "queueDepth": s.Manager.Queue.Len()})
}

// writeError maps domain errors onto problem responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, title string, err error) {
    switch {
    case errors.Is(err, store.ErrNotFound):
        writeProblem(w, http.StatusNotFound, title, err.Error(), r.URL.Path)
    case errors.Is(err, webhooks.ErrInvalidRegistration):
        writeProblem(w, http.StatusBadRequest, title, err.Error(), r.URL.Path)
    default:
        writeProblem(w, http.StatusInternalServerError, title, err.Error(), r.URL.Path)
    }
}
