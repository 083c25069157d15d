package zapier

import (
    "time"

    "hookrelay/internal/integrations"
)

// Adapter handles Zapier zap callbacks.
type Adapter struct{}

func (Adapter) Kind() integrations.Kind { return integrations.KindZapier }

func (Adapter) SignatureHeader() string { return "x-zapier-signature" }

func (Adapter) RateLimit() integrations.Limit { return integrations.Limit{Requests: 5000, Window: time.Hour} }

func (Adapter) ExtractEventType(h map[string]string, body map[string]any) string {
    ev := integrations.Header(h, "x-zapier-event")
    if ev == "" { ev = integrations.Str(body, "type") }
    return integrations.Qualify(integrations.KindZapier, ev)
}

func (Adapter) TransformInbound(eventType string, body map[string]any) map[string]any {
    data := body["data"]
    if data == nil { data = body["payload"] }
    return map[string]any{
        "eventType": eventType,
        "userId":    body["user_id"],
        "data":      data,
        "source":    "zapier",
    }
}
