package relume

import (
    "time"

    "hookrelay/internal/integrations"
)

// Adapter handles Relume library callbacks.
type Adapter struct{}

func (Adapter) Kind() integrations.Kind { return integrations.KindRelume }

func (Adapter) SignatureHeader() string { return "x-relume-signature" }

func (Adapter) RateLimit() integrations.Limit { return integrations.Limit{Requests: 2000, Window: time.Hour} }

func (Adapter) ExtractEventType(_ map[string]string, body map[string]any) string {
    ev := integrations.Str(body, "event")
    if ev == "" { ev = integrations.Str(body, "webhook_type") }
    return integrations.Qualify(integrations.KindRelume, ev)
}

func (Adapter) TransformInbound(_ string, body map[string]any) map[string]any {
    out := make(map[string]any, len(body)+1)
    for k, v := range body { out[k] = v }
    out["source"] = "relume"
    return out
}
