package figma

import (
    "time"

    "hookrelay/internal/integrations"
)

// Adapter handles Figma file and comment callbacks.
type Adapter struct{}

func (Adapter) Kind() integrations.Kind { return integrations.KindFigma }

func (Adapter) SignatureHeader() string { return "x-figma-signature" }

func (Adapter) RateLimit() integrations.Limit { return integrations.Limit{Requests: 500, Window: time.Hour} }

func (Adapter) ExtractEventType(_ map[string]string, body map[string]any) string {
    return integrations.Qualify(integrations.KindFigma, integrations.Str(body, "event_type"))
}

func (Adapter) TransformInbound(eventType string, body map[string]any) map[string]any {
    out := map[string]any{
        "fileKey":     body["file_key"],
        "fileName":    body["file_name"],
        "timestamp":   body["timestamp"],
        "triggeredBy": body["triggered_by"],
        "source":      "figma",
    }
    if eventType == integrations.FigmaCommentAdded {
        out["comment"] = body["comment"]
    }
    return out
}
