package webflow

import (
    "strings"
    "time"

    "hookrelay/internal/integrations"
)

// Adapter handles Webflow site and form callbacks.
type Adapter struct{}

func (Adapter) Kind() integrations.Kind { return integrations.KindWebflow }

func (Adapter) SignatureHeader() string { return "x-webflow-signature" }

func (Adapter) RateLimit() integrations.Limit { return integrations.Limit{Requests: 1000, Window: time.Hour} }

func (Adapter) ExtractEventType(h map[string]string, body map[string]any) string {
    ev := integrations.Header(h, "x-webflow-event")
    if ev == "" { ev = integrations.Str(body, "event_type") }
    return integrations.Qualify(integrations.KindWebflow, ev)
}

// TransformInbound turns form submissions into a contact record; other
// events pass through tagged with their source.
func (Adapter) TransformInbound(eventType string, body map[string]any) map[string]any {
    if eventType != integrations.WebflowFormSubmission {
        out := map[string]any{"source": "webflow"}
        for k, v := range body { out[k] = v }
        return out
    }
    data := body
    if d, ok := body["data"].(map[string]any); ok { data = d }
    first, last := splitName(integrations.Str(data, "name"))
    var userID any
    if u := integrations.Str(data, "userId"); u != "" { userID = u }
    return map[string]any{
        "userId":    userID,
        "email":     integrations.Str(data, "email"),
        "firstName": first,
        "lastName":  last,
        "source":    "webflow",
        "metadata": map[string]any{
            "webflowId": data["id"],
            "formName":  data["formName"],
        },
    }
}

func splitName(full string) (string, string) {
    parts := strings.Fields(full)
    if len(parts) == 0 { return "", "" }
    return parts[0], strings.Join(parts[1:], " ")
}
