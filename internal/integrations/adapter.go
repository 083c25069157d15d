package integrations

import (
    "fmt"
    "strings"
    "time"
)

// Kind identifies a supported external integration.
type Kind string

const (
    KindWebflow Kind = "webflow"
    KindFigma   Kind = "figma"
    KindZapier  Kind = "zapier"
    KindRelume  Kind = "relume"
)

// Kinds lists every supported integration.
var Kinds = []Kind{KindWebflow, KindFigma, KindZapier, KindRelume}

// ParseKind resolves a name case-insensitively.
func ParseKind(name string) (Kind, error) {
    k := Kind(strings.ToLower(strings.TrimSpace(name)))
    for _, known := range Kinds {
        if k == known { return k, nil }
    }
    return "", fmt.Errorf("unknown integration %q", name)
}

// Limit is a request budget per window.
type Limit struct {
    Requests int
    Window   time.Duration
}

// Adapter describes how one external tool calls us back.
type Adapter interface {
    Kind() Kind
    // SignatureHeader is the lower-case header carrying the HMAC, or "" if the
    // tool does not sign its callbacks.
    SignatureHeader() string
    // ExtractEventType returns the qualified event type ("<kind>.<name>") or "".
    ExtractEventType(headers map[string]string, body map[string]any) string
    // TransformInbound maps the tool's body into the canonical internal shape.
    TransformInbound(eventType string, body map[string]any) map[string]any
    RateLimit() Limit
}

// Registry maps kinds to adapters.
type Registry struct {
    adapters map[Kind]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
    r := &Registry{adapters: map[Kind]Adapter{}}
    for _, a := range adapters { r.adapters[a.Kind()] = a }
    return r
}

// Lookup parses name and returns its adapter.
func (r *Registry) Lookup(name string) (Adapter, bool) {
    k, err := ParseKind(name)
    if err != nil { return nil, false }
    a, ok := r.adapters[k]
    return a, ok
}

// Header reads a header from a map whose keys are already lower-cased.
func Header(h map[string]string, name string) string { return strings.TrimSpace(h[strings.ToLower(name)]) }

// Str returns body[key] when it is a non-empty string.
func Str(body map[string]any, key string) string {
    if s, ok := body[key].(string); ok { return strings.TrimSpace(s) }
    return ""
}

// Qualify prefixes ev with the integration name unless it already is.
func Qualify(k Kind, ev string) string {
    if ev == "" { return "" }
    prefix := string(k) + "."
    if strings.HasPrefix(ev, prefix) { return ev }
    return prefix + ev
}

// Events emitted by external tools.
const (
    WebflowFormSubmission = "webflow.form_submission"
    WebflowSitePublished  = "webflow.site_published"
    WebflowCMSUpdated     = "webflow.cms_updated"
    WebflowOrderPlaced    = "webflow.order_placed"

    FigmaFileUpdated      = "figma.file_updated"
    FigmaCommentAdded     = "figma.comment_added"
    FigmaVersionCreated   = "figma.version_created"
    FigmaComponentUpdated = "figma.component_updated"

    RelumeComponentUpdated  = "relume.component_updated"
    RelumeLibrarySynced     = "relume.library_synced"
    RelumeStyleGuideUpdated = "relume.style_guide_updated"

    ZapierZapTriggered      = "zapier.zap_triggered"
    ZapierWorkflowCompleted = "zapier.workflow_completed"
    ZapierErrorOccurred     = "zapier.error_occurred"
)
