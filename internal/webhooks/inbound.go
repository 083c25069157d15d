package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"hookrelay/internal/integrations"
	"hookrelay/internal/integrations/figma"
	"hookrelay/internal/integrations/relume"
	"hookrelay/internal/integrations/webflow"
	"hookrelay/internal/integrations/zapier"
	"hookrelay/internal/metrics"
	"hookrelay/internal/model"
	"hookrelay/internal/store"
)

// Inbound result messages.
const (
	MsgProcessed          = "Webhook processed successfully"
	MsgIntegrationUnknown = "Integration not found"
	MsgInvalidSignature   = "Invalid signature"
	MsgUnknownEventType   = "Unable to determine event type"
	MsgInvalidPayload     = "Invalid JSON payload"
	MsgRateLimited        = "Rate limit exceeded"
	MsgInternalError      = "Internal error"
)

// IncomingEvent is a verified callback from an external tool.
type IncomingEvent struct {
	Integration integrations.Kind
	// WebhookID and OwnerID name the incoming registration whose secret
	// verified the callback. Both are empty when nothing was signed.
	WebhookID   string
	OwnerID     string
	Headers     map[string]string
	RawBody     []byte
	Body        map[string]any
	EventType   string
	ReceivedAt  time.Time
}

// Handler processes one inbound event type. data is the adapter's canonical shape.
type Handler func(ctx context.Context, evt IncomingEvent, data map[string]any) error

// SigningKey is the shared secret of one incoming registration.
type SigningKey struct {
	WebhookID string
	OwnerID   string
	Secret    string
}

// SecretSource lists the secrets an integration's callbacks may be signed with.
type SecretSource interface {
	IncomingSecrets(ctx context.Context, kind integrations.Kind) ([]SigningKey, error)
}

// StoreSecrets reads the secrets of every active incoming registration for
// the integration, across owners.
type StoreSecrets struct {
	Store store.Store
}

func (s StoreSecrets) IncomingSecrets(ctx context.Context, kind integrations.Kind) ([]SigningKey, error) {
	regs, err := s.Store.FindMatching(ctx, model.Filter{
		IntegrationName: string(kind),
		WebhookType:     model.WebhookIncoming,
		ActiveOnly:      true,
	})
	if err != nil {
		return nil, err
	}
	var keys []SigningKey
	for _, r := range regs {
		if r.HasSecret() {
			keys = append(keys, SigningKey{WebhookID: r.ID, OwnerID: r.OwnerID, Secret: r.Secret})
		}
	}
	return keys, nil
}

// matchKey returns the first key whose secret verifies the signature.
func matchKey(body []byte, signature string, keys []SigningKey) (SigningKey, bool) {
	if signature == "" {
		return SigningKey{}, false
	}
	for _, k := range keys {
		if Verify(body, signature, k.Secret) {
			return k, true
		}
	}
	return SigningKey{}, false
}

// DefaultRegistry holds every built-in adapter.
func DefaultRegistry() *integrations.Registry {
	return integrations.NewRegistry(webflow.Adapter{}, figma.Adapter{}, zapier.Adapter{}, relume.Adapter{})
}

// InboundProcessor verifies, normalises and routes external callbacks.
type InboundProcessor struct {
	registry  *integrations.Registry
	secrets   SecretSource
	limiter   *RateLimiter
	analytics *Analytics

	mu       sync.RWMutex
	handlers map[string]Handler
	now      func() time.Time
}

func NewInboundProcessor(reg *integrations.Registry, secrets SecretSource, limiter *RateLimiter, an *Analytics) *InboundProcessor {
	return &InboundProcessor{
		registry:  reg,
		secrets:   secrets,
		limiter:   limiter,
		analytics: an,
		handlers:  map[string]Handler{},
		now:       time.Now,
	}
}

// Handle registers h for a qualified event type such as "webflow.form_submission".
func (p *InboundProcessor) Handle(eventType string, h Handler) {
	p.mu.Lock()
	p.handlers[eventType] = h
	p.mu.Unlock()
}

// RegisterDefaultHandlers logs the events the service acts on.
func (p *InboundProcessor) RegisterDefaultHandlers() {
	for _, ev := range []string{integrations.WebflowFormSubmission, integrations.FigmaFileUpdated, integrations.ZapierZapTriggered} {
		p.Handle(ev, func(ctx context.Context, evt IncomingEvent, data map[string]any) error {
			log.Info().Str("integration", string(evt.Integration)).Str("event", evt.EventType).
				Interface("data", data).Msg("processing incoming event")
			return nil
		})
	}
}

// Process handles one callback. It never panics and never returns an error;
// the outcome is always a {success, message} result.
func (p *InboundProcessor) Process(ctx context.Context, integrationName string, headers map[string]string, rawBody []byte) (res model.Result) {
	kind := strings.ToLower(strings.TrimSpace(integrationName))
	eventType := ""
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("integration", kind).Interface("panic", r).Msg("incoming webhook panicked")
			res = model.Result{Success: false, Message: MsgInternalError}
		}
		outcome := "success"
		if !res.Success {
			outcome = outcomeLabel(res.Message)
		}
		if p.analytics != nil {
			p.analytics.RecordInbound(kind, eventType, outcome)
		}
	}()

	adapter, ok := p.registry.Lookup(integrationName)
	if !ok {
		kind = "unknown"
		return fail(MsgIntegrationUnknown)
	}
	kind = string(adapter.Kind())

	hdrs := lowerKeys(headers)
	var signer SigningKey
	if name := adapter.SignatureHeader(); name != "" && p.secrets != nil {
		keys, err := p.secrets.IncomingSecrets(ctx, adapter.Kind())
		if err != nil {
			log.Error().Err(err).Str("integration", kind).Msg("resolve incoming secrets")
			return fail(MsgInternalError)
		}
		if len(keys) > 0 {
			var ok bool
			if signer, ok = matchKey(rawBody, hdrs[name], keys); !ok {
				return fail(MsgInvalidSignature)
			}
		}
	}

	if !p.limiter.Allow("inbound:"+kind, adapter.RateLimit()) {
		metrics.RateLimited.WithLabelValues("inbound").Inc()
		return fail(MsgRateLimited)
	}

	var body map[string]any
	if err := json.Unmarshal(rawBody, &body); err != nil || body == nil {
		return fail(MsgInvalidPayload)
	}

	eventType = adapter.ExtractEventType(hdrs, body)
	if eventType == "" {
		return fail(MsgUnknownEventType)
	}

	evt := IncomingEvent{
		Integration: adapter.Kind(),
		WebhookID:   signer.WebhookID,
		OwnerID:     signer.OwnerID,
		Headers:     hdrs,
		RawBody:     rawBody,
		Body:        body,
		EventType:   eventType,
		ReceivedAt:  p.now().UTC(),
	}
	data := adapter.TransformInbound(eventType, body)

	p.mu.RLock()
	h, ok := p.handlers[eventType]
	p.mu.RUnlock()
	if !ok {
		log.Info().Str("integration", kind).Str("event", eventType).Msg("unhandled incoming event")
		return model.Result{Success: true, Message: MsgProcessed}
	}
	if err := h(ctx, evt, data); err != nil {
		return fail(fmt.Sprintf("handler failed: %v", err))
	}
	return model.Result{Success: true, Message: MsgProcessed}
}

func fail(msg string) model.Result { return model.Result{Success: false, Message: msg} }

func lowerKeys(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = v
	}
	return out
}

func outcomeLabel(msg string) string {
	switch msg {
	case MsgIntegrationUnknown:
		return "unknown_integration"
	case MsgInvalidSignature:
		return "invalid_signature"
	case MsgUnknownEventType:
		return "unknown_event"
	case MsgInvalidPayload:
		return "invalid_payload"
	case MsgRateLimited:
		return "rate_limited"
	case MsgInternalError:
		return "internal_error"
	default:
		return "handler_error"
	}
}
