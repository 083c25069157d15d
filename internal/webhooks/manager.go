package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"hookrelay/internal/integrations"
	"hookrelay/internal/model"
	"hookrelay/internal/store"
)

// ErrInvalidRegistration wraps validation failures on create and update.
var ErrInvalidRegistration = errors.New("invalid webhook registration")

var validate = validator.New()

// Domain events published to outgoing registrations.
const (
	EventUserCreated             = "user.created"
	EventUserUpdated             = "user.updated"
	EventTradeExecuted           = "trade.executed"
	EventPortfolioUpdated        = "portfolio.updated"
	EventAchievementUnlocked     = "achievement.unlocked"
	EventHouseChanged            = "house.changed"
	EventKarmaUpdated            = "karma.updated"
	EventLearningCompleted       = "learning.completed"
	EventWorkflowTriggered       = "workflow.triggered"
	EventIntegrationConnected    = "integration.connected"
	EventIntegrationDisconnected = "integration.disconnected"
	EventTestWebhook             = "test.webhook"
)

// Manager is the entry point for producers, admins and the inbound router.
type Manager struct {
	Store     store.Store
	Queue     *Queue
	Executor  *Executor
	Inbound   *InboundProcessor
	Analytics *Analytics
	// Integrations supplies per-tool outbound limits.
	Integrations *integrations.Registry

	DefaultPriority int
	systemName      string
}

func NewManager(s store.Store, q *Queue, ex *Executor, in *InboundProcessor, an *Analytics, systemName string) *Manager {
	if systemName == "" {
		systemName = "HookRelay"
	}
	reg := DefaultRegistry()
	if in != nil && in.registry != nil {
		reg = in.registry
	}
	return &Manager{Store: s, Queue: q, Executor: ex, Inbound: in, Analytics: an, Integrations: reg, DefaultPriority: 5, systemName: systemName}
}

// SendOption narrows the registrations an event fans out to.
type SendOption func(*model.Filter)

func WithOwner(ownerID string) SendOption { return func(f *model.Filter) { f.OwnerID = ownerID } }

func WithIntegration(name string) SendOption {
	return func(f *model.Filter) { f.IntegrationName = strings.ToLower(name) }
}

// SendWebhook enqueues one job per active outgoing registration subscribed to
// eventType and returns how many were enqueued. Lookup failures are logged,
// never returned.
func (m *Manager) SendWebhook(ctx context.Context, eventType string, payload any, opts ...SendOption) int {
	f := model.Filter{EventType: eventType, WebhookType: model.WebhookOutgoing, ActiveOnly: true}
	for _, o := range opts {
		o(&f)
	}
	regs, err := m.Store.FindMatching(ctx, f)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("find webhooks for event")
		return 0
	}
	for _, r := range regs {
		prio := r.Priority
		if prio <= 0 {
			prio = m.DefaultPriority
		}
		jobOpts := []JobOption{WithRateKey(rateKey(r))}
		if a, ok := m.Integrations.Lookup(r.IntegrationName); ok {
			jobOpts = append(jobOpts, WithRateLimit(a.RateLimit()))
		}
		m.Queue.Enqueue(r.ID, eventType, payload, prio, jobOpts...)
	}
	if len(regs) > 0 {
		log.Debug().Str("event", eventType).Int("webhooks", len(regs)).Msg("webhook jobs enqueued")
	}
	return len(regs)
}

// rateKey groups deliveries by integration and owner, falling back to the
// registration itself. Integration keys get the adapter's limit; the rest
// fall back to the queue's OutboundLimit.
func rateKey(r model.Registration) string {
	if r.IntegrationName != "" {
		return "outbound:" + r.IntegrationName + ":" + r.OwnerID
	}
	return "outbound:" + r.ID
}

// CreateWebhook validates and stores a registration. Incoming registrations
// without a secret get a generated one.
func (m *Manager) CreateWebhook(ctx context.Context, in model.RegistrationInput) (model.Registration, error) {
	if err := normalizeInput(&in, m.DefaultPriority); err != nil {
		return model.Registration{}, err
	}
	if in.WebhookType == model.WebhookIncoming && in.Secret == "" {
		secret, err := GenerateSecret()
		if err != nil {
			return model.Registration{}, err
		}
		in.Secret = secret
	}
	reg, err := m.Store.Create(ctx, in)
	if err != nil {
		return model.Registration{}, fmt.Errorf("create webhook: %w", err)
	}
	log.Info().Str("webhook_id", reg.ID).Str("type", reg.WebhookType).Str("integration", reg.IntegrationName).Msg("webhook created")
	return reg, nil
}

// UpdateWebhook applies an admin patch.
func (m *Manager) UpdateWebhook(ctx context.Context, id string, patch model.RegistrationPatch) (model.Registration, error) {
	if patch.URL != nil {
		if err := validateURL(*patch.URL); err != nil {
			return model.Registration{}, err
		}
	}
	if patch.Method != nil {
		meth, err := normalizeMethod(*patch.Method)
		if err != nil {
			return model.Registration{}, err
		}
		patch.Method = &meth
	}
	if patch.Priority != nil && *patch.Priority <= 0 {
		return model.Registration{}, fmt.Errorf("%w: priority must be positive", ErrInvalidRegistration)
	}
	return m.Store.Update(ctx, id, patch)
}

// TestWebhook delivers a synthetic test.webhook event synchronously,
// bypassing the queue.
func (m *Manager) TestWebhook(ctx context.Context, id string) model.Result {
	payload := map[string]any{
		"test":      true,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"message":   "This is a test webhook from " + m.systemName,
	}
	res := m.Executor.DeliverByID(ctx, id, EventTestWebhook, payload)
	if res.Success {
		return model.Result{Success: true, Message: "Webhook test successful"}
	}
	return model.Result{Success: false, Message: res.Error}
}

// ProcessIncoming hands an external callback to the inbound processor.
func (m *Manager) ProcessIncoming(ctx context.Context, integrationName string, headers map[string]string, rawBody []byte) model.Result {
	return m.Inbound.Process(ctx, integrationName, headers, rawBody)
}

// WebhookAnalytics returns delivery metrics for one registration.
func (m *Manager) WebhookAnalytics(ctx context.Context, id string) (WebhookMetrics, error) {
	return m.Analytics.Metrics(ctx, id)
}

func normalizeInput(in *model.RegistrationInput, defaultPriority int) error {
	in.WebhookType = strings.ToLower(strings.TrimSpace(in.WebhookType))
	in.Method = strings.ToUpper(strings.TrimSpace(in.Method))
	in.URL = strings.TrimSpace(in.URL)
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRegistration, err)
	}
	if in.IntegrationName != "" {
		k, err := integrations.ParseKind(in.IntegrationName)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRegistration, err)
		}
		in.IntegrationName = string(k)
	}
	if in.WebhookType == model.WebhookIncoming && in.IntegrationName == "" {
		return fmt.Errorf("%w: incoming webhooks need an integrationName", ErrInvalidRegistration)
	}
	if in.WebhookType == model.WebhookOutgoing || in.URL != "" {
		if err := validateURL(in.URL); err != nil {
			return err
		}
	}
	meth, err := normalizeMethod(in.Method)
	if err != nil {
		return err
	}
	in.Method = meth
	if in.Priority <= 0 {
		in.Priority = defaultPriority
	}
	if in.Name == "" {
		in.Name = in.WebhookType + " webhook"
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidRegistration)
	}
	return nil
}

func normalizeMethod(m string) (string, error) {
	m = strings.ToUpper(strings.TrimSpace(m))
	switch m {
	case "":
		return "POST", nil
	case "POST", "PUT", "PATCH":
		return m, nil
	default:
		return "", fmt.Errorf("%w: method %s not supported", ErrInvalidRegistration, m)
	}
}
