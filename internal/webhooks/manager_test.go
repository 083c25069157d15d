package webhooks

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/integrations"
	"hookrelay/internal/model"
	"hookrelay/internal/store"
)

type sinkFunc func(model.DeliveryEvent)

func (f sinkFunc) PublishDelivery(evt model.DeliveryEvent) { f(evt) }

func newManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	s := store.NewMemory()
	ex := NewExecutor(s, "HookRelay", time.Second)
	an := NewAnalytics(s)
	q := NewQueue(ex, an, nil, QueueConfig{BackoffBase: time.Millisecond, MaxBackoff: 5 * time.Millisecond})
	in := NewInboundProcessor(DefaultRegistry(), StoreSecrets{Store: s}, NewRateLimiter(100, time.Hour), an)
	return NewManager(s, q, ex, in, an, "HookRelay"), s
}

func TestSendWebhookFansOut(t *testing.T) {
	m, _ := newManager(t)
	srv, reqs := captureServer(t, http.StatusOK, "")
	ctx := context.Background()

	for _, ev := range [][]string{{EventTradeExecuted}, {"*"}, nil, {EventUserCreated}} {
		_, err := m.CreateWebhook(ctx, model.RegistrationInput{WebhookType: "outgoing", URL: srv.URL, Events: ev})
		require.NoError(t, err)
	}
	off := false
	_, err := m.CreateWebhook(ctx, model.RegistrationInput{WebhookType: "outgoing", URL: srv.URL, Events: []string{EventTradeExecuted}, IsActive: &off})
	require.NoError(t, err)
	_, err = m.CreateWebhook(ctx, model.RegistrationInput{WebhookType: "incoming", IntegrationName: "zapier", Events: []string{EventTradeExecuted}})
	require.NoError(t, err)

	n := m.SendWebhook(ctx, EventTradeExecuted, map[string]any{"qty": 1})
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, m.Queue.Len())

	m.Queue.Start(ctx)
	defer m.Queue.Stop()
	require.Eventually(t, func() bool { return len(reqs()) == 3 }, 2*time.Second, 5*time.Millisecond)
	for _, r := range reqs() {
		assert.Equal(t, EventTradeExecuted, r.Header.Get("X-Event-Type"))
	}
}

func TestSendWebhookFilters(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	_, err := m.CreateWebhook(ctx, model.RegistrationInput{WebhookType: "outgoing", URL: "http://a.example", OwnerID: "u1", IntegrationName: "Zapier"})
	require.NoError(t, err)
	_, err = m.CreateWebhook(ctx, model.RegistrationInput{WebhookType: "outgoing", URL: "http://b.example", OwnerID: "u2"})
	require.NoError(t, err)

	assert.Equal(t, 1, m.SendWebhook(ctx, EventUserCreated, nil, WithOwner("u1")))
	assert.Equal(t, 1, m.SendWebhook(ctx, EventUserCreated, nil, WithIntegration("ZAPIER")))
	assert.Equal(t, 0, m.SendWebhook(ctx, EventUserCreated, nil, WithOwner("nobody")))
}

func TestCreateWebhookSecrets(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	in, err := m.CreateWebhook(ctx, model.RegistrationInput{WebhookType: "incoming", IntegrationName: "webflow"})
	require.NoError(t, err)
	assert.Len(t, in.Secret, 64)
	_, err = hex.DecodeString(in.Secret)
	assert.NoError(t, err)

	kept, err := m.CreateWebhook(ctx, model.RegistrationInput{WebhookType: "incoming", IntegrationName: "figma", Secret: "mine"})
	require.NoError(t, err)
	assert.Equal(t, "mine", kept.Secret)

	out, err := m.CreateWebhook(ctx, model.RegistrationInput{WebhookType: "outgoing", URL: "https://crm.example/hook"})
	require.NoError(t, err)
	assert.Empty(t, out.Secret)
	assert.Equal(t, "POST", out.Method)
	assert.Equal(t, 5, out.Priority)
	assert.True(t, out.IsActive)
}

func TestCreateWebhookValidation(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	cases := map[string]model.RegistrationInput{
		"type":        {WebhookType: "sideways", URL: "http://x.example"},
		"integration": {WebhookType: "incoming", IntegrationName: "myspace"},
		"incoming":    {WebhookType: "incoming"},
		"url":         {WebhookType: "outgoing", URL: "ftp://x.example"},
		"relative":    {WebhookType: "outgoing", URL: "/hook"},
		"method":      {WebhookType: "outgoing", URL: "http://x.example", Method: "DELETE"},
		"empty event": {WebhookType: "outgoing", URL: "http://x.example", Events: []string{""}},
		"priority":    {WebhookType: "outgoing", URL: "http://x.example", Priority: 1000},
	}
	for name, in := range cases {
		_, err := m.CreateWebhook(ctx, in)
		assert.True(t, errors.Is(err, ErrInvalidRegistration), name)
	}
}

func TestUpdateWebhook(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	reg, err := m.CreateWebhook(ctx, model.RegistrationInput{WebhookType: "outgoing", URL: "http://x.example"})
	require.NoError(t, err)

	meth, prio, off := "put", 8, false
	up, err := m.UpdateWebhook(ctx, reg.ID, model.RegistrationPatch{Method: &meth, Priority: &prio, IsActive: &off})
	require.NoError(t, err)
	assert.Equal(t, "PUT", up.Method)
	assert.Equal(t, 8, up.Priority)
	assert.False(t, up.IsActive)

	bad := "nope"
	_, err = m.UpdateWebhook(ctx, reg.ID, model.RegistrationPatch{URL: &bad})
	assert.ErrorIs(t, err, ErrInvalidRegistration)
	_, err = m.UpdateWebhook(ctx, "missing", model.RegistrationPatch{IsActive: &off})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTestWebhook(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()
	ok, reqs := captureServer(t, http.StatusOK, "")
	broken, _ := captureServer(t, http.StatusBadGateway, "upstream down")

	good, err := m.CreateWebhook(ctx, model.RegistrationInput{WebhookType: "outgoing", URL: ok.URL})
	require.NoError(t, err)
	bad, err := m.CreateWebhook(ctx, model.RegistrationInput{WebhookType: "outgoing", URL: broken.URL})
	require.NoError(t, err)

	res := m.TestWebhook(ctx, good.ID)
	assert.Equal(t, model.Result{Success: true, Message: "Webhook test successful"}, res)
	require.Len(t, reqs(), 1)
	assert.Equal(t, EventTestWebhook, reqs()[0].Header.Get("X-Event-Type"))
	assert.Contains(t, string(reqs()[0].Body), "This is a test webhook from HookRelay")

	res = m.TestWebhook(ctx, bad.ID)
	assert.False(t, res.Success)
	assert.Equal(t, "HTTP 502: upstream down", res.Message)

	assert.False(t, m.TestWebhook(ctx, "missing").Success)

	after, _ := s.Get(ctx, good.ID)
	assert.EqualValues(t, 1, after.SuccessfulTriggers)
}

func TestWebhookAnalytics(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	var events []model.DeliveryEvent
	m.Analytics.AddSink(sinkFunc(func(e model.DeliveryEvent) { events = append(events, e) }))

	ok, _ := captureServer(t, http.StatusOK, "")
	reg, err := m.CreateWebhook(ctx, model.RegistrationInput{WebhookType: "outgoing", URL: ok.URL})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res := m.Executor.DeliverByID(ctx, reg.ID, EventUserCreated, nil)
		m.Analytics.RecordAttempt(Job{WebhookID: reg.ID, EventType: EventUserCreated, Attempts: 1}, res)
	}
	fail := model.DeliveryResult{Error: "HTTP 500: x"}
	_ = m.Store.RecordDelivery(ctx, reg.ID, model.DeliveryOutcome{Success: false, ErrorMessage: fail.Error, At: time.Now()})
	m.Analytics.RecordAttempt(Job{WebhookID: reg.ID, EventType: EventUserCreated, Attempts: 1}, fail)

	got, err := m.WebhookAnalytics(ctx, reg.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.TotalDeliveries)
	assert.Equal(t, 66.67, got.SuccessRate)
	assert.Equal(t, []string{"HTTP 500: x"}, got.RecentErrors)
	assert.GreaterOrEqual(t, got.AverageResponseTime, 0.0)
	assert.Len(t, events, 3)
	assert.Equal(t, "delivery.attempt", events[2].Type)
	assert.False(t, events[2].Success)

	_, err = m.WebhookAnalytics(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessIncomingUsesStoredSecret(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	reg, err := m.CreateWebhook(ctx, model.RegistrationInput{WebhookType: "incoming", IntegrationName: "webflow"})
	require.NoError(t, err)

	body := []byte(formBody)
	res := m.ProcessIncoming(ctx, "webflow", map[string]string{"x-webflow-signature": Sign(body, reg.Secret)}, body)
	assert.True(t, res.Success, res.Message)
	res = m.ProcessIncoming(ctx, "webflow", map[string]string{"x-webflow-signature": Sign(body, "guess")}, body)
	assert.Equal(t, MsgInvalidSignature, res.Message)
}

func TestProcessIncomingVerifiesEachOwnersSecret(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	first, err := m.CreateWebhook(ctx, model.RegistrationInput{WebhookType: "incoming", IntegrationName: "webflow", OwnerID: "u1"})
	require.NoError(t, err)
	second, err := m.CreateWebhook(ctx, model.RegistrationInput{WebhookType: "incoming", IntegrationName: "webflow", OwnerID: "u2"})
	require.NoError(t, err)
	require.NotEqual(t, first.Secret, second.Secret)

	var owners []string
	m.Inbound.Handle(integrations.WebflowFormSubmission, func(_ context.Context, evt IncomingEvent, _ map[string]any) error {
		owners = append(owners, evt.OwnerID)
		return nil
	})

	body := []byte(formBody)
	for _, reg := range []model.Registration{second, first} {
		res := m.ProcessIncoming(ctx, "webflow", map[string]string{"X-Webflow-Signature": Sign(body, reg.Secret)}, body)
		require.True(t, res.Success, res.Message)
	}
	assert.Equal(t, []string{"u2", "u1"}, owners)

	// a deactivated registration's secret stops verifying
	off := false
	_, err = m.UpdateWebhook(ctx, second.ID, model.RegistrationPatch{IsActive: &off})
	require.NoError(t, err)
	res := m.ProcessIncoming(ctx, "webflow", map[string]string{"X-Webflow-Signature": Sign(body, second.Secret)}, body)
	assert.Equal(t, MsgInvalidSignature, res.Message)
}

func TestSendWebhookCarriesIntegrationLimits(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	for _, name := range []string{"zapier", "figma"} {
		_, err := m.CreateWebhook(ctx, model.RegistrationInput{WebhookType: "outgoing", URL: "http://" + name + ".example", IntegrationName: name, OwnerID: "u1"})
		require.NoError(t, err)
	}
	plain, err := m.CreateWebhook(ctx, model.RegistrationInput{WebhookType: "outgoing", URL: "http://plain.example"})
	require.NoError(t, err)

	require.Equal(t, 3, m.SendWebhook(ctx, EventTradeExecuted, nil))
	limits := map[string]integrations.Limit{}
	m.Queue.mu.Lock()
	for _, j := range m.Queue.ready {
		limits[j.RateKey] = j.RateLimit
	}
	m.Queue.mu.Unlock()

	assert.Equal(t, integrations.Limit{Requests: 5000, Window: time.Hour}, limits["outbound:zapier:u1"])
	assert.Equal(t, integrations.Limit{Requests: 500, Window: time.Hour}, limits["outbound:figma:u1"])
	limit, ok := limits["outbound:"+plain.ID]
	require.True(t, ok)
	assert.Zero(t, limit)
}
