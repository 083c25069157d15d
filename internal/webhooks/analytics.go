package webhooks

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"hookrelay/internal/metrics"
	"hookrelay/internal/model"
	"hookrelay/internal/store"
)

const recentErrorLimit = 10

// EventSink receives a copy of every delivery event, e.g. a live stream.
type EventSink interface {
	PublishDelivery(evt model.DeliveryEvent)
}

// WebhookMetrics summarises one registration's delivery history.
type WebhookMetrics struct {
	TotalDeliveries     int64    `json:"totalDeliveries"`
	SuccessRate         float64  `json:"successRate"`
	AverageResponseTime float64  `json:"averageResponseTime"`
	RecentErrors        []string `json:"recentErrors"`
}

// Analytics records delivery outcomes to Prometheus, the recent-error
// buffer and any registered sinks.
type Analytics struct {
	store  store.Store
	recent *expirable.LRU[string, []string]

	mu    sync.RWMutex
	sinks []EventSink
	now   func() time.Time
}

func NewAnalytics(s store.Store) *Analytics {
	return &Analytics{
		store:  s,
		recent: expirable.NewLRU[string, []string](10000, nil, 24*time.Hour),
		now:    time.Now,
	}
}

// AddSink registers a sink for delivery events.
func (a *Analytics) AddSink(s EventSink) {
	a.mu.Lock()
	a.sinks = append(a.sinks, s)
	a.mu.Unlock()
}

func (a *Analytics) RecordAttempt(job Job, res model.DeliveryResult) {
	status := "success"
	if !res.Success {
		status = "failure"
		a.pushError(job.WebhookID, res.Error)
	}
	metrics.WebhookDeliveries.WithLabelValues(job.EventType, status).Inc()
	metrics.WebhookLatency.WithLabelValues(job.EventType, status).Observe(res.ResponseTimeMs())
	a.publish(model.DeliveryEvent{
		Type:         "delivery.attempt",
		WebhookID:    job.WebhookID,
		JobID:        job.ID,
		EventType:    job.EventType,
		Attempt:      job.Attempts,
		Success:      res.Success,
		StatusCode:   res.StatusCode,
		ResponseTime: res.ResponseTimeMs(),
		Error:        res.Error,
		At:           a.now().UTC(),
	})
}

func (a *Analytics) RecordFailedDelivery(job Job, message string) {
	metrics.WebhookPermanentFailures.WithLabelValues(job.EventType).Inc()
	log.Warn().Str("webhook_id", job.WebhookID).Str("event", job.EventType).Str("error", message).
		Msg("webhook delivery failed")
	a.publish(model.DeliveryEvent{
		Type:      "delivery.failed",
		WebhookID: job.WebhookID,
		JobID:     job.ID,
		EventType: job.EventType,
		Attempt:   job.Attempts,
		Error:     message,
		At:        a.now().UTC(),
	})
}

// RecordInbound counts one processed inbound callback.
func (a *Analytics) RecordInbound(integration, eventType, outcome string) {
	metrics.InboundWebhooks.WithLabelValues(integration, outcome).Inc()
	log.Info().Str("integration", integration).Str("event", eventType).Str("outcome", outcome).Msg("incoming webhook")
}

// Metrics reports counters and recent errors for one registration.
func (a *Analytics) Metrics(ctx context.Context, webhookID string) (WebhookMetrics, error) {
	reg, err := a.store.Get(ctx, webhookID)
	if err != nil {
		return WebhookMetrics{}, err
	}
	m := WebhookMetrics{
		TotalDeliveries:     reg.TotalTriggers,
		AverageResponseTime: reg.AverageResponseTime,
		RecentErrors:        []string{},
	}
	if reg.TotalTriggers > 0 {
		m.SuccessRate = math.Round(float64(reg.SuccessfulTriggers)/float64(reg.TotalTriggers)*10000) / 100
	}
	if errs, ok := a.recent.Get(webhookID); ok && len(errs) > 0 {
		m.RecentErrors = append(m.RecentErrors, errs...)
	} else if reg.LastErrorMessage != "" {
		m.RecentErrors = append(m.RecentErrors, reg.LastErrorMessage)
	}
	return m, nil
}

// pushError keeps the newest errors first.
func (a *Analytics) pushError(webhookID, msg string) {
	if msg == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	prev, _ := a.recent.Get(webhookID)
	next := make([]string, 0, recentErrorLimit)
	next = append(next, msg)
	for _, e := range prev {
		if len(next) == recentErrorLimit {
			break
		}
		next = append(next, e)
	}
	a.recent.Add(webhookID, next)
}

func (a *Analytics) publish(evt model.DeliveryEvent) {
	a.mu.RLock()
	sinks := a.sinks
	a.mu.RUnlock()
	for _, s := range sinks {
		s.PublishDelivery(evt)
	}
}
