package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"hookrelay/internal/model"
	"hookrelay/internal/store"
)

const maxErrorBody = 1 << 10

// Executor performs single delivery attempts.
type Executor struct {
	Store     store.Store
	HTTP      *http.Client
	Timeout   time.Duration
	UserAgent string
	Source    string
	now       func() time.Time
}

// NewExecutor builds an executor whose User-Agent is "<systemName>-Webhooks/1.0".
func NewExecutor(s store.Store, systemName string, timeout time.Duration) *Executor {
	if systemName == "" {
		systemName = "HookRelay"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		Store:     s,
		HTTP:      &http.Client{},
		Timeout:   timeout,
		UserAgent: systemName + "-Webhooks/1.0",
		Source:    strings.ToLower(systemName),
		now:       time.Now,
	}
}

// DeliverByID loads the registration and delivers to it. Missing or inactive
// registrations fail without an HTTP call.
func (e *Executor) DeliverByID(ctx context.Context, webhookID, eventType string, raw any) model.DeliveryResult {
	reg, err := e.Store.Get(ctx, webhookID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.DeliveryResult{Error: "webhook not found or inactive"}
		}
		return model.DeliveryResult{Error: fmt.Sprintf("load webhook: %v", err)}
	}
	if !reg.IsActive || reg.URL == "" {
		return model.DeliveryResult{Error: "webhook not found or inactive"}
	}
	return e.Deliver(ctx, reg, eventType, raw)
}

// Deliver sends one signed request and records the outcome on the
// registration's counters. The bytes signed are the bytes sent.
func (e *Executor) Deliver(ctx context.Context, reg model.Registration, eventType string, raw any) model.DeliveryResult {
	res := e.send(ctx, reg, eventType, raw)
	out := model.DeliveryOutcome{Success: res.Success, ResponseTimeMs: res.ResponseTimeMs(), ErrorMessage: res.Error, At: e.now().UTC()}
	if err := e.Store.RecordDelivery(ctx, reg.ID, out); err != nil {
		log.Error().Err(err).Str("webhook_id", reg.ID).Msg("record delivery outcome")
	}
	return res
}

func (e *Executor) send(ctx context.Context, reg model.Registration, eventType string, raw any) model.DeliveryResult {
	res := model.DeliveryResult{DeliveryID: uuid.New().String()}
	payload := Transform(eventType, raw, reg.PayloadTemplate, e.now(), e.Source)
	body, err := json.Marshal(payload)
	if err != nil {
		res.Error = fmt.Sprintf("encode payload: %v", err)
		return res
	}

	method := strings.ToUpper(reg.Method)
	if method == "" {
		method = http.MethodPost
	}
	reqCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, reg.URL, bytes.NewReader(body))
	if err != nil {
		res.Error = fmt.Sprintf("build request: %v", err)
		return res
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", e.UserAgent)
	req.Header.Set("X-Event-Type", eventType)
	req.Header.Set("X-Delivery-Id", res.DeliveryID)
	for k, v := range reg.Headers {
		req.Header.Set(k, v)
	}
	if reg.HasSecret() {
		req.Header.Set("X-Signature", Sign(body, reg.Secret))
	}

	start := time.Now()
	resp, err := e.HTTP.Do(req)
	res.ResponseTime = time.Since(start)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			res.Error = fmt.Sprintf("request timed out after %s", e.Timeout)
		} else {
			res.Error = err.Error()
		}
		return res
	}
	defer func() { _ = resp.Body.Close() }()
	res.StatusCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res.Success = true
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return res
	}
	text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	res.Error = strings.TrimSpace(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, text))
	return res
}

// IsRetryable reports whether a failure usually clears on its own: transport
// errors (status 0), 408, 429 and 5xx. The queue retries every failure; this
// only labels logs.
func IsRetryable(status int) bool {
	return status == 0 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}
