package model

import "time"

// Webhook registration types.
const (
	WebhookIncoming = "incoming"
	WebhookOutgoing = "outgoing"
)

// Registration is a configured webhook endpoint, either a target we call
// (outgoing) or a source that calls us (incoming).
type Registration struct {
	ID              string            `json:"id"`
	IntegrationID   string            `json:"integrationId,omitempty"`
	IntegrationName string            `json:"integrationName,omitempty"`
	OwnerID         string            `json:"ownerId,omitempty"`
	Name            string            `json:"name"`
	WebhookType     string            `json:"webhookType"`
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	Headers         map[string]string `json:"headers,omitempty"`
	Secret          string            `json:"-"`
	PayloadTemplate any               `json:"payloadTemplate,omitempty"`
	Events          []string          `json:"events,omitempty"`
	Priority        int               `json:"priority"`
	IsActive        bool              `json:"isActive"`

	// Counters. Only Store.RecordDelivery writes these.
	TotalTriggers       int64      `json:"totalTriggers"`
	SuccessfulTriggers  int64      `json:"successfulTriggers"`
	FailedTriggers      int64      `json:"failedTriggers"`
	AverageResponseTime float64    `json:"averageResponseTime"`
	LastErrorMessage    string     `json:"lastErrorMessage,omitempty"`
	LastTriggeredAt     *time.Time `json:"lastTriggeredAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasSecret reports whether deliveries to this registration are signed.
func (r Registration) HasSecret() bool { return r.Secret != "" }

// Subscribes reports whether the registration wants eventType. An empty
// event list subscribes to everything.
func (r Registration) Subscribes(eventType string) bool {
	if len(r.Events) == 0 {
		return true
	}
	for _, e := range r.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

// RegistrationInput is the payload for creating a registration.
type RegistrationInput struct {
	IntegrationID   string            `json:"integrationId,omitempty" validate:"max=64"`
	IntegrationName string            `json:"integrationName,omitempty"`
	OwnerID         string            `json:"ownerId,omitempty" validate:"max=128"`
	Name            string            `json:"name" validate:"max=255"`
	WebhookType     string            `json:"webhookType" validate:"required,oneof=incoming outgoing"`
	URL             string            `json:"url" validate:"omitempty,url,max=2048"`
	Method          string            `json:"method,omitempty" validate:"omitempty,oneof=POST PUT PATCH"`
	Headers         map[string]string `json:"headers,omitempty" validate:"max=32,dive,keys,required,max=256,endkeys,max=4096"`
	Secret          string            `json:"secret,omitempty" validate:"max=256"`
	PayloadTemplate any               `json:"payloadTemplate,omitempty"`
	Events          []string          `json:"events,omitempty" validate:"max=100,dive,required,max=128"`
	Priority        int               `json:"priority,omitempty" validate:"gte=0,lte=100"`
	IsActive        *bool             `json:"isActive,omitempty"`
}

// RegistrationPatch holds admin updates; nil fields are left unchanged.
type RegistrationPatch struct {
	Name            *string            `json:"name,omitempty"`
	URL             *string            `json:"url,omitempty"`
	Method          *string            `json:"method,omitempty"`
	Headers         *map[string]string `json:"headers,omitempty"`
	Secret          *string            `json:"secret,omitempty"`
	PayloadTemplate any                `json:"payloadTemplate,omitempty"`
	Events          *[]string          `json:"events,omitempty"`
	Priority        *int               `json:"priority,omitempty"`
	IsActive        *bool              `json:"isActive,omitempty"`
}

// Filter selects registrations. Zero-valued fields match everything.
type Filter struct {
	EventType       string
	OwnerID         string
	IntegrationName string
	WebhookType     string
	ActiveOnly      bool
}

// Matches applies the filter to a single registration.
func (f Filter) Matches(r Registration) bool {
	if f.ActiveOnly && !r.IsActive {
		return false
	}
	if f.WebhookType != "" && r.WebhookType != f.WebhookType {
		return false
	}
	if f.OwnerID != "" && r.OwnerID != f.OwnerID {
		return false
	}
	if f.IntegrationName != "" && r.IntegrationName != f.IntegrationName {
		return false
	}
	if f.EventType != "" && !r.Subscribes(f.EventType) {
		return false
	}
	return true
}

// DeliveryOutcome is the counter transition applied after one attempt.
type DeliveryOutcome struct {
	Success        bool
	ResponseTimeMs float64
	ErrorMessage   string
	At             time.Time
}

// DeliveryResult describes a single delivery attempt.
type DeliveryResult struct {
	Success      bool          `json:"success"`
	StatusCode   int           `json:"statusCode,omitempty"`
	ResponseTime time.Duration `json:"-"`
	Error        string        `json:"error,omitempty"`
	DeliveryID   string        `json:"deliveryId,omitempty"`
}

// ResponseTimeMs returns the response time in fractional milliseconds.
func (r DeliveryResult) ResponseTimeMs() float64 {
	return float64(r.ResponseTime) / float64(time.Millisecond)
}

// Result is the {success, message} outcome of inbound processing and tests.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// DeliveryEvent is published on the live event stream for each attempt.
type DeliveryEvent struct {
	Type         string    `json:"type"`
	WebhookID    string    `json:"webhookId"`
	JobID        string    `json:"jobId,omitempty"`
	EventType    string    `json:"eventType"`
	Attempt      int       `json:"attempt"`
	Success      bool      `json:"success"`
	StatusCode   int       `json:"statusCode,omitempty"`
	ResponseTime float64   `json:"responseTimeMs"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}
