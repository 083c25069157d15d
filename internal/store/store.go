package store

import (
    "context"
    "errors"

    "hookrelay/internal/model"
)

// Store persists webhook registrations and their delivery counters.
type Store interface {
    Create(ctx context.Context, in model.RegistrationInput) (model.Registration, error)
    Get(ctx context.Context, id string) (model.Registration, error)
    Update(ctx context.Context, id string, patch model.RegistrationPatch) (model.Registration, error)
    List(ctx context.Context, ownerID, cursor string, limit int) ([]model.Registration, string, error)
    FindMatching(ctx context.Context, f model.Filter) ([]model.Registration, error)

    // RecordDelivery applies one attempt's outcome to the counters as a single
    // atomic step. The running average only covers successful deliveries.
    RecordDelivery(ctx context.Context, id string, out model.DeliveryOutcome) error

    Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

// applyPatch copies set fields from p onto r.
func applyPatch(r *model.Registration, p model.RegistrationPatch) {
    if p.Name != nil { r.Name = *p.Name }
    if p.URL != nil { r.URL = *p.URL }
    if p.Method != nil { r.Method = *p.Method }
    if p.Headers != nil { r.Headers = *p.Headers }
    if p.Secret != nil { r.Secret = *p.Secret }
    if p.PayloadTemplate != nil { r.PayloadTemplate = p.PayloadTemplate }
    if p.Events != nil { r.Events = *p.Events }
    if p.Priority != nil { r.Priority = *p.Priority }
    if p.IsActive != nil { r.IsActive = *p.IsActive }
}

// fromInput builds a fresh registration with zeroed counters.
func fromInput(id string, in model.RegistrationInput) model.Registration {
    active := true
    if in.IsActive != nil { active = *in.IsActive }
    return model.Registration{
        ID:              id,
        IntegrationID:   in.IntegrationID,
        IntegrationName: in.IntegrationName,
        OwnerID:         in.OwnerID,
        Name:            in.Name,
        WebhookType:     in.WebhookType,
        URL:             in.URL,
        Method:          in.Method,
        Headers:         in.Headers,
        Secret:          in.Secret,
        PayloadTemplate: in.PayloadTemplate,
        Events:          in.Events,
        Priority:        in.Priority,
        IsActive:        active,
    }
}

// nextAverage folds x into a mean over n samples.
func nextAverage(avg float64, n int64, x float64) float64 {
    if n <= 0 { return x }
    return (avg*float64(n) + x) / float64(n+1)
}
