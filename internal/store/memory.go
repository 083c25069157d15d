package store

import (
    "context"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"
    "hookrelay/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu    sync.Mutex
    regs  map[string]*model.Registration // id -> registration
    order []string                       // insertion order for listing
    now   func() time.Time
}

func NewMemory() *Memory {
    return &Memory{regs: map[string]*model.Registration{}, now: time.Now}
}

func (m *Memory) Create(ctx context.Context, in model.RegistrationInput) (model.Registration, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r := fromInput(uuid.New().String(), in)
    r.CreatedAt = m.now().UTC()
    r.UpdatedAt = r.CreatedAt
    m.regs[r.ID] = &r
    m.order = append(m.order, r.ID)
    return clone(r), nil
}

func (m *Memory) Get(ctx context.Context, id string) (model.Registration, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.regs[id]
    if !ok { return model.Registration{}, ErrNotFound }
    return clone(*r), nil
}

func (m *Memory) Update(ctx context.Context, id string, patch model.RegistrationPatch) (model.Registration, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.regs[id]
    if !ok { return model.Registration{}, ErrNotFound }
    applyPatch(r, patch)
    r.UpdatedAt = m.now().UTC()
    return clone(*r), nil
}

func (m *Memory) List(ctx context.Context, ownerID, cursor string, limit int) ([]model.Registration, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    m.mu.Lock(); defer m.mu.Unlock()
    ids := append([]string(nil), m.order...)
    sort.Strings(ids)
    var out []model.Registration
    next := ""
    for _, id := range ids {
        if cursor != "" && id <= cursor { continue }
        r := m.regs[id]
        if ownerID != "" && r.OwnerID != ownerID { continue }
        if len(out) == limit { next = out[len(out)-1].ID; break }
        out = append(out, clone(*r))
    }
    return out, next, nil
}

func (m *Memory) FindMatching(ctx context.Context, f model.Filter) ([]model.Registration, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Registration
    for _, id := range m.order {
        r := m.regs[id]
        if f.Matches(*r) { out = append(out, clone(*r)) }
    }
    return out, nil
}

func (m *Memory) RecordDelivery(ctx context.Context, id string, out model.DeliveryOutcome) error {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.regs[id]
    if !ok { return ErrNotFound }
    at := out.At
    if at.IsZero() { at = m.now().UTC() }
    r.TotalTriggers++
    if out.Success {
        r.AverageResponseTime = nextAverage(r.AverageResponseTime, r.SuccessfulTriggers, out.ResponseTimeMs)
        r.SuccessfulTriggers++
    } else {
        r.FailedTriggers++
        r.LastErrorMessage = out.ErrorMessage
    }
    r.LastTriggeredAt = &at
    r.UpdatedAt = at
    return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

// clone detaches the maps and slices callers may mutate.
func clone(r model.Registration) model.Registration {
    if r.Headers != nil {
        h := make(map[string]string, len(r.Headers))
        for k, v := range r.Headers { h[k] = v }
        r.Headers = h
    }
    if r.Events != nil { r.Events = append([]string(nil), r.Events...) }
    if r.LastTriggeredAt != nil { t := *r.LastTriggeredAt; r.LastTriggeredAt = &t }
    return r
}
