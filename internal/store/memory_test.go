package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/model"
)

func TestMemoryCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	r, err := m.Create(ctx, model.RegistrationInput{Name: "crm", WebhookType: model.WebhookOutgoing, URL: "http://x", Events: []string{"trade.completed"}})
	require.NoError(t, err)
	assert.True(t, r.IsActive)
	assert.NotEmpty(t, r.ID)

	url := "http://y"
	off := false
	got, err := m.Update(ctx, r.ID, model.RegistrationPatch{URL: &url, IsActive: &off})
	require.NoError(t, err)
	assert.Equal(t, "http://y", got.URL)
	assert.False(t, got.IsActive)
	assert.Equal(t, "crm", got.Name)

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryFindMatching(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	off := false
	_, _ = m.Create(ctx, model.RegistrationInput{Name: "a", WebhookType: model.WebhookOutgoing, Events: []string{"trade.completed"}, OwnerID: "u1"})
	_, _ = m.Create(ctx, model.RegistrationInput{Name: "b", WebhookType: model.WebhookOutgoing, OwnerID: "u2"})
	_, _ = m.Create(ctx, model.RegistrationInput{Name: "c", WebhookType: model.WebhookOutgoing, Events: []string{"trade.completed"}, IsActive: &off})
	_, _ = m.Create(ctx, model.RegistrationInput{Name: "d", WebhookType: model.WebhookIncoming, Events: []string{"trade.completed"}})
	_, _ = m.Create(ctx, model.RegistrationInput{Name: "e", WebhookType: model.WebhookOutgoing, Events: []string{"karma.changed"}})

	got, err := m.FindMatching(ctx, model.Filter{EventType: "trade.completed", WebhookType: model.WebhookOutgoing, ActiveOnly: true})
	require.NoError(t, err)
	var names []string
	for _, r := range got {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"a", "b"}, names)

	got, err = m.FindMatching(ctx, model.Filter{EventType: "trade.completed", WebhookType: model.WebhookOutgoing, ActiveOnly: true, OwnerID: "u2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Name)
}

func TestMemoryRecordDeliveryAverages(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	r, _ := m.Create(ctx, model.RegistrationInput{Name: "a", WebhookType: model.WebhookOutgoing})

	require.NoError(t, m.RecordDelivery(ctx, r.ID, model.DeliveryOutcome{Success: true, ResponseTimeMs: 100}))
	require.NoError(t, m.RecordDelivery(ctx, r.ID, model.DeliveryOutcome{Success: true, ResponseTimeMs: 200}))
	require.NoError(t, m.RecordDelivery(ctx, r.ID, model.DeliveryOutcome{Success: false, ErrorMessage: "HTTP 500: boom"}))

	got, _ := m.Get(ctx, r.ID)
	assert.EqualValues(t, 3, got.TotalTriggers)
	assert.EqualValues(t, 2, got.SuccessfulTriggers)
	assert.EqualValues(t, 1, got.FailedTriggers)
	assert.InDelta(t, 150.0, got.AverageResponseTime, 1e-9)
	assert.Equal(t, "HTTP 500: boom", got.LastErrorMessage)
	assert.NotNil(t, got.LastTriggeredAt)

	assert.ErrorIs(t, m.RecordDelivery(ctx, "missing", model.DeliveryOutcome{}), ErrNotFound)
}

func TestMemoryRecordDeliveryConcurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	r, _ := m.Create(ctx, model.RegistrationInput{Name: "a", WebhookType: model.WebhookOutgoing})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.RecordDelivery(ctx, r.ID, model.DeliveryOutcome{Success: i%4 != 0, ResponseTimeMs: 50})
		}(i)
	}
	wg.Wait()

	got, _ := m.Get(ctx, r.ID)
	assert.EqualValues(t, 100, got.TotalTriggers)
	assert.EqualValues(t, 75, got.SuccessfulTriggers)
	assert.EqualValues(t, 25, got.FailedTriggers)
	assert.InDelta(t, 50.0, got.AverageResponseTime, 1e-9)
}

func TestMemoryListPaginates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for i := 0; i < 5; i++ {
		_, _ = m.Create(ctx, model.RegistrationInput{Name: "r", WebhookType: model.WebhookOutgoing, OwnerID: "u1"})
	}
	page, next, err := m.List(ctx, "u1", "", 3)
	require.NoError(t, err)
	assert.Len(t, page, 3)
	require.NotEmpty(t, next)
	rest, next2, err := m.List(ctx, "u1", next, 3)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
	assert.Empty(t, next2)
}
