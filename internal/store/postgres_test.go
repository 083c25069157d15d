package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/internal/model"
)

var regColumnNames = []string{
	"id", "integration_id", "integration_name", "owner_id", "name", "webhook_type", "url", "method",
	"headers", "secret", "payload_template", "events", "priority", "is_active",
	"total_triggers", "successful_triggers", "failed_triggers", "average_response_time",
	"last_error_message", "last_triggered_at", "created_at", "updated_at",
}

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresFromDB(db), mock
}

func TestPostgresGetScansRow(t *testing.T) {
	p, mock := newMockPostgres(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(regColumnNames).AddRow(
		"w1", "i1", "webflow", "u1", "crm", "outgoing", "http://x", "POST",
		[]byte(`{"X-Env":"prod"}`), "s3cret", []byte(`{"msg":"{{eventType}}"}`), []byte(`["trade.completed"]`), int64(7), true,
		int64(4), int64(3), int64(1), 120.5,
		"HTTP 500: boom", now, now, now,
	)
	mock.ExpectQuery(`SELECT .+ FROM webhook_registrations WHERE id::text=\$1`).WithArgs("w1").WillReturnRows(rows)

	r, err := p.Get(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, "webflow", r.IntegrationName)
	assert.Equal(t, map[string]string{"X-Env": "prod"}, r.Headers)
	assert.Equal(t, []string{"trade.completed"}, r.Events)
	assert.Equal(t, map[string]any{"msg": "{{eventType}}"}, r.PayloadTemplate)
	assert.Equal(t, 7, r.Priority)
	assert.EqualValues(t, 3, r.SuccessfulTriggers)
	require.NotNil(t, r.LastTriggeredAt)
	assert.Equal(t, "HTTP 500: boom", r.LastErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNotFound(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectQuery(`SELECT .+ FROM webhook_registrations`).WithArgs("nope").WillReturnRows(sqlmock.NewRows(regColumnNames))
	_, err := p.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRecordDeliveryIsSingleUpdate(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectExec(`UPDATE webhook_registrations SET total_triggers = total_triggers \+ 1`).
		WithArgs("w1", true, 42.0, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := p.RecordDelivery(context.Background(), "w1", model.DeliveryOutcome{Success: true, ResponseTimeMs: 42})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordDeliveryMissingRow(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectExec(`UPDATE webhook_registrations`).
		WithArgs("w1", false, 0.0, "timeout", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := p.RecordDelivery(context.Background(), "w1", model.DeliveryOutcome{ErrorMessage: "timeout"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresCreateInsertsJSONColumns(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectExec(`INSERT INTO webhook_registrations`).
		WithArgs(sqlmock.AnyArg(), nil, "zapier", "u1", "hook", "incoming", "", "POST",
			`{}`, "abc", nil, `["zapier.zap_triggered"]`, 5, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r, err := p.Create(context.Background(), model.RegistrationInput{
		IntegrationName: "zapier", OwnerID: "u1", Name: "hook", WebhookType: "incoming",
		Method: "POST", Secret: "abc", Events: []string{"zapier.zap_triggered"}, Priority: 5,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindMatchingFilters(t *testing.T) {
	p, mock := newMockPostgres(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(regColumnNames).AddRow(
		"w1", nil, nil, nil, "a", "outgoing", "http://x", "POST",
		[]byte(`{}`), "", nil, []byte(`[]`), int64(5), true,
		int64(0), int64(0), int64(0), 0.0,
		nil, nil, now, now,
	)
	mock.ExpectQuery(`SELECT .+ FROM webhook_registrations WHERE`).
		WithArgs(true, "outgoing", "", "", `["trade.completed"]`).
		WillReturnRows(rows)

	got, err := p.FindMatching(context.Background(), model.Filter{EventType: "trade.completed", WebhookType: "outgoing", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "w1", got[0].ID)
	assert.Empty(t, got[0].OwnerID)
	assert.Nil(t, got[0].LastTriggeredAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
