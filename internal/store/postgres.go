package store

import (
    "context"
    "database/sql"
    "embed"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    "github.com/golang-migrate/migrate/v4"
    pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
    "github.com/golang-migrate/migrate/v4/source/iofs"
    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "hookrelay/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

// NewPostgresFromDB wraps an existing handle.
func NewPostgresFromDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies the embedded schema migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
    src, err := iofs.New(migrationsFS, "migrations")
    if err != nil {
        return fmt.Errorf("migrations source: %w", err)
    }
    drv, err := pgxmigrate.WithInstance(p.db, &pgxmigrate.Config{})
    if err != nil {
        return fmt.Errorf("migrations driver: %w", err)
    }
    m, err := migrate.NewWithInstance("iofs", src, "pgx5", drv)
    if err != nil {
        return fmt.Errorf("migrate instance: %w", err)
    }
    if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
        return fmt.Errorf("run migrations: %w", err)
    }
    return nil
}

const regColumns = `id::text, integration_id, integration_name, owner_id, name, webhook_type, url, method,
    headers, secret, payload_template, events, priority, is_active,
    total_triggers, successful_triggers, failed_triggers, average_response_time,
    last_error_message, last_triggered_at, created_at, updated_at`

func (p *Postgres) Create(ctx context.Context, in model.RegistrationInput) (model.Registration, error) {
    r := fromInput(uuid.New().String(), in)
    now := time.Now().UTC()
    r.CreatedAt, r.UpdatedAt = now, now
    headers, events, tmpl, err := encodeJSONFields(r)
    if err != nil { return model.Registration{}, err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO webhook_registrations
        (id, integration_id, integration_name, owner_id, name, webhook_type, url, method, headers, secret, payload_template, events, priority, is_active, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)`,
        r.ID, nullIfEmpty(r.IntegrationID), nullIfEmpty(r.IntegrationName), nullIfEmpty(r.OwnerID), r.Name, r.WebhookType,
        r.URL, r.Method, headers, r.Secret, tmpl, events, r.Priority, r.IsActive, now)
    if err != nil { return model.Registration{}, fmt.Errorf("insert registration: %w", err) }
    return r, nil
}

func (p *Postgres) Get(ctx context.Context, id string) (model.Registration, error) {
    row := p.db.QueryRowContext(ctx, `SELECT `+regColumns+` FROM webhook_registrations WHERE id::text=$1`, id)
    r, err := scanRegistration(row)
    if errors.Is(err, sql.ErrNoRows) { return model.Registration{}, ErrNotFound }
    return r, err
}

// Update rewrites configuration columns only; counters are untouched so it
// cannot race with RecordDelivery.
func (p *Postgres) Update(ctx context.Context, id string, patch model.RegistrationPatch) (model.Registration, error) {
    r, err := p.Get(ctx, id)
    if err != nil { return model.Registration{}, err }
    applyPatch(&r, patch)
    r.UpdatedAt = time.Now().UTC()
    headers, events, tmpl, err := encodeJSONFields(r)
    if err != nil { return model.Registration{}, err }
    res, err := p.db.ExecContext(ctx, `UPDATE webhook_registrations SET name=$2, url=$3, method=$4, headers=$5, secret=$6,
        payload_template=$7, events=$8, priority=$9, is_active=$10, updated_at=$11 WHERE id::text=$1`,
        id, r.Name, r.URL, r.Method, headers, r.Secret, tmpl, events, r.Priority, r.IsActive, r.UpdatedAt)
    if err != nil { return model.Registration{}, fmt.Errorf("update registration: %w", err) }
    if n, _ := res.RowsAffected(); n == 0 { return model.Registration{}, ErrNotFound }
    return r, nil
}

func (p *Postgres) List(ctx context.Context, ownerID, cursor string, limit int) ([]model.Registration, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    rows, err := p.db.QueryContext(ctx, `SELECT `+regColumns+` FROM webhook_registrations
        WHERE ($1='' OR owner_id=$1) AND ($2='' OR id::text > $2) ORDER BY id LIMIT $3`, ownerID, cursor, limit+1)
    if err != nil { return nil, "", err }
    defer rows.Close()
    var out []model.Registration
    for rows.Next() {
        r, err := scanRegistration(rows)
        if err != nil { return nil, "", err }
        out = append(out, r)
    }
    if err := rows.Err(); err != nil { return nil, "", err }
    next := ""
    if len(out) > limit {
        out = out[:limit]
        next = out[limit-1].ID
    }
    return out, next, nil
}

func (p *Postgres) FindMatching(ctx context.Context, f model.Filter) ([]model.Registration, error) {
    var eventJSON any
    if f.EventType != "" {
        b, _ := json.Marshal([]string{f.EventType})
        eventJSON = string(b)
    }
    rows, err := p.db.QueryContext(ctx, `SELECT `+regColumns+` FROM webhook_registrations
        WHERE (NOT $1::boolean OR is_active)
          AND ($2='' OR webhook_type=$2)
          AND ($3='' OR owner_id=$3)
          AND ($4='' OR integration_name=$4)
          AND ($5::jsonb IS NULL OR jsonb_array_length(events)=0 OR events @> $5::jsonb OR events @> '["*"]'::jsonb)
        ORDER BY priority DESC, created_at`,
        f.ActiveOnly, f.WebhookType, f.OwnerID, f.IntegrationName, eventJSON)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []model.Registration
    for rows.Next() {
        r, err := scanRegistration(rows)
        if err != nil { return nil, err }
        out = append(out, r)
    }
    return out, rows.Err()
}

// RecordDelivery is one UPDATE; the right-hand side reads the pre-update row,
// so the average uses the prior successful count.
func (p *Postgres) RecordDelivery(ctx context.Context, id string, out model.DeliveryOutcome) error {
    at := out.At
    if at.IsZero() { at = time.Now().UTC() }
    res, err := p.db.ExecContext(ctx, `UPDATE webhook_registrations SET
        total_triggers = total_triggers + 1,
        successful_triggers = successful_triggers + CASE WHEN $2::boolean THEN 1 ELSE 0 END,
        failed_triggers = failed_triggers + CASE WHEN $2::boolean THEN 0 ELSE 1 END,
        average_response_time = CASE WHEN $2::boolean
            THEN (average_response_time * successful_triggers + $3::double precision) / (successful_triggers + 1)
            ELSE average_response_time END,
        last_error_message = CASE WHEN $2::boolean THEN last_error_message ELSE $4 END,
        last_triggered_at = $5,
        updated_at = $5
        WHERE id::text=$1`, id, out.Success, out.ResponseTimeMs, nullIfEmpty(out.ErrorMessage), at)
    if err != nil { return fmt.Errorf("record delivery: %w", err) }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanRegistration(s rowScanner) (model.Registration, error) {
    var r model.Registration
    var integrationID, integrationName, ownerID, lastErr sql.NullString
    var headers, tmpl, events []byte
    var lastAt sql.NullTime
    err := s.Scan(&r.ID, &integrationID, &integrationName, &ownerID, &r.Name, &r.WebhookType, &r.URL, &r.Method,
        &headers, &r.Secret, &tmpl, &events, &r.Priority, &r.IsActive,
        &r.TotalTriggers, &r.SuccessfulTriggers, &r.FailedTriggers, &r.AverageResponseTime,
        &lastErr, &lastAt, &r.CreatedAt, &r.UpdatedAt)
    if err != nil { return model.Registration{}, err }
    r.IntegrationID = integrationID.String
    r.IntegrationName = integrationName.String
    r.OwnerID = ownerID.String
    r.LastErrorMessage = lastErr.String
    if lastAt.Valid { t := lastAt.Time; r.LastTriggeredAt = &t }
    if len(headers) > 0 { _ = json.Unmarshal(headers, &r.Headers) }
    if len(events) > 0 { _ = json.Unmarshal(events, &r.Events) }
    if len(tmpl) > 0 { _ = json.Unmarshal(tmpl, &r.PayloadTemplate) }
    return r, nil
}

func encodeJSONFields(r model.Registration) (headers, events string, tmpl any, err error) {
    h := r.Headers
    if h == nil { h = map[string]string{} }
    hb, err := json.Marshal(h)
    if err != nil { return "", "", nil, err }
    ev := r.Events
    if ev == nil { ev = []string{} }
    eb, err := json.Marshal(ev)
    if err != nil { return "", "", nil, err }
    if r.PayloadTemplate != nil {
        tb, err := json.Marshal(r.PayloadTemplate)
        if err != nil { return "", "", nil, fmt.Errorf("payload template: %w", err) }
        tmpl = string(tb)
    }
    return string(hb), string(eb), tmpl, nil
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
