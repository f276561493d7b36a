package callback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLiteRegistry stores callback definitions in SQLite, sharing the DB
// handle with the other SQLite-backed stores.
type SQLiteRegistry struct {
	db *sql.DB
}

var _ Registry = (*SQLiteRegistry)(nil)

// NewSQLiteRegistry initializes the webhooks table and returns a
// registry over it.
func NewSQLiteRegistry(db *sql.DB) (*SQLiteRegistry, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS webhooks (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			url TEXT NOT NULL,
			method TEXT NOT NULL DEFAULT 'POST',
			headers TEXT NOT NULL DEFAULT '{}',
			active INTEGER NOT NULL DEFAULT 1
		);
	`)
	if err != nil {
		return nil, err
	}
	return &SQLiteRegistry{db: db}, nil
}

// Save inserts or replaces a callback definition.
func (r *SQLiteRegistry) Save(ctx context.Context, def Definition) error {
	headers, err := json.Marshal(def.Headers)
	if err != nil {
		return err
	}
	method := def.Method
	if method == "" {
		method = "POST"
	}
	active := 0
	if def.Active {
		active = 1
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, tenant_id, name, url, method, headers, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			name = excluded.name,
			url = excluded.url,
			method = excluded.method,
			headers = excluded.headers,
			active = excluded.active`,
		def.ID, def.TenantID, def.Name, def.URL, method, string(headers), active,
	)
	return err
}

func (r *SQLiteRegistry) Lookup(ctx context.Context, callbackID string) (*Definition, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, url, method, headers, active
		FROM webhooks WHERE id = ?`, callbackID)

	var (
		def        Definition
		headersRaw string
		active     int
	)
	err := row.Scan(&def.ID, &def.TenantID, &def.Name, &def.URL, &def.Method, &headersRaw, &active)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrCallbackNotFound, callbackID)
		}
		return nil, err
	}
	if active == 0 {
		return nil, fmt.Errorf("%w: %s is inactive", ErrCallbackNotFound, callbackID)
	}
	if err := json.Unmarshal([]byte(headersRaw), &def.Headers); err != nil {
		return nil, err
	}
	def.Active = true
	return &def, nil
}

// SQLiteExecutionLog persists callback execution records.
type SQLiteExecutionLog struct {
	db *sql.DB
}

var _ ExecutionLog = (*SQLiteExecutionLog)(nil)

// NewSQLiteExecutionLog initializes the webhook_logs table and returns
// a log over it.
func NewSQLiteExecutionLog(db *sql.DB) (*SQLiteExecutionLog, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS webhook_logs (
			id TEXT PRIMARY KEY,
			callback_id TEXT NOT NULL,
			success INTEGER NOT NULL,
			status INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			elapsed_ms INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_webhook_logs_callback
			ON webhook_logs (callback_id, created_at);
	`)
	if err != nil {
		return nil, err
	}
	return &SQLiteExecutionLog{db: db}, nil
}

func (l *SQLiteExecutionLog) Record(ctx context.Context, rec ExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	success := 0
	if rec.Success {
		success = 1
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO webhook_logs (id, callback_id, success, status, error, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CallbackID, success, rec.Status, rec.Error, rec.ElapsedMs, rec.CreatedAt.UnixNano(),
	)
	return err
}

// ListByCallback returns the most recent executions for one callback,
// newest first.
func (l *SQLiteExecutionLog) ListByCallback(ctx context.Context, callbackID string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, callback_id, success, status, error, elapsed_ms, created_at
		FROM webhook_logs
		WHERE callback_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, callbackID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var (
			rec       ExecutionRecord
			success   int
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.CallbackID, &success, &rec.Status, &rec.Error, &rec.ElapsedMs, &createdAt); err != nil {
			return nil, err
		}
		rec.Success = success == 1
		rec.CreatedAt = time.Unix(0, createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}
