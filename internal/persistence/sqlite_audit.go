package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/jpkallio/flowline/pkg/api"
)

// SQLiteAuditSink appends message-log rows to SQLite. The table is
// append-only; the engine writes it and never reads it back, so no
// query methods beyond ListByContact (used by dashboards and tests)
// are provided.
type SQLiteAuditSink struct {
	db *sql.DB
}

var _ api.AuditSink = (*SQLiteAuditSink)(nil)

// NewSQLiteAuditSink initializes the message_logs schema and returns a
// new sink.
func NewSQLiteAuditSink(db *sql.DB) (*SQLiteAuditSink, error) {
	s := &SQLiteAuditSink{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteAuditSink) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS message_logs (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			flow_id TEXT NOT NULL DEFAULT '',
			contact_address TEXT NOT NULL,
			direction TEXT NOT NULL,
			body TEXT NOT NULL,
			status TEXT NOT NULL,
			provider_message_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_message_logs_contact ON message_logs(contact_address, created_at);
	`)
	return err
}

func (s *SQLiteAuditSink) Append(ctx context.Context, rec api.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	at := rec.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_logs (id, tenant_id, flow_id, contact_address, direction, body, status, provider_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.TenantID,
		rec.FlowID,
		rec.ContactAddress,
		string(rec.Direction),
		rec.Body,
		rec.Status,
		rec.ProviderMessageID,
		at.UnixNano(),
	)
	return err
}

// ListByContact returns a contact's audit trail in append order.
func (s *SQLiteAuditSink) ListByContact(ctx context.Context, contactAddress string) ([]api.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, flow_id, contact_address, direction, body, status, provider_message_id, created_at
		FROM message_logs
		WHERE contact_address = ?
		ORDER BY created_at ASC, id ASC`, contactAddress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.AuditRecord
	for rows.Next() {
		var rec api.AuditRecord
		var direction string
		var atN int64
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.FlowID, &rec.ContactAddress, &direction, &rec.Body, &rec.Status, &rec.ProviderMessageID, &atN); err != nil {
			return nil, err
		}
		rec.Direction = api.Direction(direction)
		rec.CreatedAt = time.Unix(0, atN)
		out = append(out, rec)
	}
	return out, rows.Err()
}
