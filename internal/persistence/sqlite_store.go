package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jpkallio/flowline/pkg/api"
)

// SQLiteStore implements GraphStore, SessionStore and CredentialStore
// on a single SQLite database.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements the interfaces.
var (
	_ GraphStore      = (*SQLiteStore)(nil)
	_ SessionStore    = (*SQLiteStore)(nil)
	_ CredentialStore = (*SQLiteStore)(nil)
)

// NewSQLiteStore initializes the required schema in the given database
// and returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS flows (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 0,
			trigger_keywords TEXT NOT NULL DEFAULT '[]'
		);
		CREATE INDEX IF NOT EXISTS idx_flows_tenant ON flows(tenant_id, active);

		CREATE TABLE IF NOT EXISTS steps (
			id TEXT PRIMARY KEY,
			flow_id TEXT NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			config TEXT NOT NULL,
			pos_x REAL NOT NULL DEFAULT 0,
			pos_y REAL NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_steps_flow ON steps(flow_id);

		CREATE TABLE IF NOT EXISTS links (
			id TEXT PRIMARY KEY,
			flow_id TEXT NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
			source_step TEXT NOT NULL,
			target_step TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_links_flow ON links(flow_id);

		CREATE TABLE IF NOT EXISTS sessions (
			contact_address TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			flow_id TEXT NOT NULL DEFAULT '',
			current_step_id TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			last_activity INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sender_credentials (
			tenant_id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL,
			access_token TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS leases (
			contact_address TEXT PRIMARY KEY,
			lease_owner TEXT NOT NULL,
			lease_expires_at INTEGER NOT NULL
		);
	`)
	return err
}

// SaveFlow inserts or replaces a flow row. Steps and links are written
// separately; all three are what the external editor maintains.
func (s *SQLiteStore) SaveFlow(ctx context.Context, flow *api.Flow) error {
	keywords, err := json.Marshal(flow.TriggerKeywords)
	if err != nil {
		return err
	}
	active := 0
	if flow.Active {
		active = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flows (id, tenant_id, name, active, trigger_keywords)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			name = excluded.name,
			active = excluded.active,
			trigger_keywords = excluded.trigger_keywords`,
		flow.ID, flow.TenantID, flow.Name, active, string(keywords),
	)
	return err
}

// SaveStep inserts or replaces a step. The config is validated and
// re-encoded through the tagged union, so a mismatched kind/config
// pair can never be stored.
func (s *SQLiteStore) SaveStep(ctx context.Context, step *api.Step) error {
	if step.Config == nil || step.Config.Kind() != step.Kind {
		return fmt.Errorf("%w: config kind does not match step kind %q", api.ErrInvalidStepConfig, step.Kind)
	}
	raw, err := api.EncodeStepConfig(step.Config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO steps (id, flow_id, kind, name, config, pos_x, pos_y)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			flow_id = excluded.flow_id,
			kind = excluded.kind,
			name = excluded.name,
			config = excluded.config,
			pos_x = excluded.pos_x,
			pos_y = excluded.pos_y`,
		step.ID, step.FlowID, string(step.Kind), step.Name, string(raw), step.Layout.X, step.Layout.Y,
	)
	return err
}

// SaveLink inserts or replaces a link.
func (s *SQLiteStore) SaveLink(ctx context.Context, link *api.Link) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO links (id, flow_id, source_step, target_step)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			flow_id = excluded.flow_id,
			source_step = excluded.source_step,
			target_step = excluded.target_step`,
		link.ID, link.FlowID, link.SourceStep, link.TargetStep,
	)
	return err
}

// SaveCredentials stores a tenant's sender credentials.
func (s *SQLiteStore) SaveCredentials(ctx context.Context, tenantID string, creds api.SenderCredentials) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sender_credentials (tenant_id, sender_id, access_token)
		VALUES (?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			sender_id = excluded.sender_id,
			access_token = excluded.access_token`,
		tenantID, creds.SenderID, creds.AccessToken,
	)
	return err
}

func (s *SQLiteStore) Flow(ctx context.Context, flowID string) (*api.Flow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, active, trigger_keywords
		FROM flows WHERE id = ?`, flowID)

	f, err := scanFlow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, api.ErrFlowNotFound
		}
		return nil, err
	}
	return f, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (*api.Flow, error) {
	var f api.Flow
	var active int
	var keywords string
	if err := row.Scan(&f.ID, &f.TenantID, &f.Name, &active, &keywords); err != nil {
		return nil, err
	}
	f.Active = active != 0
	if err := json.Unmarshal([]byte(keywords), &f.TriggerKeywords); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *SQLiteStore) Steps(ctx context.Context, flowID string) ([]*api.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow_id, kind, name, config, pos_x, pos_y
		FROM steps WHERE flow_id = ?
		ORDER BY id`, flowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*api.Step
	for rows.Next() {
		var st api.Step
		var kind, config string
		if err := rows.Scan(&st.ID, &st.FlowID, &kind, &st.Name, &config, &st.Layout.X, &st.Layout.Y); err != nil {
			return nil, err
		}
		st.Kind = api.StepKind(kind)
		cfg, err := api.DecodeStepConfig(st.Kind, []byte(config))
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", st.ID, err)
		}
		st.Config = cfg
		steps = append(steps, &st)
	}
	return steps, rows.Err()
}

func (s *SQLiteStore) Links(ctx context.Context, flowID string) ([]*api.Link, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow_id, source_step, target_step
		FROM links WHERE flow_id = ?
		ORDER BY id`, flowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*api.Link
	for rows.Next() {
		var l api.Link
		if err := rows.Scan(&l.ID, &l.FlowID, &l.SourceStep, &l.TargetStep); err != nil {
			return nil, err
		}
		links = append(links, &l)
	}
	return links, rows.Err()
}

func (s *SQLiteStore) ActiveFlows(ctx context.Context, tenantID string) ([]*api.Flow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, active, trigger_keywords
		FROM flows
		WHERE tenant_id = ? AND active = 1
		ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []*api.Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

func (s *SQLiteStore) SenderCredentials(ctx context.Context, tenantID string) (api.SenderCredentials, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sender_id, access_token
		FROM sender_credentials WHERE tenant_id = ?`, tenantID)

	var creds api.SenderCredentials
	if err := row.Scan(&creds.SenderID, &creds.AccessToken); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return api.SenderCredentials{}, api.ErrCredentialsNotFound
		}
		return api.SenderCredentials{}, err
	}
	return creds, nil
}

func (s *SQLiteStore) Get(ctx context.Context, contactAddress string) (*api.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, contact_address, flow_id, current_step_id, data, status, last_activity
		FROM sessions WHERE contact_address = ?`, contactAddress)

	var sess api.Session
	var data, status string
	var lastActivity int64
	if err := row.Scan(&sess.ID, &sess.ContactAddress, &sess.FlowID, &sess.CurrentStepID, &data, &status, &lastActivity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, api.ErrSessionNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &sess.Data); err != nil {
		return nil, err
	}
	sess.Status = api.SessionStatus(status)
	sess.LastActivity = time.Unix(0, lastActivity)
	return &sess, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, sess *api.Session) error {
	data := sess.Data
	if data == nil {
		data = map[string]string{}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (contact_address, id, flow_id, current_step_id, data, status, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contact_address) DO UPDATE SET
			id = excluded.id,
			flow_id = excluded.flow_id,
			current_step_id = excluded.current_step_id,
			data = excluded.data,
			status = excluded.status,
			last_activity = excluded.last_activity`,
		sess.ContactAddress, sess.ID, sess.FlowID, sess.CurrentStepID,
		string(encoded), string(sess.Status), sess.LastActivity.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) Update(ctx context.Context, contactAddress string, patch SessionPatch) error {
	// Read-modify-write under the assumption that the caller holds the
	// per-contact lease; the lease, not this statement, provides the
	// serialization.
	sess, err := s.Get(ctx, contactAddress)
	if err != nil {
		return err
	}

	if patch.CurrentStepID != nil {
		sess.CurrentStepID = *patch.CurrentStepID
	}
	if patch.Status != nil {
		sess.Status = *patch.Status
	}
	if patch.LastActivity != nil {
		sess.LastActivity = *patch.LastActivity
	}
	if len(patch.MergeData) > 0 {
		if sess.Data == nil {
			sess.Data = make(map[string]string, len(patch.MergeData))
		}
		for k, v := range patch.MergeData {
			sess.Data[k] = v
		}
	}

	encoded, err := json.Marshal(sess.Data)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET flow_id = ?, current_step_id = ?, data = ?, status = ?, last_activity = ?
		WHERE contact_address = ?`,
		sess.FlowID, sess.CurrentStepID, string(encoded), string(sess.Status),
		sess.LastActivity.UnixNano(), contactAddress,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return api.ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, contactAddress string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE contact_address = ?`, contactAddress)
	return err
}

// Leases live in their own table keyed by contact address, never in
// the session row. A held lease must survive session writes, including
// the stale-session Delete that happens mid-invocation; it also covers
// contacts whose first session row does not exist yet.
func (s *SQLiteStore) TryAcquireLease(ctx context.Context, contactAddress, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	expires := now.Add(ttl).UnixNano()
	nowInt := now.UnixNano()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO leases (contact_address, lease_owner, lease_expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(contact_address) DO UPDATE SET
			lease_owner = excluded.lease_owner,
			lease_expires_at = excluded.lease_expires_at
		WHERE leases.lease_owner = excluded.lease_owner
			OR leases.lease_expires_at <= ?`,
		contactAddress, owner, expires, nowInt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) RenewLease(ctx context.Context, contactAddress, owner string, ttl time.Duration) error {
	expires := time.Now().Add(ttl).UnixNano()
	res, err := s.db.ExecContext(ctx, `
		UPDATE leases
		SET lease_expires_at = ?
		WHERE contact_address = ? AND lease_owner = ?`,
		expires, contactAddress, owner,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return api.ErrLeaseUnavailable
	}
	return nil
}

func (s *SQLiteStore) ReleaseLease(ctx context.Context, contactAddress, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM leases WHERE contact_address = ? AND lease_owner = ?`,
		contactAddress, owner,
	)
	return err
}
