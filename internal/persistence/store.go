package persistence

import (
	"context"
	"time"

	"github.com/jpkallio/flowline/pkg/api"
)

// GraphStore loads flow definitions. Graphs are written by the
// external editor; the engine only reads them. Implementations
// validate step configurations at this boundary (DecodeStepConfig), so
// the engine never sees a config that does not match its step kind.
type GraphStore interface {
	// Flow returns a flow by ID, or api.ErrFlowNotFound.
	Flow(ctx context.Context, flowID string) (*api.Flow, error)

	// Steps returns all steps of a flow with decoded configurations.
	Steps(ctx context.Context, flowID string) ([]*api.Step, error)

	// Links returns all links of a flow.
	Links(ctx context.Context, flowID string) ([]*api.Link, error)

	// ActiveFlows returns the active flows for one tenant, with
	// trigger keywords populated, for session bootstrap matching.
	// Tenant scope is resolved by the caller; this store never
	// answers cross-tenant queries.
	ActiveFlows(ctx context.Context, tenantID string) ([]*api.Flow, error)
}

// SessionPatch is a partial session update. Nil fields are left
// untouched. MergeData keys overwrite existing keys; stored keys
// absent from the patch are preserved.
type SessionPatch struct {
	CurrentStepID *string
	MergeData     map[string]string
	Status        *api.SessionStatus
	LastActivity  *time.Time
}

// SessionStore persists per-contact execution state, keyed by contact
// address. It also owns the per-contact lease that serializes
// concurrent invocations for the same contact.
type SessionStore interface {
	// Get returns the session for a contact, or api.ErrSessionNotFound.
	Get(ctx context.Context, contactAddress string) (*api.Session, error)

	// Upsert inserts or fully replaces a session.
	Upsert(ctx context.Context, sess *api.Session) error

	// Update applies a partial update to an existing session.
	// Returns api.ErrSessionNotFound for unknown contacts.
	Update(ctx context.Context, contactAddress string, patch SessionPatch) error

	// Delete removes a session. Unknown contacts are not an error.
	Delete(ctx context.Context, contactAddress string) error

	// TryAcquireLease attempts to acquire (or re-acquire) the lease
	// for a contact. If another owner holds an unexpired lease it
	// returns acquired=false, err=nil.
	//
	// A lease held by the same owner is re-entrant.
	TryAcquireLease(ctx context.Context, contactAddress, owner string, ttl time.Duration) (acquired bool, err error)

	// RenewLease extends a lease owned by 'owner' for the given ttl.
	RenewLease(ctx context.Context, contactAddress, owner string, ttl time.Duration) error

	// ReleaseLease releases a lease if owned by 'owner'. Idempotent.
	ReleaseLease(ctx context.Context, contactAddress, owner string) error
}

// CredentialStore resolves per-tenant outbound sender credentials.
type CredentialStore interface {
	// SenderCredentials returns the credentials a tenant sends from,
	// or api.ErrCredentialsNotFound.
	SenderCredentials(ctx context.Context, tenantID string) (api.SenderCredentials, error)
}

// Stores bundles the collaborators an engine needs from the storage
// side. AuditSink lives in pkg/api because test doubles and external
// sinks implement it too.
type Stores struct {
	Graph       GraphStore
	Sessions    SessionStore
	Credentials CredentialStore
	Audit       api.AuditSink
}
