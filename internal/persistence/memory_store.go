package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/jpkallio/flowline/pkg/api"
)

// InMemoryStore is a goroutine-safe implementation of GraphStore,
// SessionStore and CredentialStore backed by maps. It is the backend
// for tests and single-process deployments that do not need
// durability.
type InMemoryStore struct {
	mu          sync.RWMutex
	flows       map[string]*api.Flow
	steps       map[string][]*api.Step // by flow ID
	links       map[string][]*api.Link // by flow ID
	sessions    map[string]*api.Session
	credentials map[string]api.SenderCredentials

	leases map[string]memLease
}

type memLease struct {
	owner   string
	expires time.Time
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		flows:       make(map[string]*api.Flow),
		steps:       make(map[string][]*api.Step),
		links:       make(map[string][]*api.Link),
		sessions:    make(map[string]*api.Session),
		credentials: make(map[string]api.SenderCredentials),
		leases:      make(map[string]memLease),
	}
}

// Ensure InMemoryStore implements the interfaces.
var (
	_ GraphStore      = (*InMemoryStore)(nil)
	_ SessionStore    = (*InMemoryStore)(nil)
	_ CredentialStore = (*InMemoryStore)(nil)
)

// PutFlow stores a flow definition with its steps and links, replacing
// any previous graph for the same flow ID. Step configurations must
// already be decoded; this mirrors what the editor-facing CRUD layer
// writes.
func (s *InMemoryStore) PutFlow(flow *api.Flow, steps []*api.Step, links []*api.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := *flow
	s.flows[flow.ID] = &f
	s.steps[flow.ID] = append([]*api.Step(nil), steps...)
	s.links[flow.ID] = append([]*api.Link(nil), links...)
}

// DeleteFlow removes a flow and its owned steps and links.
func (s *InMemoryStore) DeleteFlow(flowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.flows, flowID)
	delete(s.steps, flowID)
	delete(s.links, flowID)
}

// PutCredentials stores sender credentials for a tenant.
func (s *InMemoryStore) PutCredentials(tenantID string, creds api.SenderCredentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[tenantID] = creds
}

func (s *InMemoryStore) Flow(ctx context.Context, flowID string) (*api.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flows[flowID]
	if !ok {
		return nil, api.ErrFlowNotFound
	}
	copied := *f
	return &copied, nil
}

func (s *InMemoryStore) Steps(ctx context.Context, flowID string) ([]*api.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]*api.Step(nil), s.steps[flowID]...), nil
}

func (s *InMemoryStore) Links(ctx context.Context, flowID string) ([]*api.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]*api.Link(nil), s.links[flowID]...), nil
}

func (s *InMemoryStore) ActiveFlows(ctx context.Context, tenantID string) ([]*api.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Flow
	for _, f := range s.flows {
		if !f.Active || f.TenantID != tenantID {
			continue
		}
		copied := *f
		result = append(result, &copied)
	}
	return result, nil
}

func (s *InMemoryStore) SenderCredentials(ctx context.Context, tenantID string) (api.SenderCredentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creds, ok := s.credentials[tenantID]
	if !ok {
		return api.SenderCredentials{}, api.ErrCredentialsNotFound
	}
	return creds, nil
}

func (s *InMemoryStore) Get(ctx context.Context, contactAddress string) (*api.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[contactAddress]
	if !ok {
		return nil, api.ErrSessionNotFound
	}
	return copySession(sess), nil
}

func (s *InMemoryStore) Upsert(ctx context.Context, sess *api.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ContactAddress] = copySession(sess)
	return nil
}

func (s *InMemoryStore) Update(ctx context.Context, contactAddress string, patch SessionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[contactAddress]
	if !ok {
		return api.ErrSessionNotFound
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
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, contactAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, contactAddress)
	return nil
}

func (s *InMemoryStore) TryAcquireLease(ctx context.Context, contactAddress, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cur, ok := s.leases[contactAddress]
	if ok && cur.owner != owner && cur.expires.After(now) {
		return false, nil
	}

	s.leases[contactAddress] = memLease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (s *InMemoryStore) RenewLease(ctx context.Context, contactAddress, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.leases[contactAddress]
	if !ok || cur.owner != owner {
		return api.ErrLeaseUnavailable
	}
	cur.expires = time.Now().Add(ttl)
	s.leases[contactAddress] = cur
	return nil
}

func (s *InMemoryStore) ReleaseLease(ctx context.Context, contactAddress, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.leases[contactAddress]
	if !ok {
		return nil
	}
	if cur.owner != owner && cur.expires.After(time.Now()) {
		return api.ErrLeaseUnavailable
	}
	delete(s.leases, contactAddress)
	return nil
}

func copySession(sess *api.Session) *api.Session {
	copied := *sess
	if sess.Data != nil {
		copied.Data = make(map[string]string, len(sess.Data))
		for k, v := range sess.Data {
			copied.Data[k] = v
		}
	}
	return &copied
}
