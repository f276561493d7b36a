package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jpkallio/flowline/pkg/api"
)

// RedisSessionStore is a SessionStore backed by Redis. It uses a
// simple key structure:
//
//	<prefix>sess:<contact>   => JSON-encoded session payload
//	<prefix>lease:<contact>  => lease owner string with PX expiry
//
// Session keys optionally carry a TTL matching the engine's session
// expiry policy, so stale sessions disappear from Redis on their own.
// Graph data stays in a GraphStore (memory or SQLite); Redis only
// holds the hot per-contact state.
type RedisSessionStore struct {
	client *redis.Client
	prefix string

	// sessionTTL is applied to session keys on every write.
	// Zero means no expiry.
	sessionTTL time.Duration
}

var _ SessionStore = (*RedisSessionStore)(nil)

type redisSessionPayload struct {
	ID             string            `json:"id"`
	ContactAddress string            `json:"contactAddress"`
	FlowID         string            `json:"flowId,omitempty"`
	CurrentStepID  string            `json:"currentStepId,omitempty"`
	Data           map[string]string `json:"data,omitempty"`
	Status         string            `json:"status"`
	LastActivity   int64             `json:"lastActivity"`
}

// NewRedisSessionStore creates a RedisSessionStore.
// prefix is optional but recommended (e.g. "flowline:").
func NewRedisSessionStore(client *redis.Client, prefix string, sessionTTL time.Duration) *RedisSessionStore {
	if prefix == "" {
		prefix = "flowline:"
	}
	return &RedisSessionStore{
		client:     client,
		prefix:     prefix,
		sessionTTL: sessionTTL,
	}
}

func (r *RedisSessionStore) keySession(contact string) string {
	return r.prefix + "sess:" + contact
}

func (r *RedisSessionStore) keyLease(contact string) string {
	return r.prefix + "lease:" + contact
}

func encodeRedisSession(sess *api.Session) ([]byte, error) {
	return json.Marshal(redisSessionPayload{
		ID:             sess.ID,
		ContactAddress: sess.ContactAddress,
		FlowID:         sess.FlowID,
		CurrentStepID:  sess.CurrentStepID,
		Data:           sess.Data,
		Status:         string(sess.Status),
		LastActivity:   sess.LastActivity.UnixNano(),
	})
}

func decodeRedisSession(data []byte) (*api.Session, error) {
	if len(data) == 0 {
		return nil, api.ErrSessionNotFound
	}
	var payload redisSessionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &api.Session{
		ID:             payload.ID,
		ContactAddress: payload.ContactAddress,
		FlowID:         payload.FlowID,
		CurrentStepID:  payload.CurrentStepID,
		Data:           payload.Data,
		Status:         api.SessionStatus(payload.Status),
		LastActivity:   time.Unix(0, payload.LastActivity),
	}, nil
}

func (r *RedisSessionStore) Get(ctx context.Context, contactAddress string) (*api.Session, error) {
	data, err := r.client.Get(ctx, r.keySession(contactAddress)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, api.ErrSessionNotFound
		}
		return nil, err
	}
	return decodeRedisSession(data)
}

func (r *RedisSessionStore) Upsert(ctx context.Context, sess *api.Session) error {
	data, err := encodeRedisSession(sess)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.keySession(sess.ContactAddress), data, r.sessionTTL).Err()
}

func (r *RedisSessionStore) Update(ctx context.Context, contactAddress string, patch SessionPatch) error {
	// Read-modify-write; the per-contact lease held by the caller
	// provides the serialization, same as the SQLite store.
	sess, err := r.Get(ctx, contactAddress)
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

	return r.Upsert(ctx, sess)
}

func (r *RedisSessionStore) Delete(ctx context.Context, contactAddress string) error {
	return r.client.Del(ctx, r.keySession(contactAddress)).Err()
}

var (
	// Lua script for acquiring a lease with re-entrant behavior for the same owner.
	// Returns 1 if acquired/refreshed, 0 otherwise.
	redisLeaseAcquireLua = `
local key = KEYS[1]
local owner = ARGV[1]
local ttlms = tonumber(ARGV[2])

local cur = redis.call('GET', key)
if not cur then
	redis.call('PSETEX', key, ttlms, owner)
	return 1
end
if cur == owner then
	redis.call('PEXPIRE', key, ttlms)
	return 1
end
return 0
`

	// Lua script for renewing a lease. Returns 1 if renewed, 0 otherwise.
	redisLeaseRenewLua = `
local key = KEYS[1]
local owner = ARGV[1]
local ttlms = tonumber(ARGV[2])

local cur = redis.call('GET', key)
if not cur then
	return 0
end
if cur == owner then
	redis.call('PEXPIRE', key, ttlms)
	return 1
end
return 0
`

	// Lua script for releasing a lease. Returns 1 if released, 0 otherwise.
	redisLeaseReleaseLua = `
local key = KEYS[1]
local owner = ARGV[1]

local cur = redis.call('GET', key)
if not cur then
	return 0
end
if cur == owner then
	redis.call('DEL', key)
	return 1
end
return 0
`
)

func (r *RedisSessionStore) TryAcquireLease(ctx context.Context, contactAddress, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("ttl must be > 0")
	}
	res, err := r.client.Eval(ctx, redisLeaseAcquireLua, []string{r.keyLease(contactAddress)}, owner, ttl.Milliseconds()).Result()
	if err != nil {
		return false, err
	}
	return evalResultIsOne(res), nil
}

func (r *RedisSessionStore) RenewLease(ctx context.Context, contactAddress, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be > 0")
	}
	res, err := r.client.Eval(ctx, redisLeaseRenewLua, []string{r.keyLease(contactAddress)}, owner, ttl.Milliseconds()).Result()
	if err != nil {
		return err
	}
	if !evalResultIsOne(res) {
		return api.ErrLeaseUnavailable
	}
	return nil
}

func (r *RedisSessionStore) ReleaseLease(ctx context.Context, contactAddress, owner string) error {
	// Idempotent: if the lease doesn't exist, succeed.
	res, err := r.client.Eval(ctx, redisLeaseReleaseLua, []string{r.keyLease(contactAddress)}, owner).Result()
	if err != nil {
		return err
	}
	if evalResultIsOne(res) {
		return nil
	}
	cur, gerr := r.client.Get(ctx, r.keyLease(contactAddress)).Result()
	if errors.Is(gerr, redis.Nil) {
		return nil
	}
	if gerr != nil {
		return gerr
	}
	if cur != owner && cur != "" {
		return api.ErrLeaseUnavailable
	}
	return nil
}

func evalResultIsOne(res any) bool {
	switch v := res.(type) {
	case int64:
		return v == 1
	case int:
		return v == 1
	case string:
		return v == "1"
	default:
		return false
	}
}
