package flowline

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/jpkallio/flowline/internal/persistence"
	"github.com/jpkallio/flowline/internal/scheduler"
	"github.com/jpkallio/flowline/internal/taskqueue"
	workerpkg "github.com/jpkallio/flowline/pkg/worker"
)

// WorkerBundle wires together an Engine, a durable resume-task queue,
// and a Worker that consumes tasks from that queue. Delay timers go
// through the queue, so they survive a process restart.
type WorkerBundle struct {
	Engine Engine

	// Worker drains the resume queue. Run it on its own goroutine:
	//
	//	go bundle.Worker.Run(ctx)
	Worker *workerpkg.Worker

	store *persistence.SQLiteStore
	audit *persistence.SQLiteAuditSink

	// queue is kept unexported; the public API focuses on Engine and
	// Worker.
	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Engine + Queue + Worker combo
// sharing the same SQLite database. Flow graphs, sessions, credentials,
// the message log and queued resume tasks all live in the provided
// *sql.DB.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:flowline.db?_journal=WAL")
//	bundle, err := flowline.NewSQLiteBundle(db, deps, flowline.Options{})
//	go bundle.Worker.Run(ctx)
func NewSQLiteBundle(db *sql.DB, deps Dependencies, opts Options) (*WorkerBundle, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	audit, err := persistence.NewSQLiteAuditSink(db)
	if err != nil {
		return nil, err
	}
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	eng := newEngine(persistence.Stores{
		Graph:       store,
		Sessions:    store,
		Credentials: store,
		Audit:       audit,
	}, deps, opts)
	eng.SetScheduler(scheduler.NewQueueScheduler(q))

	return &WorkerBundle{
		Engine: eng,
		Worker: workerpkg.New(eng, q, deps.Logger),
		store:  store,
		audit:  audit,
		queue:  q,
	}, nil
}

// NewRedisBundle constructs an Engine holding hot per-contact state
// (sessions and leases) in Redis, while flow graphs, credentials, the
// message log and the resume queue stay in the SQLite database. The
// Redis session keys expire with opts.SessionTTL.
func NewRedisBundle(client *redis.Client, db *sql.DB, keyPrefix string, deps Dependencies, opts Options) (*WorkerBundle, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	audit, err := persistence.NewSQLiteAuditSink(db)
	if err != nil {
		return nil, err
	}
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}
	sessions := persistence.NewRedisSessionStore(client, keyPrefix, opts.SessionTTL)

	eng := newEngine(persistence.Stores{
		Graph:       store,
		Sessions:    sessions,
		Credentials: store,
		Audit:       audit,
	}, deps, opts)
	eng.SetScheduler(scheduler.NewQueueScheduler(q))

	return &WorkerBundle{
		Engine: eng,
		Worker: workerpkg.New(eng, q, deps.Logger),
		store:  store,
		audit:  audit,
		queue:  q,
	}, nil
}

// SaveFlow stores or replaces a flow row.
func (b *WorkerBundle) SaveFlow(ctx context.Context, flow *Flow) error {
	return b.store.SaveFlow(ctx, flow)
}

// SaveStep stores or replaces a step, validating its configuration.
func (b *WorkerBundle) SaveStep(ctx context.Context, step *Step) error {
	return b.store.SaveStep(ctx, step)
}

// SaveLink stores or replaces a link.
func (b *WorkerBundle) SaveLink(ctx context.Context, link *Link) error {
	return b.store.SaveLink(ctx, link)
}

// SaveGraph stores a whole built flow in one go.
func (b *WorkerBundle) SaveGraph(ctx context.Context, flow *Flow, steps []*Step, links []*Link) error {
	if err := b.SaveFlow(ctx, flow); err != nil {
		return err
	}
	for _, s := range steps {
		if err := b.SaveStep(ctx, s); err != nil {
			return err
		}
	}
	for _, l := range links {
		if err := b.SaveLink(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// SaveCredentials stores the outbound credentials for a tenant.
func (b *WorkerBundle) SaveCredentials(ctx context.Context, tenantID string, creds SenderCredentials) error {
	return b.store.SaveCredentials(ctx, tenantID, creds)
}

// AuditByContact returns the message log rows for one contact, oldest
// first.
func (b *WorkerBundle) AuditByContact(ctx context.Context, contactAddress string) ([]AuditRecord, error) {
	return b.audit.ListByContact(ctx, contactAddress)
}

// PendingResumes returns the approximate number of queued resume
// tasks, including not-yet-eligible ones.
func (b *WorkerBundle) PendingResumes() int {
	return b.queue.Len()
}
