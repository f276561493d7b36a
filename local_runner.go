package flowline

import (
	"context"

	"github.com/jpkallio/flowline/internal/persistence"
	"github.com/jpkallio/flowline/internal/scheduler"
)

// LocalRunner bundles an in-memory engine with in-memory stores and an
// in-process timer scheduler. Intended for local development, tests
// and simple single-process deployments.
//
// Typical usage:
//
//	runner := flowline.NewLocalRunner(flowline.Dependencies{Sender: sender}, flowline.Options{})
//	defer runner.Close()
//
//	flow, steps, links, _ := flowline.NewFlow("f1", "t1", "Demo").
//	    Triggers("hello").
//	    Message("hi", "Hi there!").
//	    Build()
//	runner.PutFlow(flow, steps, links)
//	runner.PutCredentials("t1", flowline.SenderCredentials{SenderID: "123", AccessToken: "tok"})
//
//	res, err := runner.Engine.HandleInboundMessage(ctx, "+15550001", "hello",
//	    flowline.ChannelContext{TenantID: "t1"})
type LocalRunner struct {
	// Engine processes inbound messages against the in-memory stores.
	Engine Engine

	store *persistence.InMemoryStore
	audit *persistence.MemoryAuditSink
	sched *scheduler.TimerScheduler
}

// NewLocalRunner constructs a LocalRunner.
func NewLocalRunner(deps Dependencies, opts Options) *LocalRunner {
	store := persistence.NewInMemoryStore()
	audit := persistence.NewMemoryAuditSink()

	eng := newEngine(persistence.Stores{
		Graph:       store,
		Sessions:    store,
		Credentials: store,
		Audit:       audit,
	}, deps, opts)

	sched := scheduler.NewTimerScheduler(eng, deps.Logger)
	eng.SetScheduler(sched)

	return &LocalRunner{
		Engine: eng,
		store:  store,
		audit:  audit,
		sched:  sched,
	}
}

// PutFlow stores or replaces a flow definition with its steps and
// links.
func (r *LocalRunner) PutFlow(flow *Flow, steps []*Step, links []*Link) {
	r.store.PutFlow(flow, steps, links)
}

// DeleteFlow removes a flow and its graph.
func (r *LocalRunner) DeleteFlow(flowID string) {
	r.store.DeleteFlow(flowID)
}

// PutCredentials stores the outbound credentials for a tenant.
func (r *LocalRunner) PutCredentials(tenantID string, creds SenderCredentials) {
	r.store.PutCredentials(tenantID, creds)
}

// Session returns the stored session for a contact.
func (r *LocalRunner) Session(ctx context.Context, contactAddress string) (*Session, error) {
	return r.Engine.Session(ctx, contactAddress)
}

// AuditRecords returns a copy of the message log, oldest first.
func (r *LocalRunner) AuditRecords() []AuditRecord {
	return r.audit.Records()
}

// Close stops all pending delay timers. In-flight resumes finish.
func (r *LocalRunner) Close() {
	r.sched.Close()
}
