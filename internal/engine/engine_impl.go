package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jpkallio/flowline/internal/graph"
	"github.com/jpkallio/flowline/internal/persistence"
	"github.com/jpkallio/flowline/pkg/api"
)

// Options tune a single engine instance. Zero values fall back to the
// defaults below.
type Options struct {
	// MaxStepsPerInvocation bounds the Executing self-loop so an
	// accidental cycle in a malformed graph cannot spin forever.
	MaxStepsPerInvocation int

	// SendTimeout bounds one outbound message delivery.
	SendTimeout time.Duration

	// CallbackTimeout bounds one outbound HTTP callback.
	CallbackTimeout time.Duration

	// SessionTTL marks sessions with no activity past this age as
	// stale; stale sessions are re-bootstrapped from trigger matching.
	// Zero disables expiry.
	SessionTTL time.Duration

	// LeaseTTL is how long one invocation may hold a contact's lease
	// before another worker may steal it (crash protection).
	LeaseTTL time.Duration

	// LeaseWait bounds how long an invocation polls for the lease
	// before giving up with ErrLeaseUnavailable.
	LeaseWait time.Duration

	// FallbackMessage is sent when no flow matches a contact's first
	// message. Empty disables the fallback send.
	FallbackMessage string
}

const (
	defaultMaxSteps        = 25
	defaultSendTimeout     = 10 * time.Second
	defaultCallbackTimeout = 10 * time.Second
	defaultLeaseTTL        = 30 * time.Second
	defaultLeaseWait       = 5 * time.Second

	leasePollInterval = 10 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.MaxStepsPerInvocation <= 0 {
		o.MaxStepsPerInvocation = defaultMaxSteps
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = defaultSendTimeout
	}
	if o.CallbackTimeout <= 0 {
		o.CallbackTimeout = defaultCallbackTimeout
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = defaultLeaseTTL
	}
	if o.LeaseWait <= 0 {
		o.LeaseWait = defaultLeaseWait
	}
	return o
}

// Config describes how to construct an engineImpl.
// Only used inside this package; external callers use the root
// package's constructors.
type Config struct {
	Stores   persistence.Stores
	Sender   api.MessageSender
	Invoker  api.CallbackInvoker
	Observer api.Observer
	Logger   *slog.Logger
	Options  Options
}

type engineImpl struct {
	graph       persistence.GraphStore
	sessions    persistence.SessionStore
	credentials persistence.CredentialStore
	audit       api.AuditSink

	sender   api.MessageSender
	invoker  api.CallbackInvoker
	observer api.Observer
	logger   *slog.Logger

	// scheduler is set after construction because timer-based
	// schedulers call back into the engine. Nil disables delay steps
	// (they suspend but never fire).
	scheduler api.Scheduler

	opts Options
}

// New creates a new Engine from the given configuration.
func New(cfg Config) *engineImpl {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	audit := cfg.Stores.Audit
	if audit == nil {
		audit = persistence.NoopAuditSink{}
	}
	return &engineImpl{
		graph:       cfg.Stores.Graph,
		sessions:    cfg.Stores.Sessions,
		credentials: cfg.Stores.Credentials,
		audit:       audit,
		sender:      cfg.Sender,
		invoker:     cfg.Invoker,
		observer:    obs,
		logger:      logger,
		opts:        cfg.Options.withDefaults(),
	}
}

var _ api.Engine = (*engineImpl)(nil)

// SetScheduler wires the delayed-resume scheduler. Must be called
// before the first delay step executes; the root package constructors
// handle this.
func (e *engineImpl) SetScheduler(s api.Scheduler) {
	e.scheduler = s
}

// execContext is the state one invocation threads through its step
// loop: the live inbound text plus session-data mutations accumulated
// across steps, merged into the store exactly once at the end.
type execContext struct {
	contactAddress string
	currentMessage string
	data           map[string]string
	pending        map[string]string
}

func newExecContext(sess *api.Session, message string) *execContext {
	data := make(map[string]string, len(sess.Data))
	for k, v := range sess.Data {
		data[k] = v
	}
	return &execContext{
		contactAddress: sess.ContactAddress,
		currentMessage: message,
		data:           data,
		pending:        make(map[string]string),
	}
}

// setData records a session-data mutation. Visible to later steps in
// the same invocation and persisted with the final advance.
func (c *execContext) setData(k, v string) {
	c.data[k] = v
	c.pending[k] = v
}

func (e *engineImpl) HandleInboundMessage(ctx context.Context, contactAddress, text string, channel api.ChannelContext) (*api.InvocationResult, error) {
	e.observer.OnInvocationStart(ctx, contactAddress)

	owner := uuid.NewString()
	if err := e.acquireLease(ctx, contactAddress, owner); err != nil {
		e.observer.OnInvocationFinished(ctx, contactAddress, nil, err)
		return nil, err
	}
	defer e.releaseLease(contactAddress, owner)

	result, err := e.handleInboundLocked(ctx, contactAddress, text, channel)
	e.observer.OnInvocationFinished(ctx, contactAddress, result, err)
	return result, err
}

func (e *engineImpl) handleInboundLocked(ctx context.Context, contactAddress, text string, channel api.ChannelContext) (*api.InvocationResult, error) {
	now := time.Now()

	sess, created, err := e.loadOrCreate(ctx, contactAddress, text, channel, now)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		// No flow matched: send the fallback response and stop. No
		// session row is written for this contact.
		e.sendFallback(ctx, contactAddress, channel)
		return &api.InvocationResult{State: api.StateFallback}, nil
	}

	// One inbound audit row per invocation, written before flow
	// resolution so the message stays on record even when the session
	// references a flow that no longer exists.
	e.appendAudit(ctx, api.AuditRecord{
		TenantID:       channel.TenantID,
		FlowID:         sess.FlowID,
		ContactAddress: contactAddress,
		Direction:      api.DirectionIncoming,
		Body:           text,
		Status:         api.DeliveryReceived,
	})

	flow, err := e.graph.Flow(ctx, sess.FlowID)
	if err != nil {
		if errors.Is(err, api.ErrFlowNotFound) {
			// The flow was deleted while the session was parked.
			// Fail gracefully: mark the session errored, don't crash.
			e.logger.WarnContext(ctx, "session references deleted flow",
				slog.String("contact", contactAddress),
				slog.String("flow", sess.FlowID),
			)
			return e.finishInvocation(ctx, sess, created, api.StateError, "", nil, now)
		}
		return nil, err
	}

	nav, err := e.loadNavigator(ctx, flow.ID)
	if err != nil {
		return nil, err
	}

	start, terminal, err := e.resolveStart(nav, sess)
	if err != nil {
		e.logger.ErrorContext(ctx, "cannot resolve execution step",
			slog.String("contact", contactAddress),
			slog.String("flow", flow.ID),
			slog.Any("error", err),
		)
		return e.finishInvocation(ctx, sess, created, api.StateError, "", nil, now)
	}
	if terminal {
		// The suspended step has no successor: the flow is done.
		return e.finishInvocation(ctx, sess, created, api.StateCompleted, "", nil, now)
	}

	exctx := newExecContext(sess, text)
	return e.runLoop(ctx, flow, nav, sess, created, start, exctx, now)
}

// resolveStart picks the step the loop enters at. A session parked on
// a suspend point (send-and-wait or delay) resumes at that step's
// successor: the suspended step already did its work, and a real user
// reply supersedes a pending delay timer.
func (e *engineImpl) resolveStart(nav *graph.Navigator, sess *api.Session) (start *api.Step, terminal bool, err error) {
	if sess.CurrentStepID == "" {
		entry, err := nav.EntryStep()
		if err != nil {
			return nil, false, err
		}
		return entry, false, nil
	}

	current := nav.Step(sess.CurrentStepID)
	if current == nil {
		return nil, false, fmt.Errorf("%w: session parked on %s", api.ErrStepNotFound, sess.CurrentStepID)
	}
	next := nav.Successor(current.ID)
	if next == nil {
		return nil, true, nil
	}
	return next, false, nil
}

// runLoop drives node executors from start until a terminal state,
// bounded by MaxStepsPerInvocation, then persists the session exactly
// once.
func (e *engineImpl) runLoop(
	ctx context.Context,
	flow *api.Flow,
	nav *graph.Navigator,
	sess *api.Session,
	created bool,
	start *api.Step,
	exctx *execContext,
	now time.Time,
) (*api.InvocationResult, error) {
	step := start
	executed := 0

	for {
		if executed >= e.opts.MaxStepsPerInvocation {
			err := fmt.Errorf("%w: flow %s exceeded %d steps in one invocation",
				api.ErrLoopBoundExceeded, flow.ID, e.opts.MaxStepsPerInvocation)
			e.logger.ErrorContext(ctx, "loop bound exceeded",
				slog.String("contact", sess.ContactAddress),
				slog.String("flow", flow.ID),
				slog.Int("bound", e.opts.MaxStepsPerInvocation),
			)
			res, perr := e.finishInvocation(ctx, sess, created, api.StateError, "", exctx.pending, now)
			if perr != nil {
				return res, perr
			}
			res.Steps = executed
			return res, err
		}

		e.observer.OnStepStart(ctx, sess, step)
		startTime := time.Now()

		dec, stepErr := e.executeStep(ctx, flow, nav, step, exctx)

		e.observer.OnStepCompleted(ctx, sess, step, stepErr, time.Since(startTime))
		executed++

		if dec.fatal != nil {
			e.logger.ErrorContext(ctx, "step routing failed",
				slog.String("contact", sess.ContactAddress),
				slog.String("flow", flow.ID),
				slog.String("step", step.ID),
				slog.Any("error", dec.fatal),
			)
			res, perr := e.finishInvocation(ctx, sess, created, api.StateError, "", exctx.pending, now)
			if perr != nil {
				return res, perr
			}
			res.Steps = executed
			return res, dec.fatal
		}

		if dec.suspend {
			res, perr := e.finishInvocation(ctx, sess, created, api.StateSuspended, step.ID, exctx.pending, now)
			if perr != nil {
				return res, perr
			}
			res.Steps = executed
			return res, nil
		}

		if dec.next == nil {
			res, perr := e.finishInvocation(ctx, sess, created, api.StateCompleted, "", exctx.pending, now)
			if perr != nil {
				return res, perr
			}
			res.Steps = executed
			return res, nil
		}

		step = dec.next
	}
}

// finishInvocation persists the session's terminal state. This is the
// single persistence point of an invocation; the loop never writes the
// session mid-flight.
func (e *engineImpl) finishInvocation(
	ctx context.Context,
	sess *api.Session,
	created bool,
	state api.TerminalState,
	finalStepID string,
	pendingData map[string]string,
	now time.Time,
) (*api.InvocationResult, error) {
	status := api.SessionActive
	switch state {
	case api.StateCompleted:
		status = api.SessionCompleted
	case api.StateError:
		status = api.SessionErrored
	}

	var persistErr error
	if created {
		sess.CurrentStepID = finalStepID
		sess.Status = status
		sess.LastActivity = now
		if len(pendingData) > 0 {
			if sess.Data == nil {
				sess.Data = make(map[string]string, len(pendingData))
			}
			for k, v := range pendingData {
				sess.Data[k] = v
			}
		}
		persistErr = e.sessions.Upsert(ctx, sess)
	} else {
		persistErr = e.sessions.Update(ctx, sess.ContactAddress, persistence.SessionPatch{
			CurrentStepID: &finalStepID,
			MergeData:     pendingData,
			Status:        &status,
			LastActivity:  &now,
		})
	}

	result := &api.InvocationResult{State: state, FinalStepID: finalStepID}
	if persistErr != nil {
		// The side effects already happened; the caller must retry at
		// the transport level, not re-run the loop.
		return result, fmt.Errorf("%w: %v", api.ErrSessionPersistFailed, persistErr)
	}
	return result, nil
}

func (e *engineImpl) ResumeSession(ctx context.Context, contactAddress, stepID string) (*api.InvocationResult, error) {
	owner := uuid.NewString()
	if err := e.acquireLease(ctx, contactAddress, owner); err != nil {
		return nil, err
	}
	defer e.releaseLease(contactAddress, owner)

	sess, err := e.sessions.Get(ctx, contactAddress)
	if err != nil {
		if errors.Is(err, api.ErrSessionNotFound) {
			// Session gone: stale timer, nothing to do.
			return nil, nil
		}
		return nil, err
	}

	// Staleness recheck: a real inbound message may have advanced the
	// session past the delay step while the timer was pending. The
	// user's reply wins; this resume is a no-op.
	if sess.CurrentStepID != stepID {
		e.logger.DebugContext(ctx, "skipping stale delayed resume",
			slog.String("contact", contactAddress),
			slog.String("scheduled_step", stepID),
			slog.String("current_step", sess.CurrentStepID),
		)
		return nil, nil
	}

	now := time.Now()

	flow, err := e.graph.Flow(ctx, sess.FlowID)
	if err != nil {
		if errors.Is(err, api.ErrFlowNotFound) {
			return e.finishInvocation(ctx, sess, false, api.StateError, "", nil, now)
		}
		return nil, err
	}

	nav, err := e.loadNavigator(ctx, flow.ID)
	if err != nil {
		return nil, err
	}

	current := nav.Step(stepID)
	if current == nil {
		return e.finishInvocation(ctx, sess, false, api.StateError, "", nil, now)
	}

	next := nav.Successor(current.ID)
	if next == nil {
		return e.finishInvocation(ctx, sess, false, api.StateCompleted, "", nil, now)
	}

	// Timer resumes carry no inbound text; conditions on "message"
	// see the empty string.
	exctx := newExecContext(sess, "")
	return e.runLoop(ctx, flow, nav, sess, false, next, exctx, now)
}

func (e *engineImpl) Session(ctx context.Context, contactAddress string) (*api.Session, error) {
	return e.sessions.Get(ctx, contactAddress)
}

func (e *engineImpl) loadNavigator(ctx context.Context, flowID string) (*graph.Navigator, error) {
	steps, err := e.graph.Steps(ctx, flowID)
	if err != nil {
		return nil, err
	}
	links, err := e.graph.Links(ctx, flowID)
	if err != nil {
		return nil, err
	}
	return graph.New(steps, links), nil
}

// acquireLease polls the store lease until acquired, the wait budget
// is spent, or ctx is done. Holding the lease across the whole
// load → execute → persist span is what serializes concurrent
// invocations for one contact.
func (e *engineImpl) acquireLease(ctx context.Context, contactAddress, owner string) error {
	deadline := time.Now().Add(e.opts.LeaseWait)
	for {
		acquired, err := e.sessions.TryAcquireLease(ctx, contactAddress, owner, e.opts.LeaseTTL)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: contact %s", api.ErrLeaseUnavailable, contactAddress)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(leasePollInterval):
		}
	}
}

func (e *engineImpl) releaseLease(contactAddress, owner string) {
	// Release must not be tied to the (possibly cancelled) invocation
	// context, or a timeout would leak the lease until TTL expiry.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.sessions.ReleaseLease(ctx, contactAddress, owner); err != nil {
		e.logger.Warn("lease release failed",
			slog.String("contact", contactAddress),
			slog.Any("error", err),
		)
	}
}

func (e *engineImpl) appendAudit(ctx context.Context, rec api.AuditRecord) {
	if err := e.audit.Append(ctx, rec); err != nil {
		// Audit failures are logged and swallowed: a log write must
		// never abort message processing.
		e.logger.WarnContext(ctx, "audit append failed",
			slog.String("contact", rec.ContactAddress),
			slog.String("direction", string(rec.Direction)),
			slog.Any("error", err),
		)
	}
}

func (e *engineImpl) sendFallback(ctx context.Context, contactAddress string, channel api.ChannelContext) {
	if e.opts.FallbackMessage == "" || e.sender == nil {
		return
	}
	creds, err := e.credentials.SenderCredentials(ctx, channel.TenantID)
	if err != nil {
		e.logger.WarnContext(ctx, "no sender credentials for fallback",
			slog.String("tenant", channel.TenantID),
			slog.Any("error", err),
		)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.opts.SendTimeout)
	defer cancel()
	res := e.sender.Send(sendCtx, creds, contactAddress, e.opts.FallbackMessage)

	status := api.DeliverySent
	if !res.Success {
		status = api.DeliveryFailed
	}
	e.appendAudit(ctx, api.AuditRecord{
		TenantID:          channel.TenantID,
		ContactAddress:    contactAddress,
		Direction:         api.DirectionOutgoing,
		Body:              e.opts.FallbackMessage,
		Status:            status,
		ProviderMessageID: res.ProviderMessageID,
	})
}
