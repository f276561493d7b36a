package api

import (
	"context"
	"time"
)

// SenderCredentials identify the outbound channel a tenant sends
// from. They are resolved per tenant, never hard-coded into a flow.
type SenderCredentials struct {
	SenderID    string // provider-side sender identity (e.g. phone number id)
	AccessToken string
}

// SendResult is the outcome of one outbound message delivery attempt.
type SendResult struct {
	Success           bool
	ProviderMessageID string
	Err               error
}

// MessageSender delivers one text message to one external contact
// address. Implementations must honor ctx for timeout and
// cancellation; a timed-out send is reported as a failed SendResult,
// not as an engine error.
type MessageSender interface {
	Send(ctx context.Context, creds SenderCredentials, contactAddress, text string) SendResult
}

// CallbackResult is the outcome of one outbound HTTP callback.
type CallbackResult struct {
	Success bool
	Status  int
	Body    string
	Err     error
	Elapsed time.Duration
}

// CallbackInvoker performs one outbound HTTP call addressed by a
// callback identity. The invoker owns its own execution log; the
// engine never branches on the result.
type CallbackInvoker interface {
	Invoke(ctx context.Context, callbackID string, payload map[string]any) CallbackResult
}

// AuditSink receives the append-only message log. Append failures are
// logged and swallowed: an audit write must never abort an invocation.
type AuditSink interface {
	Append(ctx context.Context, rec AuditRecord) error
}

// Scheduler arranges a future re-entry into the engine for a session
// parked on a delay step. The resume must be a no-op if the session
// has moved past the step by the time the timer fires; the engine
// enforces this recheck in ResumeSession, so implementations only
// deliver the call.
type Scheduler interface {
	Schedule(ctx context.Context, contactAddress, stepID string, delay time.Duration) error
}
