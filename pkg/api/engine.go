package api

import (
	"context"
)

// TerminalState is the state an engine invocation ends in. Every
// invocation reaches exactly one terminal state and persists the
// session exactly once on the way out (except Fallback, which by
// design persists nothing).
type TerminalState string

const (
	// StateFallback: no flow matched the contact's first message; a
	// fallback response was sent and no session was stored.
	StateFallback TerminalState = "FALLBACK"

	// StateError: a structural failure (malformed graph, loop bound)
	// stopped the invocation. Visible on the session's status marker,
	// never surfaced to the contact.
	StateError TerminalState = "ERROR"

	// StateCompleted: the flow reached a dead end; the session's
	// current step is cleared.
	StateCompleted TerminalState = "COMPLETED"

	// StateSuspended: the session is parked on a step, awaiting the
	// next inbound message or a scheduled timer.
	StateSuspended TerminalState = "SUSPENDED"
)

// ChannelContext carries the transport-side identity of an inbound
// event. Tenant resolution happens outside the engine; callers pass
// the resolved scope in.
type ChannelContext struct {
	TenantID string

	// SenderID is the provider-side identity the inbound message was
	// addressed to. Used for the fallback response when no flow
	// matches.
	SenderID string
}

// InvocationResult describes how one engine invocation ended. Callers
// that want fire-and-forget semantics can ignore it; workers and tests
// inspect it.
type InvocationResult struct {
	State TerminalState

	// FinalStepID is the step the session is parked on after the
	// invocation (empty for Completed, Fallback and entry-level
	// errors).
	FinalStepID string

	// Steps is the number of step executions performed.
	Steps int
}

// Engine drives flow execution for inbound conversational events.
//
// One invocation runs per inbound event; invocations for different
// contacts may run on arbitrary goroutines concurrently. Invocations
// for the same contact are serialized through a store-level lease held
// across the whole load → execute → persist span.
type Engine interface {
	// HandleInboundMessage processes one inbound message from a
	// contact. This is the engine's single entry point for inbound
	// traffic.
	HandleInboundMessage(ctx context.Context, contactAddress, text string, channel ChannelContext) (*InvocationResult, error)

	// ResumeSession re-enters the engine for a session parked on a
	// delay step. stepID is the delay step the resume was scheduled
	// for; if the session has moved to a different step in the
	// meantime, the call is a no-op.
	ResumeSession(ctx context.Context, contactAddress, stepID string) (*InvocationResult, error)

	// Session returns the stored session for a contact address, or
	// ErrSessionNotFound.
	Session(ctx context.Context, contactAddress string) (*Session, error)
}
