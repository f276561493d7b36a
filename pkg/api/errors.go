package api

import (
	"errors"
	"fmt"
)

var (
	// ErrGraphMalformed marks a flow whose structure cannot be
	// executed: no entry step, or an otherwise unresolvable shape.
	ErrGraphMalformed = errors.New("flow graph malformed")

	// ErrLoopBoundExceeded is returned when a single invocation
	// advances through more steps than the configured bound allows.
	// It almost always means the graph contains an accidental cycle.
	ErrLoopBoundExceeded = errors.New("step loop bound exceeded")

	// ErrInvalidStepConfig marks a step whose configuration does not
	// match its kind. Raised at the graph-store boundary, never inside
	// the engine loop.
	ErrInvalidStepConfig = errors.New("invalid step config")

	// ErrFlowNotFound is returned when a flow referenced by a session
	// no longer exists.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrStepNotFound is returned when a session's current step no
	// longer exists in its flow.
	ErrStepNotFound = errors.New("step not found")

	// ErrSessionNotFound is returned by session stores for unknown
	// contact addresses.
	ErrSessionNotFound = errors.New("session not found")

	// ErrCredentialsNotFound is returned when a tenant has no sender
	// credentials configured.
	ErrCredentialsNotFound = errors.New("sender credentials not found")

	// ErrSessionPersistFailed wraps a storage write failure that
	// happened after the step loop already ran. Callers must retry at
	// the transport level rather than re-run the invocation, or side
	// effects (sends) would be duplicated.
	ErrSessionPersistFailed = errors.New("session persist failed")

	// ErrLeaseUnavailable is returned when the per-contact lease could
	// not be acquired within the configured wait.
	ErrLeaseUnavailable = errors.New("contact lease unavailable")
)

// StepExecutionError records a side effect (send or callback) that
// failed during a step. It is appended to the audit trail and reported
// to the observer but never stops graph traversal.
type StepExecutionError struct {
	StepID string
	Kind   StepKind
	Err    error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s (%s) side effect failed: %v", e.StepID, e.Kind, e.Err)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }
