package api

import (
	"time"
)

// StepKind identifies what a flow step does when executed.
type StepKind string

const (
	StepKindMessage      StepKind = "send-message"
	StepKindBranch       StepKind = "branch"
	StepKindExternalCall StepKind = "external-call"
	StepKindDelay        StepKind = "delay"
)

// Flow is a tenant-defined directed graph of steps driving one
// conversation scenario. A Flow is immutable for the duration of a
// single engine invocation; it is only mutated through the external
// editor, never by the engine.
type Flow struct {
	ID       string
	TenantID string
	Name     string
	Active   bool

	// TriggerKeywords select this flow for a contact with no session:
	// the first inbound message is tokenized and matched
	// case-insensitively against these keywords.
	TriggerKeywords []string
}

// Step is one unit of work in a flow. Config is a tagged union keyed
// by Kind; the graph store validates the pairing at load time so the
// engine never sees a mismatched configuration.
type Step struct {
	ID     string
	FlowID string
	Kind   StepKind
	Name   string
	Config StepConfig

	// Layout is a 2-D canvas hint owned by the editor. The engine
	// ignores it.
	Layout Position
}

// Position is an editor canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Link is an unconditional "next step" edge between two steps of the
// same flow. Branch steps express their guards in their own config
// (BranchConfig), not on links.
type Link struct {
	ID         string
	FlowID     string
	SourceStep string
	TargetStep string
}

// SessionStatus marks the terminal outcome of the most recent
// invocation on a session. It exists for the external dashboard;
// the engine itself only writes it.
type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionErrored   SessionStatus = "ERROR"
)

// Session is the per-contact execution state: which flow the contact
// is in, which step they are parked on, and the data accumulated
// across steps.
//
// FlowID and CurrentStepID are weak references. If the flow or step
// has been deleted since the session was written, resumption fails
// gracefully instead of dereferencing garbage.
type Session struct {
	ID             string
	ContactAddress string
	FlowID         string // empty: no flow matched yet
	CurrentStepID  string // empty: at entry
	Data           map[string]string
	Status         SessionStatus
	LastActivity   time.Time
}

// Stale reports whether the session has seen no activity for longer
// than ttl. Stale sessions are re-bootstrapped from trigger matching
// rather than resumed silently. A zero ttl disables expiry.
func (s *Session) Stale(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.LastActivity) > ttl
}

// Direction of an audited message.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Delivery status values recorded on audit rows.
const (
	DeliveryReceived = "received"
	DeliverySent     = "sent"
	DeliveryFailed   = "failed"
)

// AuditRecord is one immutable row of the message log. The engine
// appends these; it never reads them back.
type AuditRecord struct {
	ID                string
	TenantID          string
	FlowID            string // empty when no flow was involved
	ContactAddress    string
	Direction         Direction
	Body              string
	Status            string
	ProviderMessageID string
	CreatedAt         time.Time
}
