package flowline

import (
	"log/slog"
	"time"

	"github.com/jpkallio/flowline/internal/engine"
	"github.com/jpkallio/flowline/internal/persistence"
	"github.com/jpkallio/flowline/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Flow                 = api.Flow
	Step                 = api.Step
	StepKind             = api.StepKind
	StepConfig           = api.StepConfig
	MessageConfig        = api.MessageConfig
	BranchConfig         = api.BranchConfig
	BranchCondition      = api.BranchCondition
	ExternalCallConfig   = api.ExternalCallConfig
	DelayConfig          = api.DelayConfig
	Link                 = api.Link
	Session              = api.Session
	SessionStatus        = api.SessionStatus
	Condition            = api.Condition
	Operator             = api.Operator
	ChannelContext       = api.ChannelContext
	InvocationResult     = api.InvocationResult
	TerminalState        = api.TerminalState
	AuditRecord          = api.AuditRecord
	SenderCredentials    = api.SenderCredentials
	SendResult           = api.SendResult
	MessageSender        = api.MessageSender
	CallbackResult       = api.CallbackResult
	CallbackInvoker      = api.CallbackInvoker
	Scheduler            = api.Scheduler
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export step kinds, terminal states, operators and session
// statuses for convenience.

const (
	StepKindMessage      = api.StepKindMessage
	StepKindBranch       = api.StepKindBranch
	StepKindExternalCall = api.StepKindExternalCall
	StepKindDelay        = api.StepKindDelay

	StateFallback  = api.StateFallback
	StateError     = api.StateError
	StateCompleted = api.StateCompleted
	StateSuspended = api.StateSuspended

	OpEquals     = api.OpEquals
	OpContains   = api.OpContains
	OpStartsWith = api.OpStartsWith
	FieldMessage = api.FieldMessage

	SessionActive    = api.SessionActive
	SessionCompleted = api.SessionCompleted
	SessionErrored   = api.SessionErrored
)

// Dependencies are the external collaborators an engine needs.
// Sender and Invoker may be nil; the affected steps then record
// failures and the flow still advances.
type Dependencies struct {
	Sender   MessageSender
	Invoker  CallbackInvoker
	Observer Observer
	Logger   *slog.Logger
}

// Options tune engine behavior. Zero values use the built-in defaults.
type Options struct {
	// MaxStepsPerInvocation bounds the number of steps one inbound
	// event may execute (default 25).
	MaxStepsPerInvocation int

	SendTimeout     time.Duration
	CallbackTimeout time.Duration

	// SessionTTL expires idle sessions; zero disables expiry.
	SessionTTL time.Duration

	LeaseTTL  time.Duration
	LeaseWait time.Duration

	// FallbackMessage is sent when no flow matches a new contact's
	// message. Empty disables the fallback send.
	FallbackMessage string
}

func (o Options) engineOptions() engine.Options {
	return engine.Options{
		MaxStepsPerInvocation: o.MaxStepsPerInvocation,
		SendTimeout:           o.SendTimeout,
		CallbackTimeout:       o.CallbackTimeout,
		SessionTTL:            o.SessionTTL,
		LeaseTTL:              o.LeaseTTL,
		LeaseWait:             o.LeaseWait,
		FallbackMessage:       o.FallbackMessage,
	}
}

// SchedulableEngine is an Engine whose delayed-resume scheduler can be
// swapped after construction. All engines built by this package
// implement it.
type SchedulableEngine interface {
	Engine
	SetScheduler(s Scheduler)
}

// newEngine wires an engine over the given stores.
func newEngine(stores persistence.Stores, deps Dependencies, opts Options) SchedulableEngine {
	return engine.New(engine.Config{
		Stores:   stores,
		Sender:   deps.Sender,
		Invoker:  deps.Invoker,
		Observer: deps.Observer,
		Logger:   deps.Logger,
		Options:  opts.engineOptions(),
	})
}
