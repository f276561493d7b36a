package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the flow engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay message processing.
type Observer interface {
	// OnInvocationStart is called once per inbound event, before the
	// session is resolved.
	OnInvocationStart(ctx context.Context, contactAddress string)

	// OnInvocationFinished is called once per invocation with its
	// terminal state. err is non-nil only for structural failures
	// (GraphMalformed, LoopBoundExceeded, persist failures).
	OnInvocationFinished(ctx context.Context, contactAddress string, result *InvocationResult, err error)

	// OnStepStart is called before a node executor runs.
	OnStepStart(ctx context.Context, sess *Session, step *Step)

	// OnStepCompleted is called after a node executor returns, for both
	// successes and recorded side-effect failures (err != nil).
	OnStepCompleted(ctx context.Context, sess *Session, step *Step, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnInvocationStart(ctx context.Context, contactAddress string) {}
func (NoopObserver) OnInvocationFinished(ctx context.Context, contactAddress string, result *InvocationResult, err error) {
}
func (NoopObserver) OnStepStart(ctx context.Context, sess *Session, step *Step) {}
func (NoopObserver) OnStepCompleted(ctx context.Context, sess *Session, step *Step, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnInvocationStart(ctx context.Context, contactAddress string) {
	for _, o := range c.observers {
		o.OnInvocationStart(ctx, contactAddress)
	}
}

func (c *CompositeObserver) OnInvocationFinished(ctx context.Context, contactAddress string, result *InvocationResult, err error) {
	for _, o := range c.observers {
		o.OnInvocationFinished(ctx, contactAddress, result, err)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, sess *Session, step *Step) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, sess, step)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, sess *Session, step *Step, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, sess, step, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs invocation / step
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnInvocationStart(ctx context.Context, contactAddress string) {
	o.Logger.InfoContext(ctx, "invocation_start",
		slog.String("contact", contactAddress),
	)
}

func (o *LoggingObserver) OnInvocationFinished(ctx context.Context, contactAddress string, result *InvocationResult, err error) {
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	attrs := []any{
		slog.String("contact", contactAddress),
	}
	if result != nil {
		attrs = append(attrs,
			slog.String("state", string(result.State)),
			slog.String("final_step", result.FinalStepID),
			slog.Int("steps", result.Steps),
		)
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	o.Logger.Log(ctx, level, "invocation_finished", attrs...)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, sess *Session, step *Step) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("contact", sess.ContactAddress),
		slog.String("flow", step.FlowID),
		slog.String("step", step.ID),
		slog.String("kind", string(step.Kind)),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, sess *Session, step *Step, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("contact", sess.ContactAddress),
		slog.String("flow", step.FlowID),
		slog.String("step", step.ID),
		slog.String("kind", string(step.Kind)),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	invocationsStarted  atomic.Int64
	invocationsFinished atomic.Int64
	invocationsFailed   atomic.Int64
	stepsCompleted      atomic.Int64
	totalStepDuration   atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	InvocationsStarted  int64
	InvocationsFinished int64
	InvocationsFailed   int64
	InFlight            int64

	StepsCompleted  int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnInvocationStart(ctx context.Context, contactAddress string) {
	m.invocationsStarted.Add(1)
}

func (m *BasicMetrics) OnInvocationFinished(ctx context.Context, contactAddress string, result *InvocationResult, err error) {
	m.invocationsFinished.Add(1)
	if err != nil {
		m.invocationsFailed.Add(1)
	}
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, sess *Session, step *Step, err error, d time.Duration) {
	// Only count successful steps for average duration.
	if err == nil {
		m.stepsCompleted.Add(1)
		m.totalStepDuration.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.invocationsStarted.Load()
	finished := m.invocationsFinished.Load()
	failed := m.invocationsFailed.Load()
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		InvocationsStarted:  started,
		InvocationsFinished: finished,
		InvocationsFailed:   failed,
		InFlight:            started - finished,
		StepsCompleted:      steps,
		AvgStepDuration:     avg,
	}
}
