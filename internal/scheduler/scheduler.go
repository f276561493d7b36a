// Package scheduler provides the delayed-resume implementations a
// delay step relies on: an in-process timer for single-node setups and
// a queue-backed variant whose timers survive restarts.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jpkallio/flowline/internal/taskqueue"
	"github.com/jpkallio/flowline/pkg/api"
)

// Resumer is the slice of the engine a scheduler needs.
type Resumer interface {
	ResumeSession(ctx context.Context, contactAddress, stepID string) (*api.InvocationResult, error)
}

// TimerScheduler fires resumes with in-process timers. Timers do not
// survive a restart; use QueueScheduler with a persistent queue when
// that matters.
type TimerScheduler struct {
	resumer Resumer
	logger  *slog.Logger

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

var _ api.Scheduler = (*TimerScheduler)(nil)

// NewTimerScheduler creates a TimerScheduler delivering resumes to the
// given engine.
func NewTimerScheduler(resumer Resumer, logger *slog.Logger) *TimerScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimerScheduler{
		resumer: resumer,
		logger:  logger,
		timers:  make(map[*time.Timer]struct{}),
	}
}

func (s *TimerScheduler) Schedule(_ context.Context, contactAddress, stepID string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, t)
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		// The resume runs on the timer goroutine with its own context:
		// the invocation that scheduled it is long gone.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.resumer.ResumeSession(ctx, contactAddress, stepID); err != nil {
			s.logger.WarnContext(ctx, "scheduled resume failed",
				slog.String("contact", contactAddress),
				slog.String("step", stepID),
				slog.Any("error", err),
			)
		}
	})
	s.timers[t] = struct{}{}
	return nil
}

// Close stops all pending timers. Resumes already in flight finish.
func (s *TimerScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[*time.Timer]struct{})
}

// QueueScheduler persists resumes as tasks with a NotBefore gate. A
// worker (pkg/worker) drains the queue and re-enters the engine, so
// delays survive a restart when the queue is durable.
type QueueScheduler struct {
	queue taskqueue.Queue
}

var _ api.Scheduler = (*QueueScheduler)(nil)

// NewQueueScheduler creates a QueueScheduler writing to the given
// queue.
func NewQueueScheduler(queue taskqueue.Queue) *QueueScheduler {
	return &QueueScheduler{queue: queue}
}

func (s *QueueScheduler) Schedule(ctx context.Context, contactAddress, stepID string, delay time.Duration) error {
	now := time.Now()
	return s.queue.Enqueue(ctx, taskqueue.Task{
		Type:           taskqueue.TaskTypeResume,
		ContactAddress: contactAddress,
		StepID:         stepID,
		EnqueuedAt:     now,
		NotBefore:      now.Add(delay),
	})
}
