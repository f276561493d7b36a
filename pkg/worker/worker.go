package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jpkallio/flowline/internal/taskqueue"
	"github.com/jpkallio/flowline/pkg/api"
)

// Worker pulls resume tasks from a Queue and executes them against an
// Engine. Run it on its own goroutine per process; the queue gates
// eligibility through NotBefore, so the worker never fires a delay
// early.
type Worker struct {
	engine api.Engine
	queue  taskqueue.Queue
	logger *slog.Logger

	// errBackoff is slept after a failed dequeue so a down queue
	// backend does not turn Run into a hot error loop.
	errBackoff time.Duration
}

// New creates a new Worker.
func New(engine api.Engine, queue taskqueue.Queue, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		engine:     engine,
		queue:      queue,
		logger:     logger,
		errBackoff: 250 * time.Millisecond,
	}
}

// EnqueueResume schedules a session resume no earlier than 'at'.
func (w *Worker) EnqueueResume(ctx context.Context, contactAddress, stepID string, at time.Time) error {
	t := taskqueue.Task{
		Type:           taskqueue.TaskTypeResume,
		ContactAddress: contactAddress,
		StepID:         stepID,
		EnqueuedAt:     time.Now(),
		NotBefore:      at,
	}
	return w.queue.Enqueue(ctx, t)
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false, err != nil: nothing processed (ctx cancelled
//     or dequeue failure)
//   - processed == true: a task was processed; err indicates whether
//     the resume succeeded.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	switch task.Type {
	case taskqueue.TaskTypeResume:
		// ResumeSession rechecks that the session is still parked on
		// the scheduled step; stale tasks are cheap no-ops.
		_, runErr := w.engine.ResumeSession(ctx, task.ContactAddress, task.StepID)
		return true, runErr

	default:
		return true, errors.New("unknown task type: " + string(task.Type))
	}
}

// Run processes tasks until ctx is cancelled. Errors from individual
// tasks are logged and do not stop the loop; dequeue failures are
// retried after a short backoff.
func (w *Worker) Run(ctx context.Context) error {
	for {
		processed, err := w.ProcessOne(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.logger.WarnContext(ctx, "resume task failed", slog.Any("error", err))
			if !processed {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(w.errBackoff):
				}
				continue
			}
		}
		if !processed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
	}
}
