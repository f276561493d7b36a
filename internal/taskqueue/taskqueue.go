package taskqueue

import (
	"context"
	"time"
)

// TaskType identifies what the worker should do.
type TaskType string

const (
	// TaskTypeResume re-enters the engine for a session parked on a
	// delay step.
	TaskTypeResume TaskType = "resume-session"
)

// Task represents a unit of work for the resume worker.
type Task struct {
	ID   string
	Type TaskType

	// For resume tasks: the contact whose session should resume, and
	// the delay step the resume was scheduled for. The engine rechecks
	// that the session is still parked on StepID before doing anything.
	ContactAddress string
	StepID         string

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task should be eligible
	// for processing. Zero value means "immediately" (i.e., at enqueue time).
	NotBefore time.Time
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next ready task, blocking until
	// one becomes eligible (NotBefore has passed) or the context is
	// cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued, including
	// not-yet-eligible ones.
	Len() int
}
