package taskqueue

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryQueueFIFOForReadyTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewInMemoryQueue()

	now := time.Now()
	tasks := []Task{
		{Type: TaskTypeResume, ContactAddress: "+1", StepID: "a", NotBefore: now},
		{Type: TaskTypeResume, ContactAddress: "+2", StepID: "b", NotBefore: now.Add(time.Millisecond)},
	}
	for _, task := range tasks {
		if err := q.Enqueue(ctx, task); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if q.Len() != 2 {
		t.Fatalf("expected Len 2, got %d", q.Len())
	}

	first, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if first.ContactAddress != "+1" {
		t.Fatalf("expected earliest NotBefore first, got %+v", first)
	}
}

func TestInMemoryQueueRespectsNotBefore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewInMemoryQueue()

	delay := 60 * time.Millisecond
	err := q.Enqueue(ctx, Task{
		Type:           TaskTypeResume,
		ContactAddress: "+1",
		StepID:         "delay-step",
		NotBefore:      time.Now().Add(delay),
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	start := time.Now()
	task, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < delay {
		t.Fatalf("task became eligible too early: %v < %v", elapsed, delay)
	}
	if task.StepID != "delay-step" {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestInMemoryQueueDequeueHonorsContext(t *testing.T) {
	t.Parallel()
	q := NewInMemoryQueue()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	if err == nil {
		t.Fatalf("expected context error on empty queue")
	}
}
