package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpkallio/flowline/pkg/api"
)

// NoopAuditSink discards all audit records.
type NoopAuditSink struct{}

func (NoopAuditSink) Append(ctx context.Context, rec api.AuditRecord) error { return nil }

// MemoryAuditSink keeps audit records in memory, in append order.
// Intended for tests and the in-memory engine.
type MemoryAuditSink struct {
	mu      sync.Mutex
	records []api.AuditRecord
}

// NewMemoryAuditSink creates an empty MemoryAuditSink.
func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

var _ api.AuditSink = (*MemoryAuditSink)(nil)

func (s *MemoryAuditSink) Append(ctx context.Context, rec api.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of all appended records in order.
func (s *MemoryAuditSink) Records() []api.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]api.AuditRecord(nil), s.records...)
}
