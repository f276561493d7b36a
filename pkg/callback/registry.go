package callback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRegistry is an in-memory Registry, used for tests and
// single-process deployments where callbacks are configured at boot.
type MemoryRegistry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{defs: make(map[string]*Definition)}
}

// Put registers or replaces a callback definition.
func (r *MemoryRegistry) Put(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := def
	r.defs[def.ID] = &d
}

// Lookup returns an active definition by ID. Inactive callbacks are
// treated as unknown so a disabled endpoint cannot be invoked.
func (r *MemoryRegistry) Lookup(_ context.Context, callbackID string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[callbackID]
	if !ok || !d.Active {
		return nil, fmt.Errorf("%w: %s", ErrCallbackNotFound, callbackID)
	}
	copied := *d
	return &copied, nil
}

// MemoryExecutionLog keeps execution records in memory. Tests assert
// against it.
type MemoryExecutionLog struct {
	mu      sync.Mutex
	records []ExecutionRecord
}

var _ ExecutionLog = (*MemoryExecutionLog)(nil)

// NewMemoryExecutionLog creates an empty MemoryExecutionLog.
func NewMemoryExecutionLog() *MemoryExecutionLog {
	return &MemoryExecutionLog{}
}

func (l *MemoryExecutionLog) Record(_ context.Context, rec ExecutionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	l.records = append(l.records, rec)
	return nil
}

// Records returns a copy of all recorded executions.
func (l *MemoryExecutionLog) Records() []ExecutionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ExecutionRecord, len(l.records))
	copy(out, l.records)
	return out
}
