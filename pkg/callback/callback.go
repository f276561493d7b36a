// Package callback performs the outbound HTTP calls external-call
// steps request. Callbacks are registered by ID with a URL, method and
// headers; every invocation is recorded in an execution log the
// dashboard reads for debugging.
package callback

import (
	"context"
	"time"
)

// Definition describes one registered callback endpoint.
type Definition struct {
	ID       string
	TenantID string
	Name     string
	URL      string
	Method   string // defaults to POST
	Headers  map[string]string
	Active   bool
}

// Registry resolves callback definitions by ID.
type Registry interface {
	// Lookup returns the definition for an ID, or ErrCallbackNotFound.
	Lookup(ctx context.Context, callbackID string) (*Definition, error)
}

// ExecutionRecord is one row of the callback execution log.
type ExecutionRecord struct {
	ID         string
	CallbackID string
	Success    bool
	Status     int
	Error      string
	ElapsedMs  int64
	CreatedAt  time.Time
}

// ExecutionLog records callback invocations. Like the message audit
// sink, log failures never abort the call that produced them.
type ExecutionLog interface {
	Record(ctx context.Context, rec ExecutionRecord) error
}
