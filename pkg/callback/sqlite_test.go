package callback

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteRegistryRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, err := NewSQLiteRegistry(newTestDB(t))
	if err != nil {
		t.Fatalf("NewSQLiteRegistry failed: %v", err)
	}

	def := Definition{
		ID: "crm", TenantID: "t1", Name: "CRM sync",
		URL:     "https://crm.example.com/hook",
		Headers: map[string]string{"X-Api-Key": "k-123"},
		Active:  true,
	}
	if err := reg.Save(ctx, def); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := reg.Lookup(ctx, "crm")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got.URL != def.URL || got.Headers["X-Api-Key"] != "k-123" {
		t.Fatalf("unexpected definition: %+v", got)
	}
	if got.Method != "POST" {
		t.Fatalf("empty method should default to POST, got %q", got.Method)
	}

	if _, err := reg.Lookup(ctx, "missing"); !errors.Is(err, ErrCallbackNotFound) {
		t.Fatalf("expected ErrCallbackNotFound, got %v", err)
	}
}

func TestSQLiteRegistryInactiveIsUnknown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, err := NewSQLiteRegistry(newTestDB(t))
	if err != nil {
		t.Fatalf("NewSQLiteRegistry failed: %v", err)
	}

	def := Definition{ID: "crm", TenantID: "t1", Name: "CRM", URL: "https://x", Active: true}
	if err := reg.Save(ctx, def); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Disable it; Save is an upsert.
	def.Active = false
	if err := reg.Save(ctx, def); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := reg.Lookup(ctx, "crm"); !errors.Is(err, ErrCallbackNotFound) {
		t.Fatalf("inactive callback must resolve as unknown, got %v", err)
	}
}

func TestSQLiteExecutionLogListsNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	log, err := NewSQLiteExecutionLog(newTestDB(t))
	if err != nil {
		t.Fatalf("NewSQLiteExecutionLog failed: %v", err)
	}

	base := time.Now()
	recs := []ExecutionRecord{
		{CallbackID: "crm", Success: true, Status: 200, ElapsedMs: 12, CreatedAt: base},
		{CallbackID: "crm", Success: false, Status: 502, Error: "bad gateway", ElapsedMs: 90, CreatedAt: base.Add(time.Second)},
		{CallbackID: "other", Success: true, Status: 200, CreatedAt: base},
	}
	for i, rec := range recs {
		if err := log.Record(ctx, rec); err != nil {
			t.Fatalf("Record %d failed: %v", i, err)
		}
	}

	got, err := log.ListByCallback(ctx, "crm", 10)
	if err != nil {
		t.Fatalf("ListByCallback failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Status != 502 || got[0].Error != "bad gateway" {
		t.Fatalf("expected newest first, got %+v", got)
	}
	if got[1].ID == "" {
		t.Fatalf("record ID should be auto-filled: %+v", got[1])
	}
}
