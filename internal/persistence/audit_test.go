package persistence

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/jpkallio/flowline/pkg/api"
)

func TestMemoryAuditSinkFillsIDAndTimestamp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sink := NewMemoryAuditSink()

	err := sink.Append(ctx, api.AuditRecord{
		TenantID:       "t1",
		ContactAddress: "+1555",
		Direction:      api.DirectionIncoming,
		Body:           "hello",
		Status:         api.DeliveryReceived,
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	records := sink.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].ID == "" || records[0].CreatedAt.IsZero() {
		t.Fatalf("expected auto-filled ID and CreatedAt: %+v", records[0])
	}
}

func TestSQLiteAuditSinkListByContact(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sink, err := NewSQLiteAuditSink(db)
	if err != nil {
		t.Fatalf("NewSQLiteAuditSink failed: %v", err)
	}

	recs := []api.AuditRecord{
		{TenantID: "t1", FlowID: "f1", ContactAddress: "+1555", Direction: api.DirectionIncoming, Body: "hi", Status: api.DeliveryReceived},
		{TenantID: "t1", FlowID: "f1", ContactAddress: "+1555", Direction: api.DirectionOutgoing, Body: "welcome", Status: api.DeliverySent, ProviderMessageID: "wamid.1"},
		{TenantID: "t1", ContactAddress: "+1666", Direction: api.DirectionIncoming, Body: "other", Status: api.DeliveryReceived},
	}
	for i, rec := range recs {
		if err := sink.Append(ctx, rec); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	got, err := sink.ListByContact(ctx, "+1555")
	if err != nil {
		t.Fatalf("ListByContact failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records for +1555, got %d", len(got))
	}
	if got[0].Direction != api.DirectionIncoming || got[1].Direction != api.DirectionOutgoing {
		t.Fatalf("records out of order: %+v", got)
	}
	if got[1].ProviderMessageID != "wamid.1" {
		t.Fatalf("provider message id lost: %+v", got[1])
	}
}
