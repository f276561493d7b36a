package engine

import (
	"context"
	"testing"

	"github.com/jpkallio/flowline/pkg/api"
)

func TestMatchTriggerTokenizesCaseInsensitively(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, Options{})

	env.store.PutFlow(&api.Flow{ID: "f1", TenantID: "t1", Active: true,
		TriggerKeywords: []string{"Hello", "hi"}}, nil, nil)

	cases := []struct {
		text string
		want bool
	}{
		{"hello", true},
		{"HELLO there", true},
		{"well hi friend", true},
		{"hellothere", false}, // keyword must match a whole token
		{"goodbye", false},
		{"", false},
	}
	for _, tc := range cases {
		flow, err := env.engine.matchTrigger(ctx, tc.text, "t1")
		if err != nil {
			t.Fatalf("matchTrigger(%q) failed: %v", tc.text, err)
		}
		if got := flow != nil; got != tc.want {
			t.Fatalf("matchTrigger(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestMatchTriggerPrefersSmallestFlowID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, Options{})

	// Both flows claim "start"; the tie must resolve deterministically.
	env.store.PutFlow(&api.Flow{ID: "flow-b", TenantID: "t1", Active: true, TriggerKeywords: []string{"start"}}, nil, nil)
	env.store.PutFlow(&api.Flow{ID: "flow-a", TenantID: "t1", Active: true, TriggerKeywords: []string{"start"}}, nil, nil)

	flow, err := env.engine.matchTrigger(ctx, "start", "t1")
	if err != nil {
		t.Fatalf("matchTrigger failed: %v", err)
	}
	if flow == nil || flow.ID != "flow-a" {
		t.Fatalf("expected flow-a to win the tie, got %+v", flow)
	}
}

func TestMatchTriggerScopesTenantAndActivity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, Options{})

	env.store.PutFlow(&api.Flow{ID: "f1", TenantID: "other-tenant", Active: true, TriggerKeywords: []string{"start"}}, nil, nil)
	env.store.PutFlow(&api.Flow{ID: "f2", TenantID: "t1", Active: false, TriggerKeywords: []string{"start"}}, nil, nil)

	flow, err := env.engine.matchTrigger(ctx, "start", "t1")
	if err != nil {
		t.Fatalf("matchTrigger failed: %v", err)
	}
	if flow != nil {
		t.Fatalf("inactive and foreign flows must not match, got %+v", flow)
	}
}
