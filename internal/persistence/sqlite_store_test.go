package persistence

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jpkallio/flowline/pkg/api"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return store
}

func TestSQLiteStoreGraphRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	flow := &api.Flow{
		ID:              "f1",
		TenantID:        "t1",
		Name:            "Onboarding",
		Active:          true,
		TriggerKeywords: []string{"hello", "start"},
	}
	if err := store.SaveFlow(ctx, flow); err != nil {
		t.Fatalf("SaveFlow failed: %v", err)
	}

	steps := []*api.Step{
		{ID: "a", FlowID: "f1", Kind: api.StepKindMessage, Name: "welcome",
			Config: api.MessageConfig{Text: "Hi!", WaitForResponse: true},
			Layout: api.Position{X: 10, Y: 20}},
		{ID: "b", FlowID: "f1", Kind: api.StepKindBranch,
			Config: api.BranchConfig{DefaultTargetStepID: "a"}},
	}
	for _, s := range steps {
		if err := store.SaveStep(ctx, s); err != nil {
			t.Fatalf("SaveStep %s failed: %v", s.ID, err)
		}
	}
	if err := store.SaveLink(ctx, &api.Link{ID: "l1", FlowID: "f1", SourceStep: "a", TargetStep: "b"}); err != nil {
		t.Fatalf("SaveLink failed: %v", err)
	}

	got, err := store.Flow(ctx, "f1")
	if err != nil {
		t.Fatalf("Flow failed: %v", err)
	}
	if got.Name != "Onboarding" || len(got.TriggerKeywords) != 2 {
		t.Fatalf("unexpected flow: %+v", got)
	}

	loadedSteps, err := store.Steps(ctx, "f1")
	if err != nil {
		t.Fatalf("Steps failed: %v", err)
	}
	if len(loadedSteps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(loadedSteps))
	}
	mc, ok := loadedSteps[0].Config.(api.MessageConfig)
	if !ok {
		t.Fatalf("expected decoded MessageConfig, got %T", loadedSteps[0].Config)
	}
	if mc.Text != "Hi!" || !mc.WaitForResponse {
		t.Fatalf("config round trip mismatch: %+v", mc)
	}
	if loadedSteps[0].Layout.X != 10 {
		t.Fatalf("layout lost: %+v", loadedSteps[0].Layout)
	}

	links, err := store.Links(ctx, "f1")
	if err != nil {
		t.Fatalf("Links failed: %v", err)
	}
	if len(links) != 1 || links[0].TargetStep != "b" {
		t.Fatalf("unexpected links: %+v", links)
	}

	_, err = store.Flow(ctx, "missing")
	if !errors.Is(err, api.ErrFlowNotFound) {
		t.Fatalf("expected ErrFlowNotFound, got %v", err)
	}
}

func TestSQLiteStoreRejectsMismatchedConfig(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	err := store.SaveStep(ctx, &api.Step{
		ID:     "bad",
		FlowID: "f1",
		Kind:   api.StepKindDelay,
		Config: api.MessageConfig{Text: "not a delay"},
	})
	if !errors.Is(err, api.ErrInvalidStepConfig) {
		t.Fatalf("expected ErrInvalidStepConfig, got %v", err)
	}
}

func TestSQLiteStoreSessionLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	sess := &api.Session{
		ID:             "s1",
		ContactAddress: "+1555",
		FlowID:         "f1",
		CurrentStepID:  "a",
		Data:           map[string]string{"name": "Ada"},
		Status:         api.SessionActive,
		LastActivity:   time.Now(),
	}
	if err := store.Upsert(ctx, sess); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := store.Get(ctx, "+1555")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CurrentStepID != "a" || got.Data["name"] != "Ada" || got.Status != api.SessionActive {
		t.Fatalf("unexpected session: %+v", got)
	}

	step := "b"
	status := api.SessionErrored
	now := time.Now()
	if err := store.Update(ctx, "+1555", SessionPatch{
		CurrentStepID: &step,
		Status:        &status,
		LastActivity:  &now,
		MergeData:     map[string]string{"plan": "pro"},
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ = store.Get(ctx, "+1555")
	if got.CurrentStepID != "b" || got.Status != api.SessionErrored {
		t.Fatalf("patch not applied: %+v", got)
	}
	if got.Data["name"] != "Ada" || got.Data["plan"] != "pro" {
		t.Fatalf("MergeData must merge: %+v", got.Data)
	}

	if err := store.Update(ctx, "+ghost", SessionPatch{CurrentStepID: &step}); !errors.Is(err, api.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	if err := store.Delete(ctx, "+1555"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "+1555"); !errors.Is(err, api.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
}

func TestSQLiteStoreLeaseOnExistingSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	sess := &api.Session{ID: "s1", ContactAddress: "+1555", LastActivity: time.Now()}
	if err := store.Upsert(ctx, sess); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	ok, err := store.TryAcquireLease(ctx, "+1555", "owner-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire failed: ok=%v err=%v", ok, err)
	}

	ok, err = store.TryAcquireLease(ctx, "+1555", "owner-b", time.Minute)
	if err != nil {
		t.Fatalf("TryAcquireLease failed: %v", err)
	}
	if ok {
		t.Fatalf("owner-b must not steal a live lease")
	}

	// Re-entrant for the holder.
	ok, _ = store.TryAcquireLease(ctx, "+1555", "owner-a", time.Minute)
	if !ok {
		t.Fatalf("holder re-acquire should succeed")
	}

	if err := store.RenewLease(ctx, "+1555", "owner-b", time.Minute); !errors.Is(err, api.ErrLeaseUnavailable) {
		t.Fatalf("renew by non-owner must fail, got %v", err)
	}

	if err := store.ReleaseLease(ctx, "+1555", "owner-a"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	ok, _ = store.TryAcquireLease(ctx, "+1555", "owner-b", time.Minute)
	if !ok {
		t.Fatalf("owner-b should acquire after release")
	}
}

func TestSQLiteStoreLeaseExpiryTakeover(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	sess := &api.Session{ID: "s1", ContactAddress: "+1555", LastActivity: time.Now()}
	if err := store.Upsert(ctx, sess); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	ok, _ := store.TryAcquireLease(ctx, "+1555", "owner-a", 10*time.Millisecond)
	if !ok {
		t.Fatalf("acquire failed")
	}
	time.Sleep(20 * time.Millisecond)

	ok, err := store.TryAcquireLease(ctx, "+1555", "owner-b", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected takeover of expired lease: ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStoreBootstrapLease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	// No session row exists yet; the lease must still serialize the
	// contact's very first invocation.
	ok, err := store.TryAcquireLease(ctx, "+new", "owner-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("bootstrap acquire failed: ok=%v err=%v", ok, err)
	}

	ok, err = store.TryAcquireLease(ctx, "+new", "owner-b", time.Minute)
	if err != nil {
		t.Fatalf("TryAcquireLease failed: %v", err)
	}
	if ok {
		t.Fatalf("owner-b must not steal a live bootstrap lease")
	}

	if err := store.ReleaseLease(ctx, "+new", "owner-a"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	ok, _ = store.TryAcquireLease(ctx, "+new", "owner-b", time.Minute)
	if !ok {
		t.Fatalf("owner-b should acquire after bootstrap release")
	}
}

func TestSQLiteStoreLeaseSurvivesSessionDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	sess := &api.Session{ID: "s1", ContactAddress: "+1555", LastActivity: time.Now()}
	if err := store.Upsert(ctx, sess); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	ok, err := store.TryAcquireLease(ctx, "+1555", "owner-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire failed: ok=%v err=%v", ok, err)
	}

	// The stale-session path deletes the session row while the lease is
	// held. The lease must survive, or a concurrent invocation would
	// start a second load-execute-persist span for the same contact.
	if err := store.Delete(ctx, "+1555"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	ok, err = store.TryAcquireLease(ctx, "+1555", "owner-b", time.Minute)
	if err != nil {
		t.Fatalf("TryAcquireLease failed: %v", err)
	}
	if ok {
		t.Fatalf("session delete must not free owner-a's lease")
	}

	// Session writes after the delete keep the lease intact too.
	if err := store.Upsert(ctx, sess); err != nil {
		t.Fatalf("re-Upsert failed: %v", err)
	}
	ok, _ = store.TryAcquireLease(ctx, "+1555", "owner-b", time.Minute)
	if ok {
		t.Fatalf("session upsert must not free owner-a's lease")
	}

	if err := store.ReleaseLease(ctx, "+1555", "owner-a"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	ok, _ = store.TryAcquireLease(ctx, "+1555", "owner-b", time.Minute)
	if !ok {
		t.Fatalf("owner-b should acquire after release")
	}
}

func TestSQLiteStoreCredentials(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	_, err := store.SenderCredentials(ctx, "t1")
	if !errors.Is(err, api.ErrCredentialsNotFound) {
		t.Fatalf("expected ErrCredentialsNotFound, got %v", err)
	}

	if err := store.SaveCredentials(ctx, "t1", api.SenderCredentials{SenderID: "555", AccessToken: "tok"}); err != nil {
		t.Fatalf("SaveCredentials failed: %v", err)
	}
	creds, err := store.SenderCredentials(ctx, "t1")
	if err != nil {
		t.Fatalf("SenderCredentials failed: %v", err)
	}
	if creds.SenderID != "555" || creds.AccessToken != "tok" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
}
