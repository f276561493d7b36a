package flowline_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	flowline "github.com/jpkallio/flowline"
)

func newBundleDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "flowline.db"))
	require.NoError(t, err, "open sqlite database")
	// One connection keeps the worker's dequeue transactions from
	// tripping over the engine's writes with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteBundleEndToEnd(t *testing.T) {
	ctx := context.Background()
	sender := &captureSender{}

	bundle, err := flowline.NewSQLiteBundle(newBundleDB(t), flowline.Dependencies{Sender: sender}, flowline.Options{})
	require.NoError(t, err)

	flow, steps, links, err := flowline.NewFlow("order", "t1", "Order updates").
		Triggers("order").
		Message("ack", "Order received!").
		Delay("wait", 30*time.Millisecond).
		Message("done", "Your order shipped.").
		Build()
	require.NoError(t, err)

	require.NoError(t, bundle.SaveGraph(ctx, flow, steps, links))
	require.NoError(t, bundle.SaveCredentials(ctx, "t1", flowline.SenderCredentials{SenderID: "555", AccessToken: "tok"}))

	res, err := bundle.Engine.HandleInboundMessage(ctx, "+358404444", "order",
		flowline.ChannelContext{TenantID: "t1"})
	require.NoError(t, err)
	require.Equal(t, flowline.StateSuspended, res.State)
	require.Equal(t, "wait", res.FinalStepID)
	require.Equal(t, 1, bundle.PendingResumes(), "the delay must queue one resume task")

	// Drain the single resume task the way a running worker would.
	processed, err := bundle.Worker.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	require.Equal(t, 0, bundle.PendingResumes())

	sess, err := bundle.Engine.Session(ctx, "+358404444")
	require.NoError(t, err)
	require.Equal(t, flowline.SessionCompleted, sess.Status)

	require.Equal(t, []string{"Order received!", "Your order shipped."}, sender.sent())

	records, err := bundle.AuditByContact(ctx, "+358404444")
	require.NoError(t, err)
	require.Len(t, records, 3, "one incoming + two outgoing rows")
}

func TestSQLiteBundleWorkerRunLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := &captureSender{}
	bundle, err := flowline.NewSQLiteBundle(newBundleDB(t), flowline.Dependencies{Sender: sender}, flowline.Options{})
	require.NoError(t, err)

	flow, steps, links, err := flowline.NewFlow("f", "t1", "F").
		Triggers("go").
		Message("a", "first").
		Delay("wait", 20*time.Millisecond).
		Message("b", "second").
		Build()
	require.NoError(t, err)
	require.NoError(t, bundle.SaveGraph(ctx, flow, steps, links))
	require.NoError(t, bundle.SaveCredentials(ctx, "t1", flowline.SenderCredentials{SenderID: "555", AccessToken: "tok"}))

	go func() { _ = bundle.Worker.Run(ctx) }()

	_, err = bundle.Engine.HandleInboundMessage(ctx, "+1555", "go",
		flowline.ChannelContext{TenantID: "t1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sess, err := bundle.Engine.Session(ctx, "+1555")
		return err == nil && sess.Status == flowline.SessionCompleted
	}, 3*time.Second, 10*time.Millisecond, "worker should drain the resume and finish the flow")

	require.Equal(t, []string{"first", "second"}, sender.sent())
}

func TestSQLiteBundleGraphSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "flowline.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	sender := &captureSender{}
	bundle, err := flowline.NewSQLiteBundle(db, flowline.Dependencies{Sender: sender}, flowline.Options{})
	require.NoError(t, err)

	flow, steps, links, err := flowline.NewFlow("f", "t1", "F").
		Triggers("go").
		Message("a", "hello again").
		Build()
	require.NoError(t, err)
	require.NoError(t, bundle.SaveGraph(ctx, flow, steps, links))
	require.NoError(t, bundle.SaveCredentials(ctx, "t1", flowline.SenderCredentials{SenderID: "555", AccessToken: "tok"}))
	require.NoError(t, db.Close())

	// Simulated restart: a fresh bundle over the same file.
	db2, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db2.Close() })

	bundle2, err := flowline.NewSQLiteBundle(db2, flowline.Dependencies{Sender: sender}, flowline.Options{})
	require.NoError(t, err)

	res, err := bundle2.Engine.HandleInboundMessage(ctx, "+1555", "go",
		flowline.ChannelContext{TenantID: "t1"})
	require.NoError(t, err)
	require.Equal(t, flowline.StateCompleted, res.State)
	require.Equal(t, []string{"hello again"}, sender.sent())
}
