// Package flowline provides an embeddable conversational flow engine
// for Go.
//
// Flowline drives scripted conversations over messaging channels: a
// tenant defines a directed graph of steps in an external editor, and
// the engine walks a contact through that graph one inbound message at
// a time. It runs fully in Go, supports multiple persistence backends,
// and integrates cleanly into existing codebases.
//
// # Core Concepts
//
//  1. Engine
//  2. Flows, Steps and Links
//  3. Sessions
//  4. Worker and Scheduler
//  5. LocalRunner and bundles
//
// # Engine
//
// The Engine has a single entry point for inbound traffic,
// HandleInboundMessage. For each event it loads (or bootstraps) the
// contact's session, walks the flow graph executing steps until the
// flow suspends, completes or errors, and persists the session exactly
// once on the way out. A per-contact lease serializes concurrent
// events for the same contact; different contacts run fully in
// parallel.
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Redis for hot session state, combined with SQLite for graphs
//
// # Flows, Steps and Links
//
// A Flow is a directed graph of typed steps:
//
//   - send-message: deliver a text, optionally wait for the reply
//   - branch: route on conditions over the inbound text or session data
//   - external-call: fire an HTTP callback, result never gates progress
//   - delay: park the session and resume after a configured interval
//
// Links are unconditional next-step edges; branch routing lives in the
// branch step's own config. FlowBuilder provides a fluent way to
// assemble graphs in code:
//
//	flow, steps, links, err := flowline.NewFlow("f1", "t1", "Onboarding").
//	    Triggers("hello").
//	    Ask("welcome", "Hi! Want to hear more?").
//	    Branch("route", flowline.BranchConfig{
//	        Conditions: []flowline.BranchCondition{
//	            flowline.WhenMessage(flowline.OpContains, "yes", "details"),
//	        },
//	        DefaultTargetStepID: "bye",
//	    }).
//	    Build()
//
// # Sessions
//
// A Session is the per-contact cursor into a flow: which flow, which
// step, what data has accumulated. New contacts are routed by trigger
// keyword matching against the tenant's active flows; contacts with no
// match receive a configurable fallback message and no session.
//
// # Worker and Scheduler
//
// Delay steps park the session and schedule a future resume. The
// timer-based scheduler fires in-process; the queue-backed scheduler
// persists resume tasks so delays survive restarts, with a Worker
// draining the queue.
//
// # LocalRunner and bundles
//
// LocalRunner wires the in-memory engine, stores and timer scheduler
// into a process-local helper for development and tests.
// NewSQLiteBundle and NewRedisBundle wire the durable variants,
// including the resume queue and its worker.
//
// For examples, see the /examples directory.
package flowline
