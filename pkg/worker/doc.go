// Package worker drains the delayed-resume task queue and re-enters
// the engine for each eligible task.
//
// A delay step does not block a goroutine for its whole duration.
// Instead the engine parks the session and enqueues a resume task with
// a NotBefore gate; a Worker running on its own goroutine dequeues the
// task once it becomes eligible and calls the engine's ResumeSession.
// With a durable queue (SQLite) pending delays survive a process
// restart.
//
// Multiple workers may drain the same queue. The engine's per-contact
// lease keeps concurrent resumes for one contact serialized, and the
// staleness recheck inside ResumeSession makes duplicate or outdated
// tasks cheap no-ops.
//
// Most applications get a wired Worker from the root package's bundle
// constructors rather than building one here.
package worker
