// ABOUTME: Package documentation for the bridge
// ABOUTME: Explains the event loop, orchestrator, and abort semantics

// Package bridge connects Matrix rooms to the streaming agent.
//
// The Matrix sync loop turns room events into work: a message mentioning the
// bot becomes a job, bare !cancel/!bump/!status messages are control
// commands, and a ❌ reaction on a live status message aborts the job that
// owns it. Each conversation (room) runs at most one job at a time; requests
// arriving while a job runs are queued and drained FIFO by the orchestrator.
//
// The orchestrator releases a conversation's slot optimistically on abort,
// before the agent invocation has acknowledged the cancellation. The
// CurrentJobID guard in runJob drops whatever the stale invocation still
// emits, which is what keeps an abort from corrupting the next job's status
// message.
package bridge
