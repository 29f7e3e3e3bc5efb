// Package queue implements per-conversation admission control for the
// concierge: at most one job runs per conversation at any instant, with an
// ordered wait queue behind it.
//
// # Admission
//
// TryAdmit is the sole admission gate. It atomically claims the conversation's
// slot, recording the job ID, its renderer, and its cancel signal:
//
//	if !q.TryAdmit(key, job.ID, renderer, cancel) {
//	    // someone else holds the slot; enqueue instead
//	}
//
// Losing the race is an ordinary outcome, not an error — none of the
// operations in this package return errors.
//
// # Pickup order
//
// Release clears the slot and hands back the earliest non-cancelled queued
// entry, preserving FIFO order. Cancelled entries are marked in place and
// skipped during the scan rather than compacted eagerly, so a cancellation
// arriving mid-iteration never shifts indices.
//
// # Prioritize and takeover
//
// Prioritize pulls a queued entry out of order; Takeover then installs it as
// the slot's occupant while the displaced invocation is still winding down.
// Every in-flight callback must re-check CurrentJobID before touching the
// status message — a stale callback from the superseded job must be a no-op.
//
// # Lifetime
//
// Conversation state is created lazily on first touch and garbage-collected
// by CleanupStale once it is idle, empty, and past the age threshold. Nothing
// here is persisted; the queue is rebuilt empty on process restart.
package queue
