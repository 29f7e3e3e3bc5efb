// ABOUTME: Job orchestrator: admission, agent invocation, and terminal rendering
// ABOUTME: Drives one job per conversation through the renderer to completion

package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-concierge/internal/agent"
	"github.com/2389/coven-concierge/internal/chat"
	"github.com/2389/coven-concierge/internal/format"
	"github.com/2389/coven-concierge/internal/queue"
	"github.com/2389/coven-concierge/internal/render"
)

// SuccessMarker is logged exactly once per successfully completed job. The
// deploy tool scans service logs for it to verify a restart came back
// healthy; change it in lockstep there.
const SuccessMarker = "concierge job completed"

// previewLimit caps how much streamed text shows in the live status line.
const previewLimit = 200

// submit admits a new job or enqueues it behind the one already running.
func (b *Bridge) submit(room id.RoomID, sender, query string) {
	key := room.String()
	job := &queue.Job{
		ID:    uuid.NewString(),
		Query: query,
		User:  sender,
		Key:   key,
	}

	jctx, cancel := context.WithCancel(b.ctx)
	r := render.New(b.chat, room, b.renderOpts, b.logger)
	if b.queue.TryAdmit(key, job.ID, r, cancel) {
		b.spawn(jctx, job, r)
		return
	}
	cancel()

	if b.queue.Depth(key) >= b.cfg.Queue.MaxDepth {
		b.logger.Warn("wait queue full, rejecting job", "conversation", key, "job_id", job.ID)
		b.post(room, format.PlainText(fmt.Sprintf("⚠️ Queue is full (%d waiting), try again later", b.cfg.Queue.MaxDepth)))
		return
	}

	// The queued notice is posted before the entry exists; its handle
	// transfers to the job and becomes the live status message on pickup.
	ref, err := b.chat.Post(b.ctx, room, format.Queued(query, b.queue.Depth(key)+1))
	if err != nil {
		b.logger.Error("failed to post queued notice", "conversation", key, "error", err)
	}
	job.Message = ref
	pos := b.queue.Enqueue(key, job)
	b.logger.Info("job queued", "conversation", key, "job_id", job.ID, "position", pos)
}

// spawn runs the job on its own goroutine, tracked for shutdown. Once the
// bridge is draining the job is declined and its slot released instead: an
// Add racing the shutdown Wait is undefined WaitGroup behavior.
func (b *Bridge) spawn(ctx context.Context, job *queue.Job, r *render.Renderer) {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		b.queue.Release(job.Key, job.ID)
		b.logger.Info("draining, declined job", "conversation", job.Key, "job_id", job.ID)
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()
	go func() {
		defer b.wg.Done()
		b.runJob(ctx, job, r)
	}()
}

// runJob drives one admitted job to its terminal state. The caller must have
// claimed the conversation slot for job.ID already.
func (b *Bridge) runJob(ctx context.Context, job *queue.Job, r *render.Renderer) {
	room := id.RoomID(job.Key)
	key := job.Key
	log := b.logger.With("job_id", job.ID, "conversation", key)

	if b.cfg.Matrix.TypingIndicator {
		b.chat.Typing(ctx, room, true)
		defer b.chat.Typing(context.WithoutCancel(ctx), room, false)
	}

	initial := format.Working("", nil, 0, 0)
	var ref *chat.MessageRef
	if job.Message != nil {
		ref = r.StartReusing(ctx, job.Message, initial)
	} else {
		ref = r.Start(ctx, initial)
	}
	if ref == nil {
		log.Error("no status message handle, abandoning job")
		b.finish(key, job.ID)
		return
	}

	sessionID, err := b.sessions.GetOrCreate(ctx, key)
	if err != nil {
		log.Error("session lookup failed", "error", err)
		r.RenderError(ctx, "session store unavailable")
		b.finish(key, job.ID)
		return
	}

	events, err := b.invoker.Invoke(ctx, &agent.QueryRequest{
		Prompt:    job.Query,
		SessionID: sessionID,
		User:      job.User,
	})
	if err != nil {
		log.Error("invocation failed to start", "error", err)
		r.StopTimer()
		r.RenderError(ctx, err.Error())
		b.finish(key, job.ID)
		return
	}

	var (
		preview   strings.Builder
		lastTool  *format.ToolInfo
		toolCalls int
		finalText string
		errText   string
		failed    bool
	)
	for ev := range events {
		// An abort or takeover released the slot out from under us; the
		// new owner (or the abort path) already rendered a terminal
		// state, so drop everything the stale invocation still emits.
		if b.queue.CurrentJobID(key) != job.ID {
			log.Info("job superseded, dropping remaining events")
			return
		}
		switch ev.Kind {
		case agent.EventSessionInit:
			if ev.SessionID != sessionID {
				if err := b.sessions.UpdateToken(ctx, key, ev.SessionID); err != nil {
					log.Warn("failed to persist session token", "error", err)
				}
			}
		case agent.EventText:
			preview.WriteString(ev.Text)
			r.RenderProgress(ctx, format.Truncate(preview.String(), previewLimit), lastTool, toolCalls)
		case agent.EventToolUse:
			toolCalls++
			lastTool = &format.ToolInfo{Name: ev.ToolUse.Name}
			r.RenderProgress(ctx, format.Truncate(preview.String(), previewLimit), lastTool, toolCalls)
		case agent.EventDone:
			finalText = ev.Text
		case agent.EventError:
			failed = true
			errText = ev.Err
		}
	}

	if b.queue.CurrentJobID(key) != job.ID {
		log.Info("job superseded after stream end")
		return
	}

	switch {
	case ctx.Err() != nil:
		// Shutdown path; user aborts release the slot before we get here.
		r.RenderAborted(context.WithoutCancel(ctx))
	case failed:
		log.Error("agent invocation failed", "error", errText)
		r.RenderError(ctx, errText)
	default:
		r.RenderResult(ctx, finalText, toolCalls)
		log.Info(SuccessMarker, "tool_calls", toolCalls, "elapsed_s", r.Elapsed())
	}
	b.finish(key, job.ID)
}

// finish releases the conversation slot and immediately starts the next
// queued job, reusing its queued-notice message as the live status message.
// A stale owner's release is a no-op inside the queue, so a job displaced by
// takeover cannot free the slot its successor holds.
func (b *Bridge) finish(key, ownerJobID string) {
	next := b.queue.Release(key, ownerJobID)
	if next == nil {
		return
	}
	jctx, cancel := context.WithCancel(b.ctx)
	r := render.New(b.chat, id.RoomID(next.Key), b.renderOpts, b.logger)
	if !b.queue.TryAdmit(key, next.ID, r, cancel) {
		// A fresh request slipped in between release and pickup. Rare;
		// the job rejoins the queue rather than being lost.
		cancel()
		pos := b.queue.Enqueue(key, next)
		b.logger.Warn("slot claimed before pickup, re-queued job",
			"conversation", key, "job_id", next.ID, "position", pos)
		return
	}
	b.spawn(jctx, next, r)
}

// abortRunning cancels the invocation, renders the Aborted terminal state,
// and releases the slot immediately so the queue is not stalled waiting for
// the agent to acknowledge. Late events from the cancelled invocation are
// dropped by the job-id guard in runJob.
func (b *Bridge) abortRunning(room id.RoomID) bool {
	key := room.String()
	jobID, r, cancel := b.queue.Abort(key)
	if jobID == "" {
		return false
	}
	b.abortJob(key, jobID, r, cancel)
	return true
}

// abortJob finishes a snapshotted running job: cancel, terminal render,
// release. Callers obtain the snapshot from queue.Abort so a job completing
// concurrently is never the one cancelled.
func (b *Bridge) abortJob(key, jobID string, r queue.Renderer, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if r != nil {
		r.RenderAborted(b.ctx)
	}
	b.logger.Info("running job aborted", "conversation", key, "job_id", jobID)
	b.finish(key, jobID)
}

// handleCancel withdraws the sender's newest queued job, or failing that
// aborts the running one.
func (b *Bridge) handleCancel(room id.RoomID, sender string) {
	key := room.String()
	if job := b.queue.CancelNewestFor(key, sender); job != nil {
		b.logger.Info("queued job withdrawn", "conversation", key, "job_id", job.ID, "sender", sender)
		if job.Message != nil {
			if err := b.chat.Update(b.ctx, job.Message, format.PlainText("🛑 Cancelled")); err != nil {
				b.logger.Error("failed to update cancelled notice", "error", err)
			}
		}
		return
	}
	if b.abortRunning(room) {
		return
	}
	b.post(room, format.PlainText("Nothing to cancel"))
}

// handleBump promotes the sender's newest queued job to run now, displacing
// the current occupant if there is one.
func (b *Bridge) handleBump(room id.RoomID, sender string) {
	key := room.String()
	queued := b.queue.NewestQueuedFor(key, sender)
	if queued == nil {
		b.post(room, format.PlainText("You have nothing queued"))
		return
	}
	job := b.queue.Prioritize(key, queued.ID)
	if job == nil {
		return
	}

	jctx, cancel := context.WithCancel(b.ctx)
	r := render.New(b.chat, room, b.renderOpts, b.logger)
	if b.queue.TryAdmit(key, job.ID, r, cancel) {
		b.spawn(jctx, job, r)
		return
	}

	prevRenderer, prevCancel := b.queue.Takeover(key, job.ID, r, cancel)
	if prevCancel != nil {
		prevCancel()
	}
	if prevRenderer != nil {
		prevRenderer.RenderAborted(b.ctx)
	}
	b.logger.Info("job bumped to front", "conversation", key, "job_id", job.ID, "sender", sender)
	b.spawn(jctx, job, r)
}

// handleStatus reports the conversation's slot and queue occupancy.
func (b *Bridge) handleStatus(room id.RoomID) {
	key := room.String()
	depth := b.queue.Depth(key)
	if b.queue.IsBusy(key) {
		b.post(room, format.PlainText(fmt.Sprintf("⚙️ A job is running, %d queued behind it", depth)))
		return
	}
	b.post(room, format.PlainText("💤 Idle, nothing queued"))
}
