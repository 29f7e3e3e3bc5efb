// ABOUTME: Owns one outgoing status message's lifecycle for one job
// ABOUTME: Initial post, throttled progress edits, timestamp refresh, terminal render

package render

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-concierge/internal/chat"
	"github.com/2389/coven-concierge/internal/format"
)

// state is the renderer lifecycle phase. Transitions only move forward:
// starting -> live -> terminal.
type state int

const (
	stateStarting state = iota
	stateLive
	stateTerminal
)

// Options tunes one renderer. Zero values get defaults from DefaultOptions.
type Options struct {
	// RefreshInterval is how often the metadata timestamp is re-sent.
	RefreshInterval time.Duration
	// ProgressInterval is the minimum gap between progress edits. Updates
	// arriving faster are stored and flushed by the next refresh tick.
	ProgressInterval time.Duration
	// MaxChunk is the maximum length of one message block.
	MaxChunk int
}

// DefaultOptions returns the standard renderer tuning.
func DefaultOptions() Options {
	return Options{
		RefreshInterval:  30 * time.Second,
		ProgressInterval: 2 * time.Second,
		MaxChunk:         format.DefaultMaxChunk,
	}
}

// Renderer manages exactly one status message. The mutex guards both the
// state machine and the chat-client send, so a terminal transition is
// strictly ordered against any in-flight refresh tick: once terminal is set,
// no other render path can reach the network.
type Renderer struct {
	client chat.Client
	room   id.RoomID
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	st       state
	ref      *chat.MessageRef
	last     *format.Payload
	start    time.Time
	lastSend time.Time
	done     chan struct{}
	stopped  bool
}

// New creates a renderer for one job in the given room.
func New(client chat.Client, room id.RoomID, opts Options, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = def.RefreshInterval
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = def.ProgressInterval
	}
	if opts.MaxChunk <= 0 {
		opts.MaxChunk = def.MaxChunk
	}
	return &Renderer{
		client: client,
		room:   room,
		opts:   opts,
		logger: logger.With("component", "render", "room", room.String()),
		done:   make(chan struct{}),
	}
}

// Start posts the initial status message and begins the refresh timer.
// Returns nil if the chat client yields no handle; the renderer is then
// unusable and every later call is a no-op.
func (r *Renderer) Start(ctx context.Context, p *format.Payload) *chat.MessageRef {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.st != stateStarting {
		return r.ref
	}
	ref, err := r.client.Post(ctx, r.room, p)
	if err != nil {
		r.logger.Error("failed to post status message", "error", err)
		return nil
	}
	r.goLive(ref, p)
	return ref
}

// StartReusing adopts an existing message (a queued job's notice) as the live
// status message, updating it in place instead of posting a new one.
func (r *Renderer) StartReusing(ctx context.Context, ref *chat.MessageRef, p *format.Payload) *chat.MessageRef {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.st != stateStarting {
		return r.ref
	}
	if err := r.client.Update(ctx, ref, p); err != nil {
		r.logger.Error("failed to adopt queued message", "error", err)
		return nil
	}
	r.goLive(ref, p)
	return ref
}

// goLive records the handle and starts the refresh loop. Caller holds mu.
func (r *Renderer) goLive(ref *chat.MessageRef, p *format.Payload) {
	r.st = stateLive
	r.ref = ref
	r.last = p
	r.start = time.Now()
	r.lastSend = time.Now()
	go r.refreshLoop()
}

// RenderProgress rebuilds the live payload and edits the status message.
// Edits faster than ProgressInterval are stored only; the next refresh tick
// flushes the newest payload with a fresh timestamp. No-op once terminal.
func (r *Renderer) RenderProgress(ctx context.Context, status string, tool *format.ToolInfo, toolCalls int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.st != stateLive {
		return
	}
	p := format.Working(status, tool, r.elapsed(), toolCalls)
	r.last = p
	if time.Since(r.lastSend) < r.opts.ProgressInterval {
		return
	}
	if err := r.client.Update(ctx, r.ref, p); err != nil {
		r.logger.Warn("progress update failed", "error", err)
		return
	}
	r.lastSend = time.Now()
}

// RenderResult renders the terminal success state. The result text is split
// into size-bounded chunks: the first replaces the status message, the rest
// are posted as follow-ups in order. Any failure mid-sequence degrades to an
// error payload on the primary message and aborts the remaining chunks.
func (r *Renderer) RenderResult(ctx context.Context, text string, toolCalls int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.st == stateTerminal || r.ref == nil {
		return
	}
	r.st = stateTerminal
	r.stopTimerLocked()

	chunks := format.Split(text, r.opts.MaxChunk)
	p := format.Result(chunks[0], r.elapsed(), toolCalls)
	if err := r.client.Update(ctx, r.ref, p); err != nil {
		r.logger.Error("terminal result update failed", "error", err)
		r.degradeLocked(ctx, "failed to deliver the result")
		return
	}
	r.last = p

	for _, chunk := range chunks[1:] {
		if _, err := r.client.Post(ctx, r.room, format.Continuation(chunk)); err != nil {
			r.logger.Error("result continuation post failed", "error", err)
			r.degradeLocked(ctx, "failed to deliver the full result")
			return
		}
	}
}

// RenderError renders the terminal error state. If even the error payload
// cannot be delivered, one minimal text-only update is attempted before
// giving up silently.
func (r *Renderer) RenderError(ctx context.Context, errText string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.st == stateTerminal || r.ref == nil {
		return
	}
	r.st = stateTerminal
	r.stopTimerLocked()

	p := format.Error(errText)
	if err := r.client.Update(ctx, r.ref, p); err != nil {
		r.logger.Error("error render failed", "error", err)
		fallback := format.PlainText("❌ request failed")
		if err := r.client.Update(ctx, r.ref, fallback); err != nil {
			r.logger.Error("fallback error render failed", "error", err)
		}
		return
	}
	r.last = p
}

// RenderAborted renders the terminal cancellation state.
func (r *Renderer) RenderAborted(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.st == stateTerminal || r.ref == nil {
		return
	}
	r.st = stateTerminal
	r.stopTimerLocked()

	p := format.Aborted(r.elapsed())
	if err := r.client.Update(ctx, r.ref, p); err != nil {
		r.logger.Warn("aborted render failed", "error", err)
		return
	}
	r.last = p
}

// StopTimer stops the refresh loop without rendering anything. Used when the
// orchestration itself fails and there is nothing sensible to show.
func (r *Renderer) StopTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTimerLocked()
}

// Ref returns the status message handle, or nil before a successful start.
func (r *Renderer) Ref() *chat.MessageRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ref
}

// Elapsed returns whole seconds since the renderer went live.
func (r *Renderer) Elapsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed()
}

func (r *Renderer) elapsed() int {
	if r.start.IsZero() {
		return 0
	}
	return int(time.Since(r.start).Seconds())
}

// stopTimerLocked closes the refresh loop's stop channel once. Caller holds mu.
func (r *Renderer) stopTimerLocked() {
	if !r.stopped {
		r.stopped = true
		close(r.done)
	}
}

// degradeLocked replaces the primary message with an error payload after a
// failed terminal sequence. Caller holds mu and has already set terminal.
func (r *Renderer) degradeLocked(ctx context.Context, reason string) {
	p := format.Error(reason)
	if err := r.client.Update(ctx, r.ref, p); err != nil {
		r.logger.Error("degraded render failed", "error", err)
		return
	}
	r.last = p
}

// refreshLoop periodically re-sends the latest payload with only its elapsed
// time patched, keeping the visible timestamp honest between progress events.
func (r *Renderer) refreshLoop() {
	ticker := time.NewTicker(r.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			if !r.refreshTimestampOnly() {
				return
			}
		}
	}
}

// refreshTimestampOnly deep-copies the last payload, rewrites only its
// elapsed seconds, and re-sends it. Returns false when the loop should stop:
// the renderer is terminal, or the update failed (a lost message is treated
// as permanent, not transient).
func (r *Renderer) refreshTimestampOnly() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.st != stateLive || r.last == nil {
		return r.st == stateStarting
	}
	p := r.last.WithElapsed(r.elapsed())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.client.Update(ctx, r.ref, p); err != nil {
		r.logger.Warn("refresh update failed, disabling timer", "error", err)
		return false
	}
	r.last = p
	r.lastSend = time.Now()
	return true
}
