// ABOUTME: Matrix event loop for the concierge bridge
// ABOUTME: Routes mentions, commands, and reactions to the job orchestrator

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-concierge/internal/agent"
	"github.com/2389/coven-concierge/internal/chat"
	"github.com/2389/coven-concierge/internal/config"
	"github.com/2389/coven-concierge/internal/dedupe"
	"github.com/2389/coven-concierge/internal/format"
	"github.com/2389/coven-concierge/internal/queue"
	"github.com/2389/coven-concierge/internal/render"
	"github.com/2389/coven-concierge/internal/session"
)

// dedupeTTL bounds how long event IDs are remembered. Matrix redelivers
// events across sync reconnects well within this window.
const dedupeTTL = 10 * time.Minute

// abortEmoji is the reaction that cancels the running job when placed on
// its status message.
const abortEmoji = "❌"

// Bridge connects Matrix rooms to the streaming agent, running at most one
// job per conversation at a time.
type Bridge struct {
	cfg      *config.Config
	matrix   *mautrix.Client
	chat     chat.Client
	queue    *queue.Manager
	invoker  agent.Invoker
	sessions *session.Store
	seen     *dedupe.Cache
	logger   *slog.Logger

	userID          id.UserID
	mentionPrefixes []string
	renderOpts      render.Options

	// ctx is the parent for job goroutines; cancelled on shutdown.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards draining. spawn takes it before wg.Add, so once drain flips
	// the flag no sync callback can add to the group mid-Wait.
	mu       sync.Mutex
	draining bool
}

// NewBridge wires the bridge from its collaborators. The matrix client must
// already carry valid credentials; no login is performed here.
func NewBridge(cfg *config.Config, matrixClient *mautrix.Client, invoker agent.Invoker, sessions *session.Store, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	userID := id.UserID(cfg.Matrix.UserID)

	opts := render.DefaultOptions()
	if cfg.Renderer.RefreshInterval > 0 {
		opts.RefreshInterval = cfg.Renderer.RefreshInterval
	}
	if cfg.Renderer.ProgressInterval > 0 {
		opts.ProgressInterval = cfg.Renderer.ProgressInterval
	}
	if cfg.Renderer.MaxChunk > 0 {
		opts.MaxChunk = cfg.Renderer.MaxChunk
	}

	return &Bridge{
		cfg:             cfg,
		matrix:          matrixClient,
		chat:            chat.NewMatrixClient(matrixClient, logger),
		queue:           queue.NewManager(logger),
		invoker:         invoker,
		sessions:        sessions,
		seen:            dedupe.New(dedupeTTL),
		logger:          logger.With("component", "bridge"),
		userID:          userID,
		mentionPrefixes: mentionPrefixesFor(userID),
		renderOpts:      opts,
	}
}

// mentionPrefixesFor returns the body prefixes treated as a mention of the
// bot: the full mxid, the pilled display form, and the bare localpart
// followed by a colon.
func mentionPrefixesFor(userID id.UserID) []string {
	prefixes := []string{userID.String()}
	if localpart, _, err := userID.Parse(); err == nil && localpart != "" {
		prefixes = append(prefixes, "@"+localpart, localpart+":")
	}
	return prefixes
}

// Run starts syncing and blocks until ctx is cancelled or the sync loop
// fails. In-flight jobs are cancelled on shutdown and waited for, so every
// watched message reaches a terminal state.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting bridge",
		"homeserver", b.cfg.Matrix.Homeserver,
		"user_id", b.cfg.Matrix.UserID,
	)

	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()
	defer b.seen.Close()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)
	syncer.OnEventType(event.EventReaction, b.handleReactionEvent)

	go b.sweepLoop()

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(b.ctx)
	}()

	b.logger.Info("bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down bridge")
		b.cancel()
		b.drain()
		return nil
	case err := <-syncErr:
		b.cancel()
		b.drain()
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("matrix sync failed: %w", err)
		}
		return nil
	}
}

// drain stops accepting new jobs, then waits for in-flight ones.
func (b *Bridge) drain() {
	b.mu.Lock()
	b.draining = true
	b.mu.Unlock()
	b.wg.Wait()
}

// sweepLoop ages out stale queued jobs and idle conversation state.
func (b *Bridge) sweepLoop() {
	ticker := time.NewTicker(b.cfg.Queue.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.sweepOnce()
		}
	}
}

// sweepOnce cancels queued jobs past the stale age and gives each one's
// queued notice a visible terminal state, so the user watching it is not
// left with a notice that never resolves.
func (b *Bridge) sweepOnce() {
	aged := b.queue.CleanupStale(b.cfg.Queue.StaleAge)
	if len(aged) == 0 {
		return
	}
	b.logger.Info("aged out stale queued jobs", "count", len(aged))
	for _, job := range aged {
		if job.Message == nil {
			continue
		}
		if err := b.chat.Update(b.ctx, job.Message, format.PlainText("🛑 Cancelled (waited too long in queue)")); err != nil {
			b.logger.Error("failed to update stale queued notice",
				"conversation", job.Key, "job_id", job.ID, "error", err)
		}
	}
}

// handleMessageEvent processes incoming room messages.
func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.userID {
		return
	}
	if b.seen.CheckAndMark(evt.ID.String()) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}
	if !b.roomAllowed(evt.RoomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", evt.RoomID.String())
		return
	}
	sender := evt.Sender.String()
	if !b.userAllowed(sender) {
		b.logger.Debug("ignoring message from non-allowed user", "sender", sender)
		return
	}

	body := strings.TrimSpace(content.Body)
	if body == "" {
		return
	}

	if cmd, ok := parseCommand(body); ok {
		b.handleCommand(evt.RoomID, sender, cmd)
		return
	}

	query, ok := b.extractQuery(body)
	if !ok || query == "" {
		return
	}

	b.logger.Info("received request",
		"room", evt.RoomID.String(),
		"sender", sender,
		"query", format.Truncate(query, 50),
	)
	b.submit(evt.RoomID, sender, query)
}

// handleReactionEvent aborts the running job when the abort emoji lands on
// its status message.
func (b *Bridge) handleReactionEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.userID {
		return
	}
	content, ok := evt.Content.Parsed.(*event.ReactionEventContent)
	if !ok {
		return
	}
	if content.RelatesTo.Key != abortEmoji {
		return
	}
	if !b.roomAllowed(evt.RoomID) || !b.userAllowed(evt.Sender.String()) {
		return
	}

	key := evt.RoomID.String()
	jobID, r, cancel := b.queue.Abort(key)
	if jobID == "" || r == nil {
		return
	}
	ref := r.Ref()
	if ref == nil || ref.EventID != content.RelatesTo.EventID {
		return
	}
	b.logger.Info("abort reaction received", "room", key, "sender", evt.Sender.String())
	b.abortJob(key, jobID, r, cancel)
}

// extractQuery strips the mention or command prefix from a message body.
// Returns false when the message does not address the bot.
func (b *Bridge) extractQuery(body string) (string, bool) {
	if p := b.cfg.Matrix.CommandPrefix; p != "" && strings.HasPrefix(body, p) {
		return strings.TrimSpace(strings.TrimPrefix(body, p)), true
	}
	for _, prefix := range b.mentionPrefixes {
		if strings.HasPrefix(body, prefix) {
			rest := strings.TrimPrefix(body, prefix)
			rest = strings.TrimLeft(rest, ":, ")
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

// parseCommand recognizes the bare control commands.
func parseCommand(body string) (string, bool) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", false
	}
	switch fields[0] {
	case "!cancel", "!bump", "!status":
		return fields[0], true
	}
	return "", false
}

func (b *Bridge) handleCommand(room id.RoomID, sender, cmd string) {
	switch cmd {
	case "!cancel":
		b.handleCancel(room, sender)
	case "!bump":
		b.handleBump(room, sender)
	case "!status":
		b.handleStatus(room)
	}
}

// roomAllowed checks the allowed-rooms filter; an empty list allows all.
func (b *Bridge) roomAllowed(room id.RoomID) bool {
	if len(b.cfg.Matrix.AllowedRooms) == 0 {
		return true
	}
	for _, allowed := range b.cfg.Matrix.AllowedRooms {
		if allowed == room.String() {
			return true
		}
	}
	return false
}

// userAllowed checks the allowed-users filter; an empty list allows all.
func (b *Bridge) userAllowed(sender string) bool {
	if len(b.cfg.Matrix.AllowedUsers) == 0 {
		return true
	}
	for _, allowed := range b.cfg.Matrix.AllowedUsers {
		if allowed == sender {
			return true
		}
	}
	return false
}

// post sends a standalone notice, logging failures.
func (b *Bridge) post(room id.RoomID, p *format.Payload) {
	if _, err := b.chat.Post(b.ctx, room, p); err != nil {
		b.logger.Error("failed to post notice", "room", room.String(), "error", err)
	}
}
