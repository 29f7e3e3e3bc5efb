// ABOUTME: Tests for the response renderer state machine.
// ABOUTME: Covers start/reuse, progress throttling, terminal transitions, and refresh.

package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-concierge/internal/chat"
	"github.com/2389/coven-concierge/internal/format"
)

// fakeChat records every post and update and can be told to fail.
type fakeChat struct {
	mu         sync.Mutex
	posts      []*format.Payload
	updates    []*format.Payload
	failPost   bool
	failUpdate int // fail this many updates, then succeed
	nextID     int
}

func (f *fakeChat) Post(ctx context.Context, room id.RoomID, p *format.Payload) (*chat.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPost {
		return nil, errors.New("post failed")
	}
	f.nextID++
	f.posts = append(f.posts, p.Clone())
	return &chat.MessageRef{Room: room, EventID: id.EventID(fmt.Sprintf("$ev%d", f.nextID))}, nil
}

func (f *fakeChat) Update(ctx context.Context, ref *chat.MessageRef, p *format.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate > 0 {
		f.failUpdate--
		return errors.New("update failed")
	}
	f.updates = append(f.updates, p.Clone())
	return nil
}

func (f *fakeChat) Typing(ctx context.Context, room id.RoomID, typing bool) {}

func (f *fakeChat) lastUpdate() *format.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return nil
	}
	return f.updates[len(f.updates)-1]
}

func (f *fakeChat) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts), len(f.updates)
}

// testOptions keeps the refresh timer out of the way unless a test wants it.
func testOptions() Options {
	return Options{
		RefreshInterval:  time.Hour,
		ProgressInterval: time.Nanosecond,
		MaxChunk:         100,
	}
}

func newLiveRenderer(t *testing.T, fc *fakeChat) *Renderer {
	t.Helper()
	r := New(fc, id.RoomID("!room:example.org"), testOptions(), nil)
	ref := r.Start(context.Background(), format.Working("", nil, 0, 0))
	require.NotNil(t, ref)
	return r
}

func TestStart_PostsInitialMessage(t *testing.T) {
	fc := &fakeChat{}
	r := newLiveRenderer(t, fc)
	defer r.StopTimer()

	posts, _ := fc.counts()
	assert.Equal(t, 1, posts)
	assert.NotNil(t, r.Ref())
}

func TestStart_FailureLeavesRendererUnusable(t *testing.T) {
	fc := &fakeChat{failPost: true}
	r := New(fc, id.RoomID("!room:example.org"), testOptions(), nil)

	assert.Nil(t, r.Start(context.Background(), format.Working("", nil, 0, 0)))

	// Everything after a failed start is a no-op.
	r.RenderProgress(context.Background(), "x", nil, 0)
	r.RenderResult(context.Background(), "done", 0)
	_, updates := fc.counts()
	assert.Equal(t, 0, updates)
}

func TestStartReusing_UpdatesExistingMessage(t *testing.T) {
	fc := &fakeChat{}
	r := New(fc, id.RoomID("!room:example.org"), testOptions(), nil)
	defer r.StopTimer()

	existing := &chat.MessageRef{Room: "!room:example.org", EventID: "$queued"}
	ref := r.StartReusing(context.Background(), existing, format.Working("", nil, 0, 0))
	require.NotNil(t, ref)
	assert.Equal(t, existing, ref)

	posts, updates := fc.counts()
	assert.Equal(t, 0, posts)
	assert.Equal(t, 1, updates)
}

func TestRenderProgress_EditsMessage(t *testing.T) {
	fc := &fakeChat{}
	r := newLiveRenderer(t, fc)
	defer r.StopTimer()

	r.RenderProgress(context.Background(), "working", &format.ToolInfo{Name: "bash"}, 1)
	last := fc.lastUpdate()
	require.NotNil(t, last)
	assert.Contains(t, last.Text(), "working")
	assert.Contains(t, last.Text(), "bash")
}

func TestRenderProgress_ThrottledUpdatesAreStored(t *testing.T) {
	fc := &fakeChat{}
	r := New(fc, id.RoomID("!room:example.org"), Options{
		RefreshInterval:  time.Hour,
		ProgressInterval: time.Hour, // everything after the start is throttled
		MaxChunk:         100,
	}, nil)
	require.NotNil(t, r.Start(context.Background(), format.Working("", nil, 0, 0)))
	defer r.StopTimer()

	r.RenderProgress(context.Background(), "newer status", nil, 2)
	_, updates := fc.counts()
	assert.Equal(t, 0, updates)

	// The refresh tick flushes the stored payload.
	assert.True(t, r.refreshTimestampOnly())
	last := fc.lastUpdate()
	require.NotNil(t, last)
	assert.Contains(t, last.Text(), "newer status")
}

func TestRenderResult_SingleChunk(t *testing.T) {
	fc := &fakeChat{}
	r := newLiveRenderer(t, fc)

	r.RenderResult(context.Background(), "the answer", 3)

	posts, updates := fc.counts()
	assert.Equal(t, 1, posts) // only the initial status post
	assert.Equal(t, 1, updates)
	assert.Contains(t, fc.lastUpdate().Text(), "the answer")
	assert.Contains(t, fc.lastUpdate().Text(), "3 tool calls")
}

func TestRenderResult_SplitsLongText(t *testing.T) {
	fc := &fakeChat{}
	r := newLiveRenderer(t, fc)

	long := ""
	for i := 0; i < 30; i++ {
		long += fmt.Sprintf("line number %d\n", i)
	}
	r.RenderResult(context.Background(), long, 0)

	posts, updates := fc.counts()
	assert.Equal(t, 1, updates)
	assert.Greater(t, posts, 1, "overflow chunks are posted as follow-ups")
}

func TestRenderResult_TerminalIsIrreversible(t *testing.T) {
	fc := &fakeChat{}
	r := newLiveRenderer(t, fc)

	r.RenderResult(context.Background(), "first", 0)
	_, updatesAfterFirst := fc.counts()

	// Every later render call is a no-op.
	r.RenderResult(context.Background(), "second", 0)
	r.RenderProgress(context.Background(), "late progress", nil, 0)
	r.RenderError(context.Background(), "late error")
	r.RenderAborted(context.Background())

	_, updates := fc.counts()
	assert.Equal(t, updatesAfterFirst, updates)
	assert.Contains(t, fc.lastUpdate().Text(), "first")
}

func TestRenderResult_UpdateFailureDegradesToError(t *testing.T) {
	fc := &fakeChat{failUpdate: 1}
	r := newLiveRenderer(t, fc)

	r.RenderResult(context.Background(), "lost result", 0)

	last := fc.lastUpdate()
	require.NotNil(t, last)
	assert.Contains(t, last.Text(), "❌")
}

func TestRenderResult_ContinuationFailureAborts(t *testing.T) {
	fc := &fakeChat{}
	r := newLiveRenderer(t, fc)

	// First update (primary chunk) succeeds, then fail the follow-up post.
	fc.mu.Lock()
	fc.failPost = true
	fc.mu.Unlock()

	long := ""
	for i := 0; i < 30; i++ {
		long += fmt.Sprintf("line number %d\n", i)
	}
	r.RenderResult(context.Background(), long, 0)

	// The primary message ends as an error payload.
	assert.Contains(t, fc.lastUpdate().Text(), "❌")
}

func TestRenderError_FallbackOnFailure(t *testing.T) {
	fc := &fakeChat{failUpdate: 1}
	r := newLiveRenderer(t, fc)

	r.RenderError(context.Background(), "agent exploded")

	last := fc.lastUpdate()
	require.NotNil(t, last)
	assert.Contains(t, last.Text(), "request failed")
}

func TestRenderAborted(t *testing.T) {
	fc := &fakeChat{}
	r := newLiveRenderer(t, fc)

	r.RenderAborted(context.Background())
	assert.Contains(t, fc.lastUpdate().Text(), "Cancelled")

	// Aborted is terminal: a late result event must not overwrite it.
	r.RenderResult(context.Background(), "late result", 0)
	assert.Contains(t, fc.lastUpdate().Text(), "Cancelled")
}

func TestRefreshTimestampOnly_PatchesOnlyElapsed(t *testing.T) {
	fc := &fakeChat{}
	r := newLiveRenderer(t, fc)
	defer r.StopTimer()

	r.RenderProgress(context.Background(), "status", &format.ToolInfo{Name: "bash"}, 2)
	before := fc.lastUpdate()
	require.NotNil(t, before)

	require.True(t, r.refreshTimestampOnly())
	require.True(t, r.refreshTimestampOnly())

	after := fc.lastUpdate()
	assert.Equal(t, before.Blocks, after.Blocks)
	assert.Equal(t, before.Meta.ToolCalls, after.Meta.ToolCalls)
	assert.Equal(t, before.Meta.Terminal, after.Meta.Terminal)
	assert.Equal(t, before.Meta.Version, after.Meta.Version)
}

func TestRefreshTimestampOnly_StopsWhenTerminal(t *testing.T) {
	fc := &fakeChat{}
	r := newLiveRenderer(t, fc)

	r.RenderResult(context.Background(), "done", 0)
	_, updatesAfterResult := fc.counts()

	assert.False(t, r.refreshTimestampOnly())
	_, updates := fc.counts()
	assert.Equal(t, updatesAfterResult, updates, "no refresh lands after terminal")
}

func TestRefreshTimestampOnly_SelfDisablesOnFailure(t *testing.T) {
	fc := &fakeChat{}
	r := newLiveRenderer(t, fc)
	defer r.StopTimer()

	fc.mu.Lock()
	fc.failUpdate = 1
	fc.mu.Unlock()
	assert.False(t, r.refreshTimestampOnly())
}

func TestStopTimer_Idempotent(t *testing.T) {
	fc := &fakeChat{}
	r := newLiveRenderer(t, fc)

	r.StopTimer()
	r.StopTimer() // must not panic on double close
}

func TestElapsed_BeforeStart(t *testing.T) {
	r := New(&fakeChat{}, id.RoomID("!room:example.org"), testOptions(), nil)
	assert.Equal(t, 0, r.Elapsed())
}
