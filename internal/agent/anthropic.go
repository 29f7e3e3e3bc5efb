// ABOUTME: Anthropic Messages API implementation of the streaming invoker
// ABOUTME: Keeps per-session message history so a conversation resumes context

package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
)

// DefaultModel is used when the config names none.
const DefaultModel = "claude-sonnet-4-5-20250929"

// DefaultMaxTokens bounds one response.
const DefaultMaxTokens = 4096

// maxHistoryMessages caps the per-session history so long conversations do
// not grow the request without bound. Trimming drops the oldest turns.
const maxHistoryMessages = 40

// eventBuffer is the channel buffer for streamed events.
const eventBuffer = 16

// Invoker runs prompts against a streaming agent and yields typed events.
type Invoker interface {
	// Invoke starts the query and returns its event channel. The channel
	// closes after the terminal event. Cancelling ctx stops the invocation
	// cooperatively.
	Invoke(ctx context.Context, req *QueryRequest) (<-chan *Event, error)
}

// AnthropicConfig configures the Anthropic-backed invoker.
type AnthropicConfig struct {
	APIKey       string
	Model        string
	MaxTokens    int
	SystemPrompt string
}

// AnthropicInvoker implements Invoker against the Anthropic Messages API with
// streaming enabled. The session-continuity token keys an in-memory message
// history; the token itself is what the session store persists.
type AnthropicInvoker struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	system    string
	logger    *slog.Logger

	mu        sync.Mutex
	histories map[string][]anthropic.MessageParam
}

// NewAnthropicInvoker creates an invoker from config.
func NewAnthropicInvoker(cfg AnthropicConfig, logger *slog.Logger) *AnthropicInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &AnthropicInvoker{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     anthropic.Model(model),
		maxTokens: int64(maxTokens),
		system:    cfg.SystemPrompt,
		logger:    logger.With("component", "agent"),
		histories: make(map[string][]anthropic.MessageParam),
	}
}

// Invoke starts the streaming query in a goroutine and returns immediately.
func (a *AnthropicInvoker) Invoke(ctx context.Context, req *QueryRequest) (<-chan *Event, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	out := make(chan *Event, eventBuffer)
	go a.stream(ctx, sessionID, req.Prompt, out)
	return out, nil
}

// emit sends an event unless the invocation's context is cancelled. A
// cancelled consumer stops reading, so a plain send could block forever once
// the buffer fills.
func emit(ctx context.Context, out chan<- *Event, ev *Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// stream runs one streaming Messages call and translates SDK events into the
// invoker's event types.
func (a *AnthropicInvoker) stream(ctx context.Context, sessionID, prompt string, out chan<- *Event) {
	defer close(out)

	if !emit(ctx, out, &Event{Kind: EventSessionInit, SessionID: sessionID}) {
		return
	}

	messages := append(a.historyFor(sessionID), anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))

	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages:  messages,
	}
	if a.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.system}}
	}

	stream := a.client.Messages.NewStreaming(ctx, params)

	var textBuf strings.Builder
	// Tool input JSON accumulates across deltas, indexed by content block.
	toolInputs := make(map[int64]*strings.Builder)
	toolMeta := make(map[int64]*ToolUseEvent)

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			if event.ContentBlock.Type == "tool_use" {
				toolMeta[event.Index] = &ToolUseEvent{
					ID:   event.ContentBlock.ID,
					Name: event.ContentBlock.Name,
				}
				toolInputs[event.Index] = &strings.Builder{}
			}

		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text != "" {
					textBuf.WriteString(event.Delta.Text)
					if !emit(ctx, out, &Event{Kind: EventText, Text: event.Delta.Text}) {
						return
					}
				}
			case "input_json_delta":
				if buf, ok := toolInputs[event.Index]; ok {
					buf.WriteString(event.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if tool, ok := toolMeta[event.Index]; ok {
				if buf, ok := toolInputs[event.Index]; ok {
					tool.InputJSON = buf.String()
				}
				if !emit(ctx, out, &Event{Kind: EventToolUse, ToolUse: tool}) {
					return
				}
				delete(toolMeta, event.Index)
				delete(toolInputs, event.Index)
			}
		}
	}

	if err := stream.Err(); err != nil {
		a.logger.Warn("stream ended with error",
			"session_id", sessionID, "error", err)
		emit(ctx, out, &Event{Kind: EventError, Err: err.Error(), Done: true})
		return
	}

	full := textBuf.String()
	a.recordTurn(sessionID, prompt, full)
	emit(ctx, out, &Event{Kind: EventDone, Text: full, Done: true})
}

// historyFor returns a copy of the session's message history.
func (a *AnthropicInvoker) historyFor(sessionID string) []anthropic.MessageParam {
	a.mu.Lock()
	defer a.mu.Unlock()
	history := a.histories[sessionID]
	out := make([]anthropic.MessageParam, len(history))
	copy(out, history)
	return out
}

// recordTurn appends the completed exchange to the session history, trimming
// the oldest turns past the cap.
func (a *AnthropicInvoker) recordTurn(sessionID, prompt, response string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	history := append(a.histories[sessionID],
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))
	if response != "" {
		history = append(history, anthropic.NewAssistantMessage(anthropic.NewTextBlock(response)))
	}
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	a.histories[sessionID] = history
}
