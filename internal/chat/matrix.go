// ABOUTME: Matrix implementation of the chat Client using mautrix
// ABOUTME: Payloads become body/formatted_body pairs; updates use m.replace edits

package chat

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-concierge/internal/format"
)

// typingTimeout is the duration the typing indicator shows.
const typingTimeout = 30 * time.Second

// sendTimeout bounds Matrix API calls so a stalled homeserver cannot wedge
// the renderer.
const sendTimeout = 30 * time.Second

// MatrixClient implements Client against a Matrix homeserver.
type MatrixClient struct {
	client *mautrix.Client
	logger *slog.Logger
}

// NewMatrixClient wraps an authenticated mautrix client.
func NewMatrixClient(client *mautrix.Client, logger *slog.Logger) *MatrixClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatrixClient{
		client: client,
		logger: logger.With("component", "matrix"),
	}
}

// Post sends a new m.room.message and returns its handle.
func (m *MatrixClient) Post(ctx context.Context, room id.RoomID, p *format.Payload) (*MessageRef, error) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	content := renderContent(p)
	resp, err := m.client.SendMessageEvent(ctx, room, event.EventMessage, &content)
	if err != nil {
		return nil, fmt.Errorf("posting message: %w", err)
	}
	return &MessageRef{Room: room, EventID: resp.EventID}, nil
}

// Update edits an existing message in place via an m.replace relation.
func (m *MatrixClient) Update(ctx context.Context, ref *MessageRef, p *format.Payload) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	content := renderContent(p)
	content.SetEdit(ref.EventID)
	if _, err := m.client.SendMessageEvent(ctx, ref.Room, event.EventMessage, &content); err != nil {
		return fmt.Errorf("updating message %s: %w", ref.EventID, err)
	}
	return nil
}

// Typing toggles the typing indicator. Failures are logged, never surfaced.
func (m *MatrixClient) Typing(ctx context.Context, room id.RoomID, typing bool) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	if _, err := m.client.UserTyping(ctx, room, typing, timeout); err != nil {
		m.logger.Debug("failed to set typing indicator", "room", room.String(), "error", err)
	}
}

// renderContent converts a payload into Matrix message content: the payload's
// plain text becomes the body (the notification fallback), the markdown is
// rendered to HTML for the formatted body.
func renderContent(p *format.Payload) event.MessageEventContent {
	plain := p.Text()
	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    plain,
	}

	md := p.Markdown()
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err == nil {
		html := strings.TrimSpace(buf.String())
		if html != "" && html != plain {
			content.Format = event.FormatHTML
			content.FormattedBody = html
		}
	}
	return content
}
