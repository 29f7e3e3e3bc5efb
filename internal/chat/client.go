// ABOUTME: Chat platform boundary consumed by the renderer and orchestrator
// ABOUTME: Post/update operations over structured payloads with plain-text fallback

package chat

import (
	"context"

	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-concierge/internal/format"
)

// MessageRef is the handle to one posted message, sufficient to update it later.
type MessageRef struct {
	Room    id.RoomID
	EventID id.EventID
}

// Client is the chat platform surface the core depends on. Both operations
// accept a structured payload; the implementation derives the platform's
// fallback plain text from it. Either may fail on network or permission
// errors, in which case the caller degrades as it sees fit.
type Client interface {
	// Post sends a new message to the room and returns its handle.
	Post(ctx context.Context, room id.RoomID, p *format.Payload) (*MessageRef, error)
	// Update replaces the content of an existing message in place.
	Update(ctx context.Context, ref *MessageRef, p *format.Payload) error
	// Typing toggles the typing indicator for the room. Best effort.
	Typing(ctx context.Context, room id.RoomID, typing bool)
}
