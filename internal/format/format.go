// ABOUTME: Pure payload builders and text shaping for concierge status messages
// ABOUTME: Truncation, chunk splitting, and the structured block payload sent to chat

package format

import (
	"fmt"
	"strings"
)

// Version is the build-time version tag shown in the status metadata line.
// Overridden via -ldflags "-X .../internal/format.Version=v1.2.3".
var Version = "dev"

// Ellipsis marks hard-truncated text.
const Ellipsis = "…"

// DefaultMaxChunk is the default maximum length of one message block.
const DefaultMaxChunk = 4000

// BlockType identifies the role of a block within a payload.
type BlockType string

const (
	// BlockBody is the main content of the message.
	BlockBody BlockType = "body"
	// BlockTool is the "currently running tool" line.
	BlockTool BlockType = "tool"
	// BlockCancelHint tells the user how to stop the running job.
	BlockCancelHint BlockType = "cancel_hint"
)

// Block is one opaque content unit of a payload.
type Block struct {
	Type BlockType
	Text string
}

// MetaLine is the mutable metadata header of a status message. The elapsed
// seconds live in a dedicated field so the periodic refresh can patch time
// without touching anything else in the payload.
type MetaLine struct {
	ElapsedSeconds int
	ToolCalls      int
	// Terminal switches the phrasing from "Ns elapsed" to "took Ns".
	Terminal bool
	Version  string
}

// String renders the metadata line as shown to the user.
func (m *MetaLine) String() string {
	var b strings.Builder
	if m.Terminal {
		fmt.Fprintf(&b, "took %s", formatSeconds(m.ElapsedSeconds))
	} else {
		fmt.Fprintf(&b, "%s elapsed", formatSeconds(m.ElapsedSeconds))
	}
	if m.ToolCalls == 1 {
		b.WriteString(" · 1 tool call")
	} else if m.ToolCalls > 1 {
		fmt.Fprintf(&b, " · %d tool calls", m.ToolCalls)
	}
	fmt.Fprintf(&b, " · concierge %s", m.Version)
	return b.String()
}

// Payload is one renderable status message: an ordered list of content blocks
// plus a metadata header. The plain-text fallback and the markdown body are
// derived, never stored, so a metadata patch cannot leave them stale.
type Payload struct {
	Meta   *MetaLine
	Blocks []Block
}

// Clone returns a deep copy of the payload.
func (p *Payload) Clone() *Payload {
	c := &Payload{}
	if p.Meta != nil {
		meta := *p.Meta
		c.Meta = &meta
	}
	c.Blocks = make([]Block, len(p.Blocks))
	copy(c.Blocks, p.Blocks)
	return c
}

// WithElapsed returns a deep copy with only the metadata elapsed seconds
// replaced. Payloads without a metadata line are returned unchanged.
func (p *Payload) WithElapsed(seconds int) *Payload {
	c := p.Clone()
	if c.Meta != nil {
		c.Meta.ElapsedSeconds = seconds
	}
	return c
}

// Text renders the plain-text fallback for the payload.
func (p *Payload) Text() string {
	var parts []string
	for _, blk := range p.Blocks {
		if blk.Text != "" {
			parts = append(parts, blk.Text)
		}
	}
	if p.Meta != nil {
		parts = append(parts, p.Meta.String())
	}
	return strings.Join(parts, "\n\n")
}

// Markdown renders the markdown source for the payload's formatted body.
// The metadata and cancel-hint lines are emphasized; body blocks pass through
// untouched so the agent's own markdown survives.
func (p *Payload) Markdown() string {
	var parts []string
	for _, blk := range p.Blocks {
		if blk.Text == "" {
			continue
		}
		switch blk.Type {
		case BlockTool, BlockCancelHint:
			parts = append(parts, "*"+blk.Text+"*")
		default:
			parts = append(parts, blk.Text)
		}
	}
	if p.Meta != nil {
		parts = append(parts, "*"+p.Meta.String()+"*")
	}
	return strings.Join(parts, "\n\n")
}

// ToolInfo describes the tool the agent is currently using.
type ToolInfo struct {
	Name    string
	Summary string
}

// CancelHint is the user-facing instruction for stopping a running job.
const CancelHint = "react ❌ or reply !cancel to stop"

// Queued builds the "you are Nth in line" notice for a job that could not be
// admitted immediately.
func Queued(query string, position int) *Payload {
	return &Payload{
		Blocks: []Block{
			{Type: BlockBody, Text: fmt.Sprintf("⏳ Queued (%s in line): %s",
				ordinal(position), Truncate(query, 80))},
			{Type: BlockCancelHint, Text: "reply !cancel to withdraw"},
		},
	}
}

// Working builds the live status payload for a running job.
func Working(status string, tool *ToolInfo, elapsedSeconds, toolCalls int) *Payload {
	p := &Payload{
		Meta: &MetaLine{
			ElapsedSeconds: elapsedSeconds,
			ToolCalls:      toolCalls,
			Version:        Version,
		},
	}
	if status == "" {
		status = "Thinking…"
	}
	p.Blocks = append(p.Blocks, Block{Type: BlockBody, Text: status})
	if tool != nil {
		line := "🔧 " + tool.Name
		if tool.Summary != "" {
			line += ": " + Truncate(tool.Summary, 120)
		}
		p.Blocks = append(p.Blocks, Block{Type: BlockTool, Text: line})
	}
	p.Blocks = append(p.Blocks, Block{Type: BlockCancelHint, Text: CancelHint})
	return p
}

// Result builds the terminal success payload for the primary message.
// Overflow beyond the first chunk is posted separately via Continuation.
func Result(text string, durationSeconds, toolCalls int) *Payload {
	if text == "" {
		text = "(no response)"
	}
	return &Payload{
		Meta: &MetaLine{
			ElapsedSeconds: durationSeconds,
			ToolCalls:      toolCalls,
			Terminal:       true,
			Version:        Version,
		},
		Blocks: []Block{{Type: BlockBody, Text: text}},
	}
}

// Continuation builds a follow-up payload for a result chunk after the first.
// It carries no metadata line; the primary message owns the job metadata.
func Continuation(text string) *Payload {
	return &Payload{
		Blocks: []Block{{Type: BlockBody, Text: text}},
	}
}

// Error builds the terminal error payload.
func Error(errText string) *Payload {
	if errText == "" {
		errText = "unknown error"
	}
	return &Payload{
		Blocks: []Block{{Type: BlockBody, Text: "❌ " + Truncate(errText, DefaultMaxChunk)}},
	}
}

// Aborted builds the terminal cancellation payload.
func Aborted(durationSeconds int) *Payload {
	return &Payload{
		Meta: &MetaLine{
			ElapsedSeconds: durationSeconds,
			Terminal:       true,
			Version:        Version,
		},
		Blocks: []Block{{Type: BlockBody, Text: "🛑 Cancelled"}},
	}
}

// PlainText builds a minimal one-block payload. Used as the last-resort
// fallback when rendering a richer payload fails.
func PlainText(text string) *Payload {
	return &Payload{Blocks: []Block{{Type: BlockBody, Text: text}}}
}

// Truncate hard-cuts text to at most max runes, appending an ellipsis marker
// when anything was removed. Defined for all inputs including max <= 0.
func Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	if max == 1 {
		return Ellipsis
	}
	return string(runes[:max-1]) + Ellipsis
}

// Split partitions text into ordered chunks of at most max runes each,
// preferring to break at a newline, then at a space, then hard-cutting.
// Each chunk is trimmed of leading/trailing whitespace; concatenating the
// chunks reconstructs the original text minus only whitespace at the
// boundaries. Empty input yields a single empty chunk.
func Split(text string, max int) []string {
	if max <= 0 {
		max = DefaultMaxChunk
	}
	runes := []rune(text)
	if len(runes) <= max {
		return []string{strings.TrimSpace(text)}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= max {
			chunks = append(chunks, strings.TrimSpace(string(runes)))
			break
		}
		cut := breakPoint(runes, max)
		chunks = append(chunks, strings.TrimSpace(string(runes[:cut])))
		runes = runes[cut:]
	}
	return chunks
}

// breakPoint finds where to cut the next chunk: the last newline within the
// window, else the last space, else exactly max.
func breakPoint(runes []rune, max int) int {
	window := runes[:max]
	for i := max - 1; i > 0; i-- {
		if window[i] == '\n' {
			return i + 1
		}
	}
	for i := max - 1; i > 0; i-- {
		if window[i] == ' ' {
			return i + 1
		}
	}
	return max
}

// formatSeconds renders a duration in seconds as "42s" or "3m12s".
func formatSeconds(seconds int) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm%02ds", seconds/60, seconds%60)
}

// ordinal renders 1 -> "1st", 2 -> "2nd", etc.
func ordinal(n int) string {
	suffix := "th"
	if n%100 < 11 || n%100 > 13 {
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
