// ABOUTME: Tests for payload-to-Matrix-content conversion.
// ABOUTME: Validates body fallback and formatted_body rendering.

package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"maunium.net/go/mautrix/event"

	"github.com/2389/coven-concierge/internal/format"
)

func TestRenderContent_BodyIsPlainFallback(t *testing.T) {
	p := format.Working("Thinking…", nil, 5, 0)
	content := renderContent(p)

	assert.Equal(t, event.MsgText, content.MsgType)
	assert.Equal(t, p.Text(), content.Body)
}

func TestRenderContent_FormattedBodyFromMarkdown(t *testing.T) {
	p := format.PlainText("some **bold** text")
	content := renderContent(p)

	assert.Equal(t, event.FormatHTML, content.Format)
	assert.Contains(t, content.FormattedBody, "<strong>bold</strong>")
}

func TestRenderContent_MetaLineEmphasized(t *testing.T) {
	p := format.Result("done", 12, 2)
	content := renderContent(p)

	assert.Contains(t, content.Body, "took 12s")
	assert.Contains(t, content.FormattedBody, "<em>")
}
