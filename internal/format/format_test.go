// ABOUTME: Tests for payload builders, truncation, and chunk splitting.
// ABOUTME: Covers the reconstruction property of Split and metadata patch confinement.

package format

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate_ShortText(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 10))
}

func TestTruncate_ExactLength(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 5))
}

func TestTruncate_CutsWithEllipsis(t *testing.T) {
	out := Truncate("hello world", 8)
	assert.Equal(t, 8, len([]rune(out)))
	assert.True(t, strings.HasSuffix(out, Ellipsis))
}

func TestTruncate_DegenerateMax(t *testing.T) {
	assert.Equal(t, "", Truncate("hello", 0))
	assert.Equal(t, Ellipsis, Truncate("hello", 1))
}

func TestSplit_Empty(t *testing.T) {
	chunks := Split("", 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, "", chunks[0])
}

func TestSplit_ExactlyMax(t *testing.T) {
	text := strings.Repeat("a", 50)
	chunks := Split(text, 50)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestSplit_PrefersNewline(t *testing.T) {
	text := "first line\nsecond line that goes on"
	chunks := Split(text, 15)
	require.True(t, len(chunks) >= 2)
	assert.Equal(t, "first line", chunks[0])
}

func TestSplit_FallsBackToSpace(t *testing.T) {
	text := "alpha beta gamma delta epsilon"
	chunks := Split(text, 12)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 12)
	}
	assert.Equal(t, "alpha beta", chunks[0])
}

func TestSplit_HardCut(t *testing.T) {
	text := strings.Repeat("x", 25)
	chunks := Split(text, 10)
	require.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("x", 10), chunks[0])
	assert.Equal(t, strings.Repeat("x", 10), chunks[1])
	assert.Equal(t, strings.Repeat("x", 5), chunks[2])
}

// Concatenating all chunks reconstructs the original text minus only
// whitespace at chunk boundaries.
func TestSplit_Reconstruction(t *testing.T) {
	texts := []string{
		"",
		strings.Repeat("a", 64),
		"para one\n\npara two with more words\nand a third line " + strings.Repeat("word ", 200),
		strings.Repeat("nospacesatall", 100),
	}
	for _, text := range texts {
		for _, max := range []int{16, 64, 500} {
			chunks := Split(text, max)
			joined := strings.Join(chunks, "")
			want := strings.Join(strings.Fields(text), "")
			got := strings.Join(strings.Fields(joined), "")
			assert.Equal(t, want, got, "max=%d", max)
			for _, c := range chunks {
				assert.LessOrEqual(t, len([]rune(c)), max)
			}
		}
	}
}

func TestWithElapsed_PatchesOnlyTime(t *testing.T) {
	p := Working("Thinking…", &ToolInfo{Name: "search", Summary: "query"}, 10, 3)
	patched := p.WithElapsed(42)

	// Only the elapsed field changed.
	assert.Equal(t, 42, patched.Meta.ElapsedSeconds)
	assert.Equal(t, p.Meta.ToolCalls, patched.Meta.ToolCalls)
	assert.Equal(t, p.Meta.Terminal, patched.Meta.Terminal)
	assert.Equal(t, p.Meta.Version, patched.Meta.Version)
	assert.Equal(t, p.Blocks, patched.Blocks)

	// The original is untouched.
	assert.Equal(t, 10, p.Meta.ElapsedSeconds)
}

func TestWithElapsed_NoMeta(t *testing.T) {
	p := PlainText("hello")
	patched := p.WithElapsed(99)
	assert.Nil(t, patched.Meta)
	assert.Equal(t, p.Blocks, patched.Blocks)
}

func TestClone_IndependentBlocks(t *testing.T) {
	p := Working("status", nil, 1, 0)
	c := p.Clone()
	c.Blocks[0].Text = "changed"
	assert.Equal(t, "status", p.Blocks[0].Text)
}

func TestQueued_Position(t *testing.T) {
	p := Queued("do the thing", 2)
	assert.Contains(t, p.Text(), "2nd in line")
	assert.Contains(t, p.Text(), "do the thing")
}

func TestWorking_IncludesCancelHintAndMeta(t *testing.T) {
	p := Working("", nil, 75, 1)
	text := p.Text()
	assert.Contains(t, text, "Thinking…")
	assert.Contains(t, text, CancelHint)
	assert.Contains(t, text, "1m15s elapsed")
	assert.Contains(t, text, "1 tool call")
	assert.NotContains(t, text, "tool calls")
}

func TestResult_TerminalPhrasing(t *testing.T) {
	p := Result("the answer", 42, 5)
	text := p.Text()
	assert.Contains(t, text, "took 42s")
	assert.Contains(t, text, "5 tool calls")
	assert.Contains(t, text, "the answer")
}

func TestResult_EmptyText(t *testing.T) {
	p := Result("", 1, 0)
	assert.Contains(t, p.Text(), "(no response)")
}

func TestContinuation_NoMeta(t *testing.T) {
	p := Continuation("more text")
	assert.Nil(t, p.Meta)
	assert.Equal(t, "more text", p.Text())
}

func TestError_Payload(t *testing.T) {
	assert.Contains(t, Error("boom").Text(), "boom")
	assert.Contains(t, Error("").Text(), "unknown error")
}

func TestAborted_Payload(t *testing.T) {
	p := Aborted(7)
	assert.Contains(t, p.Text(), "Cancelled")
	assert.Contains(t, p.Text(), "took 7s")
}

func TestMarkdown_EmphasizesMetaAndHints(t *testing.T) {
	p := Working("status", &ToolInfo{Name: "bash"}, 3, 0)
	md := p.Markdown()
	assert.Contains(t, md, "status")
	assert.Contains(t, md, "*🔧 bash*")
	assert.Contains(t, md, "*"+CancelHint+"*")
}

func TestOrdinal(t *testing.T) {
	assert.Equal(t, "1st", ordinal(1))
	assert.Equal(t, "2nd", ordinal(2))
	assert.Equal(t, "3rd", ordinal(3))
	assert.Equal(t, "4th", ordinal(4))
	assert.Equal(t, "11th", ordinal(11))
	assert.Equal(t, "12th", ordinal(12))
	assert.Equal(t, "21st", ordinal(21))
}
