// ABOUTME: Tests for the Anthropic invoker's session history bookkeeping.
// ABOUTME: Streaming itself is exercised against fakes at the orchestrator level.

package agent

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTurn_AppendsUserAndAssistant(t *testing.T) {
	inv := NewAnthropicInvoker(AnthropicConfig{APIKey: "test"}, nil)

	inv.recordTurn("s1", "hello", "hi there")
	history := inv.historyFor("s1")
	require.Len(t, history, 2)
}

func TestRecordTurn_EmptyResponseSkipsAssistant(t *testing.T) {
	inv := NewAnthropicInvoker(AnthropicConfig{APIKey: "test"}, nil)

	inv.recordTurn("s1", "hello", "")
	assert.Len(t, inv.historyFor("s1"), 1)
}

func TestRecordTurn_TrimsOldestPastCap(t *testing.T) {
	inv := NewAnthropicInvoker(AnthropicConfig{APIKey: "test"}, nil)

	for i := 0; i < maxHistoryMessages; i++ {
		inv.recordTurn("s1", fmt.Sprintf("prompt %d", i), fmt.Sprintf("reply %d", i))
	}
	assert.Len(t, inv.historyFor("s1"), maxHistoryMessages)
}

func TestHistoryFor_SessionsAreIndependent(t *testing.T) {
	inv := NewAnthropicInvoker(AnthropicConfig{APIKey: "test"}, nil)

	inv.recordTurn("s1", "hello", "hi")
	assert.Len(t, inv.historyFor("s1"), 2)
	assert.Empty(t, inv.historyFor("s2"))
}

func TestHistoryFor_ReturnsCopy(t *testing.T) {
	inv := NewAnthropicInvoker(AnthropicConfig{APIKey: "test"}, nil)

	inv.recordTurn("s1", "hello", "hi")
	h := inv.historyFor("s1")
	h[0] = h[1]
	assert.NotEqual(t, inv.historyFor("s1")[0], inv.historyFor("s1")[1])
}

func TestDefaults(t *testing.T) {
	inv := NewAnthropicInvoker(AnthropicConfig{APIKey: "test"}, nil)
	assert.Equal(t, DefaultModel, string(inv.model))
	assert.Equal(t, int64(DefaultMaxTokens), inv.maxTokens)
}
