// ABOUTME: Tests for the session-continuity store.
// ABOUTME: Validates get-or-create semantics and token upserts.

package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "!room:example.org")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrCreate_CreatesOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.GetOrCreate(ctx, "!room:example.org")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := s.GetOrCreate(ctx, "!room:example.org")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGetOrCreate_IndependentKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.GetOrCreate(ctx, "!a:example.org")
	require.NoError(t, err)
	b, err := s.GetOrCreate(ctx, "!b:example.org")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestUpdateToken_Overwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetOrCreate(ctx, "!room:example.org")
	require.NoError(t, err)

	require.NoError(t, s.UpdateToken(ctx, "!room:example.org", "agent-token-1"))
	got, err := s.Get(ctx, "!room:example.org")
	require.NoError(t, err)
	assert.Equal(t, "agent-token-1", got)
}

func TestUpdateToken_InsertsWhenMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpdateToken(ctx, "!room:example.org", "tok"))
	got, err := s.Get(ctx, "!room:example.org")
	require.NoError(t, err)
	assert.Equal(t, "tok", got)
}
