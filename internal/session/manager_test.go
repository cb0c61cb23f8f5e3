package session

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	m, err := NewManager(mr.Addr(), "", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestGetOrCreateThreadRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.GetOrCreateThread(ctx, "u1", "c1", "tavily", "openai")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "tavily", created.SearchBackend)
	assert.False(t, created.HasActiveRun())

	// Same (user, conversation) pair returns the same thread; settings are
	// not overwritten on reuse.
	again, err := m.GetOrCreateThread(ctx, "u1", "c1", "perplexity", "anthropic")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
	assert.Equal(t, "tavily", again.SearchBackend)

	// A different conversation gets its own thread.
	other, err := m.GetOrCreateThread(ctx, "u1", "c2", "tavily", "openai")
	require.NoError(t, err)
	assert.NotEqual(t, created.ID, other.ID)
}

func TestGetThreadReturnsCallerOwnedCopy(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.GetOrCreateThread(ctx, "u1", "c1", "tavily", "openai")
	require.NoError(t, err)

	// Mutating a returned thread must not leak into later reads; only
	// AttachRun and DetachRun persist changes.
	held, err := m.GetThread(ctx, "u1", "c1")
	require.NoError(t, err)
	held.WorkflowID = "wf-stray"

	fresh, err := m.GetThread(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Empty(t, fresh.WorkflowID)
	assert.False(t, fresh.HasActiveRun())

	// A thread attached through one handle does not flip state under a
	// concurrently held one.
	require.NoError(t, m.AttachRun(ctx, created, "wf-123", "run-456"))
	assert.False(t, fresh.HasActiveRun())

	attached, err := m.GetThread(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "wf-123", attached.WorkflowID)
}

func TestGetThreadNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.GetThread(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestAttachDetachRun(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	m, err := NewManager(mr.Addr(), "", logger)
	require.NoError(t, err)
	defer m.Close()

	thread, err := m.GetOrCreateThread(ctx, "u1", "c1", "tavily", "openai")
	require.NoError(t, err)

	require.NoError(t, m.AttachRun(ctx, thread, "wf-123", "run-456"))
	assert.True(t, thread.HasActiveRun())

	// A second manager against the same Redis sees the binding, proving it
	// reached the store and not just the local cache.
	m2, err := NewManager(mr.Addr(), "", logger)
	require.NoError(t, err)
	defer m2.Close()

	loaded, err := m2.GetThread(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "wf-123", loaded.WorkflowID)
	assert.Equal(t, "run-456", loaded.RunID)

	require.NoError(t, m.DetachRun(ctx, thread))
	assert.False(t, thread.HasActiveRun())
}
