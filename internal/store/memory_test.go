package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/battle-backend/internal/engine"
)

var t0 = time.Date(2026, 10, 1, 20, 0, 0, 0, time.UTC)

func newBattle(t *testing.T, id string) engine.Battle {
	t.Helper()
	b, err := engine.NewBattle(id, engine.Side{ID: "a", Name: "Ace"}, engine.Side{ID: "b", Name: "Blu"}, 2, t0)
	require.NoError(t, err)
	return b
}

func TestMemory_CRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b := newBattle(t, "b1")

	require.NoError(t, m.Create(ctx, b))
	assert.ErrorIs(t, m.Create(ctx, b), ErrExists)

	got, err := m.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = m.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Save(ctx, newBattle(t, "nope")), ErrNotFound)

	got.Status = engine.StatusPaused
	require.NoError(t, m.Save(ctx, got))
	again, err := m.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPaused, again.Status)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b := newBattle(t, "b1")
	require.NoError(t, m.Create(ctx, b))

	got, err := m.Get(ctx, "b1")
	require.NoError(t, err)
	got.Verses = append(got.Verses, engine.Verse{ID: "x"})

	fresh, err := m.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, fresh.Verses)
}

func TestMemory_SetLiveAndListLive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, id := range []string{"b2", "b1", "b3"} {
		require.NoError(t, m.Create(ctx, newBattle(t, id)))
	}

	for _, id := range []string{"b2", "b1"} {
		b, err := m.SetLive(ctx, id, true, t0)
		require.NoError(t, err)
		assert.True(t, b.IsLive)
		require.NotNil(t, b.LiveStartedAt)
	}

	live, err := m.ListLive(ctx)
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, "b1", live[0].ID)
	assert.Equal(t, "b2", live[1].ID)

	// Repeating a flip changes nothing, including the start time.
	again, err := m.SetLive(ctx, "b1", true, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, t0, *again.LiveStartedAt)

	off, err := m.SetLive(ctx, "b1", false, t0)
	require.NoError(t, err)
	assert.False(t, off.IsLive)
	assert.Nil(t, off.LiveStartedAt)
	_, err = m.SetLive(ctx, "b1", false, t0)
	require.NoError(t, err)

	_, err = m.SetLive(ctx, "missing", false, t0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_SaveKeepsLiveFlag(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b := newBattle(t, "b1")
	require.NoError(t, m.Create(ctx, b))
	_, err := m.SetLive(ctx, "b1", true, t0)
	require.NoError(t, err)

	b.Status = engine.StatusPaused
	require.NoError(t, m.Save(ctx, b))
	got, err := m.Get(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, got.IsLive)
	assert.Equal(t, engine.StatusPaused, got.Status)
}
