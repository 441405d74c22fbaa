package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/battle-backend/internal/engine"
	"github.com/DoyleJ11/battle-backend/internal/store"
)

var t0 = time.Date(2026, 10, 1, 20, 0, 0, 0, time.UTC)

const verse = `I step to the mic in the dead of the night
they stumble and fall when they step in the light
they chant out my name like I'm built for the fame
but the rest are stuck playing yesterday's game
my bars burn hot like a furnace of fire
the rookies keep reaching with nothing but desire
I'm taking the crown and I'm never going down
so bow to the king as I run this whole town`

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newBattle(t *testing.T, id string) engine.Battle {
	t.Helper()
	b, err := engine.NewBattle(id, engine.Side{ID: "a", Name: "Ace"}, engine.Side{ID: "b", Name: "Blu"}, 2, t0)
	require.NoError(t, err)
	return b
}

func TestStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	b := newBattle(t, "b1")

	require.NoError(t, s.Create(ctx, b))
	assert.ErrorIs(t, s.Create(ctx, b), store.ErrExists)

	got, err := s.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, b.Sides, got.Sides)
	assert.Equal(t, engine.SideID("a"), got.CurrentTurn)
	assert.Equal(t, engine.StatusOngoing, got.Status)
	assert.Empty(t, got.Verses)
	assert.NotNil(t, got.Verses)
	assert.True(t, b.CreatedAt.Equal(got.CreatedAt))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_SaveRoundTripsVerses(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	b := newBattle(t, "b1")
	require.NoError(t, s.Create(ctx, b))

	b, err := engine.SubmitVerse(b, "a", verse, t0)
	require.NoError(t, err)
	b, err = engine.SubmitVerse(b, "b", verse, t0)
	require.NoError(t, err)
	b, _, err = engine.RecordVote(b, 1, "a", 3, t0)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, b))

	got, err := s.Get(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, got.Verses, 2)
	assert.Equal(t, b.Verses[0].Bars, got.Verses[0].Bars)
	assert.Equal(t, b.Verses[1].Score, got.Verses[1].Score)
	require.Len(t, got.RoundScores, 1)
	assert.Equal(t, b.RoundScores[0], got.RoundScores[0])
	assert.Equal(t, engine.SideID(""), got.CurrentTurn)
	assert.Equal(t, engine.SideID("a"), got.RoundScores[0].Winner)

	assert.ErrorIs(t, s.Save(ctx, newBattle(t, "ghost")), store.ErrNotFound)
}

func TestStore_SetLiveListLive(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for _, id := range []string{"b2", "b1", "b3"} {
		require.NoError(t, s.Create(ctx, newBattle(t, id)))
	}

	for _, id := range []string{"b2", "b1"} {
		b, err := s.SetLive(ctx, id, true, t0)
		require.NoError(t, err)
		assert.True(t, b.IsLive)
	}
	live, err := s.ListLive(ctx)
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, "b1", live[0].ID)
	require.NotNil(t, live[0].LiveStartedAt)
	assert.True(t, t0.Equal(*live[0].LiveStartedAt))

	off, err := s.SetLive(ctx, "b1", false, t0)
	require.NoError(t, err)
	assert.False(t, off.IsLive)
	_, err = s.SetLive(ctx, "b1", false, t0)
	require.NoError(t, err)

	got, err := s.Get(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, got.IsLive)
	assert.Nil(t, got.LiveStartedAt)

	_, err = s.SetLive(ctx, "missing", true, t0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_SaveKeepsLiveFlag(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	b := newBattle(t, "b1")
	require.NoError(t, s.Create(ctx, b))
	_, err := s.SetLive(ctx, "b1", true, t0)
	require.NoError(t, err)

	b.Status = engine.StatusPaused
	require.NoError(t, s.Save(ctx, b))
	got, err := s.Get(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, got.IsLive)
	assert.Equal(t, engine.StatusPaused, got.Status)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("oracle", "")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.True(t, isUniqueViolation(errors.New("UNIQUE constraint failed: battles.id")))
	assert.False(t, isUniqueViolation(errors.New("disk full")))
}
