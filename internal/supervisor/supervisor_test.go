package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/battle-backend/internal/engine"
	"github.com/DoyleJ11/battle-backend/internal/protocol"
	"github.com/DoyleJ11/battle-backend/internal/room"
	"github.com/DoyleJ11/battle-backend/internal/store"
	"github.com/DoyleJ11/battle-backend/internal/testutil"
)

var start = time.Date(2026, 10, 1, 20, 0, 0, 0, time.UTC)

var testConfig = Config{
	InactivityTimeout: 30 * time.Minute,
	AdminGracePeriod:  5 * time.Minute,
	MaxRoomLifetime:   4 * time.Hour,
	StoreTimeout:      time.Second,
}

type fixture struct {
	clock *testutil.Clock
	reg   *room.Registry
	store *store.Memory
	sup   *Supervisor
}

func newFixture(t *testing.T, cfg Config, liveIDs ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := testutil.NewClock(start)
	log := zaptest.NewLogger(t)
	reg := room.New(log, clock.Now)
	st := store.NewMemory()
	for _, id := range liveIDs {
		b, err := engine.NewBattle(id, engine.Side{ID: "a"}, engine.Side{ID: "b"}, 1, start)
		require.NoError(t, err)
		require.NoError(t, st.Create(ctx, b))
		_, err = st.SetLive(ctx, id, true, start)
		require.NoError(t, err)
	}
	return &fixture{clock: clock, reg: reg, store: st, sup: New(reg, st, cfg, log)}
}

func (f *fixture) join(battleID, clientID string, admin bool) (*room.Client, *testutil.FakeConn) {
	fc := testutil.NewFakeConn()
	c := room.NewClient(fc)
	f.reg.Connect(c)
	f.reg.Join(c, battleID, clientID, admin)
	return c, fc
}

func (f *fixture) isLive(t *testing.T, id string) bool {
	t.Helper()
	b, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return b.IsLive
}

func TestCheck_AdminGraceWarnThenClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig, "b1")
	admin, _ := f.join("b1", "host", true)
	_, viewer := f.join("b1", "v1", false)
	_, home := f.join(room.HomepageID, "h", false)

	f.reg.Leave(admin, "b1")
	f.clock.Advance(4 * time.Minute)
	assert.Empty(t, f.sup.Check(ctx).Warned, "still inside the grace period")

	f.clock.Advance(time.Minute)
	res := f.sup.Check(ctx)
	assert.Equal(t, []string{"b1"}, res.Warned)
	warning := viewer.Last("battle:ending_soon")
	require.NotNil(t, warning)
	assert.Equal(t, "admin_grace", warning["reason"])
	assert.Equal(t, float64(60), warning["secondsRemaining"])

	f.clock.Advance(30 * time.Second)
	res = f.sup.Check(ctx)
	assert.Empty(t, res.Warned)
	assert.Empty(t, res.Closed)
	assert.Equal(t, 1, viewer.Count("battle:ending_soon"))

	f.clock.Advance(30 * time.Second)
	res = f.sup.Check(ctx)
	assert.Equal(t, []string{"b1"}, res.Closed)
	assert.False(t, f.isLive(t, "b1"))
	assert.Equal(t, 1, viewer.Count("battle:live_ended"))
	assert.Equal(t, 1, home.Count("battle:live_ended"))

	meta, ok := f.reg.Metadata("b1")
	require.True(t, ok, "room is kept for lingering viewers")
	assert.Nil(t, meta.AdminDisconnectedAt)
	assert.Nil(t, meta.WarningBroadcastedAt)

	f.clock.Advance(time.Hour)
	res = f.sup.Check(ctx)
	assert.Empty(t, res.Warned)
	assert.Empty(t, res.Closed)
	assert.Equal(t, 1, viewer.Count("battle:live_ended"), "no duplicate close")
}

func TestCheck_AdminRejoinCancelsClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig, "b1")
	admin, _ := f.join("b1", "host", true)
	_, viewer := f.join("b1", "v1", false)

	f.reg.Leave(admin, "b1")
	f.clock.Advance(5 * time.Minute)
	require.Equal(t, []string{"b1"}, f.sup.Check(ctx).Warned)

	f.clock.Advance(30 * time.Second)
	f.join("b1", "host", true)

	f.clock.Advance(time.Minute)
	res := f.sup.Check(ctx)
	assert.Empty(t, res.Closed)
	assert.Empty(t, res.Warned)
	assert.True(t, f.isLive(t, "b1"))
	assert.Equal(t, 0, viewer.Count("battle:live_ended"))
}

func TestCheck_InactivityNotResetByWarning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig, "b1")
	f.join("b1", "v1", false)

	f.clock.Advance(30 * time.Minute)
	require.Equal(t, []string{"b1"}, f.sup.Check(ctx).Warned)
	meta, _ := f.reg.Metadata("b1")
	assert.Equal(t, string(PolicyInactivity), meta.WarningPolicy)

	f.clock.Advance(WarningWindow)
	assert.Equal(t, []string{"b1"}, f.sup.Check(ctx).Closed)
	assert.False(t, f.isLive(t, "b1"))
}

func TestCheck_ActivityDuringWarningClearsIt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig, "b1")
	f.join("b1", "v1", false)

	f.clock.Advance(30 * time.Minute)
	require.Equal(t, []string{"b1"}, f.sup.Check(ctx).Warned)

	f.reg.Broadcast("b1", protocol.NewCommentAdded(protocol.Comment{ID: "c"}), nil)
	f.clock.Advance(WarningWindow)
	res := f.sup.Check(ctx)
	assert.Empty(t, res.Closed)
	assert.Equal(t, []string{"b1"}, res.Cleared)
	assert.True(t, f.isLive(t, "b1"))

	meta, _ := f.reg.Metadata("b1")
	assert.False(t, meta.Warned())
}

func TestCheck_PolicyPriority(t *testing.T) {
	f := newFixture(t, testConfig)
	disconnected := start.Add(-10 * time.Minute)
	meta := room.Metadata{
		CreatedAt:           start.Add(-5 * time.Hour),
		LastActivityAt:      start.Add(-time.Hour),
		AdminDisconnectedAt: &disconnected,
	}

	p, ok := f.sup.Breached(meta, start)
	require.True(t, ok)
	assert.Equal(t, PolicyMaxLifetime, p)

	meta.CreatedAt = start.Add(-time.Hour)
	p, _ = f.sup.Breached(meta, start)
	assert.Equal(t, PolicyAdminGrace, p)

	meta.AdminDisconnectedAt = nil
	p, _ = f.sup.Breached(meta, start)
	assert.Equal(t, PolicyInactivity, p)

	meta.LastActivityAt = start
	_, ok = f.sup.Breached(meta, start)
	assert.False(t, ok)
}

func TestCheck_ZeroLifetimeDisables(t *testing.T) {
	cfg := testConfig
	cfg.MaxRoomLifetime = 0
	f := newFixture(t, cfg)
	meta := room.Metadata{CreatedAt: start.Add(-100 * time.Hour), LastActivityAt: start}
	_, ok := f.sup.Breached(meta, start)
	assert.False(t, ok)
}

func TestCheck_SkipsHomepage(t *testing.T) {
	f := newFixture(t, testConfig)
	_, home := f.join(room.HomepageID, "h", false)
	f.clock.Advance(10 * time.Hour)
	res := f.sup.Check(context.Background())
	assert.Empty(t, res.Warned)
	assert.Equal(t, 0, home.Count("battle:ending_soon"))
}

type failingStore struct{ *store.Memory }

func (failingStore) SetLive(context.Context, string, bool, time.Time) (engine.Battle, error) {
	return engine.Battle{}, errors.New("db down")
}

func TestCheck_StoreFailureStillClosesRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig, "b1")
	sup := New(f.reg, failingStore{f.store}, testConfig, zaptest.NewLogger(t))
	_, viewer := f.join("b1", "v1", false)

	f.clock.Advance(30 * time.Minute)
	sup.Check(ctx)
	f.clock.Advance(WarningWindow)
	res := sup.Check(ctx)

	assert.Equal(t, []string{"b1"}, res.Closed)
	assert.Equal(t, 1, viewer.Count("battle:live_ended"))
	meta, _ := f.reg.Metadata("b1")
	assert.True(t, meta.Closed())
	assert.True(t, f.isLive(t, "b1"), "left for the orphan sweep")

	// The viewer lingers; the sweep still reconciles storage once the
	// store recovers.
	f.clock.Advance(time.Hour)
	swept, err := f.sup.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.False(t, f.isLive(t, "b1"))
	assert.True(t, f.reg.HasRoom("b1"))

	swept, err = f.sup.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestSweep_EndsOrphanedLiveBattles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig, "orphan", "watched", "fresh")
	f.join("watched", "v1", false)
	_, home := f.join(room.HomepageID, "h", false)

	f.clock.Advance(10 * time.Minute)
	_, err := f.store.SetLive(ctx, "fresh", false, f.clock.Now())
	require.NoError(t, err)
	_, err = f.store.SetLive(ctx, "fresh", true, f.clock.Now())
	require.NoError(t, err)

	n, err := f.sup.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, f.isLive(t, "orphan"))
	assert.True(t, f.isLive(t, "watched"))
	assert.True(t, f.isLive(t, "fresh"), "younger than the grace period")

	ended := home.Last("battle:live_ended")
	require.NotNil(t, ended)
	assert.Equal(t, "orphan", ended["battleId"])
	assert.False(t, f.reg.HasRoom("orphan"))

	n, err = f.sup.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEndAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig, "b1", "b2")
	require.NoError(t, f.sup.EndAll(ctx))
	live, err := f.store.ListLive(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)

	sup := New(f.reg, failingStore{f.store}, testConfig, zaptest.NewLogger(t))
	_, err = f.store.SetLive(ctx, "b1", true, start)
	require.NoError(t, err)
	_, err = f.store.SetLive(ctx, "b2", true, start)
	require.NoError(t, err)
	assert.Error(t, sup.EndAll(ctx))
}
