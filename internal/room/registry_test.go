package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/battle-backend/internal/engine"
	"github.com/DoyleJ11/battle-backend/internal/protocol"
	"github.com/DoyleJ11/battle-backend/internal/testutil"
)

var start = time.Date(2026, 10, 1, 20, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T) (*Registry, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(start)
	return New(zaptest.NewLogger(t), clock.Now), clock
}

func testBattle() engine.Battle {
	b, _ := engine.NewBattle("b1", engine.Side{ID: "a"}, engine.Side{ID: "b"}, 1, start)
	return b
}

func connect(r *Registry) (*Client, *testutil.FakeConn) {
	fc := testutil.NewFakeConn()
	c := NewClient(fc)
	r.Connect(c)
	return c, fc
}

func TestRegistry_ViewerCountAfterJoinsAndLeave(t *testing.T) {
	r, _ := newRegistry(t)
	admin, _ := connect(r)
	v1, fc1 := connect(r)
	v2, _ := connect(r)

	r.Join(admin, "b1", "host", true)
	r.Join(v1, "b1", "v1", false)
	r.Join(v2, "b1", "v2", false)
	assert.Equal(t, 2, r.ViewerCount("b1"))

	require.True(t, r.Leave(v2, "b1"))
	assert.Equal(t, 1, r.ViewerCount("b1"))
	assert.True(t, r.HasRoom("b1"))
	assert.Equal(t, float64(1), fc1.Last("viewers:count")["count"])

	r.Leave(v1, "b1")
	assert.True(t, r.HasRoom("b1"))
	r.Leave(admin, "b1")
	assert.False(t, r.HasRoom("b1"), "room deleted when the last connection leaves")
	_, ok := r.Metadata("b1")
	assert.False(t, ok)
}

func TestRegistry_JoinAcknowledges(t *testing.T) {
	r, _ := newRegistry(t)
	c, fc := connect(r)
	r.Join(c, "b1", "v1", false)

	ack := fc.Last("connection:acknowledged")
	require.NotNil(t, ack)
	assert.Equal(t, "v1", ack["clientId"])
	assert.Equal(t, "b1", ack["battleId"])
	assert.Equal(t, float64(1), ack["viewerCount"])
	assert.Equal(t, []string{"connection:acknowledged", "viewers:count"}, fc.Types())
}

func TestRegistry_SwitchingRoomsLeavesPrevious(t *testing.T) {
	r, _ := newRegistry(t)
	stay, stayConn := connect(r)
	mover, _ := connect(r)
	r.Join(stay, "b1", "stay", false)
	r.Join(mover, "b1", "mover", false)
	stayConn.Reset()

	r.Join(mover, "b2", "mover", false)
	assert.Equal(t, 1, r.ViewerCount("b1"))
	assert.Equal(t, 1, r.ViewerCount("b2"))
	assert.Equal(t, "b2", mover.BattleID)
	assert.Equal(t, float64(1), stayConn.Last("viewers:count")["count"])
}

func TestRegistry_AdminDisconnectAndRejoin(t *testing.T) {
	r, clock := newRegistry(t)
	admin, _ := connect(r)
	viewer, vc := connect(r)
	r.Join(admin, "b1", "host", true)
	r.Join(viewer, "b1", "v1", false)

	clock.Advance(time.Minute)
	r.Leave(admin, "b1")
	meta, ok := r.Metadata("b1")
	require.True(t, ok)
	require.NotNil(t, meta.AdminDisconnectedAt)
	assert.Equal(t, start.Add(time.Minute), *meta.AdminDisconnectedAt)
	assert.Equal(t, "host", vc.Last("admin:disconnected")["adminId"])

	r.MarkWarned("b1", "admin_grace", clock.Now())
	r.Join(admin, "b1", "host", true)
	meta, _ = r.Metadata("b1")
	assert.Nil(t, meta.AdminDisconnectedAt)
	assert.Nil(t, meta.WarningBroadcastedAt)
	assert.Empty(t, meta.WarningPolicy)
	assert.Equal(t, "host", meta.AdminClientID)
	assert.Equal(t, 1, vc.Count("admin:connected"))
}

func TestRegistry_SecondAdminTabKeepsAdminPresent(t *testing.T) {
	r, _ := newRegistry(t)
	tab1, _ := connect(r)
	tab2, _ := connect(r)
	r.Join(tab1, "b1", "host", true)
	r.Join(tab2, "b1", "host", true)

	r.Leave(tab1, "b1")
	meta, _ := r.Metadata("b1")
	assert.Nil(t, meta.AdminDisconnectedAt)
}

func TestRegistry_OtherAdminTakesOverOnLeave(t *testing.T) {
	r, _ := newRegistry(t)
	host, _ := connect(r)
	cohost, _ := connect(r)
	viewer, fc := connect(r)
	r.Join(cohost, "b1", "cohost", true)
	r.Join(host, "b1", "host", true)
	r.Join(viewer, "b1", "v1", false)

	r.Leave(host, "b1")
	meta, _ := r.Metadata("b1")
	assert.Nil(t, meta.AdminDisconnectedAt)
	assert.Equal(t, "cohost", meta.AdminClientID)
	assert.Zero(t, fc.Count("admin:disconnected"))

	r.Leave(cohost, "b1")
	meta, _ = r.Metadata("b1")
	assert.NotNil(t, meta.AdminDisconnectedAt)
	assert.Equal(t, "cohost", fc.Last("admin:disconnected")["adminId"])
}

func TestRegistry_SendToAddressesRequestedBattle(t *testing.T) {
	r, _ := newRegistry(t)
	c, fc := connect(r)
	r.Join(c, "b1", "v1", false)

	require.True(t, r.SendTo(c, "b2", protocol.NewStateSync(testBattle(), 0)))
	assert.Equal(t, "b2", fc.Last("state:sync")["battleId"])

	loose, lfc := connect(r)
	require.True(t, r.SendTo(loose, "b1", protocol.NewError("battle not found")))
	assert.Equal(t, "b1", lfc.Last("error")["battleId"])
}

func TestRegistry_BroadcastActivity(t *testing.T) {
	r, clock := newRegistry(t)
	c, fc := connect(r)
	r.Join(c, "b1", "v1", false)

	clock.Advance(10 * time.Minute)
	r.Broadcast("b1", protocol.NewEndingSoon("inactivity", time.Minute), nil)
	meta, _ := r.Metadata("b1")
	assert.Equal(t, start, meta.LastActivityAt, "warning must not count as activity")

	r.Broadcast("b1", protocol.NewViewersCount(1), nil)
	meta, _ = r.Metadata("b1")
	assert.Equal(t, start, meta.LastActivityAt)

	r.Broadcast("b1", protocol.NewCommentAdded(protocol.Comment{ID: "c1", Text: "fire"}), nil)
	meta, _ = r.Metadata("b1")
	assert.Equal(t, clock.Now(), meta.LastActivityAt)
	assert.Equal(t, 1, fc.Count("comment:added"))
}

func TestRegistry_BroadcastExcludeAndDeadConnections(t *testing.T) {
	r, _ := newRegistry(t)
	a, ac := connect(r)
	b, bc := connect(r)
	dead, dc := connect(r)
	r.Join(a, "b1", "a", false)
	r.Join(b, "b1", "b", false)
	r.Join(dead, "b1", "dead", false)
	dc.FailSends = true

	sent := r.Broadcast("b1", protocol.NewCommentAdded(protocol.Comment{ID: "c1"}), a)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 0, ac.Count("comment:added"))
	assert.Equal(t, 1, bc.Count("comment:added"))

	_, closed := dc.Terminated()
	assert.True(t, closed)
	assert.Equal(t, 2, r.ViewerCount("b1"))
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_LiveStatusMirroredToHomepage(t *testing.T) {
	r, _ := newRegistry(t)
	home, hc := connect(r)
	viewer, vc := connect(r)
	r.Join(home, HomepageID, "h", false)
	r.Join(viewer, "b1", "v", false)
	r.MarkClosed("b1", start)

	r.Broadcast("b1", protocol.NewLiveStarted(nil), nil)
	assert.Equal(t, 1, vc.Count("battle:live_started"))
	mirrored := hc.Last("battle:live_started")
	require.NotNil(t, mirrored)
	assert.Equal(t, "b1", mirrored["battleId"])

	meta, _ := r.Metadata("b1")
	assert.False(t, meta.Closed(), "live_started reopens the room for supervision")

	r.Broadcast("b1", protocol.NewVoteCast(1, "a", testBattle()), nil)
	assert.Equal(t, 0, hc.Count("vote:cast"))

	// With no room for the battle, the homepage still hears about it.
	r.Broadcast("gone", protocol.NewLiveEnded(nil), nil)
	assert.Equal(t, "gone", hc.Last("battle:live_ended")["battleId"])
}

func TestRegistry_Heartbeat(t *testing.T) {
	r, _ := newRegistry(t)
	alive, ac := connect(r)
	silent, sc := connect(r)
	r.Join(alive, "b1", "alive", false)
	r.Join(silent, "b1", "silent", false)

	assert.Equal(t, 0, r.Heartbeat())
	assert.Equal(t, 1, ac.Pings())
	assert.Equal(t, 1, sc.Pings())

	r.MarkAlive(alive)
	assert.Equal(t, 1, r.Heartbeat())
	reason, closed := sc.Terminated()
	assert.True(t, closed)
	assert.Equal(t, "heartbeat timeout", reason)
	assert.Equal(t, 1, r.ViewerCount("b1"))
	assert.Equal(t, 2, ac.Pings())
}

func TestRegistry_MarkClosedKeepsRoom(t *testing.T) {
	r, clock := newRegistry(t)
	admin, _ := connect(r)
	viewer, _ := connect(r)
	r.Join(admin, "b1", "host", true)
	r.Join(viewer, "b1", "v", false)
	r.MarkWarned("b1", "inactivity", clock.Now())

	r.MarkClosed("b1", clock.Now())
	meta, ok := r.Metadata("b1")
	require.True(t, ok)
	assert.True(t, meta.Closed())
	assert.False(t, meta.Warned())
	assert.Empty(t, meta.AdminClientID)
	assert.Equal(t, 1, r.ViewerCount("b1"))

	view, ok := r.Snapshot("b1")
	require.True(t, ok)
	assert.Equal(t, 2, view.Connections)
	assert.Equal(t, []string{"host"}, view.Admins)
}

func TestRegistry_CloseAll(t *testing.T) {
	r, _ := newRegistry(t)
	a, ac := connect(r)
	b, bc := connect(r)
	r.Join(a, "b1", "a", false)
	r.Join(b, "b2", "b", true)

	r.CloseAll(func() protocol.Event { return protocol.NewServerShutdown("bye") }, "shutdown")
	assert.Equal(t, 1, ac.Count("server:shutdown"))
	assert.Equal(t, 1, bc.Count("server:shutdown"))
	_, closed := ac.Terminated()
	assert.True(t, closed)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.RoomIDs())
}
