package room

import (
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-backend/internal/protocol"
)

// HomepageID is the reserved room that receives every live-status change.
const HomepageID = "homepage"

// Conn is the transport side of a client connection. Send must not block.
type Conn interface {
	Send(data []byte) error
	Ping()
	Terminate(reason string)
}

type Client struct {
	Conn     Conn
	ID       string
	BattleID string
	IsAdmin  bool
	alive    bool
}

func NewClient(conn Conn) *Client {
	return &Client{Conn: conn, alive: true}
}

type Metadata struct {
	CreatedAt            time.Time  `json:"createdAt"`
	LastActivityAt       time.Time  `json:"lastActivityAt"`
	AdminClientID        string     `json:"adminClientId,omitempty"`
	AdminDisconnectedAt  *time.Time `json:"adminDisconnectedAt"`
	WarningBroadcastedAt *time.Time `json:"warningBroadcastedAt"`
	WarningPolicy        string     `json:"warningPolicy,omitempty"`
	ClosedAt             *time.Time `json:"closedAt"`
}

// Warned reports whether an ending-soon warning is pending.
func (m Metadata) Warned() bool { return m.WarningBroadcastedAt != nil }

func (m Metadata) Closed() bool { return m.ClosedAt != nil }

type room struct {
	clients map[*Client]struct{}
	meta    Metadata
}

// Registry tracks rooms and their connections. It is not safe for concurrent
// use; the hub goroutine owns it.
type Registry struct {
	rooms map[string]*room
	conns map[*Client]struct{}
	now   func() time.Time
	log   *zap.Logger
}

func New(log *zap.Logger, now func() time.Time) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		rooms: make(map[string]*room),
		conns: make(map[*Client]struct{}),
		now:   now,
		log:   log,
	}
}

func (r *Registry) Now() time.Time { return r.now() }

// Connect registers a connection that has not joined a room yet.
func (r *Registry) Connect(c *Client) {
	c.alive = true
	r.conns[c] = struct{}{}
}

// Disconnect forgets a connection, leaving its room first.
func (r *Registry) Disconnect(c *Client) {
	if c.BattleID != "" {
		r.Leave(c, c.BattleID)
	}
	delete(r.conns, c)
}

func (r *Registry) Join(c *Client, battleID, clientID string, isAdmin bool) {
	if c.BattleID != "" && c.BattleID != battleID {
		r.Leave(c, c.BattleID)
	}
	r.conns[c] = struct{}{}

	now := r.now()
	rm := r.rooms[battleID]
	if rm == nil {
		rm = &room{
			clients: make(map[*Client]struct{}),
			meta:    Metadata{CreatedAt: now},
		}
		r.rooms[battleID] = rm
		r.log.Debug("room created", zap.String("battle_id", battleID))
	}
	rm.clients[c] = struct{}{}
	c.ID, c.BattleID, c.IsAdmin = clientID, battleID, isAdmin

	rm.meta.LastActivityAt = now
	if isAdmin {
		// An admin coming back cancels any pending warn/close sequence.
		rm.meta.AdminClientID = clientID
		rm.meta.AdminDisconnectedAt = nil
		rm.meta.WarningBroadcastedAt = nil
		rm.meta.WarningPolicy = ""
		rm.meta.ClosedAt = nil
	}

	r.log.Info("client joined",
		zap.String("battle_id", battleID),
		zap.String("client_id", clientID),
		zap.Bool("admin", isAdmin))

	viewers := r.ViewerCount(battleID)
	r.Send(c, protocol.NewAcknowledged(clientID, viewers))
	r.Broadcast(battleID, protocol.NewViewersCount(viewers), nil)
	if isAdmin {
		r.Broadcast(battleID, protocol.NewAdminConnected(clientID), nil)
	}
}

// Leave removes the connection from battleID. It reports false if the
// connection was not in that room.
func (r *Registry) Leave(c *Client, battleID string) bool {
	rm := r.rooms[battleID]
	if rm == nil || c.BattleID != battleID {
		return false
	}
	if _, ok := rm.clients[c]; !ok {
		return false
	}
	delete(rm.clients, c)
	wasAdmin := c.IsAdmin && c.ID != "" && c.ID == rm.meta.AdminClientID
	c.BattleID, c.IsAdmin = "", false

	r.log.Info("client left", zap.String("battle_id", battleID), zap.String("client_id", c.ID))

	if len(rm.clients) == 0 {
		delete(r.rooms, battleID)
		r.log.Debug("room deleted", zap.String("battle_id", battleID))
		return true
	}

	if wasAdmin && !r.adminPresent(rm, c.ID) {
		if other := r.remainingAdmin(rm); other != "" {
			rm.meta.AdminClientID = other
		} else {
			now := r.now()
			rm.meta.AdminDisconnectedAt = &now
			r.Broadcast(battleID, protocol.NewAdminDisconnected(c.ID), nil)
		}
	}
	r.Broadcast(battleID, protocol.NewViewersCount(r.ViewerCount(battleID)), nil)
	return true
}

func (r *Registry) adminPresent(rm *room, adminID string) bool {
	for other := range rm.clients {
		if other.IsAdmin && other.ID == adminID {
			return true
		}
	}
	return false
}

// remainingAdmin returns the lowest admin client id still in the room.
func (r *Registry) remainingAdmin(rm *room) string {
	var id string
	for other := range rm.clients {
		if other.IsAdmin && other.ID != "" && (id == "" || other.ID < id) {
			id = other.ID
		}
	}
	return id
}

// Broadcast sends ev to every connection in the room except exclude and
// returns how many received it. Connections that fail are dropped.
func (r *Registry) Broadcast(battleID string, ev protocol.Event, exclude *Client) int {
	now := r.now()
	protocol.Stamp(ev, battleID, now)
	data, err := protocol.Encode(ev)
	if err != nil {
		r.log.Error("encode event", zap.String("battle_id", battleID), zap.Error(err))
		return 0
	}

	typ := ev.Header().Type
	rm := r.rooms[battleID]
	if rm != nil && typ.IsActivity() {
		rm.meta.LastActivityAt = now
	}
	if rm != nil && typ == protocol.TypeLiveStarted {
		rm.meta.ClosedAt = nil
	}

	sent := r.fanout(rm, data, exclude)
	if typ.IsLiveStatus() && battleID != HomepageID {
		sent += r.fanout(r.rooms[HomepageID], data, nil)
	}
	return sent
}

func (r *Registry) fanout(rm *room, data []byte, exclude *Client) int {
	if rm == nil {
		return 0
	}
	var dead []*Client
	sent := 0
	for c := range rm.clients {
		if c == exclude {
			continue
		}
		if err := c.Conn.Send(data); err != nil {
			dead = append(dead, c)
			continue
		}
		sent++
	}
	for _, c := range dead {
		r.log.Warn("dropping connection after failed send",
			zap.String("battle_id", c.BattleID), zap.String("client_id", c.ID))
		c.Conn.Terminate("send failed")
		r.Disconnect(c)
	}
	return sent
}

// Send delivers ev to a single connection, addressed to the room it is in.
func (r *Registry) Send(c *Client, ev protocol.Event) bool {
	return r.SendTo(c, c.BattleID, ev)
}

// SendTo delivers ev to a single connection, addressed to battleID. The
// connection does not have to be in that room.
func (r *Registry) SendTo(c *Client, battleID string, ev protocol.Event) bool {
	protocol.Stamp(ev, battleID, r.now())
	data, err := protocol.Encode(ev)
	if err != nil {
		r.log.Error("encode event", zap.Error(err))
		return false
	}
	if err := c.Conn.Send(data); err != nil {
		r.log.Warn("dropping connection after failed send", zap.String("client_id", c.ID), zap.Error(err))
		c.Conn.Terminate("send failed")
		r.Disconnect(c)
		return false
	}
	return true
}

// ViewerCount counts the non-admin connections in a room.
func (r *Registry) ViewerCount(battleID string) int {
	rm := r.rooms[battleID]
	if rm == nil {
		return 0
	}
	n := 0
	for c := range rm.clients {
		if !c.IsAdmin {
			n++
		}
	}
	return n
}

// Heartbeat terminates every connection that missed the previous ping and
// pings the rest. It returns the number of connections removed.
func (r *Registry) Heartbeat() int {
	removed := 0
	for c := range r.conns {
		if !c.alive {
			r.log.Info("heartbeat missed, terminating",
				zap.String("battle_id", c.BattleID), zap.String("client_id", c.ID))
			c.Conn.Terminate("heartbeat timeout")
			r.Disconnect(c)
			removed++
			continue
		}
		c.alive = false
		c.Conn.Ping()
	}
	return removed
}

// MarkAlive records a heartbeat answer.
func (r *Registry) MarkAlive(c *Client) {
	if _, ok := r.conns[c]; ok {
		c.alive = true
	}
}

func (r *Registry) Metadata(battleID string) (Metadata, bool) {
	rm := r.rooms[battleID]
	if rm == nil {
		return Metadata{}, false
	}
	return rm.meta, true
}

// RoomIDs lists rooms in a stable order.
func (r *Registry) RoomIDs() []string {
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Registry) HasRoom(battleID string) bool {
	_, ok := r.rooms[battleID]
	return ok
}

func (r *Registry) MarkWarned(battleID, policy string, at time.Time) {
	if rm := r.rooms[battleID]; rm != nil {
		rm.meta.WarningBroadcastedAt = &at
		rm.meta.WarningPolicy = policy
	}
}

func (r *Registry) ClearWarning(battleID string) {
	if rm := r.rooms[battleID]; rm != nil {
		rm.meta.WarningBroadcastedAt = nil
		rm.meta.WarningPolicy = ""
	}
}

// MarkClosed resets admin and warning state after the session was ended.
// The room and its connections stay.
func (r *Registry) MarkClosed(battleID string, at time.Time) {
	if rm := r.rooms[battleID]; rm != nil {
		rm.meta.AdminClientID = ""
		rm.meta.AdminDisconnectedAt = nil
		rm.meta.WarningBroadcastedAt = nil
		rm.meta.WarningPolicy = ""
		rm.meta.ClosedAt = &at
	}
}

type View struct {
	BattleID    string   `json:"battleId"`
	Connections int      `json:"connections"`
	Viewers     int      `json:"viewers"`
	Admins      []string `json:"admins"`
	Meta        Metadata `json:"meta"`
}

func (r *Registry) Snapshot(battleID string) (View, bool) {
	rm := r.rooms[battleID]
	if rm == nil {
		return View{}, false
	}
	v := View{
		BattleID:    battleID,
		Connections: len(rm.clients),
		Viewers:     r.ViewerCount(battleID),
		Admins:      []string{},
		Meta:        rm.meta,
	}
	for c := range rm.clients {
		if c.IsAdmin {
			v.Admins = append(v.Admins, c.ID)
		}
	}
	slices.Sort(v.Admins)
	return v, true
}

// Len is the number of tracked connections.
func (r *Registry) Len() int { return len(r.conns) }

// CloseAll sends ev to every room and terminates every connection.
func (r *Registry) CloseAll(ev func() protocol.Event, reason string) {
	for _, id := range r.RoomIDs() {
		r.Broadcast(id, ev(), nil)
	}
	for c := range r.conns {
		c.Conn.Terminate(reason)
		c.BattleID = ""
	}
	clear(r.conns)
	clear(r.rooms)
}
