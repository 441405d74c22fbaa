package hub

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-backend/internal/engine"
	"github.com/DoyleJ11/battle-backend/internal/protocol"
	"github.com/DoyleJ11/battle-backend/internal/room"
	"github.com/DoyleJ11/battle-backend/internal/supervisor"
)

var ErrClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

type Connect struct{ Client *room.Client }

type Disconnect struct{ Client *room.Client }

type Join struct {
	Client   *room.Client
	BattleID string
	ClientID string
	IsAdmin  bool
}

type Leave struct {
	Client   *room.Client
	BattleID string
}

// Pong records that a client answered a heartbeat ping.
type Pong struct{ Client *room.Client }

type Broadcast struct {
	BattleID string
	Event    protocol.Event
	Exclude  *room.Client // may be nil
}

// Send unicasts Event. BattleID addresses it when the client asked about a
// room other than the one it is in.
type Send struct {
	Client   *room.Client
	BattleID string
	Event    protocol.Event
}

// SyncState answers a sync request with the battle the caller loaded.
type SyncState struct {
	Client *room.Client
	Battle engine.Battle
}

type ViewerCount struct {
	BattleID string
	Reply    chan int
}

type RoomView struct {
	View room.View
	OK   bool
}

type Inspect struct {
	BattleID string
	Reply    chan RoomView
}

type Check struct{ Reply chan supervisor.Result }

type Sweep struct{ Reply chan error }

type ShutdownHub struct {
	Ctx   context.Context
	Reply chan error
}

func (Connect) isHubMsg()     {}
func (Disconnect) isHubMsg()  {}
func (Join) isHubMsg()        {}
func (Leave) isHubMsg()       {}
func (Pong) isHubMsg()        {}
func (Broadcast) isHubMsg()   {}
func (Send) isHubMsg()        {}
func (SyncState) isHubMsg()   {}
func (ViewerCount) isHubMsg() {}
func (Inspect) isHubMsg()     {}
func (Check) isHubMsg()       {}
func (Sweep) isHubMsg()       {}
func (ShutdownHub) isHubMsg() {}

// Config sets the tick intervals. A zero interval disables that ticker.
type Config struct {
	HeartbeatInterval time.Duration
	CheckInterval     time.Duration
	SweepInterval     time.Duration
}

// Hub owns the room registry and the supervisor. Every mutation happens on
// the loop goroutine, so neither needs locking.
type Hub struct {
	inbox  chan HubMsg
	reg    *room.Registry
	sup    *supervisor.Supervisor
	cfg    Config
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(parent context.Context, reg *room.Registry, sup *supervisor.Supervisor, cfg Config, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 256),
		reg:    reg,
		sup:    sup,
		cfg:    cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the loop has exited.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Post delivers a message to the loop, giving up if the hub has stopped.
func (h *Hub) Post(m HubMsg) error {
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return ErrClosed
	}
}

func (h *Hub) Broadcast(battleID string, ev protocol.Event) {
	if err := h.Post(Broadcast{BattleID: battleID, Event: ev}); err != nil {
		h.log.Debug("broadcast dropped", zap.String("battle_id", battleID), zap.Error(err))
	}
}

func (h *Hub) ViewerCount(ctx context.Context, battleID string) (int, error) {
	reply := make(chan int, 1)
	if err := h.Post(ViewerCount{BattleID: battleID, Reply: reply}); err != nil {
		return 0, err
	}
	return await(ctx, h.done, reply)
}

func (h *Hub) Inspect(ctx context.Context, battleID string) (RoomView, error) {
	reply := make(chan RoomView, 1)
	if err := h.Post(Inspect{BattleID: battleID, Reply: reply}); err != nil {
		return RoomView{}, err
	}
	return await(ctx, h.done, reply)
}

// Shutdown notifies every room, ends all live battles and stops the loop.
func (h *Hub) Shutdown(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := h.Post(ShutdownHub{Ctx: ctx, Reply: reply}); err != nil {
		return err
	}
	err, waitErr := await(ctx, h.done, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}

func await[T any](ctx context.Context, done <-chan struct{}, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-done:
		// The loop may have answered right before exiting.
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrClosed
		}
	}
}

func ticker(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(d)
	return t.C, t.Stop
}

func (h *Hub) loop() {
	defer close(h.done)

	heartbeat, stopHeartbeat := ticker(h.cfg.HeartbeatInterval)
	defer stopHeartbeat()
	check, stopCheck := ticker(h.cfg.CheckInterval)
	defer stopCheck()
	sweep, stopSweep := ticker(h.cfg.SweepInterval)
	defer stopSweep()

	for {
		select {
		case <-h.ctx.Done():
			h.reg.CloseAll(func() protocol.Event {
				return protocol.NewServerShutdown("server is shutting down")
			}, "server shutting down")
			return

		case <-heartbeat:
			if n := h.reg.Heartbeat(); n > 0 {
				h.log.Info("heartbeat removed connections", zap.Int("count", n))
			}

		case <-check:
			h.sup.Check(h.ctx)

		case <-sweep:
			h.sweep()

		case m := <-h.inbox:
			if stop := h.handle(m); stop {
				return
			}
		}
	}
}

func (h *Hub) sweep() error {
	n, err := h.sup.Sweep(h.ctx)
	if err != nil {
		h.log.Error("orphan sweep", zap.Error(err))
	}
	if n > 0 {
		h.log.Info("orphan sweep ended battles", zap.Int("count", n))
	}
	return err
}

func (h *Hub) handle(m HubMsg) bool {
	switch msg := m.(type) {
	case Connect:
		h.reg.Connect(msg.Client)

	case Disconnect:
		h.reg.Disconnect(msg.Client)

	case Join:
		h.reg.Join(msg.Client, msg.BattleID, msg.ClientID, msg.IsAdmin)

	case Leave:
		h.reg.Leave(msg.Client, msg.BattleID)

	case Pong:
		h.reg.MarkAlive(msg.Client)

	case Broadcast:
		h.reg.Broadcast(msg.BattleID, msg.Event, msg.Exclude)

	case Send:
		if msg.BattleID != "" {
			h.reg.SendTo(msg.Client, msg.BattleID, msg.Event)
		} else {
			h.reg.Send(msg.Client, msg.Event)
		}

	case SyncState:
		h.reg.SendTo(msg.Client, msg.Battle.ID, protocol.NewStateSync(msg.Battle, h.reg.ViewerCount(msg.Battle.ID)))

	case ViewerCount:
		msg.Reply <- h.reg.ViewerCount(msg.BattleID)

	case Inspect:
		v, ok := h.reg.Snapshot(msg.BattleID)
		msg.Reply <- RoomView{View: v, OK: ok}

	case Check:
		msg.Reply <- h.sup.Check(h.ctx)

	case Sweep:
		msg.Reply <- h.sweep()

	case ShutdownHub:
		h.log.Info("hub shutting down", zap.Int("connections", h.reg.Len()))
		h.reg.CloseAll(func() protocol.Event {
			return protocol.NewServerShutdown("server is shutting down")
		}, "server shutting down")
		ctx := msg.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		msg.Reply <- h.sup.EndAll(ctx)
		h.cancel()
		return true
	}
	return false
}
