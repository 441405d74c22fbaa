package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-backend/internal/engine"
	"github.com/DoyleJ11/battle-backend/internal/hub"
	"github.com/DoyleJ11/battle-backend/internal/protocol"
	"github.com/DoyleJ11/battle-backend/internal/room"
	"github.com/DoyleJ11/battle-backend/internal/store"
)

// BattleGetter loads the battle sent back on a sync request.
type BattleGetter interface {
	Get(ctx context.Context, id string) (engine.Battle, error)
}

type Options struct {
	OriginPatterns       []string
	WriteTimeout         time.Duration
	PingTimeout          time.Duration
	SendBuffer           int
	ReadLimit            int64
	MaxMessagesPerSecond int
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 4096
	}
	if o.MaxMessagesPerSecond == 0 {
		o.MaxMessagesPerSecond = 10
	}
	return o
}

func Handler(h *hub.Hub, battles BattleGetter, opts Options, log *zap.Logger) http.HandlerFunc {
	opts = opts.withDefaults()
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Warn("websocket accept", zap.Error(err))
			return
		}
		defer c.CloseNow()
		c.SetReadLimit(opts.ReadLimit)

		wc := newConn(c, opts.SendBuffer)
		client := room.NewClient(wc)
		log := log.With(zap.String("conn_id", uuid.NewString()))

		if err := h.Post(hub.Connect{Client: client}); err != nil {
			_ = c.Close(websocket.StatusTryAgainLater, "server shutting down")
			return
		}
		defer func() {
			_ = h.Post(hub.Disconnect{Client: client})
			wc.Terminate("bye")
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go wc.writePump(ctx, h, client, opts, log)

		readPump(ctx, c, h, client, battles, opts, log)
	}
}

// readPump turns inbound frames into hub messages until the peer goes away.
// Liveness is enforced by the heartbeat, so reads carry no deadline.
func readPump(ctx context.Context, c *websocket.Conn, h *hub.Hub, client *room.Client, battles BattleGetter, opts Options, log *zap.Logger) {
	limiter := &rateLimiter{max: opts.MaxMessagesPerSecond, window: time.Second}
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					log.Debug("read ended", zap.Error(err))
				}
			}
			return
		}

		if !limiter.allow(time.Now()) {
			_ = h.Post(hub.Send{Client: client, Event: protocol.NewError("rate limit exceeded, slow down")})
			continue
		}

		in, err := protocol.ParseInbound(data)
		if err != nil {
			_ = h.Post(hub.Send{Client: client, Event: protocol.NewError(err.Error())})
			continue
		}

		var msg hub.HubMsg
		switch in.Type {
		case protocol.InJoin:
			msg = hub.Join{Client: client, BattleID: in.BattleID, ClientID: in.ClientID, IsAdmin: in.IsAdmin}
		case protocol.InLeave:
			msg = hub.Leave{Client: client, BattleID: in.BattleID}
		case protocol.InSyncRequest:
			msg = syncMessage(ctx, client, battles, in.BattleID, log)
		}
		if err := h.Post(msg); err != nil {
			return
		}
	}
}

func syncMessage(ctx context.Context, client *room.Client, battles BattleGetter, battleID string, log *zap.Logger) hub.HubMsg {
	b, err := battles.Get(ctx, battleID)
	switch {
	case err == nil:
		return hub.SyncState{Client: client, Battle: b}
	case errors.Is(err, store.ErrNotFound):
		return hub.Send{Client: client, BattleID: battleID, Event: protocol.NewError("battle not found")}
	default:
		log.Error("load battle for sync", zap.String("battle_id", battleID), zap.Error(err))
		return hub.Send{Client: client, BattleID: battleID, Event: protocol.NewError("could not load battle")}
	}
}
