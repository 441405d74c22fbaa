package supervisor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-backend/internal/engine"
	"github.com/DoyleJ11/battle-backend/internal/protocol"
	"github.com/DoyleJ11/battle-backend/internal/room"
	"github.com/DoyleJ11/battle-backend/internal/store"
)

// WarningWindow is how long a room is warned before it is closed.
const WarningWindow = 60 * time.Second

type Policy string

const (
	PolicyMaxLifetime Policy = "max_lifetime"
	PolicyAdminGrace  Policy = "admin_grace"
	PolicyInactivity  Policy = "inactivity"
)

// LiveStore is the part of the battle store the supervisor writes to.
type LiveStore interface {
	SetLive(ctx context.Context, id string, live bool, at time.Time) (engine.Battle, error)
	ListLive(ctx context.Context) ([]engine.Battle, error)
}

type Config struct {
	InactivityTimeout time.Duration
	AdminGracePeriod  time.Duration
	MaxRoomLifetime   time.Duration // 0 disables
	StoreTimeout      time.Duration
}

type Supervisor struct {
	reg   *room.Registry
	store LiveStore
	cfg   Config
	log   *zap.Logger
}

func New(reg *room.Registry, st LiveStore, cfg Config, log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &Supervisor{reg: reg, store: st, cfg: cfg, log: log}
}

// Result lists the rooms a Check touched.
type Result struct {
	Warned  []string
	Closed  []string
	Cleared []string
}

// Breached returns the first policy the room violates, in priority order.
func (s *Supervisor) Breached(meta room.Metadata, now time.Time) (Policy, bool) {
	switch {
	case s.cfg.MaxRoomLifetime > 0 && now.Sub(meta.CreatedAt) >= s.cfg.MaxRoomLifetime:
		return PolicyMaxLifetime, true
	case meta.AdminDisconnectedAt != nil && now.Sub(*meta.AdminDisconnectedAt) >= s.cfg.AdminGracePeriod:
		return PolicyAdminGrace, true
	case s.cfg.InactivityTimeout > 0 && now.Sub(meta.LastActivityAt) >= s.cfg.InactivityTimeout:
		return PolicyInactivity, true
	}
	return "", false
}

// Check runs one supervision pass over every room. Running it again without
// any state change does nothing.
func (s *Supervisor) Check(ctx context.Context) Result {
	var res Result
	now := s.reg.Now()
	for _, id := range s.reg.RoomIDs() {
		if id == room.HomepageID {
			continue
		}
		meta, ok := s.reg.Metadata(id)
		if !ok || meta.Closed() {
			continue
		}
		policy, breached := s.Breached(meta, now)

		if !meta.Warned() {
			if !breached {
				continue
			}
			s.log.Info("room ending soon", zap.String("battle_id", id), zap.String("policy", string(policy)))
			s.reg.Broadcast(id, protocol.NewEndingSoon(string(policy), WarningWindow), nil)
			s.reg.MarkWarned(id, string(policy), now)
			res.Warned = append(res.Warned, id)
			continue
		}

		if now.Sub(*meta.WarningBroadcastedAt) < WarningWindow {
			continue
		}
		if !breached {
			s.log.Info("room recovered before close", zap.String("battle_id", id))
			s.reg.ClearWarning(id)
			res.Cleared = append(res.Cleared, id)
			continue
		}
		s.close(ctx, id, policy, now)
		res.Closed = append(res.Closed, id)
	}
	return res
}

func (s *Supervisor) close(ctx context.Context, id string, policy Policy, now time.Time) {
	var ended *engine.Battle
	b, err := s.setNotLive(ctx, id, now)
	switch {
	case err == nil:
		ended = &b
	case errors.Is(err, store.ErrNotFound):
		s.log.Debug("closing room without stored battle", zap.String("battle_id", id))
	default:
		// The in-memory close still happens; the orphan sweep retries the write.
		s.log.Error("set battle not live", zap.String("battle_id", id), zap.Error(err))
	}
	s.log.Info("room closed", zap.String("battle_id", id), zap.String("policy", string(policy)))
	s.reg.Broadcast(id, protocol.NewLiveEnded(ended), nil)
	s.reg.MarkClosed(id, now)
}

func (s *Supervisor) setNotLive(ctx context.Context, id string, now time.Time) (engine.Battle, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.store.SetLive(ctx, id, false, now)
}

// Sweep ends battles that storage still marks live although no room exists
// for them, or their room was already closed, once they are older than the
// admin grace period. Only the homepage feed and closed rooms are told.
func (s *Supervisor) Sweep(ctx context.Context) (int, error) {
	now := s.reg.Now()
	listCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	live, err := s.store.ListLive(listCtx)
	cancel()
	if err != nil {
		return 0, err
	}

	var errs error
	swept := 0
	for _, b := range live {
		if meta, ok := s.reg.Metadata(b.ID); ok && !meta.Closed() {
			continue
		}
		if b.LiveStartedAt != nil && now.Sub(*b.LiveStartedAt) < s.cfg.AdminGracePeriod {
			continue
		}
		ended, err := s.setNotLive(ctx, b.ID, now)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		s.log.Info("orphaned live battle ended", zap.String("battle_id", b.ID))
		s.reg.Broadcast(b.ID, protocol.NewLiveEnded(&ended), nil)
		swept++
	}
	return swept, errs
}

// EndAll marks every live battle not live. Used on shutdown.
func (s *Supervisor) EndAll(ctx context.Context) error {
	now := s.reg.Now()
	listCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	live, err := s.store.ListLive(listCtx)
	cancel()
	if err != nil {
		return err
	}
	var errs error
	for _, b := range live {
		if _, err := s.setNotLive(ctx, b.ID, now); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
