package battle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-backend/internal/engine"
	"github.com/DoyleJ11/battle-backend/internal/protocol"
	"github.com/DoyleJ11/battle-backend/internal/store"
)

var ErrEmptyComment = errors.New("comment is empty")
var ErrCommentTooLong = errors.New("comment too long")

const MaxCommentLength = 500

// Broadcaster fans events out to a battle's room.
type Broadcaster interface {
	Broadcast(battleID string, ev protocol.Event)
}

type Config struct {
	DefaultRounds   int
	VotingDuration  time.Duration
	ReadingDuration time.Duration
}

// Service applies battle transitions, persists the result and tells the room.
// Operations on the same battle are serialized.
type Service struct {
	store store.BattleStore
	bc    Broadcaster
	cfg   Config
	now   func() time.Time
	log   *zap.Logger

	mu    sync.Mutex
	locks map[string]*battleLock
}

// battleLock is dropped from the map once nobody holds or waits for it.
type battleLock struct {
	mu   sync.Mutex
	refs int
}

func NewService(st store.BattleStore, bc Broadcaster, cfg Config, log *zap.Logger, now func() time.Time) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		store: st,
		bc:    bc,
		cfg:   cfg,
		now:   now,
		log:   log,
		locks: make(map[string]*battleLock),
	}
}

func (s *Service) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &battleLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

type CreateRequest struct {
	ID     string      `json:"id,omitempty"`
	SideA  engine.Side `json:"sideA"`
	SideB  engine.Side `json:"sideB"`
	Rounds int         `json:"rounds,omitempty"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (engine.Battle, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	rounds := req.Rounds
	if rounds == 0 {
		rounds = s.cfg.DefaultRounds
	}
	b, err := engine.NewBattle(id, req.SideA, req.SideB, rounds, s.now().UTC())
	if err != nil {
		return engine.Battle{}, err
	}
	if err := s.store.Create(ctx, b); err != nil {
		return engine.Battle{}, err
	}
	s.log.Info("battle created", zap.String("battle_id", id), zap.Int("rounds", b.Rounds))
	return b, nil
}

func (s *Service) Get(ctx context.Context, id string) (engine.Battle, error) {
	return s.store.Get(ctx, id)
}

// update loads a battle, applies fn and saves the result under the battle lock.
func (s *Service) update(ctx context.Context, id string, fn func(engine.Battle, time.Time) (engine.Battle, error)) (engine.Battle, error) {
	unlock := s.lock(id)
	defer unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return engine.Battle{}, err
	}
	next, err := fn(b, s.now().UTC())
	if err != nil {
		return b, err
	}
	if err := s.store.Save(ctx, next); err != nil {
		return b, fmt.Errorf("save battle %s: %w", id, err)
	}
	return next, nil
}

func (s *Service) SubmitVerse(ctx context.Context, id string, side engine.SideID, text string) (engine.Battle, error) {
	b, err := s.update(ctx, id, func(b engine.Battle, at time.Time) (engine.Battle, error) {
		return engine.SubmitVerse(b, side, text, at)
	})
	if err != nil {
		return b, err
	}
	s.bc.Broadcast(id, protocol.NewVerseComplete(side, text, b.CurrentRound))
	if _, complete := b.RoundScore(b.CurrentRound); complete {
		s.bc.Broadcast(id, protocol.NewPhaseVoting(b.CurrentRound, s.cfg.VotingDuration))
	}
	return b, nil
}

// Vote adds one vote for side in round. Round 0 means the current round.
func (s *Service) Vote(ctx context.Context, id string, round int, side engine.SideID) (engine.Battle, error) {
	b, err := s.update(ctx, id, func(b engine.Battle, at time.Time) (engine.Battle, error) {
		if round == 0 {
			round = b.CurrentRound
		}
		rs, ok := b.RoundScore(round)
		if !ok {
			return b, fmt.Errorf("%w: round %d", engine.ErrRoundIncomplete, round)
		}
		votes := -1
		for _, sc := range rs.Scores {
			if sc.SideID == side {
				votes = sc.UserVotes
			}
		}
		if votes < 0 {
			return b, fmt.Errorf("%w: %q", engine.ErrUnknownSide, side)
		}
		next, _, err := engine.RecordVote(b, round, side, votes+1, at)
		return next, err
	})
	if err != nil {
		return b, err
	}
	s.bc.Broadcast(id, protocol.NewVoteCast(round, side, b))
	return b, nil
}

func (s *Service) Advance(ctx context.Context, id string) (engine.Battle, error) {
	b, err := s.update(ctx, id, engine.AdvanceRound)
	if err != nil {
		return b, err
	}
	if b.Status == engine.StatusCompleted {
		s.log.Info("battle completed", zap.String("battle_id", id), zap.String("winner", string(b.Winner)))
		s.bc.Broadcast(id, protocol.NewBattleCompleted(b))
		return b, nil
	}
	s.bc.Broadcast(id, protocol.NewRoundAdvanced(b))
	s.bc.Broadcast(id, protocol.NewPhaseReading(b.CurrentRound, s.cfg.ReadingDuration))
	return b, nil
}

func (s *Service) Pause(ctx context.Context, id string) (engine.Battle, error) {
	return s.update(ctx, id, engine.Pause)
}

func (s *Service) Resume(ctx context.Context, id string) (engine.Battle, error) {
	return s.update(ctx, id, engine.Resume)
}

func (s *Service) StartLive(ctx context.Context, id string) (engine.Battle, error) {
	return s.setLive(ctx, id, true)
}

func (s *Service) EndLive(ctx context.Context, id string) (engine.Battle, error) {
	return s.setLive(ctx, id, false)
}

func (s *Service) setLive(ctx context.Context, id string, live bool) (engine.Battle, error) {
	unlock := s.lock(id)
	defer unlock()

	if live {
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return engine.Battle{}, err
		}
		if current.Status != engine.StatusOngoing && current.Status != engine.StatusPaused {
			return current, fmt.Errorf("%w: status is %s", engine.ErrNotOngoing, current.Status)
		}
	}
	b, err := s.store.SetLive(ctx, id, live, s.now().UTC())
	if err != nil {
		return engine.Battle{}, err
	}
	s.log.Info("live status changed", zap.String("battle_id", id), zap.Bool("live", live))
	if live {
		s.bc.Broadcast(id, protocol.NewLiveStarted(&b))
	} else {
		s.bc.Broadcast(id, protocol.NewLiveEnded(&b))
	}
	return b, nil
}

// Comment relays a spectator comment to the room. Comments are not stored.
func (s *Service) Comment(ctx context.Context, id, author, text string) (protocol.Comment, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return protocol.Comment{}, ErrEmptyComment
	case len(text) > MaxCommentLength:
		return protocol.Comment{}, fmt.Errorf("%w: max %d bytes", ErrCommentTooLong, MaxCommentLength)
	}
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return protocol.Comment{}, err
	}
	if author == "" {
		author = "anonymous"
	}
	c := protocol.Comment{
		ID:        uuid.NewString(),
		Author:    author,
		Text:      text,
		Round:     b.CurrentRound,
		CreatedAt: s.now().UTC(),
	}
	s.bc.Broadcast(id, protocol.NewCommentAdded(c))
	return c, nil
}
