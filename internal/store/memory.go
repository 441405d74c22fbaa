package store

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/DoyleJ11/battle-backend/internal/engine"
)

// Memory keeps battles in process. Values are copied in and out so callers
// never share slices with the stored battle.
type Memory struct {
	mu      sync.RWMutex
	battles map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{battles: make(map[string][]byte)}
}

func (m *Memory) Create(ctx context.Context, b engine.Battle) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.battles[b.ID]; ok {
		return ErrExists
	}
	m.battles[b.ID] = data
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (engine.Battle, error) {
	m.mu.RLock()
	data, ok := m.battles[id]
	m.mu.RUnlock()
	if !ok {
		return engine.Battle{}, ErrNotFound
	}
	return decode(data)
}

func (m *Memory) Save(ctx context.Context, b engine.Battle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.battles[b.ID]
	if !ok {
		return ErrNotFound
	}
	stored, err := decode(existing)
	if err != nil {
		return err
	}
	b.IsLive, b.LiveStartedAt = stored.IsLive, stored.LiveStartedAt
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	m.battles[b.ID] = data
	return nil
}

func (m *Memory) SetLive(ctx context.Context, id string, live bool, at time.Time) (engine.Battle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.battles[id]
	if !ok {
		return engine.Battle{}, ErrNotFound
	}
	b, err := decode(data)
	if err != nil {
		return engine.Battle{}, err
	}
	b = ApplyLive(b, live, at)
	if data, err = json.Marshal(b); err != nil {
		return engine.Battle{}, err
	}
	m.battles[id] = data
	return b, nil
}

func (m *Memory) ListLive(ctx context.Context) ([]engine.Battle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.Battle
	for _, data := range m.battles {
		b, err := decode(data)
		if err != nil {
			return nil, err
		}
		if b.IsLive {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b engine.Battle) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func decode(data []byte) (engine.Battle, error) {
	var b engine.Battle
	err := json.Unmarshal(data, &b)
	return b, err
}
