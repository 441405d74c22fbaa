// Package store defines how battles are persisted and ships an in-memory
// implementation. See store/sqlstore for the database-backed one.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/battle-backend/internal/engine"
)

var ErrNotFound = errors.New("battle not found")
var ErrExists = errors.New("battle already exists")

type BattleStore interface {
	Create(ctx context.Context, b engine.Battle) error
	Get(ctx context.Context, id string) (engine.Battle, error)
	// Save writes everything except the live flag, which only SetLive changes.
	Save(ctx context.Context, b engine.Battle) error
	// SetLive flips the live flag and returns the updated battle. Setting the
	// same value twice is harmless.
	SetLive(ctx context.Context, id string, live bool, at time.Time) (engine.Battle, error)
	ListLive(ctx context.Context) ([]engine.Battle, error)
}

// ApplyLive is the shared SetLive transition used by every implementation.
func ApplyLive(b engine.Battle, live bool, at time.Time) engine.Battle {
	if b.IsLive == live {
		return b
	}
	b.IsLive = live
	b.UpdatedAt = at
	if live {
		t := at
		b.LiveStartedAt = &t
	} else {
		b.LiveStartedAt = nil
	}
	return b
}
