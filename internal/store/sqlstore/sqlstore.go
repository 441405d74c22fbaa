// Package sqlstore persists battles with gorm on postgres or sqlite.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/battle-backend/internal/engine"
	"github.com/DoyleJ11/battle-backend/internal/store"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var ErrUnknownDriver = errors.New("unknown database driver")

type battleRecord struct {
	ID            string              `gorm:"column:id;primaryKey;size:64"`
	Status        string              `gorm:"column:status;size:16;not null;index"`
	SideA         engine.Side         `gorm:"column:side_a;type:text;serializer:json"`
	SideB         engine.Side         `gorm:"column:side_b;type:text;serializer:json"`
	Rounds        int                 `gorm:"column:rounds;not null"`
	CurrentRound  int                 `gorm:"column:current_round;not null"`
	CurrentTurn   string              `gorm:"column:current_turn;size:64"`
	Verses        []engine.Verse      `gorm:"column:verses;type:text;serializer:json"`
	RoundScores   []engine.RoundScore `gorm:"column:round_scores;type:text;serializer:json"`
	Winner        string              `gorm:"column:winner;size:64"`
	IsLive        bool                `gorm:"column:is_live;not null;default:false;index"`
	LiveStartedAt *time.Time          `gorm:"column:live_started_at"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (battleRecord) TableName() string {
	return "battles"
}

func toRecord(b engine.Battle) battleRecord {
	return battleRecord{
		ID:            b.ID,
		Status:        string(b.Status),
		SideA:         b.Sides[0],
		SideB:         b.Sides[1],
		Rounds:        b.Rounds,
		CurrentRound:  b.CurrentRound,
		CurrentTurn:   string(b.CurrentTurn),
		Verses:        b.Verses,
		RoundScores:   b.RoundScores,
		Winner:        string(b.Winner),
		IsLive:        b.IsLive,
		LiveStartedAt: b.LiveStartedAt,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func (r battleRecord) battle() engine.Battle {
	b := engine.Battle{
		ID:            r.ID,
		Status:        engine.Status(r.Status),
		Sides:         [2]engine.Side{r.SideA, r.SideB},
		Rounds:        r.Rounds,
		CurrentRound:  r.CurrentRound,
		CurrentTurn:   engine.SideID(r.CurrentTurn),
		Verses:        r.Verses,
		RoundScores:   r.RoundScores,
		Winner:        engine.SideID(r.Winner),
		IsLive:        r.IsLive,
		LiveStartedAt: r.LiveStartedAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if b.Verses == nil {
		b.Verses = []engine.Verse{}
	}
	if b.RoundScores == nil {
		b.RoundScores = []engine.RoundScore{}
	}
	return b
}

// Store implements store.BattleStore.
type Store struct {
	db *gorm.DB
}

var _ store.BattleStore = (*Store)(nil)

// Open connects to postgres (a pgx DSN or URL) or sqlite (a file path or
// ":memory:").
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite && strings.Contains(dsn, ":memory:") {
		// Every new connection would get its own empty in-memory database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return &Store{db: db}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&battleRecord{})
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Create(ctx context.Context, b engine.Battle) error {
	rec := toRecord(b)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return store.ErrExists
		}
		return err
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (engine.Battle, error) {
	var rec battleRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Battle{}, store.ErrNotFound
	}
	if err != nil {
		return engine.Battle{}, err
	}
	return rec.battle(), nil
}

func (s *Store) Save(ctx context.Context, b engine.Battle) error {
	rec := toRecord(b)
	res := s.db.WithContext(ctx).Model(&battleRecord{}).Where("id = ?", b.ID).Select("*").Omit("is_live", "live_started_at").Updates(&rec)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetLive(ctx context.Context, id string, live bool, at time.Time) (engine.Battle, error) {
	var out engine.Battle
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec battleRecord
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		current := rec.battle()
		out = store.ApplyLive(current, live, at)
		if out.IsLive == current.IsLive {
			return nil
		}
		return tx.Model(&battleRecord{}).Where("id = ?", id).Updates(map[string]any{
			"is_live":         out.IsLive,
			"live_started_at": out.LiveStartedAt,
			"updated_at":      out.UpdatedAt,
		}).Error
	})
	if err != nil {
		return engine.Battle{}, err
	}
	return out, nil
}

func (s *Store) ListLive(ctx context.Context) ([]engine.Battle, error) {
	var recs []battleRecord
	if err := s.db.WithContext(ctx).Where("is_live = ?", true).Order("id").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]engine.Battle, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.battle())
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
