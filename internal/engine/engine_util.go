package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

const (
	DefaultRounds = 3
	MaxRounds     = 10
)

var ErrInvalidBattle = errors.New("invalid battle")

func NewBattle(id string, a, b Side, rounds int, at time.Time) (Battle, error) {
	if rounds == 0 {
		rounds = DefaultRounds
	}
	switch {
	case id == "":
		return Battle{}, fmt.Errorf("%w: missing id", ErrInvalidBattle)
	case a.ID == "" || b.ID == "":
		return Battle{}, fmt.Errorf("%w: sides need ids", ErrInvalidBattle)
	case a.ID == b.ID:
		return Battle{}, fmt.Errorf("%w: sides must differ", ErrInvalidBattle)
	case rounds < 1 || rounds > MaxRounds:
		return Battle{}, fmt.Errorf("%w: rounds must be 1-%d", ErrInvalidBattle, MaxRounds)
	}
	return Battle{
		ID:           id,
		Status:       StatusOngoing,
		Sides:        [2]Side{a, b},
		Rounds:       rounds,
		CurrentRound: 1,
		CurrentTurn:  a.ID,
		Verses:       []Verse{},
		RoundScores:  []RoundScore{},
		CreatedAt:    at,
		UpdatedAt:    at,
	}, nil
}

func (s SideID) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *SideID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = SideID(v)
	return nil
}

// RoundScore returns the score of a round, if both verses are in.
func (b Battle) RoundScore(round int) (RoundScore, bool) {
	if rs := b.roundScore(round); rs != nil {
		return *rs, true
	}
	return RoundScore{}, false
}

func (b Battle) Side(id SideID) (Side, bool) {
	if i := b.sideIndex(id); i >= 0 {
		return b.Sides[i], true
	}
	return Side{}, false
}

func (b Battle) clone() Battle {
	c := b
	c.Verses = make([]Verse, len(b.Verses))
	for i, v := range b.Verses {
		v.Bars = slices.Clone(v.Bars)
		v.Rationale = slices.Clone(v.Rationale)
		c.Verses[i] = v
	}
	c.RoundScores = slices.Clone(b.RoundScores)
	if c.RoundScores == nil {
		c.RoundScores = []RoundScore{}
	}
	if b.LiveStartedAt != nil {
		t := *b.LiveStartedAt
		c.LiveStartedAt = &t
	}
	return c
}

func (b Battle) sideIndex(id SideID) int {
	if id == "" {
		return -1
	}
	for i, s := range b.Sides {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (b Battle) opponentOf(id SideID) Side {
	if b.Sides[0].ID == id {
		return b.Sides[1]
	}
	return b.Sides[0]
}

func (b Battle) verseFor(round int, side SideID) *Verse {
	for i := range b.Verses {
		if b.Verses[i].Round == round && b.Verses[i].SideID == side {
			return &b.Verses[i]
		}
	}
	return nil
}

func (b Battle) hasVerse(round int, side SideID) bool {
	return b.verseFor(round, side) != nil
}

func (b Battle) roundComplete(round int) bool {
	return b.hasVerse(round, b.Sides[0].ID) && b.hasVerse(round, b.Sides[1].ID)
}

func (b Battle) roundScore(round int) *RoundScore {
	for i := range b.RoundScores {
		if b.RoundScores[i].Round == round {
			return &b.RoundScores[i]
		}
	}
	return nil
}
