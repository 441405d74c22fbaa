package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/battle-backend/internal/scoring"
)

var ErrInvalidVerse = errors.New("invalid verse")
var ErrWrongTurn = errors.New("invalid turn")
var ErrRoundComplete = errors.New("round already complete")
var ErrRoundIncomplete = errors.New("round not complete")
var ErrUnknownSide = errors.New("unknown side")
var ErrNotOngoing = errors.New("battle is not ongoing")
var ErrInvalidVotes = errors.New("invalid vote count")

// VoteWeight is the number of points a single user vote adds to a side's total.
const VoteWeight = 0.5

type Status string

const (
	StatusOngoing    Status = "ongoing"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusIncomplete Status = "incomplete"
)

// SideID identifies one of the two competing slots. The empty SideID
// means "no side" and encodes as JSON null.
type SideID string

type Side struct {
	ID   SideID `json:"id"`
	Name string `json:"name"`
}

type Battle struct {
	ID            string       `json:"id"`
	Status        Status       `json:"status"`
	Sides         [2]Side      `json:"sides"`
	Rounds        int          `json:"rounds"`
	CurrentRound  int          `json:"currentRound"`
	CurrentTurn   SideID       `json:"currentTurn"`
	Verses        []Verse      `json:"verses"`
	RoundScores   []RoundScore `json:"roundScores"`
	Winner        SideID       `json:"winner"`
	IsLive        bool         `json:"isLive"`
	LiveStartedAt *time.Time   `json:"liveStartedAt"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

type Verse struct {
	ID        string            `json:"id"`
	SideID    SideID            `json:"sideId"`
	Round     int               `json:"round"`
	Bars      []string          `json:"bars"`
	Text      string            `json:"text"`
	Score     scoring.Breakdown `json:"score"`
	Rationale []string          `json:"rationale,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

type SideScore struct {
	SideID         SideID            `json:"sideId"`
	Automated      scoring.Breakdown `json:"automated"`
	AutomatedTotal int               `json:"automatedTotal"`
	UserVotes      int               `json:"userVotes"`
	TotalScore     float64           `json:"totalScore"`
}

type RoundScore struct {
	Round  int          `json:"round"`
	Scores [2]SideScore `json:"scores"`
	Winner SideID       `json:"winner"`
}

// SubmitVerse records the verse of whichever side is due this round. The
// performer is inferred from the verses already present; sideID must match it.
func SubmitVerse(b Battle, sideID SideID, text string, at time.Time) (Battle, error) {
	if b.Status != StatusOngoing {
		return b, ErrNotOngoing
	}
	if b.sideIndex(sideID) < 0 {
		return b, fmt.Errorf("%w: %q", ErrUnknownSide, sideID)
	}

	bars := scoring.SplitBars(text)
	if len(bars) != scoring.BarCount {
		return b, fmt.Errorf("%w: want %d non-empty bars, got %d", ErrInvalidVerse, scoring.BarCount, len(bars))
	}

	due := NextPerformer(b)
	if due == "" {
		return b, ErrRoundComplete
	}
	if sideID != due {
		return b, fmt.Errorf("%w: %s performs next", ErrWrongTurn, due)
	}

	res, err := scoring.Score(bars, b.opponentOf(sideID).Name)
	if err != nil {
		return b, fmt.Errorf("%w: %v", ErrInvalidVerse, err)
	}

	next := b.clone()
	next.Verses = append(next.Verses, Verse{
		ID:        fmt.Sprintf("%s-r%d-%s", b.ID, b.CurrentRound, sideID),
		SideID:    sideID,
		Round:     b.CurrentRound,
		Bars:      bars,
		Text:      text,
		Score:     res.Scores,
		Rationale: res.Rationale,
		CreatedAt: at,
	})
	next.UpdatedAt = at

	if next.roundComplete(next.CurrentRound) {
		next.RoundScores = append(next.RoundScores, scoreRound(next, next.CurrentRound))
		next.CurrentTurn = ""
	} else {
		next.CurrentTurn = next.opponentOf(sideID).ID
	}
	return next, nil
}

// ApplyVote sets a side's vote count for the round and recomputes totals
// and the round winner. Applying the same count twice yields the same result.
func ApplyVote(rs RoundScore, sideID SideID, votes int) (RoundScore, error) {
	if votes < 0 {
		return rs, fmt.Errorf("%w: %d", ErrInvalidVotes, votes)
	}
	i := -1
	for j := range rs.Scores {
		if rs.Scores[j].SideID == sideID {
			i = j
		}
	}
	if sideID == "" || i < 0 {
		return rs, fmt.Errorf("%w: %q", ErrUnknownSide, sideID)
	}

	out := rs
	out.Scores[i].UserVotes = votes
	for j := range out.Scores {
		s := &out.Scores[j]
		s.TotalScore = float64(s.AutomatedTotal) + VoteWeight*float64(s.UserVotes)
	}
	out.Winner = roundWinner(out)
	return out, nil
}

// AdvanceRound moves past a completed round, finishing the battle after the last one.
func AdvanceRound(b Battle, at time.Time) (Battle, error) {
	if b.Status != StatusOngoing {
		return b, ErrNotOngoing
	}
	if b.roundScore(b.CurrentRound) == nil {
		return b, fmt.Errorf("%w: round %d", ErrRoundIncomplete, b.CurrentRound)
	}

	next := b.clone()
	next.UpdatedAt = at
	if next.CurrentRound >= next.Rounds {
		next.Status = StatusCompleted
		next.CurrentTurn = ""
		next.Winner = overallWinner(next)
		return next, nil
	}
	next.CurrentRound++
	next.CurrentTurn = next.Sides[0].ID
	return next, nil
}

// RecordVote replaces the stored score for a round with the result of ApplyVote.
// A finished battle's scores are final.
func RecordVote(b Battle, round int, sideID SideID, votes int, at time.Time) (Battle, RoundScore, error) {
	if b.Status == StatusCompleted || b.Status == StatusIncomplete {
		return b, RoundScore{}, fmt.Errorf("%w: status is %s", ErrNotOngoing, b.Status)
	}
	rs := b.roundScore(round)
	if rs == nil {
		return b, RoundScore{}, fmt.Errorf("%w: round %d", ErrRoundIncomplete, round)
	}
	updated, err := ApplyVote(*rs, sideID, votes)
	if err != nil {
		return b, RoundScore{}, err
	}
	next := b.clone()
	*next.roundScore(round) = updated
	next.UpdatedAt = at
	return next, updated, nil
}

func Pause(b Battle, at time.Time) (Battle, error) {
	if b.Status != StatusOngoing {
		return b, ErrNotOngoing
	}
	next := b.clone()
	next.Status = StatusPaused
	next.UpdatedAt = at
	return next, nil
}

func Resume(b Battle, at time.Time) (Battle, error) {
	if b.Status != StatusPaused {
		return b, fmt.Errorf("%w: status is %s", ErrNotOngoing, b.Status)
	}
	next := b.clone()
	next.Status = StatusOngoing
	next.UpdatedAt = at
	return next, nil
}

// Abandon marks an unfinished battle incomplete.
func Abandon(b Battle, at time.Time) (Battle, error) {
	if b.Status == StatusCompleted || b.Status == StatusIncomplete {
		return b, ErrNotOngoing
	}
	next := b.clone()
	next.Status = StatusIncomplete
	next.CurrentTurn = ""
	next.IsLive = false
	next.UpdatedAt = at
	return next, nil
}

func scoreRound(b Battle, round int) RoundScore {
	rs := RoundScore{Round: round}
	for i, side := range b.Sides {
		v := b.verseFor(round, side.ID)
		total := v.Score.Sum()
		rs.Scores[i] = SideScore{
			SideID:         side.ID,
			Automated:      v.Score,
			AutomatedTotal: total,
			TotalScore:     float64(total),
		}
	}
	rs.Winner = roundWinner(rs)
	return rs
}

func roundWinner(rs RoundScore) SideID {
	a, b := rs.Scores[0], rs.Scores[1]
	switch {
	case a.TotalScore > b.TotalScore:
		return a.SideID
	case b.TotalScore > a.TotalScore:
		return b.SideID
	}
	return ""
}

// overallWinner picks the side with more round wins, then the higher summed
// total score. An exact draw has no winner.
func overallWinner(b Battle) SideID {
	wins := RoundWins(b)
	a, c := b.Sides[0].ID, b.Sides[1].ID
	if wins[a] != wins[c] {
		if wins[a] > wins[c] {
			return a
		}
		return c
	}
	var ta, tc float64
	for _, rs := range b.RoundScores {
		ta += rs.Scores[0].TotalScore
		tc += rs.Scores[1].TotalScore
	}
	switch {
	case ta > tc:
		return a
	case tc > ta:
		return c
	}
	return ""
}
