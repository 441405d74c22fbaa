package engine

type Stage string

const (
	StageNoVerses       Stage = "no-verses"
	StageSideAPerformed Stage = "side-a-performed"
	StageRoundComplete  Stage = "round-complete"
	StageBattleComplete Stage = "battle-complete"
)

// NextPerformer infers whose verse is due in the current round from the
// verse history: side A first, then side B, then nobody.
func NextPerformer(b Battle) SideID {
	if b.Status != StatusOngoing {
		return ""
	}
	for _, side := range b.Sides {
		if !b.hasVerse(b.CurrentRound, side.ID) {
			return side.ID
		}
	}
	return ""
}

func DeriveStage(b Battle) Stage {
	if b.Status == StatusCompleted {
		return StageBattleComplete
	}
	switch {
	case b.roundComplete(b.CurrentRound):
		return StageRoundComplete
	case b.hasVerse(b.CurrentRound, b.Sides[0].ID):
		return StageSideAPerformed
	default:
		return StageNoVerses
	}
}

// RoundWins counts rounds won per side.
func RoundWins(b Battle) map[SideID]int {
	wins := map[SideID]int{b.Sides[0].ID: 0, b.Sides[1].ID: 0}
	for _, rs := range b.RoundScores {
		if rs.Winner != "" {
			wins[rs.Winner]++
		}
	}
	return wins
}
