package ledger

import (
	"fmt"

	"github.com/confquest/confquest/internal/domain"
)

// PointsTable is the reward paid for the first rewarded completion of each kind.
type PointsTable map[domain.TaskKind]int64

// DefaultPoints returns the conference's reward table.
func DefaultPoints() PointsTable {
	return PointsTable{
		domain.KindGreeting:         10,
		domain.KindQuote:            10,
		domain.KindTeamPhoto:        20,
		domain.KindParticipantPhoto: 15,
		domain.KindPracticeStory:    25,
		domain.KindSlogan:           15,
		domain.KindLikesGiven:       5,
		domain.KindAchievement:      30,
		domain.KindSurvey:           20,
		domain.KindFeedback:         20,
	}
}

// For returns the reward of kind. Kinds missing from the table pay nothing.
func (p PointsTable) For(kind domain.TaskKind) int64 {
	return p[kind]
}

// Validate rejects unknown kinds and negative rewards.
func (p PointsTable) Validate() error {
	for kind, pts := range p {
		if !kind.Valid() {
			return fmt.Errorf("%w: points for unknown task kind %q", domain.ErrInvalidInput, kind)
		}
		if pts < 0 {
			return fmt.Errorf("%w: negative points for %s", domain.ErrInvalidInput, kind)
		}
	}
	return nil
}
