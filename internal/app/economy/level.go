package economy

import (
	"fmt"

	"github.com/confquest/confquest/internal/domain"
)

// XPPerLevel is the linear threshold step: reaching level L+1 from L costs L*XPPerLevel.
const XPPerLevel int64 = 100

// LevelUp reports the outcome of an XP grant.
type LevelUp struct {
	State     domain.CoinsState `json:"state"`
	LeveledUp bool              `json:"leveled_up"`
	NewLevel  int               `json:"new_level"`
	Gained    int               `json:"gained"` // levels gained by this grant
}

// ExperienceNeeded returns the XP required to leave the given level.
func ExperienceNeeded(level int) int64 {
	if level < 1 {
		level = 1
	}
	return int64(level) * XPPerLevel
}

// Multiplier returns the click reward multiplier for a level: +10% per level above 1.
func Multiplier(level int) float64 {
	if level < 1 {
		level = 1
	}
	return 1 + float64(level-1)*0.1
}

// AddExperience adds xp and levels up as many times as the carried remainder
// allows, evaluating the threshold of the level current at each check.
// Level never decreases.
func AddExperience(state domain.CoinsState, xp int64) (LevelUp, error) {
	if xp < 0 {
		return LevelUp{State: state, NewLevel: state.Level},
			fmt.Errorf("%w: negative experience grant %d", domain.ErrInvariantViolation, xp)
	}
	if state.Level < 1 {
		state.Level = 1
	}
	if state.Experience < 0 {
		state.Experience = 0
	}

	start := state.Level
	state.Experience += xp
	for state.Experience >= ExperienceNeeded(state.Level) {
		state.Experience -= ExperienceNeeded(state.Level)
		state.Level++
	}

	return LevelUp{
		State:     state,
		LeveledUp: state.Level > start,
		NewLevel:  state.Level,
		Gained:    state.Level - start,
	}, nil
}

// ProgressPct returns progress toward the next level (0.0–100.0).
func ProgressPct(state domain.CoinsState) float64 {
	needed := ExperienceNeeded(state.Level)
	pct := float64(state.Experience) / float64(needed) * 100.0
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
