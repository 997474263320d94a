// Package domain defines task kinds and ledger completions.
// A completion flows: eligibility check → remote action → ledger insert → balance delta.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// TaskKind identifies what the participant did.
type TaskKind string

const (
	KindGreeting         TaskKind = "greeting"
	KindQuote            TaskKind = "quote"
	KindTeamPhoto        TaskKind = "team_photo"
	KindParticipantPhoto TaskKind = "participant_photo"
	KindPracticeStory    TaskKind = "practice_story"
	KindSlogan           TaskKind = "slogan"
	KindLikesGiven       TaskKind = "likes_given"
	KindAchievement      TaskKind = "achievement"
	KindSurvey           TaskKind = "survey"
	KindFeedback         TaskKind = "feedback"
)

// AllKinds lists every known task kind.
func AllKinds() []TaskKind {
	return []TaskKind{
		KindGreeting, KindQuote, KindTeamPhoto,
		KindParticipantPhoto, KindPracticeStory, KindSlogan,
		KindLikesGiven, KindAchievement, KindSurvey, KindFeedback,
	}
}

// Policy is the uniqueness rule a kind is rewarded under.
type Policy int

const (
	PolicyUnknown   Policy = iota
	PolicyCalendar         // once per user per local calendar day
	PolicyFirstTime        // once per user, ever (metadata.firstTime)
	PolicyUncapped         // once per user per admin task instance (metadata.taskId)
)

func (p Policy) String() string {
	switch p {
	case PolicyCalendar:
		return "calendar"
	case PolicyFirstTime:
		return "first_time"
	case PolicyUncapped:
		return "uncapped"
	default:
		return "unknown"
	}
}

// Policy returns the uniqueness policy for the kind.
func (k TaskKind) Policy() Policy {
	switch k {
	case KindGreeting, KindQuote, KindTeamPhoto:
		return PolicyCalendar
	case KindParticipantPhoto, KindPracticeStory, KindSlogan:
		return PolicyFirstTime
	case KindLikesGiven, KindAchievement, KindSurvey, KindFeedback:
		return PolicyUncapped
	default:
		return PolicyUnknown
	}
}

// Valid reports whether k is a known kind.
func (k TaskKind) Valid() bool { return k.Policy() != PolicyUnknown }

// Family groups kinds that share one cooldown. Greeting and quote are two
// weekday variants of the same daily post; every other kind is its own family.
func (k TaskKind) Family() TaskFamily {
	switch k {
	case KindGreeting, KindQuote:
		return FamilyGreetingQuote
	default:
		return TaskFamily(k)
	}
}

// ParseTaskKind validates a kind name.
func ParseTaskKind(s string) (TaskKind, error) {
	k := TaskKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown task kind %q", ErrInvalidInput, s)
	}
	return k, nil
}

// TaskFamily is the unit a cooldown is evaluated for.
type TaskFamily string

const (
	FamilyGreetingQuote TaskFamily = "greeting_quote"
	FamilyTeamPhoto     TaskFamily = TaskFamily(KindTeamPhoto)
)

// Kinds returns the task kinds belonging to the family.
func (f TaskFamily) Kinds() []TaskKind {
	if f == FamilyGreetingQuote {
		return []TaskKind{KindGreeting, KindQuote}
	}
	k := TaskKind(f)
	if !k.Valid() {
		return nil
	}
	return []TaskKind{k}
}

// Policy returns the uniqueness policy shared by the family's kinds.
func (f TaskFamily) Policy() Policy {
	kinds := f.Kinds()
	if len(kinds) == 0 {
		return PolicyUnknown
	}
	return kinds[0].Policy()
}

// ParseTaskFamily validates a family name.
func ParseTaskFamily(s string) (TaskFamily, error) {
	f := TaskFamily(strings.ToLower(strings.TrimSpace(s)))
	if len(f.Kinds()) == 0 {
		return "", fmt.Errorf("%w: unknown task family %q", ErrInvalidInput, s)
	}
	return f, nil
}

// Metadata carries kind-specific discriminants of a completion.
type Metadata struct {
	FirstTime bool              `json:"firstTime,omitempty"`
	TaskID    string            `json:"taskId,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Completion is an append-only ledger row: user U was awarded P points for kind K.
type Completion struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Kind          TaskKind  `json:"task_kind"`
	PointsAwarded int64     `json:"points_awarded"`
	Metadata      Metadata  `json:"metadata"`
	UniqueKey     string    `json:"unique_key,omitempty"` // empty for unrewarded re-posts
	Day           string    `json:"day"`                  // local calendar day, YYYY-MM-DD
	CompletedAt   time.Time `json:"completed_at"`
}

// Rewarded reports whether the row counts against the kind's uniqueness predicate.
func (c Completion) Rewarded() bool { return c.UniqueKey != "" }

// UniqueKey derives the uniqueness predicate key for a rewarded completion.
// day is the local calendar day of the attempt (YYYY-MM-DD).
func UniqueKey(kind TaskKind, meta Metadata, day string) (string, error) {
	switch kind.Policy() {
	case PolicyCalendar:
		if day == "" {
			return "", fmt.Errorf("%w: calendar kind %s without day", ErrInvariantViolation, kind)
		}
		return "daily:" + string(kind.Family()) + ":" + day, nil
	case PolicyFirstTime:
		if !meta.FirstTime {
			return "", fmt.Errorf("%w: %s is only rewarded on the first post", ErrInvalidInput, kind)
		}
		return "first:" + string(kind), nil
	case PolicyUncapped:
		if strings.TrimSpace(meta.TaskID) == "" {
			return "", fmt.Errorf("%w: %s requires a task id", ErrInvalidInput, kind)
		}
		return "task:" + string(kind) + ":" + meta.TaskID, nil
	default:
		return "", fmt.Errorf("%w: unknown task kind %q", ErrInvalidInput, kind)
	}
}
