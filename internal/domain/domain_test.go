package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// ─── Task Tests ─────────────────────────────────────────────────────────────

func TestTaskKind_Policy(t *testing.T) {
	tests := []struct {
		kind   TaskKind
		policy Policy
	}{
		{KindGreeting, PolicyCalendar},
		{KindQuote, PolicyCalendar},
		{KindTeamPhoto, PolicyCalendar},
		{KindParticipantPhoto, PolicyFirstTime},
		{KindPracticeStory, PolicyFirstTime},
		{KindSlogan, PolicyFirstTime},
		{KindLikesGiven, PolicyUncapped},
		{KindAchievement, PolicyUncapped},
		{KindSurvey, PolicyUncapped},
		{KindFeedback, PolicyUncapped},
		{TaskKind("dance"), PolicyUnknown},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Policy(); got != tt.policy {
				t.Errorf("Policy() = %s, want %s", got, tt.policy)
			}
		})
	}
	if len(AllKinds()) != 10 {
		t.Errorf("AllKinds() has %d kinds, want 10", len(AllKinds()))
	}
}

func TestTaskKind_Family(t *testing.T) {
	if KindGreeting.Family() != FamilyGreetingQuote || KindQuote.Family() != FamilyGreetingQuote {
		t.Error("greeting and quote should share a family")
	}
	if KindTeamPhoto.Family() != FamilyTeamPhoto {
		t.Errorf("team photo family = %s", KindTeamPhoto.Family())
	}
	if got := FamilyGreetingQuote.Kinds(); len(got) != 2 {
		t.Errorf("greeting_quote kinds = %v", got)
	}
	if FamilyGreetingQuote.Policy() != PolicyCalendar {
		t.Errorf("greeting_quote policy = %s", FamilyGreetingQuote.Policy())
	}
	if TaskFamily("nope").Kinds() != nil {
		t.Error("unknown family should have no kinds")
	}
}

func TestParseTaskKind(t *testing.T) {
	k, err := ParseTaskKind("  Team_Photo ")
	if err != nil || k != KindTeamPhoto {
		t.Fatalf("ParseTaskKind = %q, %v", k, err)
	}
	if _, err := ParseTaskKind("dance"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := ParseTaskFamily("greeting_quote"); err != nil {
		t.Errorf("ParseTaskFamily: %v", err)
	}
	if _, err := ParseTaskFamily("greeting_photo"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUniqueKey(t *testing.T) {
	tests := []struct {
		name string
		kind TaskKind
		meta Metadata
		day  string
		want string
		err  error
	}{
		{"calendar shares family", KindQuote, Metadata{}, "2026-03-02", "daily:greeting_quote:2026-03-02", nil},
		{"calendar needs day", KindGreeting, Metadata{}, "", "", ErrInvariantViolation},
		{"first time", KindSlogan, Metadata{FirstTime: true}, "2026-03-02", "first:slogan", nil},
		{"repost unrewarded", KindSlogan, Metadata{}, "2026-03-02", "", ErrInvalidInput},
		{"task instance", KindSurvey, Metadata{TaskID: "s1"}, "2026-03-02", "task:survey:s1", nil},
		{"task id required", KindSurvey, Metadata{TaskID: " "}, "2026-03-02", "", ErrInvalidInput},
		{"unknown kind", TaskKind("dance"), Metadata{}, "2026-03-02", "", ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UniqueKey(tt.kind, tt.meta, tt.day)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("error = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("UniqueKey = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVariant_Kind(t *testing.T) {
	if k, ok := VariantGreeting.Kind(); !ok || k != KindGreeting {
		t.Errorf("greeting variant -> %q, %v", k, ok)
	}
	if k, ok := VariantQuote.Kind(); !ok || k != KindQuote {
		t.Errorf("quote variant -> %q, %v", k, ok)
	}
	if _, ok := VariantNone.Kind(); ok {
		t.Error("weekend variant should map to no kind")
	}
}

// ─── Error Tests ────────────────────────────────────────────────────────────

func TestErrorTaxonomy(t *testing.T) {
	expected := []error{ErrAlreadyCompleted, ErrInsufficientEnergy, ErrBelowConversionThreshold, ErrOperationInFlight, ErrRejected}
	for _, err := range expected {
		wrapped := fmt.Errorf("ctx: %w", err)
		if !IsExpected(wrapped) {
			t.Errorf("%v should be expected", err)
		}
		if IsTransient(wrapped) {
			t.Errorf("%v should not be transient", err)
		}
	}
	for _, err := range []error{ErrTransient, ErrInvariantViolation, ErrInvalidInput, ErrForbidden} {
		if IsExpected(err) {
			t.Errorf("%v should not be expected", err)
		}
	}
	if !IsTransient(fmt.Errorf("write: %w", ErrTransient)) {
		t.Error("wrapped ErrTransient should be transient")
	}
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
}

type busy struct{}

func (busy) Error() string { return "database is locked" }
func (busy) Code() int     { return 5 | 2<<8 }

func TestIsTransient_SqliteCodes(t *testing.T) {
	if !IsTransient(fmt.Errorf("insert: %w", busy{})) {
		t.Error("extended SQLITE_BUSY should be transient")
	}
}

func TestRejection(t *testing.T) {
	at := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	err := fmt.Errorf("complete: %w", Reject(ErrAlreadyCompleted, "already posted today", at))

	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Error("rejection should unwrap to its cause")
	}
	r, ok := RejectionOf(err)
	if !ok {
		t.Fatal("RejectionOf found nothing")
	}
	if r.Reason != "already posted today" || !r.RetryAt.Equal(at) {
		t.Errorf("rejection = %+v", r)
	}
	if _, ok := RejectionOf(ErrTransient); ok {
		t.Error("plain sentinel is not a rejection")
	}
}

func TestNotificationType_Promotional(t *testing.T) {
	if !NotifyReminder.Promotional() {
		t.Error("reminders are promotional")
	}
	if NotifyLikeRollback.Promotional() || NotifyAwarded.Promotional() {
		t.Error("outcome notices are not promotional")
	}
}
