package progress

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Onboarding clock thresholds, in days since enrollment.
const (
	OnboardingDeadlineDays = 30
	FastCompletionMaxDays  = 7
)

// CertificateMarkerFullCompletion marks the one certificate a user earns for
// completing the whole required curriculum.
const CertificateMarkerFullCompletion = "full-completion"

// ItemKind identifies one of the three insert-only sets of a Record.
type ItemKind string

const (
	ItemModule   ItemKind = "module"
	ItemPageQuiz ItemKind = "page_quiz"
	ItemBadge    ItemKind = "badge"
)

// Outcome reports whether a ledger mutation was applied or found
// already done (a correct no-op under retries and double submission).
type Outcome int

const (
	OutcomeAlreadyDone Outcome = iota
	OutcomeApplied
)

func (o Outcome) String() string {
	if o == OutcomeApplied {
		return "applied"
	}
	return "already_done"
}

type (
	// Record is the authoritative view of a user's onboarding state.
	// It is mutated exclusively through the Service primitives; all three
	// sets are insert-only and Points never decreases.
	Record struct {
		UserID               string   `json:"user_id"`
		Points               int      `json:"points"`
		CompletedModules     []string `json:"completed_modules"`
		CompletedPageQuizzes []string `json:"completed_page_quizzes"`
		Badges               []string `json:"badges"`

		OnboardingCompleted   bool               `json:"onboarding_completed"`
		CompletionDetails     *CompletionDetails `json:"completion_details,omitempty"`
		FeedbackPromptPending bool               `json:"feedback_prompt_pending"`

		EnrollmentStartedAt time.Time `json:"enrollment_started_at"` // UTC
		CreatedAt           time.Time `json:"created_at"`            // UTC
		UpdatedAt           time.Time `json:"updated_at"`            // UTC
	}

	// CompletionDetails is set exactly once, by the completion transition,
	// and never rewritten.
	CompletionDetails struct {
		CompletedAt    time.Time `json:"completed_at"` // UTC
		DaysToComplete int       `json:"days_to_complete"`
		WasOverdue     bool      `json:"was_overdue"`
	}

	// Certificate is the proof of full curriculum completion;
	// at most one exists per (UserID, Marker), ever.
	Certificate struct {
		ID          string    `json:"id"`
		UserID      string    `json:"user_id"`
		Marker      string    `json:"marker"`
		CompletedAt time.Time `json:"completed_at"` // UTC
		Number      string    `json:"number"`
		CreatedAt   time.Time `json:"created_at"` // UTC
	}
)

func (r *Record) HasModule(id string) bool { return containsID(r.CompletedModules, id) }
func (r *Record) HasQuiz(id string) bool   { return containsID(r.CompletedPageQuizzes, id) }
func (r *Record) HasBadge(id string) bool  { return containsID(r.Badges, id) }

// ItemCount is the size of the union of completed modules and page quizzes.
// Badges do not count as items.
func (r *Record) ItemCount() int {
	return len(r.CompletedModules) + len(r.CompletedPageQuizzes)
}

// CheckInvariants flags states that should be unreachable. A violation is
// fatal for the operation that detected it; repairing here could mask a
// concurrency bug.
func (r *Record) CheckInvariants() error {
	if r.OnboardingCompleted != (r.CompletionDetails != nil) {
		return errors.Wrap(ErrInvariantViolation,
			fmt.Sprintf("user %s: onboardingCompleted=%t but completionDetails presence=%t",
				r.UserID, r.OnboardingCompleted, r.CompletionDetails != nil))
	}
	if r.Points < 0 {
		return errors.Wrap(ErrInvariantViolation, fmt.Sprintf("user %s: negative points %d", r.UserID, r.Points))
	}
	return nil
}

// DaysSince counts whole days elapsed from start to now; never negative.
func DaysSince(start, now time.Time) int {
	days := int(now.Sub(start).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
