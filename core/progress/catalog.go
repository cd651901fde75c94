package progress

import "context"

type (
	// Module is a curriculum entry owned by the content service.
	Module struct {
		ID         string `json:"id"`
		IsRequired bool   `json:"is_required"`
		Points     int    `json:"points"`
		Order      int    `json:"order"`
	}

	// ModuleCatalog is the external provider of the current curriculum.
	// It may be stale or not loaded yet; an empty result must read as
	// "cannot be complete", never as "trivially complete".
	ModuleCatalog interface {
		Modules(ctx context.Context) ([]Module, error)
	}
)

// EligibilityKind names the rule deciding when a badge is earned.
type EligibilityKind int

const (
	// EligibilityFirstItem fires once the union of completed modules and
	// page quizzes becomes non-empty. Page quizzes count here even though
	// they never count towards onboarding completion; that asymmetry is
	// intended.
	EligibilityFirstItem EligibilityKind = iota

	// EligibilityPointsThreshold fires once total points reach Badge.Threshold,
	// regardless of which mutation caused the crossing.
	EligibilityPointsThreshold

	// EligibilityFastCompletion fires when onboarding completed within
	// FastCompletionMaxDays of enrollment.
	EligibilityFastCompletion
)

// Badge is a static catalog entry; awarding one also awards PointValue points.
type Badge struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	PointValue int             `json:"point_value"`
	Kind       EligibilityKind `json:"-"`
	Threshold  int             `json:"-"` // points, EligibilityPointsThreshold only
}

// Eligible evaluates the badge's rule against the current record state.
// This is the reconciliation form: it holds for any state at or past the
// triggering event, so a missed event can be repaired later.
func (b Badge) Eligible(rec *Record) bool {
	switch b.Kind {
	case EligibilityFirstItem:
		return rec.ItemCount() >= 1
	case EligibilityPointsThreshold:
		return rec.Points >= b.Threshold
	case EligibilityFastCompletion:
		return rec.OnboardingCompleted &&
			rec.CompletionDetails != nil &&
			rec.CompletionDetails.DaysToComplete <= FastCompletionMaxDays
	}
	return false
}

// BadgeCatalog is the immutable in-process table of badge definitions.
type BadgeCatalog struct {
	badges []Badge
	byID   map[string]Badge
}

func NewBadgeCatalog(badges ...Badge) *BadgeCatalog {
	cat := &BadgeCatalog{
		badges: badges,
		byID:   make(map[string]Badge, len(badges)),
	}
	for _, b := range badges {
		cat.byID[b.ID] = b
	}
	return cat
}

func (cat *BadgeCatalog) Get(id string) (Badge, bool) {
	b, ok := cat.byID[id]
	return b, ok
}

// All returns badges in definition order.
func (cat *BadgeCatalog) All() []Badge { return cat.badges }

func (cat *BadgeCatalog) Len() int { return len(cat.badges) }

// Default badge ids.
const (
	BadgeFirstSteps   = "first-steps"
	BadgeMaxLevel     = "max-level"
	BadgeFastFinisher = "fast-finisher"
)

// MaxLevelPoints is the points threshold of the max-level badge.
const MaxLevelPoints = 1000

func DefaultBadgeCatalog() *BadgeCatalog {
	return NewBadgeCatalog(
		Badge{ID: BadgeFirstSteps, Name: "First Steps", PointValue: 50, Kind: EligibilityFirstItem},
		Badge{ID: BadgeMaxLevel, Name: "Max Level", PointValue: 250, Kind: EligibilityPointsThreshold, Threshold: MaxLevelPoints},
		Badge{ID: BadgeFastFinisher, Name: "Fast Finisher", PointValue: 200, Kind: EligibilityFastCompletion},
	)
}
