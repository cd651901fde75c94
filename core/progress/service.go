package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/karibu/core"
)

var (
	// errors
	ErrRecordNotFound      = errors.New("progress record not found")
	ErrRecordExists        = errors.New("a progress record already exists for this user")
	ErrCertificateNotFound = errors.New("certificate not found")
	ErrCertificateExists   = errors.New("a certificate with this marker already exists for this user")
	ErrUnknownBadge        = errors.New("badge not found in catalog")
	ErrCatalogUnavailable  = errors.New("module catalog unavailable")
	ErrNotCompleted        = errors.New("onboarding not completed")
	ErrInvariantViolation  = errors.New("progress record invariant violation")
)

// NowFunc is mockable in tests.
var NowFunc = time.Now

type (
	// Repository persists progress Records. Each mutation primitive must be
	// atomic: the set insertion and its points increment either both happen
	// or neither does, and a repeated call is a no-op.
	Repository interface {
		CreateRecord(ctx context.Context, rec Record, exec ...core.DBExecutor) (Record, error)
		GetRecord(ctx context.Context, userID string, exec ...core.DBExecutor) (Record, error)

		// AddItem inserts itemID into the userID set identified by kind and
		// increments points by pointValue, as a single unit. It reports false,
		// mutating nothing, when the item is already present.
		AddItem(ctx context.Context, userID string, kind ItemKind, itemID string, pointValue int, exec ...core.DBExecutor) (bool, error)

		// CompleteOnboarding flips the one-way completion flag, records det and
		// raises the feedback prompt flag, atomically. It reports false when the
		// transition had already happened; the stored details are then left
		// untouched.
		CompleteOnboarding(ctx context.Context, userID string, det CompletionDetails, exec ...core.DBExecutor) (bool, error)

		// ClearFeedbackPrompt lowers the one-shot feedback prompt flag;
		// reports false when it was not raised.
		ClearFeedbackPrompt(ctx context.Context, userID string, exec ...core.DBExecutor) (bool, error)

		// CreateCertificate fails with ErrCertificateExists when a certificate
		// with the same (UserID, Marker) exists.
		CreateCertificate(ctx context.Context, cert Certificate, exec ...core.DBExecutor) (Certificate, error)
		GetCertificate(ctx context.Context, userID, marker string, exec ...core.DBExecutor) (Certificate, error)
	}

	Service struct {
		repo     Repository
		modCat   ModuleCatalog
		badges   *BadgeCatalog
		notifSvc core.NotificationService
		logger   core.Logger
	}
)

func NewService(repo Repository, modCat ModuleCatalog, badges *BadgeCatalog, notifSvc core.NotificationService, logger core.Logger) *Service {
	return &Service{
		repo:     repo,
		modCat:   modCat,
		badges:   badges,
		notifSvc: notifSvc,
		logger:   logger,
	}
}

// Enroll creates the zero-state Record for a user alongside their account.
// EnrollmentStartedAt starts the 30-day onboarding clock and is never
// changed afterwards.
func (svc *Service) Enroll(ctx context.Context, userID string) (Record, error) {
	now := NowFunc().UTC()
	rec := Record{
		UserID:              userID,
		EnrollmentStartedAt: now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	rec, err := svc.repo.CreateRecord(ctx, rec)
	return rec, errors.Wrap(err, "creating progress record")
}

// GetRecord loads a user's Record, enrolling them first if none exists yet.
func (svc *Service) GetRecord(ctx context.Context, userID string) (Record, error) {
	rec, err := svc.repo.GetRecord(ctx, userID)
	if err != nil {
		if errors.Cause(err) == ErrRecordNotFound {
			rec, err = svc.Enroll(ctx, userID)
			if errors.Cause(err) == ErrRecordExists { // lost an enrollment race
				rec, err = svc.repo.GetRecord(ctx, userID)
			}
			return rec, errors.Wrap(err, "enrolling user")
		}
		return Record{}, errors.Wrap(err, "loading progress record")
	}
	return rec, nil
}

// MarkModuleDone records the completion of a curriculum module and awards its
// points, exactly once per (user, module) no matter how often it is called.
// The completion evaluation runs even when the module was already recorded:
// an earlier attempt may have crashed after the insert but before the check.
func (svc *Service) MarkModuleDone(ctx context.Context, userID, moduleID string, pointValue int) (Outcome, error) {
	applied, err := svc.repo.AddItem(ctx, userID, ItemModule, moduleID, pointValue)
	if err != nil {
		return OutcomeAlreadyDone, errors.Wrap(err, "marking module done")
	}
	if applied {
		svc.checkFirstItemBadge(ctx, userID)
	}
	if _, err := svc.Evaluate(ctx, userID); err != nil {
		// deferred: the next event or session retries it
		svc.logger.Warn(fmt.Sprintf("progress: completion check skipped for user %s: %v", userID, err))
	}
	return outcomeOf(applied), nil
}

// MarkQuizDone records the completion of a page quiz and awards its points,
// with the same idempotency contract as MarkModuleDone. Page quizzes feed
// points and the first-item badge but never the completion condition, so no
// evaluation runs here.
func (svc *Service) MarkQuizDone(ctx context.Context, userID, quizID string, pointValue int) (Outcome, error) {
	applied, err := svc.repo.AddItem(ctx, userID, ItemPageQuiz, quizID, pointValue)
	if err != nil {
		return OutcomeAlreadyDone, errors.Wrap(err, "marking quiz done")
	}
	if applied {
		svc.checkFirstItemBadge(ctx, userID)
	}
	return outcomeOf(applied), nil
}

// GrantBadge awards a badge and its catalog point value, exactly once.
func (svc *Service) GrantBadge(ctx context.Context, userID, badgeID string) (Outcome, error) {
	if svc.badges == nil || svc.badges.Len() == 0 {
		return OutcomeAlreadyDone, errors.Wrap(ErrCatalogUnavailable, "badge catalog not loaded")
	}
	badge, ok := svc.badges.Get(badgeID)
	if !ok {
		return OutcomeAlreadyDone, errors.Wrapf(ErrUnknownBadge, "badge %q", badgeID)
	}

	applied, err := svc.repo.AddItem(ctx, userID, ItemBadge, badgeID, badge.PointValue)
	if err != nil {
		return OutcomeAlreadyDone, errors.Wrapf(err, "granting badge %s", badgeID)
	}
	if applied {
		svc.notifSvc.Send(ctx, core.Notification{
			UserID:  userID,
			Message: fmt.Sprintf("You earned the %s badge! +%d points", badge.Name, badge.PointValue),
			Link:    "/dashboard",
			Type:    core.NotificationTypeBadge,
		})
	}
	return outcomeOf(applied), nil
}

// Evaluate decides whether the required curriculum is now complete and, if so,
// performs the one-way completion transition with its side effects. Of any
// number of concurrent calls, exactly one wins the transition; the rest no-op.
func (svc *Service) Evaluate(ctx context.Context, userID string) (bool, error) {
	mods, err := svc.modCat.Modules(ctx)
	if err != nil {
		return false, errors.Wrap(err, "loading module catalog")
	}
	var required []string
	for _, m := range mods {
		if m.IsRequired {
			required = append(required, m.ID)
		}
	}
	// a catalog with no required modules must never read as "all done";
	// it usually means the catalog has not loaded yet
	if len(required) == 0 {
		return false, nil
	}

	rec, err := svc.repo.GetRecord(ctx, userID)
	if err != nil {
		return false, errors.Wrap(err, "loading progress record")
	}
	if err := rec.CheckInvariants(); err != nil {
		svc.logger.Error(fmt.Sprintf("progress: aborting evaluation: %v", err), err)
		return false, err
	}
	if rec.OnboardingCompleted {
		return false, nil
	}
	for _, id := range required {
		if !rec.HasModule(id) {
			return false, nil
		}
	}

	now := NowFunc().UTC()
	days := DaysSince(rec.EnrollmentStartedAt, now)
	det := CompletionDetails{
		CompletedAt:    now,
		DaysToComplete: days,
		WasOverdue:     days > OnboardingDeadlineDays,
	}
	// the repository re-checks the flag as part of the write; a concurrent
	// evaluation that lost the race reports won=false here
	won, err := svc.repo.CompleteOnboarding(ctx, userID, det)
	if err != nil {
		return false, errors.Wrap(err, "completing onboarding")
	}
	if !won {
		return false, nil
	}

	svc.completionSideEffects(ctx, userID, det)
	return true, nil
}

// completionSideEffects runs once, by the evaluation that won the transition.
func (svc *Service) completionSideEffects(ctx context.Context, userID string, det CompletionDetails) {
	if det.DaysToComplete <= FastCompletionMaxDays {
		for _, b := range svc.badges.All() {
			if b.Kind != EligibilityFastCompletion {
				continue
			}
			if _, err := svc.GrantBadge(ctx, userID, b.ID); err != nil {
				svc.logger.Warn(fmt.Sprintf("progress: granting %s to user %s: %v", b.ID, userID, err))
			}
		}
	}

	if _, err := svc.IssueCompletionCertificate(ctx, userID, det.CompletedAt); err != nil {
		svc.logger.Error(fmt.Sprintf("progress: issuing certificate for user %s: %v", userID, err), err)
	}

	msg := "Congratulations, you completed your onboarding!"
	if det.WasOverdue {
		msg = "You completed your onboarding."
	}
	svc.notifSvc.Send(ctx, core.Notification{
		UserID:  userID,
		Message: msg,
		Link:    "/dashboard/certificate",
		Type:    core.NotificationTypeCompletion,
	})
}

// IssueCompletionCertificate creates the user's full-completion certificate
// with a globally unique number. It refuses until onboarding is completed and
// a replay returns the certificate already on record.
func (svc *Service) IssueCompletionCertificate(ctx context.Context, userID string, completedAt time.Time) (Certificate, error) {
	rec, err := svc.repo.GetRecord(ctx, userID)
	if err != nil {
		return Certificate{}, errors.Wrap(err, "loading progress record")
	}
	if !rec.OnboardingCompleted {
		return Certificate{}, ErrNotCompleted
	}

	now := NowFunc().UTC()
	cert := Certificate{
		ID:          uuid.New().String(),
		UserID:      userID,
		Marker:      CertificateMarkerFullCompletion,
		CompletedAt: completedAt.UTC(),
		Number:      uuid.New().String(),
		CreatedAt:   now,
	}
	created, err := svc.repo.CreateCertificate(ctx, cert)
	if err != nil {
		if errors.Cause(err) == ErrCertificateExists {
			return svc.repo.GetCertificate(ctx, userID, CertificateMarkerFullCompletion)
		}
		return Certificate{}, errors.Wrap(err, "creating certificate")
	}
	return created, nil
}

// GetCertificate returns the user's full-completion certificate, if earned.
func (svc *Service) GetCertificate(ctx context.Context, userID string) (Certificate, error) {
	return svc.repo.GetCertificate(ctx, userID, CertificateMarkerFullCompletion)
}

// Reconcile grants any badge whose eligibility rule holds against the current
// record but is not on it yet. Aggregate and completion-derived rules are not
// checked by every mutation path (points can grow via a quiz that never
// touches the completion flag), so this runs opportunistically on session
// start and dashboard loads. It never re-runs the completion transition and
// is safe to call arbitrarily often.
func (svc *Service) Reconcile(ctx context.Context, userID string) error {
	if svc.badges == nil || svc.badges.Len() == 0 {
		return nil
	}

	rec, err := svc.repo.GetRecord(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "loading progress record")
	}
	if err := rec.CheckInvariants(); err != nil {
		svc.logger.Error(fmt.Sprintf("progress: aborting reconciliation: %v", err), err)
		return err
	}

	for _, b := range svc.badges.All() {
		if rec.HasBadge(b.ID) || !b.Eligible(&rec) {
			continue
		}
		if _, err := svc.GrantBadge(ctx, userID, b.ID); err != nil {
			return errors.Wrapf(err, "reconciling badge %s", b.ID)
		}
	}
	return nil
}

// AcknowledgeFeedbackPrompt clears the one-shot feedback prompt raised by the
// completion transition.
func (svc *Service) AcknowledgeFeedbackPrompt(ctx context.Context, userID string) (Outcome, error) {
	cleared, err := svc.repo.ClearFeedbackPrompt(ctx, userID)
	if err != nil {
		return OutcomeAlreadyDone, errors.Wrap(err, "clearing feedback prompt")
	}
	return outcomeOf(cleared), nil
}

// checkFirstItemBadge awards the first-item badge when the post-mutation union
// of completed modules and page quizzes has exactly one member. The size comes
// from the freshly loaded record, not a separate counter, so it cannot drift.
// A miss here (e.g. two first items racing) is repaired by Reconcile.
func (svc *Service) checkFirstItemBadge(ctx context.Context, userID string) {
	rec, err := svc.repo.GetRecord(ctx, userID)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("progress: first-item check skipped for user %s: %v", userID, err))
		return
	}
	if rec.ItemCount() != 1 {
		return
	}
	for _, b := range svc.badges.All() {
		if b.Kind != EligibilityFirstItem || rec.HasBadge(b.ID) {
			continue
		}
		if _, err := svc.GrantBadge(ctx, userID, b.ID); err != nil {
			svc.logger.Warn(fmt.Sprintf("progress: granting %s to user %s: %v", b.ID, userID, err))
		}
	}
}

func outcomeOf(applied bool) Outcome {
	if applied {
		return OutcomeApplied
	}
	return OutcomeAlreadyDone
}
