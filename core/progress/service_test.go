package progress_test

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/karibu/core"
	"github.com/trezcool/karibu/core/progress"
	catalogsvc "github.com/trezcool/karibu/services/catalog"
	emailsvc "github.com/trezcool/karibu/services/email"
	logsvc "github.com/trezcool/karibu/services/logger"
	notifsvc "github.com/trezcool/karibu/services/notification"
	dummydb "github.com/trezcool/karibu/storage/database/dummy"
	testutil "github.com/trezcool/karibu/tests"
)

var ctx = context.Background()

type testRepo interface {
	progress.Repository
	core.NotificationRepository
}

func setup(t *testing.T, modules ...progress.Module) (*progress.Service, testRepo) {
	return setupWithBadges(t, progress.DefaultBadgeCatalog(), modules...)
}

func setupWithBadges(t *testing.T, badges *progress.BadgeCatalog, modules ...progress.Module) (*progress.Service, testRepo) {
	t.Helper()

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open() failed: %v", err)
	}
	repo := dummydb.NewProgressRepository(db)

	logger := logsvc.NewStdLogger(log.New(io.Discard, "", 0))
	notifSvc := notifsvc.NewService(repo, emailsvc.NewConsoleServiceMock(testutil.NewConfig()), nil, logger)
	svc := progress.NewService(repo, catalogsvc.NewStaticCatalog(modules...), badges, notifSvc, logger)

	t.Cleanup(func() { progress.NowFunc = time.Now })
	return svc, repo
}

func requiredModules() []progress.Module {
	return []progress.Module{
		{ID: "m1", IsRequired: true, Points: 100, Order: 1},
		{ID: "m2", IsRequired: true, Points: 100, Order: 2},
	}
}

func getRecord(t *testing.T, svc *progress.Service, userID string) progress.Record {
	t.Helper()
	rec, err := svc.GetRecord(ctx, userID)
	if err != nil {
		t.Fatalf("GetRecord() failed: %v", err)
	}
	return rec
}

func notifCountByType(t *testing.T, repo testRepo, userID string) map[string]int {
	t.Helper()
	notifs, err := repo.QueryUserNotifications(ctx, userID)
	if err != nil {
		t.Fatalf("QueryUserNotifications() failed: %v", err)
	}
	counts := make(map[string]int)
	for _, n := range notifs {
		counts[n.Type]++
	}
	return counts
}

func Test_service_getRecordAutoEnrolls(t *testing.T) {
	svc, _ := setup(t, requiredModules()...)

	rec := getRecord(t, svc, "awe")
	if rec.UserID != "awe" {
		t.Errorf("UserID = %q, want %q", rec.UserID, "awe")
	}
	if rec.Points != 0 || len(rec.CompletedModules) != 0 || len(rec.CompletedPageQuizzes) != 0 || len(rec.Badges) != 0 {
		t.Errorf("new record is not zero-state: %+v", rec)
	}
	if rec.OnboardingCompleted || rec.CompletionDetails != nil || rec.FeedbackPromptPending {
		t.Errorf("new record has completion state: %+v", rec)
	}
	if rec.EnrollmentStartedAt.IsZero() || rec.EnrollmentStartedAt.Location() != time.UTC {
		t.Errorf("EnrollmentStartedAt = %v, want non-zero UTC", rec.EnrollmentStartedAt)
	}

	// a second load returns the same record, no re-enrollment
	again := getRecord(t, svc, "awe")
	if !again.EnrollmentStartedAt.Equal(rec.EnrollmentStartedAt) {
		t.Errorf("EnrollmentStartedAt changed on second load: %v != %v", again.EnrollmentStartedAt, rec.EnrollmentStartedAt)
	}
}

func Test_service_markModuleDoneIdempotent(t *testing.T) {
	svc, _ := setup(t, requiredModules()...)
	getRecord(t, svc, "awe") // enroll

	out, err := svc.MarkModuleDone(ctx, "awe", "m1", 100)
	if err != nil {
		t.Fatalf("MarkModuleDone() failed: %v", err)
	}
	if out != progress.OutcomeApplied {
		t.Errorf("outcome = %s, want applied", out)
	}

	rec := getRecord(t, svc, "awe")
	if !rec.HasModule("m1") {
		t.Error("m1 not recorded")
	}
	// 100 for the module + 50 for the first-steps badge
	if rec.Points != 150 {
		t.Errorf("points = %d, want 150", rec.Points)
	}
	if !rec.HasBadge(progress.BadgeFirstSteps) {
		t.Errorf("badges = %v, want first-steps", rec.Badges)
	}
	if rec.OnboardingCompleted {
		t.Error("completed with a required module missing")
	}

	// retries and double submission are no-ops
	for i := 0; i < 3; i++ {
		out, err = svc.MarkModuleDone(ctx, "awe", "m1", 100)
		if err != nil {
			t.Fatalf("MarkModuleDone() retry failed: %v", err)
		}
		if out != progress.OutcomeAlreadyDone {
			t.Errorf("retry outcome = %s, want already_done", out)
		}
	}
	rec = getRecord(t, svc, "awe")
	if rec.Points != 150 {
		t.Errorf("points after retries = %d, want 150", rec.Points)
	}
	if len(rec.CompletedModules) != 1 {
		t.Errorf("modules after retries = %v, want [m1]", rec.CompletedModules)
	}
}

func Test_service_markQuizDoneNeverCompletes(t *testing.T) {
	svc, _ := setup(t, progress.Module{ID: "m1", IsRequired: true, Points: 100})
	getRecord(t, svc, "awe") // enroll

	out, err := svc.MarkQuizDone(ctx, "awe", "q1", 20)
	if err != nil {
		t.Fatalf("MarkQuizDone() failed: %v", err)
	}
	if out != progress.OutcomeApplied {
		t.Errorf("outcome = %s, want applied", out)
	}
	if out, _ = svc.MarkQuizDone(ctx, "awe", "q1", 20); out != progress.OutcomeAlreadyDone {
		t.Errorf("retry outcome = %s, want already_done", out)
	}

	// a quiz sharing the required module's id still does not count as it
	if _, err = svc.MarkQuizDone(ctx, "awe", "m1", 100); err != nil {
		t.Fatalf("MarkQuizDone() failed: %v", err)
	}

	rec := getRecord(t, svc, "awe")
	if rec.OnboardingCompleted {
		t.Error("quizzes completed onboarding")
	}
	// 20 + 100 for the quizzes + 50 for the first-steps badge
	if rec.Points != 170 {
		t.Errorf("points = %d, want 170", rec.Points)
	}
	if !rec.HasBadge(progress.BadgeFirstSteps) {
		t.Errorf("badges = %v, want first-steps", rec.Badges)
	}
}

func Test_service_completion(t *testing.T) {
	svc, repo := setup(t, requiredModules()...)
	getRecord(t, svc, "awe") // enroll

	if _, err := svc.MarkModuleDone(ctx, "awe", "m1", 100); err != nil {
		t.Fatalf("MarkModuleDone() failed: %v", err)
	}
	if rec := getRecord(t, svc, "awe"); rec.OnboardingCompleted {
		t.Fatal("completed with m2 missing")
	}

	if _, err := svc.MarkModuleDone(ctx, "awe", "m2", 100); err != nil {
		t.Fatalf("MarkModuleDone() failed: %v", err)
	}

	rec := getRecord(t, svc, "awe")
	if !rec.OnboardingCompleted {
		t.Fatal("not completed with all required modules done")
	}
	if rec.CompletionDetails == nil {
		t.Fatal("completionDetails not set")
	}
	if rec.CompletionDetails.DaysToComplete != 0 || rec.CompletionDetails.WasOverdue {
		t.Errorf("completionDetails = %+v, want 0 days, not overdue", rec.CompletionDetails)
	}
	if !rec.FeedbackPromptPending {
		t.Error("feedback prompt not raised")
	}
	// m1 + m2 (200) + first-steps (50) + fast-finisher (200)
	if rec.Points != 450 {
		t.Errorf("points = %d, want 450", rec.Points)
	}
	if !rec.HasBadge(progress.BadgeFastFinisher) {
		t.Errorf("badges = %v, want fast-finisher", rec.Badges)
	}

	cert, err := svc.GetCertificate(ctx, "awe")
	if err != nil {
		t.Fatalf("GetCertificate() failed: %v", err)
	}
	if cert.Marker != progress.CertificateMarkerFullCompletion {
		t.Errorf("certificate marker = %q, want %q", cert.Marker, progress.CertificateMarkerFullCompletion)
	}
	if cert.Number == "" {
		t.Error("certificate number is empty")
	}
	if !cert.CompletedAt.Equal(rec.CompletionDetails.CompletedAt) {
		t.Errorf("certificate completedAt = %v, want %v", cert.CompletedAt, rec.CompletionDetails.CompletedAt)
	}

	counts := notifCountByType(t, repo, "awe")
	if counts[core.NotificationTypeCompletion] != 1 {
		t.Errorf("completion notifications = %d, want 1", counts[core.NotificationTypeCompletion])
	}

	// the transition is one-way and its details frozen
	completedAt := rec.CompletionDetails.CompletedAt
	progress.NowFunc = func() time.Time { return completedAt.Add(10 * 24 * time.Hour) }
	if out, _ := svc.MarkModuleDone(ctx, "awe", "m2", 100); out != progress.OutcomeAlreadyDone {
		t.Errorf("outcome = %s, want already_done", out)
	}
	rec = getRecord(t, svc, "awe")
	if !rec.CompletionDetails.CompletedAt.Equal(completedAt) {
		t.Errorf("completedAt rewritten: %v != %v", rec.CompletionDetails.CompletedAt, completedAt)
	}
	if counts := notifCountByType(t, repo, "awe"); counts[core.NotificationTypeCompletion] != 1 {
		t.Errorf("completion notifications after replay = %d, want 1", counts[core.NotificationTypeCompletion])
	}
}

func Test_service_completionOverdue(t *testing.T) {
	svc, _ := setup(t, progress.Module{ID: "m1", IsRequired: true, Points: 100})

	t0 := time.Date(2021, 3, 1, 9, 0, 0, 0, time.UTC)
	progress.NowFunc = func() time.Time { return t0 }
	getRecord(t, svc, "awe") // enroll at t0

	progress.NowFunc = func() time.Time { return t0.Add(40 * 24 * time.Hour) }
	if _, err := svc.MarkModuleDone(ctx, "awe", "m1", 100); err != nil {
		t.Fatalf("MarkModuleDone() failed: %v", err)
	}

	rec := getRecord(t, svc, "awe")
	if !rec.OnboardingCompleted || rec.CompletionDetails == nil {
		t.Fatalf("not completed: %+v", rec)
	}
	if rec.CompletionDetails.DaysToComplete != 40 {
		t.Errorf("daysToComplete = %d, want 40", rec.CompletionDetails.DaysToComplete)
	}
	if !rec.CompletionDetails.WasOverdue {
		t.Error("wasOverdue = false, want true")
	}
	if rec.HasBadge(progress.BadgeFastFinisher) {
		t.Error("fast-finisher granted on an overdue completion")
	}
	// m1 (100) + first-steps (50), no fast-finisher
	if rec.Points != 150 {
		t.Errorf("points = %d, want 150", rec.Points)
	}
}

func Test_service_emptyCatalogNeverCompletes(t *testing.T) {
	svc, _ := setup(t) // no modules
	getRecord(t, svc, "awe") // enroll

	if _, err := svc.MarkModuleDone(ctx, "awe", "m1", 100); err != nil {
		t.Fatalf("MarkModuleDone() failed: %v", err)
	}
	rec := getRecord(t, svc, "awe")
	if rec.OnboardingCompleted {
		t.Error("completed against an empty catalog")
	}

	won, err := svc.Evaluate(ctx, "awe")
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if won {
		t.Error("Evaluate() won against an empty catalog")
	}
}

func Test_service_grantBadge(t *testing.T) {
	svc, repo := setup(t, requiredModules()...)
	getRecord(t, svc, "awe")

	tests := []struct {
		name    string
		badgeID string
		want    progress.Outcome
		wantErr error
	}{
		{name: "unknown badge", badgeID: "lol", wantErr: progress.ErrUnknownBadge},
		{name: "grant", badgeID: progress.BadgeMaxLevel, want: progress.OutcomeApplied},
		{name: "re-grant", badgeID: progress.BadgeMaxLevel, want: progress.OutcomeAlreadyDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := svc.GrantBadge(ctx, "awe", tt.badgeID)
			if tt.wantErr != nil {
				if errors.Cause(err) != tt.wantErr {
					t.Errorf("GrantBadge() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("GrantBadge() failed: %v", err)
			}
			if out != tt.want {
				t.Errorf("outcome = %s, want %s", out, tt.want)
			}
		})
	}

	rec := getRecord(t, svc, "awe")
	if rec.Points != 250 {
		t.Errorf("points = %d, want 250", rec.Points)
	}
	if counts := notifCountByType(t, repo, "awe"); counts[core.NotificationTypeBadge] != 1 {
		t.Errorf("badge notifications = %d, want 1", counts[core.NotificationTypeBadge])
	}
}

func Test_service_grantBadgeNoCatalog(t *testing.T) {
	svc, _ := setupWithBadges(t, progress.NewBadgeCatalog())

	_, err := svc.GrantBadge(ctx, "awe", progress.BadgeMaxLevel)
	if errors.Cause(err) != progress.ErrCatalogUnavailable {
		t.Errorf("GrantBadge() error = %v, want %v", err, progress.ErrCatalogUnavailable)
	}
}

func Test_service_reconcileMaxLevel(t *testing.T) {
	svc, _ := setup(t, requiredModules()...)
	getRecord(t, svc, "awe") // enroll

	// quizzes push points past the threshold without any completion check
	for _, q := range []string{"q1", "q2", "q3", "q4"} {
		if _, err := svc.MarkQuizDone(ctx, "awe", q, 250); err != nil {
			t.Fatalf("MarkQuizDone() failed: %v", err)
		}
	}
	rec := getRecord(t, svc, "awe")
	if rec.HasBadge(progress.BadgeMaxLevel) {
		t.Fatal("max-level granted before reconciliation")
	}
	// 4x250 + first-steps (50)
	if rec.Points != 1050 {
		t.Fatalf("points = %d, want 1050", rec.Points)
	}

	if err := svc.Reconcile(ctx, "awe"); err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	rec = getRecord(t, svc, "awe")
	if !rec.HasBadge(progress.BadgeMaxLevel) {
		t.Errorf("badges = %v, want max-level", rec.Badges)
	}
	if rec.Points != 1300 {
		t.Errorf("points = %d, want 1300", rec.Points)
	}

	// reconciliation is idempotent
	if err := svc.Reconcile(ctx, "awe"); err != nil {
		t.Fatalf("Reconcile() retry failed: %v", err)
	}
	if rec = getRecord(t, svc, "awe"); rec.Points != 1300 {
		t.Errorf("points after retry = %d, want 1300", rec.Points)
	}
}

func Test_service_evaluateExactlyOnce(t *testing.T) {
	svc, repo := setup(t, progress.Module{ID: "m1", IsRequired: true, Points: 100})
	getRecord(t, svc, "awe")

	// seed the required module without triggering an evaluation
	if _, err := repo.AddItem(ctx, "awe", progress.ItemModule, "m1", 100); err != nil {
		t.Fatalf("AddItem() failed: %v", err)
	}

	const n = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			won, err := svc.Evaluate(ctx, "awe")
			if err != nil {
				t.Errorf("Evaluate() failed: %v", err)
				return
			}
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if counts := notifCountByType(t, repo, "awe"); counts[core.NotificationTypeCompletion] != 1 {
		t.Errorf("completion notifications = %d, want 1", counts[core.NotificationTypeCompletion])
	}
	if _, err := svc.GetCertificate(ctx, "awe"); err != nil {
		t.Errorf("GetCertificate() failed: %v", err)
	}
}

func Test_service_issueCompletionCertificate(t *testing.T) {
	svc, _ := setup(t, progress.Module{ID: "m1", IsRequired: true, Points: 100})
	getRecord(t, svc, "awe")

	if _, err := svc.GetCertificate(ctx, "awe"); errors.Cause(err) != progress.ErrCertificateNotFound {
		t.Errorf("GetCertificate() error = %v, want %v", err, progress.ErrCertificateNotFound)
	}
	if _, err := svc.IssueCompletionCertificate(ctx, "awe", time.Now()); errors.Cause(err) != progress.ErrNotCompleted {
		t.Errorf("IssueCompletionCertificate() error = %v, want %v", err, progress.ErrNotCompleted)
	}

	if _, err := svc.MarkModuleDone(ctx, "awe", "m1", 100); err != nil {
		t.Fatalf("MarkModuleDone() failed: %v", err)
	}
	cert, err := svc.GetCertificate(ctx, "awe")
	if err != nil {
		t.Fatalf("GetCertificate() failed: %v", err)
	}

	// replays return the certificate already on record
	rec := getRecord(t, svc, "awe")
	again, err := svc.IssueCompletionCertificate(ctx, "awe", rec.CompletionDetails.CompletedAt)
	if err != nil {
		t.Fatalf("IssueCompletionCertificate() replay failed: %v", err)
	}
	if again.Number != cert.Number || again.ID != cert.ID {
		t.Errorf("replay issued a new certificate: %+v != %+v", again, cert)
	}
}

func Test_service_acknowledgeFeedbackPrompt(t *testing.T) {
	svc, _ := setup(t, progress.Module{ID: "m1", IsRequired: true, Points: 100})
	getRecord(t, svc, "awe")

	if out, err := svc.AcknowledgeFeedbackPrompt(ctx, "awe"); err != nil || out != progress.OutcomeAlreadyDone {
		t.Errorf("AcknowledgeFeedbackPrompt() = (%s, %v), want (already_done, nil)", out, err)
	}

	if _, err := svc.MarkModuleDone(ctx, "awe", "m1", 100); err != nil {
		t.Fatalf("MarkModuleDone() failed: %v", err)
	}
	if rec := getRecord(t, svc, "awe"); !rec.FeedbackPromptPending {
		t.Fatal("feedback prompt not raised by completion")
	}

	if out, err := svc.AcknowledgeFeedbackPrompt(ctx, "awe"); err != nil || out != progress.OutcomeApplied {
		t.Errorf("AcknowledgeFeedbackPrompt() = (%s, %v), want (applied, nil)", out, err)
	}
	if rec := getRecord(t, svc, "awe"); rec.FeedbackPromptPending {
		t.Error("feedback prompt still raised")
	}
	if out, _ := svc.AcknowledgeFeedbackPrompt(ctx, "awe"); out != progress.OutcomeAlreadyDone {
		t.Errorf("outcome = %s, want already_done", out)
	}
}
