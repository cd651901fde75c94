package dummydb

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/karibu/core"
	"github.com/trezcool/karibu/core/progress"
)

type progressRepository struct {
	db *progressTable
}

var (
	_ progress.Repository         = (*progressRepository)(nil) // interface compliance check
	_ core.NotificationRepository = (*progressRepository)(nil)
)

func NewProgressRepository(db *DB) *progressRepository {
	return &progressRepository{db: db.progress}
}

// clone guards callers against aliasing the stored record.
func clone(rec *progress.Record) progress.Record {
	out := *rec
	out.CompletedModules = append([]string(nil), rec.CompletedModules...)
	out.CompletedPageQuizzes = append([]string(nil), rec.CompletedPageQuizzes...)
	out.Badges = append([]string(nil), rec.Badges...)
	if rec.CompletionDetails != nil {
		det := *rec.CompletionDetails
		out.CompletionDetails = &det
	}
	return out
}

func certKey(userID, marker string) string { return userID + "\x00" + marker }

func (repo *progressRepository) CreateRecord(_ context.Context, rec progress.Record, _ ...core.DBExecutor) (progress.Record, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.records[rec.UserID]; ok {
		return progress.Record{}, progress.ErrRecordExists
	}
	stored := clone(&rec)
	repo.db.records[rec.UserID] = &stored
	return clone(&stored), nil
}

func (repo *progressRepository) GetRecord(_ context.Context, userID string, _ ...core.DBExecutor) (progress.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	rec, ok := repo.db.records[userID]
	if !ok {
		return progress.Record{}, progress.ErrRecordNotFound
	}
	return clone(rec), nil
}

func (repo *progressRepository) AddItem(_ context.Context, userID string, kind progress.ItemKind, itemID string, pointValue int, _ ...core.DBExecutor) (bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	rec, ok := repo.db.records[userID]
	if !ok {
		return false, progress.ErrRecordNotFound
	}

	var set *[]string
	switch kind {
	case progress.ItemModule:
		set = &rec.CompletedModules
	case progress.ItemPageQuiz:
		set = &rec.CompletedPageQuizzes
	case progress.ItemBadge:
		set = &rec.Badges
	default:
		return false, progress.ErrRecordNotFound
	}

	for _, id := range *set {
		if id == itemID {
			return false, nil
		}
	}
	*set = append(*set, itemID)
	rec.Points += pointValue
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (repo *progressRepository) CompleteOnboarding(_ context.Context, userID string, det progress.CompletionDetails, _ ...core.DBExecutor) (bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	rec, ok := repo.db.records[userID]
	if !ok {
		return false, progress.ErrRecordNotFound
	}
	if rec.OnboardingCompleted {
		return false, nil
	}
	d := det
	rec.OnboardingCompleted = true
	rec.CompletionDetails = &d
	rec.FeedbackPromptPending = true
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (repo *progressRepository) ClearFeedbackPrompt(_ context.Context, userID string, _ ...core.DBExecutor) (bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	rec, ok := repo.db.records[userID]
	if !ok {
		return false, progress.ErrRecordNotFound
	}
	if !rec.FeedbackPromptPending {
		return false, nil
	}
	rec.FeedbackPromptPending = false
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (repo *progressRepository) CreateCertificate(_ context.Context, cert progress.Certificate, _ ...core.DBExecutor) (progress.Certificate, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := certKey(cert.UserID, cert.Marker)
	if _, ok := repo.db.certificates[key]; ok {
		return progress.Certificate{}, progress.ErrCertificateExists
	}
	if cert.ID == "" {
		cert.ID = uuid.New().String()
	}
	stored := cert
	repo.db.certificates[key] = &stored
	return stored, nil
}

func (repo *progressRepository) GetCertificate(_ context.Context, userID, marker string, _ ...core.DBExecutor) (progress.Certificate, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	cert, ok := repo.db.certificates[certKey(userID, marker)]
	if !ok {
		return progress.Certificate{}, progress.ErrCertificateNotFound
	}
	return *cert, nil
}

func (repo *progressRepository) CreateNotification(_ context.Context, notif core.Notification, _ ...core.DBExecutor) (core.Notification, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if notif.ID == "" {
		notif.ID = uuid.New().String()
	}
	if notif.CreatedAt.IsZero() {
		notif.CreatedAt = time.Now().UTC()
	}
	stored := notif
	repo.db.notifications[notif.UserID] = append(repo.db.notifications[notif.UserID], &stored)
	return stored, nil
}

func (repo *progressRepository) QueryUserNotifications(_ context.Context, userID string, _ ...core.DBExecutor) ([]core.Notification, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	stored := repo.db.notifications[userID]
	notifs := make([]core.Notification, 0, len(stored))
	for _, n := range stored {
		notifs = append(notifs, *n)
	}
	return notifs, nil
}
