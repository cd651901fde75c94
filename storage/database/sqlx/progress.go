package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/karibu/core"
	"github.com/trezcool/karibu/core/progress"
)

// postgres error codes of interest
const (
	pgUniqueViolation     = pq.ErrorCode("23505")
	pgForeignKeyViolation = pq.ErrorCode("23503")
)

type progressRepository struct {
	db *sqlx.DB
}

var (
	_ progress.Repository         = (*progressRepository)(nil) // interface compliance check
	_ core.NotificationRepository = (*progressRepository)(nil)
)

func NewProgressRepository(db *sqlx.DB) *progressRepository {
	return &progressRepository{db: db}
}

type progressRow struct {
	UserID                string    `db:"user_id"`
	Points                int       `db:"points"`
	OnboardingCompleted   bool      `db:"onboarding_completed"`
	CompletedAt           null.Time `db:"completed_at"`
	DaysToComplete        null.Int  `db:"days_to_complete"`
	WasOverdue            null.Bool `db:"was_overdue"`
	FeedbackPromptPending bool      `db:"feedback_prompt_pending"`
	EnrollmentStartedAt   time.Time `db:"enrollment_started_at"`
	CreatedAt             time.Time `db:"created_at"`
	UpdatedAt             time.Time `db:"updated_at"`
}

type itemRow struct {
	Kind   string `db:"kind"`
	ItemID string `db:"item_id"`
}

func (repo progressRepository) unrow(row progressRow, items []itemRow) progress.Record {
	rec := progress.Record{
		UserID:                row.UserID,
		Points:                row.Points,
		OnboardingCompleted:   row.OnboardingCompleted,
		FeedbackPromptPending: row.FeedbackPromptPending,
		EnrollmentStartedAt:   row.EnrollmentStartedAt.UTC(),
		CreatedAt:             row.CreatedAt.UTC(),
		UpdatedAt:             row.UpdatedAt.UTC(),
	}
	if row.OnboardingCompleted && row.CompletedAt.Valid {
		rec.CompletionDetails = &progress.CompletionDetails{
			CompletedAt:    row.CompletedAt.Time.UTC(),
			DaysToComplete: row.DaysToComplete.Int,
			WasOverdue:     row.WasOverdue.Bool,
		}
	}
	for _, it := range items {
		switch progress.ItemKind(it.Kind) {
		case progress.ItemModule:
			rec.CompletedModules = append(rec.CompletedModules, it.ItemID)
		case progress.ItemPageQuiz:
			rec.CompletedPageQuizzes = append(rec.CompletedPageQuizzes, it.ItemID)
		case progress.ItemBadge:
			rec.Badges = append(rec.Badges, it.ItemID)
		}
	}
	return rec
}

// trapNoRowsErr maps psql "no rows" err to notFound
func trapNoRowsErr(err, notFound error, msg string) error {
	if err == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func pqCode(err error) pq.ErrorCode {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok {
		return pqErr.Code
	}
	return ""
}

func (repo progressRepository) CreateRecord(ctx context.Context, rec progress.Record, _ ...core.DBExecutor) (progress.Record, error) {
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO progress (user_id, points, enrollment_started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)`,
		rec.UserID, rec.Points, rec.EnrollmentStartedAt.UTC(), rec.CreatedAt.UTC(),
	)
	if err != nil {
		if pqCode(err) == pgUniqueViolation {
			return progress.Record{}, progress.ErrRecordExists
		}
		return progress.Record{}, errors.Wrap(err, "inserting progress record")
	}
	return repo.GetRecord(ctx, rec.UserID)
}

func (repo progressRepository) GetRecord(ctx context.Context, userID string, _ ...core.DBExecutor) (progress.Record, error) {
	var row progressRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM progress WHERE user_id = $1`, userID); err != nil {
		return progress.Record{}, trapNoRowsErr(err, progress.ErrRecordNotFound, "finding progress record")
	}

	var items []itemRow
	err := repo.db.SelectContext(ctx, &items, `
		SELECT kind, item_id FROM progress_item
		WHERE user_id = $1
		ORDER BY created_at, item_id`, userID)
	if err != nil {
		return progress.Record{}, errors.Wrap(err, "querying progress items")
	}
	return repo.unrow(row, items), nil
}

// AddItem relies on the primary key of progress_item for idempotency: the
// insert and the points increment run in one transaction, and the increment
// only runs when the insert actually inserted.
func (repo progressRepository) AddItem(ctx context.Context, userID string, kind progress.ItemKind, itemID string, pointValue int, _ ...core.DBExecutor) (bool, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO progress_item (user_id, kind, item_id, point_value, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id, kind, item_id) DO NOTHING`,
		userID, string(kind), itemID, pointValue,
	)
	if err != nil {
		if pqCode(err) == pgForeignKeyViolation {
			return false, progress.ErrRecordNotFound
		}
		return false, errors.Wrap(err, "inserting progress item")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "inserting progress item")
	}
	if n == 0 {
		return false, nil // already done
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE progress SET points = points + $2, updated_at = now()
		WHERE user_id = $1`,
		userID, pointValue,
	)
	if err != nil {
		return false, errors.Wrap(err, "incrementing points")
	}
	if err = tx.Commit(); err != nil {
		return false, errors.Wrap(err, "committing progress item")
	}
	return true, nil
}

// CompleteOnboarding re-checks the flag as part of the update itself, so of
// any number of concurrent callers exactly one sees won=true.
func (repo progressRepository) CompleteOnboarding(ctx context.Context, userID string, det progress.CompletionDetails, _ ...core.DBExecutor) (bool, error) {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE progress
		SET onboarding_completed = true,
		    completed_at = $2,
		    days_to_complete = $3,
		    was_overdue = $4,
		    feedback_prompt_pending = true,
		    updated_at = now()
		WHERE user_id = $1 AND NOT onboarding_completed`,
		userID, det.CompletedAt.UTC(), det.DaysToComplete, det.WasOverdue,
	)
	if err != nil {
		return false, errors.Wrap(err, "completing onboarding")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "completing onboarding")
	}
	if n == 1 {
		return true, nil
	}

	// lost the race, or no record at all
	var exists bool
	if err = repo.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM progress WHERE user_id = $1)`, userID); err != nil {
		return false, errors.Wrap(err, "checking progress record")
	}
	if !exists {
		return false, progress.ErrRecordNotFound
	}
	return false, nil
}

func (repo progressRepository) ClearFeedbackPrompt(ctx context.Context, userID string, _ ...core.DBExecutor) (bool, error) {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE progress SET feedback_prompt_pending = false, updated_at = now()
		WHERE user_id = $1 AND feedback_prompt_pending`,
		userID,
	)
	if err != nil {
		return false, errors.Wrap(err, "clearing feedback prompt")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "clearing feedback prompt")
	}
	return n == 1, nil
}

type certificateRow struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	Marker      string    `db:"marker"`
	CompletedAt time.Time `db:"completed_at"`
	Number      string    `db:"certificate_number"`
	CreatedAt   time.Time `db:"created_at"`
}

func (repo progressRepository) uncertRow(row certificateRow) progress.Certificate {
	return progress.Certificate{
		ID:          row.ID,
		UserID:      row.UserID,
		Marker:      row.Marker,
		CompletedAt: row.CompletedAt.UTC(),
		Number:      row.Number,
		CreatedAt:   row.CreatedAt.UTC(),
	}
}

func (repo progressRepository) CreateCertificate(ctx context.Context, cert progress.Certificate, _ ...core.DBExecutor) (progress.Certificate, error) {
	if cert.ID == "" {
		cert.ID = uuid.New().String()
	}
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO certificate (id, user_id, marker, completed_at, certificate_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		cert.ID, cert.UserID, cert.Marker, cert.CompletedAt.UTC(), cert.Number, cert.CreatedAt.UTC(),
	)
	if err != nil {
		if pqCode(err) == pgUniqueViolation {
			return progress.Certificate{}, progress.ErrCertificateExists
		}
		return progress.Certificate{}, errors.Wrap(err, "inserting certificate")
	}
	return cert, nil
}

func (repo progressRepository) GetCertificate(ctx context.Context, userID, marker string, _ ...core.DBExecutor) (progress.Certificate, error) {
	var row certificateRow
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM certificate WHERE user_id = $1 AND marker = $2`, userID, marker)
	if err != nil {
		return progress.Certificate{}, trapNoRowsErr(err, progress.ErrCertificateNotFound, "finding certificate")
	}
	return repo.uncertRow(row), nil
}

type notificationRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Message   string    `db:"message"`
	Link      string    `db:"link"`
	Type      string    `db:"type"`
	CreatedAt time.Time `db:"created_at"`
}

func (repo progressRepository) CreateNotification(ctx context.Context, notif core.Notification, _ ...core.DBExecutor) (core.Notification, error) {
	if notif.ID == "" {
		notif.ID = uuid.New().String()
	}
	if notif.CreatedAt.IsZero() {
		notif.CreatedAt = time.Now().UTC()
	}
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO notification (id, user_id, message, link, type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		notif.ID, notif.UserID, notif.Message, notif.Link, notif.Type, notif.CreatedAt.UTC(),
	)
	if err != nil {
		return core.Notification{}, errors.Wrap(err, "inserting notification")
	}
	return notif, nil
}

func (repo progressRepository) QueryUserNotifications(ctx context.Context, userID string, _ ...core.DBExecutor) ([]core.Notification, error) {
	var rows []notificationRow
	err := repo.db.SelectContext(ctx, &rows, `
		SELECT * FROM notification WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}
	notifs := make([]core.Notification, 0, len(rows))
	for _, row := range rows {
		notifs = append(notifs, core.Notification{
			ID:        row.ID,
			UserID:    row.UserID,
			Message:   row.Message,
			Link:      row.Link,
			Type:      row.Type,
			CreatedAt: row.CreatedAt.UTC(),
		})
	}
	return notifs, nil
}
