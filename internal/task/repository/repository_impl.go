package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shigotoba/paygate/internal/task/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, taskID snowflake.ID) (*domain.Task, error) {
	var item domain.Task
	err := db.WithContext(ctx).Raw(
		`SELECT id, ai_account_id, status, paid_status, payment_error_message,
			deadline_minutes, deadline_at, review_pending_at, review_pending_deadline_at,
			completed_at, review_window_ends_at, failure_reason, contact_channel_open,
			created_at, updated_at
		 FROM tasks
		 WHERE id = ?
		 LIMIT 1`,
		taskID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, taskID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tasks
		 SET paid_status = ?, payment_error_message = '', updated_at = ?
		 WHERE id = ?`,
		domain.PaidStatusPaid,
		now,
		taskID,
	).Error
}

func (r *repo) MarkPaymentFailed(ctx context.Context, db *gorm.DB, taskID snowflake.ID, message string, now time.Time) error {
	// Never downgrade a task that already settled.
	return db.WithContext(ctx).Exec(
		`UPDATE tasks
		 SET paid_status = ?, payment_error_message = ?, updated_at = ?
		 WHERE id = ? AND paid_status <> ?`,
		domain.PaidStatusFailed,
		message,
		now,
		taskID,
		domain.PaidStatusPaid,
	).Error
}

func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, taskID snowflake.ID, now, reviewWindowEndsAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE tasks
		 SET status = ?, completed_at = ?, review_window_ends_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.TaskStatusCompleted,
		now,
		reviewWindowEndsAt,
		now,
		taskID,
		domain.TaskStatusReviewPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkTimedOut(ctx context.Context, db *gorm.DB, taskID snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE tasks
		 SET status = ?, failure_reason = ?, contact_channel_open = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.TaskStatusFailed,
		domain.FailureReasonTimeout,
		false,
		now,
		taskID,
		domain.TaskStatusOpen,
		domain.TaskStatusAccepted,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FetchReviewPending(ctx context.Context, db *gorm.DB, limit int) ([]domain.Task, error) {
	var items []domain.Task
	err := db.WithContext(ctx).Raw(
		`SELECT id, ai_account_id, status, paid_status, payment_error_message,
			deadline_minutes, deadline_at, review_pending_at, review_pending_deadline_at,
			completed_at, review_window_ends_at, failure_reason, contact_channel_open,
			created_at, updated_at
		 FROM tasks
		 WHERE status = ?
		 ORDER BY updated_at ASC
		 LIMIT ?`,
		domain.TaskStatusReviewPending,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FetchDeadlineCandidates(ctx context.Context, db *gorm.DB, limit int) ([]domain.Task, error) {
	var items []domain.Task
	err := db.WithContext(ctx).Raw(
		`SELECT id, ai_account_id, status, paid_status, payment_error_message,
			deadline_minutes, deadline_at, review_pending_at, review_pending_deadline_at,
			completed_at, review_window_ends_at, failure_reason, contact_channel_open,
			created_at, updated_at
		 FROM tasks
		 WHERE status IN (?, ?) AND (deadline_at IS NOT NULL OR deadline_minutes > 0)
		 ORDER BY created_at ASC
		 LIMIT ?`,
		domain.TaskStatusOpen,
		domain.TaskStatusAccepted,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
