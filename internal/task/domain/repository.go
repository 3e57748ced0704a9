package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, taskID snowflake.ID) (*Task, error)
	MarkPaid(ctx context.Context, db *gorm.DB, taskID snowflake.ID, now time.Time) error
	MarkPaymentFailed(ctx context.Context, db *gorm.DB, taskID snowflake.ID, message string, now time.Time) error
	// MarkCompleted closes out a review_pending task and stamps the review
	// window. Returns false when the task already left review_pending.
	MarkCompleted(ctx context.Context, db *gorm.DB, taskID snowflake.ID, now, reviewWindowEndsAt time.Time) (bool, error)
	// MarkTimedOut fails an open or accepted task and closes its contact
	// channel. Returns false when the task already moved on.
	MarkTimedOut(ctx context.Context, db *gorm.DB, taskID snowflake.ID, now time.Time) (bool, error)
	// FetchReviewPending returns review_pending tasks oldest-first; dueness
	// is decided by the caller against the resolved review deadline.
	FetchReviewPending(ctx context.Context, db *gorm.DB, limit int) ([]Task, error)
	// FetchDeadlineCandidates returns open/accepted tasks that carry any
	// deadline signal; expiry is decided by the caller.
	FetchDeadlineCandidates(ctx context.Context, db *gorm.DB, limit int) ([]Task, error)
}
