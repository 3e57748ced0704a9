package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, auth *Authorization) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Authorization, error)
	// FindActiveByOrder returns the standing authorization for an order
	// version, or nil. Expired and canceled rows are ignored.
	FindActiveByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID, orderVersion int) (*Authorization, error)
	// ClaimCapture moves a retryable authorization into capture_pending and
	// bumps attempt_count in the same statement. The affected-row count says
	// whether this caller owns the attempt.
	ClaimCapture(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	MarkCaptured(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	MarkCaptureFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, nextRetryAt *time.Time, now time.Time) (bool, error)
	MarkExpired(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	// FetchDueRetries returns capture_failed authorizations whose
	// next_retry_at has passed, oldest due first.
	FetchDueRetries(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Authorization, error)
}
