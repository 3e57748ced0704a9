package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertEvent appends the event unless its provider event id was already
	// seen. Returns false on the duplicate.
	InsertEvent(ctx context.Context, db *gorm.DB, event *InboxEvent) (bool, error)
	// FetchPending returns pending events oldest-first.
	FetchPending(ctx context.Context, db *gorm.DB, limit int) ([]InboxEvent, error)
	// Claim flips pending to processing. The affected-row count is the claim
	// signal; a false return means another worker owns the event.
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, now time.Time) error
}
