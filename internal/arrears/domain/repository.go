package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// FindActive returns the open or collecting arrear for (account, task),
	// or nil when none exists.
	FindActive(ctx context.Context, db *gorm.DB, accountID, taskID snowflake.ID) (*Arrear, error)
	// InsertIfAbsent writes the arrear only when no active one exists for the
	// same (account, task). Returns false when the guard rejected the insert.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, arrear *Arrear) (bool, error)
	// PromoteDue moves open arrears past due_at into collecting.
	PromoteDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) (int64, error)
	// AccountsOverThreshold lists accounts whose collecting total meets the
	// threshold in minor units.
	AccountsOverThreshold(ctx context.Context, db *gorm.DB, threshold int64) ([]snowflake.ID, error)
}
