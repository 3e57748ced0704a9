package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert writes the order if no row with the same (id, version) exists.
	// Returns false when the row was already there.
	Insert(ctx context.Context, db *gorm.DB, order *Order) (bool, error)
	Find(ctx context.Context, db *gorm.DB, orderID snowflake.ID, version int) (*Order, error)
	// FindLatestByTask returns the highest-version order for a task, or nil.
	FindLatestByTask(ctx context.Context, db *gorm.DB, taskID snowflake.ID) (*Order, error)
	// ListByAccount pages through an account's ledger rows, newest first.
	// The cursor position is exclusive; afterID 0 starts from the top.
	ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, afterID snowflake.ID, afterVersion int, limit int) ([]*Order, error)
	// TransitionStatus applies status only when the row is currently in one
	// of the from states. The affected-row count is the claim signal; losers
	// must re-read, never overwrite.
	TransitionStatus(ctx context.Context, db *gorm.DB, orderID snowflake.ID, version int, from []OrderStatus, to OrderStatus, now time.Time) (bool, error)
	SetPaymentIntent(ctx context.Context, db *gorm.DB, orderID snowflake.ID, version int, intentID string, now time.Time) error
	// MarkMismatch freezes the order in failed_mismatch with a structured
	// reason, only from a non-terminal state.
	MarkMismatch(ctx context.Context, db *gorm.DB, orderID snowflake.ID, version int, reason datatypes.JSON, now time.Time) (bool, error)
}
