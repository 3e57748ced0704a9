package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	// SetStripeCustomerID persists the provider customer mapping once; a
	// concurrent writer that already set it wins and the stored value is
	// returned by a fresh FindByID.
	SetStripeCustomerID(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID string, now time.Time) (bool, error)
	SetAPIAccessSuspended(ctx context.Context, db *gorm.DB, id snowflake.ID, suspended bool, now time.Time) error
}
