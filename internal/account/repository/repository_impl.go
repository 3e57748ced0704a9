package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shigotoba/paygate/internal/account/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var item domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT id, display_name, country, status, stripe_customer_id,
			default_payment_method, api_access_suspended, created_at, updated_at
		 FROM ai_accounts
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) SetStripeCustomerID(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE ai_accounts
		 SET stripe_customer_id = ?, updated_at = ?
		 WHERE id = ? AND (stripe_customer_id IS NULL OR stripe_customer_id = '')`,
		customerID,
		now,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetAPIAccessSuspended(ctx context.Context, db *gorm.DB, id snowflake.ID, suspended bool, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE ai_accounts
		 SET api_access_suspended = ?, updated_at = ?
		 WHERE id = ?`,
		suspended,
		now,
		id,
	).Error
}
