package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shigotoba/paygate/internal/payment/domain"
	"gorm.io/gorm"
)

const authColumns = `id, ai_account_id, order_id, order_version, payment_intent_id,
	amount_minor, currency, status, capture_before, attempt_count,
	next_retry_at, last_error, captured_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, auth *domain.Authorization) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_authorizations (`+authColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		auth.ID,
		auth.AIAccountID,
		auth.OrderID,
		auth.OrderVersion,
		auth.PaymentIntentID,
		auth.AmountMinor,
		auth.Currency,
		auth.Status,
		auth.CaptureBefore,
		auth.AttemptCount,
		auth.NextRetryAt,
		auth.LastError,
		auth.CapturedAt,
		auth.CreatedAt,
		auth.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Authorization, error) {
	var item domain.Authorization
	err := db.WithContext(ctx).Raw(
		`SELECT `+authColumns+` FROM payment_authorizations WHERE id = ? LIMIT 1`,
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

func (r *repo) FindActiveByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID, orderVersion int) (*domain.Authorization, error) {
	var item domain.Authorization
	err := db.WithContext(ctx).Raw(
		`SELECT `+authColumns+`
		 FROM payment_authorizations
		 WHERE order_id = ? AND order_version = ? AND status IN (?, ?, ?, ?)
		 ORDER BY created_at DESC
		 LIMIT 1`,
		orderID,
		orderVersion,
		domain.AuthorizationStatusAuthorized,
		domain.AuthorizationStatusCapturePending,
		domain.AuthorizationStatusCaptured,
		domain.AuthorizationStatusCaptureFailed,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ClaimCapture(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_authorizations
		 SET status = ?, attempt_count = attempt_count + 1, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.AuthorizationStatusCapturePending,
		now,
		id,
		domain.AuthorizationStatusAuthorized,
		domain.AuthorizationStatusCaptureFailed,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkCaptured(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_authorizations
		 SET status = ?, captured_at = ?, last_error = '', next_retry_at = NULL, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.AuthorizationStatusCaptured,
		now,
		now,
		id,
		domain.AuthorizationStatusCapturePending,
		domain.AuthorizationStatusAuthorized,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkCaptureFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, lastError string, nextRetryAt *time.Time, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_authorizations
		 SET status = ?, last_error = ?, next_retry_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.AuthorizationStatusCaptureFailed,
		lastError,
		nextRetryAt,
		now,
		id,
		domain.AuthorizationStatusCapturePending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkExpired(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_authorizations
		 SET status = ?, next_retry_at = NULL, updated_at = ?
		 WHERE id = ? AND status IN (?, ?, ?)`,
		domain.AuthorizationStatusExpired,
		now,
		id,
		domain.AuthorizationStatusAuthorized,
		domain.AuthorizationStatusCapturePending,
		domain.AuthorizationStatusCaptureFailed,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FetchDueRetries(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Authorization, error) {
	var items []domain.Authorization
	err := db.WithContext(ctx).Raw(
		`SELECT `+authColumns+`
		 FROM payment_authorizations
		 WHERE status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		 ORDER BY next_retry_at ASC
		 LIMIT ?`,
		domain.AuthorizationStatusCaptureFailed,
		now,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
