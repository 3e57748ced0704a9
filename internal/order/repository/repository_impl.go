package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shigotoba/paygate/internal/order/domain"
	pkgdb "github.com/shigotoba/paygate/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO orders (
			id, version, ai_account_id, task_id, currency,
			base_amount, fx_cost, platform_fee, total_amount_jpy,
			payer_country, payee_country, destination_account,
			status, payment_intent_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id, version) DO NOTHING`,
		order.ID,
		order.Version,
		order.AIAccountID,
		order.TaskID,
		order.Currency,
		order.BaseAmount,
		order.FxCost,
		order.PlatformFee,
		order.TotalAmountJPY,
		order.PayerCountry,
		order.PayeeCountry,
		order.DestinationAccount,
		order.Status,
		order.PaymentIntentID,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if res.Error != nil {
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, orderID snowflake.ID, version int) (*domain.Order, error) {
	var item domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, version, ai_account_id, task_id, currency,
			base_amount, fx_cost, platform_fee, total_amount_jpy,
			payer_country, payee_country, destination_account,
			status, payment_intent_id, mismatch_reason, created_at, updated_at
		 FROM orders
		 WHERE id = ? AND version = ?
		 LIMIT 1`,
		orderID,
		version,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindLatestByTask(ctx context.Context, db *gorm.DB, taskID snowflake.ID) (*domain.Order, error) {
	var item domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, version, ai_account_id, task_id, currency,
			base_amount, fx_cost, platform_fee, total_amount_jpy,
			payer_country, payee_country, destination_account,
			status, payment_intent_id, mismatch_reason, created_at, updated_at
		 FROM orders
		 WHERE task_id = ?
		 ORDER BY version DESC
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

func (r *repo) ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, afterID snowflake.ID, afterVersion int, limit int) ([]*domain.Order, error) {
	var items []*domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, version, ai_account_id, task_id, currency,
			base_amount, fx_cost, platform_fee, total_amount_jpy,
			payer_country, payee_country, destination_account,
			status, payment_intent_id, mismatch_reason, created_at, updated_at
		 FROM orders
		 WHERE ai_account_id = ?
		   AND (? = 0 OR id < ? OR (id = ? AND version < ?))
		 ORDER BY id DESC, version DESC
		 LIMIT ?`,
		accountID,
		afterID,
		afterID,
		afterID,
		afterVersion,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) TransitionStatus(ctx context.Context, db *gorm.DB, orderID snowflake.ID, version int, from []domain.OrderStatus, to domain.OrderStatus, now time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	args := []any{to, now, orderID, version}
	for _, status := range from {
		args = append(args, status)
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND version = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetPaymentIntent(ctx context.Context, db *gorm.DB, orderID snowflake.ID, version int, intentID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET payment_intent_id = ?, updated_at = ?
		 WHERE id = ? AND version = ? AND (payment_intent_id IS NULL OR payment_intent_id = '' OR payment_intent_id = ?)`,
		intentID,
		now,
		orderID,
		version,
		intentID,
	).Error
}

func (r *repo) MarkMismatch(ctx context.Context, db *gorm.DB, orderID snowflake.ID, version int, reason datatypes.JSON, now time.Time) (bool, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(domain.NonTerminalStatuses)), ",")
	args := []any{domain.OrderStatusFailedMismatch, reason, now, orderID, version}
	for _, status := range domain.NonTerminalStatuses {
		args = append(args, status)
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, mismatch_reason = ?, updated_at = ?
		 WHERE id = ? AND version = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
