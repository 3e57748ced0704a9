package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shigotoba/paygate/internal/arrears/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, accountID, taskID snowflake.ID) (*domain.Arrear, error) {
	var item domain.Arrear
	err := db.WithContext(ctx).Raw(
		`SELECT id, ai_account_id, task_id, amount_minor, currency, reason, status, due_at, created_at, updated_at
		 FROM payment_arrears
		 WHERE ai_account_id = ? AND task_id = ? AND status IN (?, ?)
		 ORDER BY created_at ASC
		 LIMIT 1`,
		accountID,
		taskID,
		domain.ArrearStatusOpen,
		domain.ArrearStatusCollecting,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, arrear *domain.Arrear) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_arrears (
			id, ai_account_id, task_id, amount_minor, currency,
			reason, status, due_at, created_at, updated_at
		)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM payment_arrears
			WHERE ai_account_id = ? AND task_id = ? AND status IN (?, ?)
		)`,
		arrear.ID,
		arrear.AIAccountID,
		arrear.TaskID,
		arrear.AmountMinor,
		arrear.Currency,
		arrear.Reason,
		arrear.Status,
		arrear.DueAt,
		arrear.CreatedAt,
		arrear.UpdatedAt,
		arrear.AIAccountID,
		arrear.TaskID,
		domain.ArrearStatusOpen,
		domain.ArrearStatusCollecting,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) PromoteDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_arrears
		 SET status = ?, updated_at = ?
		 WHERE id IN (
			SELECT id FROM payment_arrears
			WHERE status = ? AND due_at <= ?
			ORDER BY due_at ASC
			LIMIT ?
		 )`,
		domain.ArrearStatusCollecting,
		now,
		domain.ArrearStatusOpen,
		now,
		limit,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) AccountsOverThreshold(ctx context.Context, db *gorm.DB, threshold int64) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT ai_account_id
		 FROM payment_arrears
		 WHERE status = ?
		 GROUP BY ai_account_id
		 HAVING SUM(amount_minor) >= ?`,
		domain.ArrearStatusCollecting,
		threshold,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
