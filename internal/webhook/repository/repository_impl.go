package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shigotoba/paygate/internal/webhook/domain"
	pkgdb "github.com/shigotoba/paygate/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.InboxEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO stripe_webhook_events (
			id, provider_event_id, event_type, payload, status,
			error_message, received_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider_event_id) DO NOTHING`,
		event.ID,
		event.ProviderEventID,
		event.EventType,
		event.Payload,
		event.Status,
		event.ErrorMessage,
		event.ReceivedAt,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if res.Error != nil {
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FetchPending(ctx context.Context, db *gorm.DB, limit int) ([]domain.InboxEvent, error) {
	var items []domain.InboxEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider_event_id, event_type, payload, status,
			error_message, received_at, processed_at, created_at, updated_at
		 FROM stripe_webhook_events
		 WHERE status = ?
		 ORDER BY received_at ASC
		 LIMIT ?`,
		domain.EventStatusPending,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE stripe_webhook_events
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.EventStatusProcessing,
		now,
		id,
		domain.EventStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE stripe_webhook_events
		 SET status = ?, error_message = '', processed_at = ?, updated_at = ?
		 WHERE id = ?`,
		domain.EventStatusProcessed,
		now,
		now,
		id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE stripe_webhook_events
		 SET status = ?, error_message = ?, processed_at = ?, updated_at = ?
		 WHERE id = ?`,
		domain.EventStatusFailed,
		message,
		now,
		now,
		id,
	).Error
}
