package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusProcessed  EventStatus = "processed"
	EventStatusFailed     EventStatus = "failed"
)

// InboxEvent is one append-only provider event. The provider event id is the
// dedupe key; the full payload is retained for replay.
type InboxEvent struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_stripe_webhook_events_event"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	Status          EventStatus    `json:"status" gorm:"type:text;not null;index"`
	ErrorMessage    string         `json:"error_message" gorm:"type:text"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time      `json:"updated_at" gorm:"not null"`
}

func (InboxEvent) TableName() string { return "stripe_webhook_events" }

var (
	ErrUnsupportedEvent = errors.New("unsupported_event_type")
	ErrMalformedEvent   = errors.New("malformed_event_payload")
)
