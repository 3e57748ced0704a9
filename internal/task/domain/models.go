package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type TaskStatus string

const (
	TaskStatusOpen          TaskStatus = "open"
	TaskStatusAccepted      TaskStatus = "accepted"
	TaskStatusReviewPending TaskStatus = "review_pending"
	TaskStatusCompleted     TaskStatus = "completed"
	TaskStatusFailed        TaskStatus = "failed"
)

type PaidStatus string

const (
	PaidStatusUnpaid PaidStatus = "unpaid"
	PaidStatusPaid   PaidStatus = "paid"
	PaidStatusFailed PaidStatus = "failed"
)

const FailureReasonTimeout = "timeout"

// Task is the payment-relevant slice of a marketplace task. Only the payment
// and deadline fields are read or written here; the task's business content
// lives elsewhere.
type Task struct {
	ID                      snowflake.ID `json:"id" gorm:"primaryKey"`
	AIAccountID             snowflake.ID `json:"ai_account_id" gorm:"not null;index"`
	Status                  TaskStatus   `json:"status" gorm:"type:text;not null;index"`
	PaidStatus              PaidStatus   `json:"paid_status" gorm:"type:text;not null"`
	PaymentErrorMessage     string       `json:"payment_error_message" gorm:"type:text"`
	DeadlineMinutes         int          `json:"deadline_minutes"`
	DeadlineAt              *time.Time   `json:"deadline_at"`
	ReviewPendingAt         *time.Time   `json:"review_pending_at"`
	ReviewPendingDeadlineAt *time.Time   `json:"review_pending_deadline_at"`
	CompletedAt             *time.Time   `json:"completed_at"`
	ReviewWindowEndsAt      *time.Time   `json:"review_window_ends_at"`
	FailureReason           string       `json:"failure_reason" gorm:"type:text"`
	ContactChannelOpen      bool         `json:"contact_channel_open"`
	CreatedAt               time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt               time.Time    `json:"updated_at" gorm:"not null"`
}

func (Task) TableName() string { return "tasks" }

// EffectiveDeadline resolves the task expiry for open/accepted tasks: the
// explicit deadline when stored, otherwise created_at plus deadline_minutes.
// Zero time means no deadline applies.
func (t *Task) EffectiveDeadline() time.Time {
	if t.DeadlineAt != nil {
		return *t.DeadlineAt
	}
	if t.DeadlineMinutes > 0 {
		return t.CreatedAt.Add(time.Duration(t.DeadlineMinutes) * time.Minute)
	}
	return time.Time{}
}

// EffectiveReviewDeadline resolves when a review_pending task auto-completes:
// the stored deadline when present, otherwise the review entry time plus the
// given window. Zero time means the task waits indefinitely.
func (t *Task) EffectiveReviewDeadline(window time.Duration) time.Time {
	if t.ReviewPendingDeadlineAt != nil {
		return *t.ReviewPendingDeadlineAt
	}
	if t.ReviewPendingAt != nil {
		return t.ReviewPendingAt.Add(window)
	}
	return time.Time{}
}

var ErrNotFound = errors.New("task_not_found")
