package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type AuthorizationStatus string

const (
	AuthorizationStatusAuthorized     AuthorizationStatus = "authorized"
	AuthorizationStatusCapturePending AuthorizationStatus = "capture_pending"
	AuthorizationStatusCaptured       AuthorizationStatus = "captured"
	AuthorizationStatusCaptureFailed  AuthorizationStatus = "capture_failed"
	AuthorizationStatusExpired        AuthorizationStatus = "expired"
	AuthorizationStatusCanceled       AuthorizationStatus = "canceled"
)

// ActiveStatuses are the states in which an authorization still stands for
// its order version. A new hold may only be issued once none of these exist.
var ActiveStatuses = []AuthorizationStatus{
	AuthorizationStatusAuthorized,
	AuthorizationStatusCapturePending,
	AuthorizationStatusCaptured,
	AuthorizationStatusCaptureFailed,
}

// Authorization is one provider hold against an order version. Immutable once
// captured; mutated only by the capture path and the sweeper's retry pass.
type Authorization struct {
	ID              snowflake.ID        `json:"id" gorm:"primaryKey"`
	AIAccountID     snowflake.ID        `json:"ai_account_id" gorm:"not null;index"`
	OrderID         snowflake.ID        `json:"order_id" gorm:"not null;index:ix_payment_authorizations_order"`
	OrderVersion    int                 `json:"order_version" gorm:"not null;index:ix_payment_authorizations_order"`
	PaymentIntentID string              `json:"payment_intent_id" gorm:"type:text;not null"`
	AmountMinor     int64               `json:"amount_minor" gorm:"not null"`
	Currency        string              `json:"currency" gorm:"type:text;not null"`
	Status          AuthorizationStatus `json:"status" gorm:"type:text;not null"`
	CaptureBefore   *time.Time          `json:"capture_before"`
	AttemptCount    int                 `json:"attempt_count" gorm:"not null"`
	NextRetryAt     *time.Time          `json:"next_retry_at"`
	LastError       string              `json:"last_error" gorm:"type:text"`
	CapturedAt      *time.Time          `json:"captured_at"`
	CreatedAt       time.Time           `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time           `json:"updated_at" gorm:"not null"`
}

func (Authorization) TableName() string { return "payment_authorizations" }

// CaptureResult is what approve flows surface to API callers.
type CaptureResult struct {
	OrderID         snowflake.ID        `json:"order_id"`
	OrderVersion    int                 `json:"version"`
	Status          AuthorizationStatus `json:"status"`
	AlreadyCaptured bool                `json:"already_captured"`
	PaymentIntentID string              `json:"payment_intent_id"`
	CaptureBefore   *time.Time          `json:"capture_before"`
}

var (
	ErrBillingNotReady            = errors.New("billing_not_ready")
	ErrAuthorizationMissing       = errors.New("authorization_missing")
	ErrAuthorizationExpired       = errors.New("authorization_expired")
	ErrAuthorizationNotCapturable = errors.New("authorization_not_capturable")
)

// StripeError carries a provider-side failure message across component
// boundaries without losing the closed error taxonomy.
type StripeError struct {
	Message string
}

func (e *StripeError) Error() string {
	if e.Message == "" {
		return "stripe_error"
	}
	return "stripe_error: " + e.Message
}

func IsStripeError(err error) bool {
	var se *StripeError
	return errors.As(err, &se)
}
