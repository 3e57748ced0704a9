package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type OrderStatus string

const (
	OrderStatusCreated           OrderStatus = "created"
	OrderStatusCheckoutCreated   OrderStatus = "checkout_created"
	OrderStatusPaid              OrderStatus = "paid"
	OrderStatusPartiallyRefunded OrderStatus = "partially_refunded"
	OrderStatusRefunded          OrderStatus = "refunded"
	OrderStatusFailedMismatch    OrderStatus = "failed_mismatch"
	OrderStatusFailedProvider    OrderStatus = "failed_provider"
	OrderStatusCanceled          OrderStatus = "canceled"
)

// NonTerminalStatuses are the states writers may transition away from.
// Everything else is settled and frozen; the conditional-UPDATE predicates in
// the repository are the only concurrency control, so every writer goes
// through them.
var NonTerminalStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusCheckoutCreated,
	OrderStatusFailedProvider,
}

// Order is one owed amount for one task, keyed by (id, version). The version
// only moves on renegotiation; most orders stay at version 1.
type Order struct {
	ID                 snowflake.ID   `json:"id" gorm:"primaryKey"`
	Version            int            `json:"version" gorm:"primaryKey"`
	AIAccountID        snowflake.ID   `json:"ai_account_id" gorm:"not null;index"`
	TaskID             snowflake.ID   `json:"task_id" gorm:"not null;index"`
	Currency           string         `json:"currency" gorm:"type:text;not null"`
	BaseAmount         int64          `json:"base_amount" gorm:"not null"`
	FxCost             int64          `json:"fx_cost" gorm:"not null"`
	PlatformFee        int64          `json:"platform_fee" gorm:"not null"`
	TotalAmountJPY     int64          `json:"total_amount_jpy" gorm:"column:total_amount_jpy;not null"`
	PayerCountry       string         `json:"payer_country" gorm:"type:text;not null"`
	PayeeCountry       string         `json:"payee_country" gorm:"type:text;not null"`
	DestinationAccount string         `json:"destination_account" gorm:"type:text;not null"`
	Status             OrderStatus    `json:"status" gorm:"type:text;not null"`
	PaymentIntentID    string         `json:"payment_intent_id" gorm:"type:text"`
	MismatchReason     datatypes.JSON `json:"mismatch_reason"`
	CreatedAt          time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time      `json:"updated_at" gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

// Mismatch is one field-level disagreement between the provider event and the
// order row. A slice of these is serialized into mismatch_reason.
type Mismatch struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

var (
	ErrNotFound           = errors.New("order_not_found")
	ErrInvalidOrderAmount = errors.New("invalid_order_amount")
)
