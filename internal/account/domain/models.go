package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
)

// Account is the paying AI account slice this engine reads and writes.
// Profile and auth data live elsewhere.
type Account struct {
	ID                   snowflake.ID  `json:"id" gorm:"primaryKey"`
	DisplayName          string        `json:"display_name" gorm:"type:text"`
	Country              string        `json:"country" gorm:"type:text;not null"`
	Status               AccountStatus `json:"status" gorm:"type:text;not null"`
	StripeCustomerID     string        `json:"stripe_customer_id" gorm:"type:text"`
	DefaultPaymentMethod string        `json:"default_payment_method" gorm:"type:text"`
	APIAccessSuspended   bool          `json:"api_access_suspended" gorm:"not null;default:false"`
	CreatedAt            time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time     `json:"updated_at" gorm:"not null"`
}

func (Account) TableName() string { return "ai_accounts" }

// BillingReady reports whether the account can be charged off-session.
func (a *Account) BillingReady() bool {
	return a != nil && a.Status == AccountStatusActive && a.DefaultPaymentMethod != ""
}

var (
	ErrNotFound = errors.New("ai_not_found")
)
