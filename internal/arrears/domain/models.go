package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type ArrearStatus string

const (
	ArrearStatusOpen       ArrearStatus = "open"
	ArrearStatusCollecting ArrearStatus = "collecting"
	ArrearStatusSettled    ArrearStatus = "settled"
)

const (
	ReasonAuthorizationExpired    = "authorization_expired"
	ReasonCaptureRetriesExhausted = "capture_retries_exhausted"
)

// Arrear is a debt record opened when capture is irrecoverable. At most one
// open/collecting arrear may exist per (account, task).
type Arrear struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	AIAccountID snowflake.ID `json:"ai_account_id" gorm:"not null;index"`
	TaskID      snowflake.ID `json:"task_id" gorm:"not null;index"`
	AmountMinor int64        `json:"amount_minor" gorm:"not null"`
	Currency    string       `json:"currency" gorm:"type:text;not null"`
	Reason      string       `json:"reason" gorm:"type:text;not null"`
	Status      ArrearStatus `json:"status" gorm:"type:text;not null"`
	DueAt       time.Time    `json:"due_at" gorm:"not null"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null"`
}

func (Arrear) TableName() string { return "payment_arrears" }
