package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type CreateOrderRequest struct {
	AIAccountID  snowflake.ID
	OrderID      snowflake.ID
	Version      int
	TaskID       snowflake.ID
	BaseAmount   int64
	FxCost       int64
	PayerCountry string
	PayeeCountry string
}

type Service interface {
	// CreateOrder inserts idempotently: a second call with the same
	// (order_id, version) returns the existing row unchanged.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	Get(ctx context.Context, orderID snowflake.ID, version int) (*Order, error)
}
