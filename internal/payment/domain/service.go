package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// AuthorizeOrderPayment places a manual-capture hold for the order's
	// total. Idempotent per order version: an existing authorized,
	// capture_pending or captured row is returned unchanged.
	AuthorizeOrderPayment(ctx context.Context, aiAccountID, orderID snowflake.ID, orderVersion int) (*Authorization, error)
	// CaptureOrderAuthorization settles the standing hold. Capturing an
	// already-captured authorization succeeds with AlreadyCaptured set and
	// no provider call.
	CaptureOrderAuthorization(ctx context.Context, aiAccountID, orderID snowflake.ID, orderVersion int) (*CaptureResult, error)
	// EnsureStripeCustomer creates or reuses the provider customer record
	// for an account, persisting the mapping once.
	EnsureStripeCustomer(ctx context.Context, aiAccountID snowflake.ID) (string, error)
}
