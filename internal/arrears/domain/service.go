package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type CreateArrearRequest struct {
	AIAccountID snowflake.ID
	TaskID      snowflake.ID
	AmountMinor int64
	Currency    string
	Reason      string
}

type Service interface {
	// CreateArrear opens a debt record for (account, task). Idempotent: when
	// an open or collecting arrear already exists it is returned unchanged.
	CreateArrear(ctx context.Context, req CreateArrearRequest) (*Arrear, error)
}
