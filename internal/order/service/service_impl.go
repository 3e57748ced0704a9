package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shigotoba/paygate/internal/clock"
	"github.com/shigotoba/paygate/internal/config"
	"github.com/shigotoba/paygate/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Platform fee in basis points. Cross-border work carries the higher rate
// because the payout rides a connected-account transfer in another region.
const (
	domesticFeeBps    = 1000
	crossBorderFeeBps = 1500
)

type Params struct {
	fx.In

	Log    *zap.Logger
	DB     *gorm.DB
	Config *config.Config
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   domain.Repository
}

type service struct {
	log   *zap.Logger
	db    *gorm.DB
	cfg   *config.Config
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &service{
		log:   p.Log.Named("order.service"),
		db:    p.DB,
		cfg:   p.Config,
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	if req.BaseAmount < 0 || req.FxCost < 0 {
		return nil, domain.ErrInvalidOrderAmount
	}

	orderID := req.OrderID
	if orderID == 0 {
		orderID = s.genID.Generate()
	}
	version := req.Version
	if version == 0 {
		version = 1
	}

	fee := platformFee(req.BaseAmount, req.PayerCountry, req.PayeeCountry)
	now := s.clock.Now().UTC()

	order := &domain.Order{
		ID:                 orderID,
		Version:            version,
		AIAccountID:        req.AIAccountID,
		TaskID:             req.TaskID,
		Currency:           "jpy",
		BaseAmount:         req.BaseAmount,
		FxCost:             req.FxCost,
		PlatformFee:        fee,
		TotalAmountJPY:     req.BaseAmount + req.FxCost + fee,
		PayerCountry:       req.PayerCountry,
		PayeeCountry:       req.PayeeCountry,
		DestinationAccount: s.destinationFor(req.PayeeCountry),
		Status:             domain.OrderStatusCreated,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	inserted, err := s.repo.Insert(ctx, s.db, order)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	if inserted {
		s.log.Info("order created",
			zap.Int64("order_id", orderID.Int64()),
			zap.Int("version", version),
			zap.Int64("total_amount_jpy", order.TotalAmountJPY),
		)
		return order, nil
	}

	// Lost the insert race or a retry of the same request. The existing row
	// wins; callers see the amounts that were actually persisted.
	existing, err := s.repo.Find(ctx, s.db, orderID, version)
	if err != nil {
		return nil, fmt.Errorf("reread order: %w", err)
	}
	if existing == nil {
		return nil, domain.ErrNotFound
	}
	return existing, nil
}

func (s *service) Get(ctx context.Context, orderID snowflake.ID, version int) (*domain.Order, error) {
	order, err := s.repo.Find(ctx, s.db, orderID, version)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func platformFee(base int64, payerCountry, payeeCountry string) int64 {
	bps := int64(domesticFeeBps)
	if payerCountry != payeeCountry {
		bps = crossBorderFeeBps
	}
	return base * bps / 10000
}

func (s *service) destinationFor(payeeCountry string) string {
	if acct, ok := s.cfg.Stripe.DestinationAccounts[payeeCountry]; ok {
		return acct
	}
	return s.cfg.Stripe.DefaultDestination
}
