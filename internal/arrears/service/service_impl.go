package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shigotoba/paygate/internal/arrears/domain"
	"github.com/shigotoba/paygate/internal/clock"
	"github.com/shigotoba/paygate/internal/config"
	obsmetrics "github.com/shigotoba/paygate/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	DB         *gorm.DB
	Config     *config.Config
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type service struct {
	log        *zap.Logger
	db         *gorm.DB
	cfg        *config.Config
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &service{
		log:        p.Log.Named("arrears.service"),
		db:         p.DB,
		cfg:        p.Config,
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *service) CreateArrear(ctx context.Context, req domain.CreateArrearRequest) (*domain.Arrear, error) {
	existing, err := s.repo.FindActive(ctx, s.db, req.AIAccountID, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("find active arrear: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	now := s.clock.Now().UTC()
	arrear := &domain.Arrear{
		ID:          s.genID.Generate(),
		AIAccountID: req.AIAccountID,
		TaskID:      req.TaskID,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Reason:      req.Reason,
		Status:      domain.ArrearStatusOpen,
		DueAt:       now.Add(time.Duration(s.cfg.Billing.ArrearsGraceHours) * time.Hour),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Concurrent sweeps and captures can race here. The guarded insert makes
	// the lookup-then-insert safe: the loser's insert affects zero rows and
	// it rereads the winner's row.
	inserted, err := s.repo.InsertIfAbsent(ctx, s.db, arrear)
	if err != nil {
		return nil, fmt.Errorf("insert arrear: %w", err)
	}
	if !inserted {
		return s.repo.FindActive(ctx, s.db, req.AIAccountID, req.TaskID)
	}

	if s.obsMetrics != nil {
		s.obsMetrics.IncArrear(req.Reason)
	}
	s.log.Warn("payment arrear opened",
		zap.Int64("ai_account_id", req.AIAccountID.Int64()),
		zap.Int64("task_id", req.TaskID.Int64()),
		zap.Int64("amount_minor", req.AmountMinor),
		zap.String("reason", req.Reason),
	)
	return arrear, nil
}
