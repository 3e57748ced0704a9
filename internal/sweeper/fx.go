package sweeper

import (
	"context"

	"github.com/shigotoba/paygate/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("sweeper",
	fx.Provide(sweepConfig),
	fx.Provide(New),
	fx.Invoke(runSweeper),
)

func sweepConfig(cfg *config.Config) Config {
	return Config{
		Interval:  cfg.Billing.SweepInterval,
		BatchSize: cfg.Billing.SweepBatchSize,
	}
}

func runSweeper(lc fx.Lifecycle, s *Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return s.Start()
		},
		OnStop: func(context.Context) error {
			s.Stop()
			return nil
		},
	})
}
