package webhook

import (
	"context"
	"time"

	"github.com/shigotoba/paygate/internal/config"
	"github.com/shigotoba/paygate/internal/webhook/repository"
	"github.com/shigotoba/paygate/internal/webhook/worker"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook",
	fx.Provide(repository.Provide),
	fx.Provide(workerConfig),
	fx.Provide(worker.NewWorker),
)

// WorkerModule additionally runs the reconciliation loop. Only the worker
// entrypoint includes it; the API process just writes to the inbox.
var WorkerModule = fx.Module("webhook.worker",
	fx.Invoke(runWorker),
)

func workerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		PollInterval: cfg.Billing.WebhookPollInterval,
		BatchSize:    cfg.Billing.WebhookBatchSize,
		RunTimeout:   30 * time.Second,
	}
}

func runWorker(lc fx.Lifecycle, w *worker.Worker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go w.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
