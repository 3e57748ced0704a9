package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/shigotoba/paygate/internal/clock"
	"github.com/shigotoba/paygate/internal/config"
	"github.com/shigotoba/paygate/internal/logger"
	"github.com/shigotoba/paygate/internal/observability"
	"github.com/shigotoba/paygate/internal/order"
	"github.com/shigotoba/paygate/internal/task"
	"github.com/shigotoba/paygate/internal/webhook"
	"github.com/shigotoba/paygate/pkg/db"
	"go.uber.org/fx"
)

// Worker process: drains the webhook inbox and reconciles provider state
// against the order ledger.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		order.Module,
		task.Module,
		webhook.Module,
		webhook.WorkerModule,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
