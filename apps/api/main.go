package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/shigotoba/paygate/internal/account"
	"github.com/shigotoba/paygate/internal/arrears"
	"github.com/shigotoba/paygate/internal/clock"
	"github.com/shigotoba/paygate/internal/config"
	"github.com/shigotoba/paygate/internal/logger"
	"github.com/shigotoba/paygate/internal/migration"
	"github.com/shigotoba/paygate/internal/observability"
	"github.com/shigotoba/paygate/internal/order"
	"github.com/shigotoba/paygate/internal/payment"
	"github.com/shigotoba/paygate/internal/ratelimit"
	"github.com/shigotoba/paygate/internal/server"
	"github.com/shigotoba/paygate/internal/task"
	"github.com/shigotoba/paygate/internal/webhook"
	"github.com/shigotoba/paygate/pkg/db"
	"go.uber.org/fx"
)

// API process: serves the order/task/webhook-ingress surface. Webhook
// processing and sweeping run in their own processes.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		account.Module,
		order.Module,
		task.Module,
		arrears.Module,
		payment.Module,
		webhook.Module,
		ratelimit.Module,

		server.Module,
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
