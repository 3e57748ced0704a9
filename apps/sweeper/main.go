package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/shigotoba/paygate/internal/account"
	"github.com/shigotoba/paygate/internal/arrears"
	"github.com/shigotoba/paygate/internal/clock"
	"github.com/shigotoba/paygate/internal/config"
	"github.com/shigotoba/paygate/internal/logger"
	"github.com/shigotoba/paygate/internal/observability"
	"github.com/shigotoba/paygate/internal/order"
	"github.com/shigotoba/paygate/internal/payment"
	"github.com/shigotoba/paygate/internal/sweeper"
	"github.com/shigotoba/paygate/internal/task"
	"github.com/shigotoba/paygate/pkg/db"
	"go.uber.org/fx"
)

// Sweeper process: capture retries, arrears promotion and deadline
// enforcement on a fixed interval.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		account.Module,
		order.Module,
		task.Module,
		arrears.Module,
		payment.Module,
		sweeper.Module,
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
