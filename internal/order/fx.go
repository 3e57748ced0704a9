package order

import (
	"github.com/shigotoba/paygate/internal/order/repository"
	"github.com/shigotoba/paygate/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
