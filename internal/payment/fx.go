package payment

import (
	"github.com/shigotoba/paygate/internal/payment/repository"
	"github.com/shigotoba/paygate/internal/payment/service"
	"github.com/shigotoba/paygate/internal/payment/stripe"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(stripe.New),
	fx.Provide(service.New),
)
