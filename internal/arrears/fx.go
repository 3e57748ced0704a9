package arrears

import (
	"github.com/shigotoba/paygate/internal/arrears/repository"
	"github.com/shigotoba/paygate/internal/arrears/service"
	"go.uber.org/fx"
)

var Module = fx.Module("arrears.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
