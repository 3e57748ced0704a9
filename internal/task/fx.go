package task

import (
	"github.com/shigotoba/paygate/internal/task/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("task",
	fx.Provide(repository.Provide),
)
