package observability

import (
	obsmetrics "github.com/shigotoba/paygate/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(obsmetrics.Default),
)
