package migration

import (
	"github.com/shigotoba/paygate/internal/config"
	"github.com/shigotoba/paygate/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg *config.Config) error {
		// The embedded migrator speaks postgres. Other backends are expected
		// to be provisioned out of band (tests use AutoMigrate).
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		}

		return seed.EnsureDefaultAccount(conn)
	}),
)
