package migration

import (
	grantdomain "github.com/pairwell/entitlements/internal/grant/domain"
	"github.com/pairwell/entitlements/internal/profileflag"
	subscriptiondomain "github.com/pairwell/entitlements/internal/subscription/domain"
	webhookdomain "github.com/pairwell/entitlements/internal/webhook/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		if conn.Dialector.Name() == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// Non-postgres dialects are for local development only.
		return conn.AutoMigrate(
			&subscriptiondomain.Record{},
			&grantdomain.FeatureGrant{},
			&webhookdomain.EventRecord{},
			&profileflag.UserFlag{},
		)
	}),
)
