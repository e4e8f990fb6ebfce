package earnings

import (
	"promohub-payouts/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("earnings",
	fx.Provide(
		NewLedger,
		NewService,
	),
	fx.Invoke(migrate),
)

// migrate creates the tables this service owns. Campaign and view tables
// belong upstream and are never migrated here.
func migrate(cfg *config.Config, db *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	if err := db.AutoMigrate(&EarningsRecord{}, &PayoutAttempt{}); err != nil {
		zap.L().Error("failed to migrate earnings tables", zap.Error(err))
		return err
	}
	return nil
}
