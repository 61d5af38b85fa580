package db

import (
	"ispbss/pkg/config"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AutoMigrate creates or updates the tables for models when
// DATABASE.AUTO_MIGRATE is enabled.
func AutoMigrate(db *gorm.DB, cfg *config.Config, models ...any) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	if err := db.AutoMigrate(models...); err != nil {
		zap.L().Error("[DB] Failed to migrate schema", zap.Error(err))
		return err
	}
	zap.L().Info("[DB] Schema migrated", zap.Int("models", len(models)))
	return nil
}
