package app

import (
	"context"

	"github.com/fiffu/feedwatch/config"
	"github.com/fiffu/feedwatch/lib/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func NewDatabase(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	log.Info("Starting migrations")
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	log.Sugar().Infow("Database started", "path", cfg.DatabasePath)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return db, nil
}

func NewStore(db *gorm.DB) *store.Store {
	return store.New(db)
}
