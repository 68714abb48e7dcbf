package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"reward_ledger/internal/config"
	"reward_ledger/internal/ledger"
	"reward_ledger/internal/logger"
	"reward_ledger/internal/referral"
	"reward_ledger/internal/task"
	"reward_ledger/internal/window"
	"reward_ledger/internal/withdrawal"
)

// Models lists every table owned by the service, in creation order.
func Models() []interface{} {
	return []interface{}{
		&ledger.Account{},
		&ledger.Transaction{},
		&window.Counter{},
		&task.Definition{},
		&task.Claim{},
		&task.Completion{},
		&referral.Referral{},
		&withdrawal.Request{},
	}
}

func ConnectPostgres(cfg *config.Config) (*gorm.DB, error) {
	level := gormlogger.Warn
	if cfg.Debug {
		level = gormlogger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.L.Info("connected to postgres")
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.L.Info("database migrated", zap.Int("tables", len(Models())))
	return nil
}
