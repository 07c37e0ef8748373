// Package postgres is the relational storage adapter, built on gorm with the
// pgx-backed postgres driver.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/credits-report-go/internal/domain"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Options configures the connection pool.
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Debug           bool
}

// Open connects to Postgres and configures the pool.
func Open(opts Options, logger *zap.Logger) (*gorm.DB, error) {
	level := gormlogger.Warn
	if opts.Debug {
		level = gormlogger.Info
	}

	db, err := gorm.Open(postgres.Open(opts.DSN), &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	return db, nil
}

// Migrate creates the five tables (and their indexes) when absent.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// SeedDictionary makes sure the payment types and plan categories exist.
// Payment types keep their fixed ids (1 body, 2 interest); the plan
// categories prefer ids 3 and 4 but accept whatever id is free.
func SeedDictionary(ctx context.Context, db *gorm.DB, categories domain.Categories, logger *zap.Logger) error {
	wanted := []DictionaryRecord{
		{ID: domain.PaymentTypeBody, Name: "body"},
		{ID: domain.PaymentTypeInterest, Name: "interest"},
		{ID: 3, Name: categories.Issuance},
		{ID: 4, Name: categories.Collection},
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var missing []DictionaryRecord
		for _, entry := range wanted {
			var existing DictionaryRecord
			err := tx.Where("name = ?", entry.Name).First(&existing).Error
			if err == nil {
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("look up dictionary entry %q: %w", entry.Name, err)
			}

			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
			if res.Error != nil {
				return fmt.Errorf("seed dictionary entry %q: %w", entry.Name, res.Error)
			}
			if res.RowsAffected == 0 {
				// id already taken by another name
				missing = append(missing, DictionaryRecord{Name: entry.Name})
				continue
			}
			logger.Info("seeded dictionary entry", zap.Int64("id", entry.ID), zap.String("name", entry.Name))
		}

		// explicit ids leave the serial sequence behind
		if err := tx.Exec(`SELECT setval(pg_get_serial_sequence('dictionary', 'id'), COALESCE((SELECT MAX(id) FROM dictionary), 1))`).Error; err != nil {
			return fmt.Errorf("sync dictionary sequence: %w", err)
		}

		for i := range missing {
			if err := tx.Create(&missing[i]).Error; err != nil {
				return fmt.Errorf("seed dictionary entry %q: %w", missing[i].Name, err)
			}
			logger.Warn("seeded dictionary entry with a non-standard id",
				zap.Int64("id", missing[i].ID),
				zap.String("name", missing[i].Name),
			)
		}
		return nil
	})
}
