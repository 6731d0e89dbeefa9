package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeClientSource = "2026-07-18_normalize_client_source"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type schemaMigration struct {
	name string
	run  func(*gorm.DB) error
}

var schemaMigrations = []schemaMigration{
	{name: migrationNormalizeClientSource, run: normalizeClientSource},
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, migration := range schemaMigrations {
		alreadyApplied, err := migrationApplied(db, migration.name)
		if err != nil {
			return err
		}
		if alreadyApplied {
			continue
		}
		if err := migration.run(db); err != nil {
			return err
		}
		record := migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}
		if err := db.Create(&record).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func migrationApplied(db *gorm.DB, name string) (bool, error) {
	var record migrationRecord
	err := db.Where("name = ?", name).Take(&record).Error
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}

// Client source tags were stored verbatim before normalization moved into the
// service; legacy rows keep their original casing otherwise.
func normalizeClientSource(db *gorm.DB) error {
	return db.Exec("UPDATE thoughts SET client_source = lower(client_source) WHERE client_source <> lower(client_source);").Error
}
