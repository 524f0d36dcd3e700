package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/worklog/internal/worklog"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillDayYearMonth = "2024-06-01_backfill_day_year_month"
	migrationRestoreMissingMonths = "2024-06-02_restore_missing_month_headers"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillDayYearMonth, apply: backfillDayYearMonth},
		{name: migrationRestoreMissingMonths, apply: restoreMissingMonthHeaders},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(migration.apply); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillDayYearMonth derives the partition key of rows imported without one.
func backfillDayYearMonth(db *gorm.DB) error {
	return db.Model(&worklog.StoredDay{}).
		Where("year_month = '' OR year_month <> substr(day, 1, 7)").
		Update("year_month", gorm.Expr("substr(day, 1, 7)")).Error
}

// restoreMissingMonthHeaders creates a month header for day rows that have none,
// versioned at the newest day timestamp of that month.
func restoreMissingMonthHeaders(db *gorm.DB) error {
	return db.Exec(`INSERT INTO ` + worklog.StoredMonthTable + ` (username, year_month, updated_at_ms, extra_json)
SELECT d.username, d.year_month, MAX(d.ts), '{}'
FROM ` + worklog.StoredDayTable + ` d
WHERE NOT EXISTS (
	SELECT 1 FROM ` + worklog.StoredMonthTable + ` m
	WHERE m.username = d.username AND m.year_month = d.year_month
)
GROUP BY d.username, d.year_month`).Error
}
