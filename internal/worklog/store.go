package worklog

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnUsername    = "username"
	columnYearMonth   = "year_month"
	columnDay         = "day"
	columnTimestamp   = "ts"
	columnPayloadJSON = "payload_json"
	columnAbsenceLock = "al"
	columnManagerLock = "ma"
	columnUpdatedAtMS = "updated_at_ms"
	columnExtraJSON   = "extra_json"
	queryUser         = columnUsername + " = ?"
	queryUserMonth    = columnUsername + " = ? AND " + columnYearMonth + " = ?"
	queryUserMonthIn  = columnUsername + " = ? AND " + columnYearMonth + " IN ?"
	queryUserDay      = columnUsername + " = ? AND " + columnDay + " = ?"
	queryUserDaysIn   = columnUsername + " = ? AND " + columnYearMonth + " IN ? AND " + columnDay + " IN ?"
	queryLocked       = "(al = ? OR ma = ?)"
	queryUnlockedRow  = StoredDayTable + ".al = ? AND " + StoredDayTable + ".ma = ?"
	orderDayAsc       = columnDay + " ASC"
	orderMonthAsc     = columnYearMonth + " ASC"
	emptyObjectJSON   = "{}"

	// StoredMonthTable names the month document table.
	StoredMonthTable = "month_documents"
	// StoredDayTable names the day record table.
	StoredDayTable = "day_records"
)

// StoredMonth is the persisted header of a month document.
type StoredMonth struct {
	Username        string `gorm:"column:username;primaryKey;size:190;not null"`
	YearMonth       string `gorm:"column:year_month;primaryKey;size:7;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
	ExtraJSON       string `gorm:"column:extra_json;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (StoredMonth) TableName() string {
	return StoredMonthTable
}

// StoredDay is one element of a month document's days array. The composite
// primary key keeps dates unique per user.
type StoredDay struct {
	Username    string `gorm:"column:username;primaryKey;size:190;not null;index:idx_days_user_month,priority:1"`
	Day         string `gorm:"column:day;primaryKey;size:10;not null"`
	YearMonth   string `gorm:"column:year_month;size:7;not null;index:idx_days_user_month,priority:2"`
	Timestamp   int64  `gorm:"column:ts;not null;default:0"`
	AbsenceLock bool   `gorm:"column:al;not null;default:false"`
	ManagerLock bool   `gorm:"column:ma;not null;default:false"`
	PayloadJSON string `gorm:"column:payload_json;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (StoredDay) TableName() string {
	return StoredDayTable
}

// Locked reports whether either lock flag is set on the stored row.
func (d StoredDay) Locked() bool {
	return d.AbsenceLock || d.ManagerLock
}

// Models lists the GORM models backing the month store, for schema migration.
func Models() []any {
	return []any{&StoredMonth{}, &StoredDay{}}
}

// dayWrite captures the outcome of a conditional day upsert.
type dayWrite struct {
	monthCreated bool
	applied      bool
}

// monthWrite captures the outcome of one whole-month upsert.
type monthWrite struct {
	inserted bool
	conflict *MonthConflict
}

// MonthStore persists month documents and their day records.
type MonthStore struct {
	db *gorm.DB
}

// NewMonthStore wraps a database handle.
func NewMonthStore(db *gorm.DB) *MonthStore {
	return &MonthStore{db: db}
}

func (s *MonthStore) listMonths(ctx context.Context, username Username) ([]StoredMonth, error) {
	var months []StoredMonth
	err := s.db.WithContext(ctx).
		Select(columnYearMonth, columnUpdatedAtMS).
		Where(queryUser, username.String()).
		Order(orderMonthAsc).
		Find(&months).Error
	return months, err
}

func (s *MonthStore) listDays(ctx context.Context, username Username) ([]StoredDay, error) {
	var days []StoredDay
	err := s.db.WithContext(ctx).
		Select(columnDay, columnTimestamp, columnAbsenceLock, columnManagerLock).
		Where(queryUser, username.String()).
		Order(orderDayAsc).
		Find(&days).Error
	return days, err
}

func (s *MonthStore) lockedDates(ctx context.Context, username Username) ([]string, error) {
	var dates []string
	err := s.db.WithContext(ctx).
		Model(&StoredDay{}).
		Where(queryUser, username.String()).
		Where(queryLocked, true, true).
		Order(orderDayAsc).
		Pluck(columnDay, &dates).Error
	return dates, err
}

func (s *MonthStore) daysByDate(ctx context.Context, username Username, yearMonths []string, dates []string) ([]StoredDay, error) {
	var days []StoredDay
	err := s.db.WithContext(ctx).
		Where(queryUserDaysIn, username.String(), yearMonths, dates).
		Order(orderDayAsc).
		Find(&days).Error
	return days, err
}

func (s *MonthStore) fetchMonths(ctx context.Context, username Username, yearMonths []string) ([]StoredMonth, []StoredDay, error) {
	if len(yearMonths) == 0 {
		return nil, nil, nil
	}
	var months []StoredMonth
	if err := s.db.WithContext(ctx).
		Where(queryUserMonthIn, username.String(), yearMonths).
		Order(orderMonthAsc).
		Find(&months).Error; err != nil {
		return nil, nil, err
	}
	if len(months) == 0 {
		return nil, nil, nil
	}
	var days []StoredDay
	if err := s.db.WithContext(ctx).
		Where(queryUserMonthIn, username.String(), yearMonths).
		Order(orderDayAsc).
		Find(&days).Error; err != nil {
		return nil, nil, err
	}
	return months, days, nil
}

// upsertDay writes a day, lock flags included, unless the stored copy is locked. The month header is
// created when missing and the day is inserted or replaced by a single
// conditional upsert keyed on (username, day), so concurrent uploads of the same
// date cannot produce duplicate entries.
func (s *MonthStore) upsertDay(ctx context.Context, username Username, day StoredDay, at time.Time) (dayWrite, error) {
	result := dayWrite{}
	atMillis := at.UnixMilli()
	err := s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		month := StoredMonth{
			Username:        username.String(),
			YearMonth:       day.YearMonth,
			UpdatedAtMillis: atMillis,
			ExtraJSON:       emptyObjectJSON,
		}
		monthInsert := transaction.Clauses(clause.OnConflict{DoNothing: true}).Create(&month)
		if monthInsert.Error != nil {
			return monthInsert.Error
		}
		result.monthCreated = monthInsert.RowsAffected > 0

		dayUpsert := transaction.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: columnUsername}, {Name: columnDay}},
			DoUpdates: clause.AssignmentColumns([]string{columnTimestamp, columnAbsenceLock, columnManagerLock, columnPayloadJSON}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: queryUnlockedRow, Vars: []any{false, false}},
			}},
		}).Create(&day)
		if dayUpsert.Error != nil {
			return dayUpsert.Error
		}
		if dayUpsert.RowsAffected == 0 {
			return nil
		}
		result.applied = true

		return transaction.Model(&StoredMonth{}).
			Where(queryUserMonth, username.String(), day.YearMonth).
			Update(columnUpdatedAtMS, atMillis).Error
	})
	if err != nil {
		return dayWrite{}, err
	}
	return result, nil
}

// replaceMonths applies whole-month entries in one transaction. An entry whose
// stored updatedAt is strictly newer than the submitted one is reported as a
// conflict and left untouched.
func (s *MonthStore) replaceMonths(ctx context.Context, username Username, entries []validatedMonth) ([]monthWrite, error) {
	writes := make([]monthWrite, 0, len(entries))
	err := s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		for _, entry := range entries {
			var existing StoredMonth
			lookupErr := transaction.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where(queryUserMonth, username.String(), entry.month.YearMonth).
				Take(&existing).Error
			found := true
			if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
				found = false
			} else if lookupErr != nil {
				return lookupErr
			}

			if found && existing.UpdatedAtMillis > entry.month.UpdatedAtMillis {
				writes = append(writes, monthWrite{conflict: &MonthConflict{
					YearMonth:       YearMonth(entry.month.YearMonth),
					Reason:          ConflictReasonServerNewer,
					ServerUpdatedAt: millisToTime(existing.UpdatedAtMillis),
					ClientUpdatedAt: millisToTime(entry.month.UpdatedAtMillis),
				}})
				continue
			}

			month := entry.month
			if err := transaction.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: columnUsername}, {Name: columnYearMonth}},
				DoUpdates: clause.AssignmentColumns([]string{columnUpdatedAtMS, columnExtraJSON}),
			}).Create(&month).Error; err != nil {
				return err
			}
			if err := transaction.
				Where(queryUserMonth, username.String(), entry.month.YearMonth).
				Delete(&StoredDay{}).Error; err != nil {
				return err
			}
			if len(entry.days) > 0 {
				days := entry.days
				if err := transaction.Create(&days).Error; err != nil {
					return err
				}
			}
			writes = append(writes, monthWrite{inserted: !found})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return writes, nil
}

// setDayLock changes the lock flags of an existing day. It reports false when
// the day does not exist.
func (s *MonthStore) setDayLock(ctx context.Context, username Username, date DayDate, absenceLock, managerLock bool, at time.Time) (bool, error) {
	found := false
	err := s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		update := transaction.Model(&StoredDay{}).
			Where(queryUserDay, username.String(), date.String()).
			Updates(map[string]any{columnAbsenceLock: absenceLock, columnManagerLock: managerLock})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			var count int64
			if err := transaction.Model(&StoredDay{}).
				Where(queryUserDay, username.String(), date.String()).
				Count(&count).Error; err != nil {
				return err
			}
			found = count > 0
			return nil
		}
		found = true
		return transaction.Model(&StoredMonth{}).
			Where(queryUserMonth, username.String(), date.YearMonth().String()).
			Update(columnUpdatedAtMS, at.UnixMilli()).Error
	})
	return found, err
}
