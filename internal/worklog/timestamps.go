package worklog

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SyncStatus bundles the per-day server view with the dates a client must treat as read-only.
type SyncStatus struct {
	Timestamps map[DayDate]DayTimestamp
	LockedDays []DayDate
}

// MonthTimestamps returns the updatedAt of every month document the user owns.
// A known user without documents yields an empty map.
func (s *Service) MonthTimestamps(ctx context.Context, username Username) (map[YearMonth]time.Time, error) {
	if err := s.ready(opMonthTimestamps); err != nil {
		return nil, err
	}
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	timestamps, err := s.monthTimestamps(ctx, username)
	if err != nil {
		s.logError(opMonthTimestamps, reasonQueryFailed, err, zap.String(fieldUsername, username.String()))
		return nil, storeFailure(opMonthTimestamps, reasonQueryFailed, err)
	}
	if len(timestamps) == 0 {
		if err := s.ensureUserKnown(ctx, opMonthTimestamps, username); err != nil {
			return nil, err
		}
	}
	return timestamps, nil
}

func (s *Service) monthTimestamps(ctx context.Context, username Username) (map[YearMonth]time.Time, error) {
	months, err := s.store.listMonths(ctx, username)
	if err != nil {
		return nil, err
	}
	timestamps := make(map[YearMonth]time.Time, len(months))
	for _, month := range months {
		timestamps[YearMonth(month.YearMonth)] = millisToTime(month.UpdatedAtMillis)
	}
	return timestamps, nil
}

// DayTimestamps flattens every stored day of the user into date -> (ts, locked).
func (s *Service) DayTimestamps(ctx context.Context, username Username) (map[DayDate]DayTimestamp, error) {
	if err := s.ready(opDayTimestamps); err != nil {
		return nil, err
	}
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	timestamps, err := s.dayTimestamps(ctx, username)
	if err != nil {
		s.logError(opDayTimestamps, reasonQueryFailed, err, zap.String(fieldUsername, username.String()))
		return nil, storeFailure(opDayTimestamps, reasonQueryFailed, err)
	}
	return timestamps, nil
}

func (s *Service) dayTimestamps(ctx context.Context, username Username) (map[DayDate]DayTimestamp, error) {
	days, err := s.store.listDays(ctx, username)
	if err != nil {
		return nil, err
	}
	timestamps := make(map[DayDate]DayTimestamp, len(days))
	for _, day := range days {
		timestamps[DayDate(day.Day)] = DayTimestamp{
			Timestamp: day.Timestamp,
			IsLocked:  day.Locked(),
		}
	}
	return timestamps, nil
}

// LockedDays returns the sorted dates whose absence or manager lock is set.
func (s *Service) LockedDays(ctx context.Context, username Username) ([]DayDate, error) {
	if err := s.ready(opLockedDays); err != nil {
		return nil, err
	}
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	locked, err := s.lockedDays(ctx, username)
	if err != nil {
		s.logError(opLockedDays, reasonQueryFailed, err, zap.String(fieldUsername, username.String()))
		return nil, storeFailure(opLockedDays, reasonQueryFailed, err)
	}
	return locked, nil
}

func (s *Service) lockedDays(ctx context.Context, username Username) ([]DayDate, error) {
	dates, err := s.store.lockedDates(ctx, username)
	if err != nil {
		return nil, err
	}
	locked := make([]DayDate, 0, len(dates))
	for _, date := range dates {
		locked = append(locked, DayDate(date))
	}
	return locked, nil
}

// SyncStatus returns the day timestamps and locked days in one read.
func (s *Service) SyncStatus(ctx context.Context, username Username) (SyncStatus, error) {
	if err := s.ready(opSyncStatus); err != nil {
		return SyncStatus{}, err
	}
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	timestamps, err := s.dayTimestamps(ctx, username)
	if err != nil {
		s.logError(opSyncStatus, reasonQueryFailed, err, zap.String(fieldUsername, username.String()))
		return SyncStatus{}, storeFailure(opSyncStatus, reasonQueryFailed, err)
	}
	if len(timestamps) == 0 {
		if err := s.ensureUserKnown(ctx, opSyncStatus, username); err != nil {
			return SyncStatus{}, err
		}
	}

	locked := make([]DayDate, 0)
	for date, timestamp := range timestamps {
		if timestamp.IsLocked {
			locked = append(locked, date)
		}
	}
	sortDates(locked)

	return SyncStatus{Timestamps: timestamps, LockedDays: locked}, nil
}
