package worklog

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SetDayLock is the administrative path that closes or reopens a stored day.
// It is the only operation that changes lock flags of an existing day.
func (s *Service) SetDayLock(ctx context.Context, username Username, rawDate string, absenceLock, managerLock bool) error {
	if err := s.ready(opSetDayLock); err != nil {
		return err
	}
	date, err := NewDayDate(rawDate)
	if err != nil {
		return newServiceError(opSetDayLock, reasonInvalidInput, err)
	}

	ctx, cancel := s.scoped(ctx)
	defer cancel()

	changedAt := s.now()
	found, err := s.store.setDayLock(ctx, username, date, absenceLock, managerLock, changedAt)
	if err != nil {
		s.logError(opSetDayLock, reasonWriteFailed, err,
			zap.String(fieldUsername, username.String()),
			zap.String(fieldDate, date.String()))
		return storeFailure(opSetDayLock, reasonWriteFailed, err)
	}
	if !found {
		return newServiceError(opSetDayLock, reasonDayNotFound, fmt.Errorf("%w: %s", ErrDayNotFound, date))
	}

	s.loggerOrDefault().Info("day lock changed",
		zap.String(fieldUsername, username.String()),
		zap.String(fieldDate, date.String()),
		zap.Bool("absence_lock", absenceLock),
		zap.Bool("manager_lock", managerLock))
	s.publish(username, []string{date.String()}, nil, changedAt)
	return nil
}
