package worklog

import (
	"context"

	"go.uber.org/zap"
)

// SyncDownload returns the stored records for the requested dates. Dates with
// no stored record are omitted; callers detect gaps by comparing dates.
func (s *Service) SyncDownload(ctx context.Context, username Username, rawDates []string) ([]DayRecord, error) {
	if err := s.ready(opSyncDownload); err != nil {
		return nil, err
	}

	dates := make([]string, 0, len(rawDates))
	seenDates := make(map[DayDate]struct{}, len(rawDates))
	yearMonths := make([]string, 0)
	seenMonths := make(map[YearMonth]struct{})
	for _, rawDate := range rawDates {
		date, err := NewDayDate(rawDate)
		if err != nil {
			return nil, newServiceError(opSyncDownload, reasonInvalidInput, err)
		}
		if _, ok := seenDates[date]; ok {
			continue
		}
		seenDates[date] = struct{}{}
		dates = append(dates, date.String())

		yearMonth := date.YearMonth()
		if _, ok := seenMonths[yearMonth]; ok {
			continue
		}
		seenMonths[yearMonth] = struct{}{}
		yearMonths = append(yearMonths, yearMonth.String())
	}
	if len(dates) == 0 {
		return []DayRecord{}, nil
	}

	ctx, cancel := s.scoped(ctx)
	defer cancel()

	stored, err := s.store.daysByDate(ctx, username, yearMonths, dates)
	if err != nil {
		s.logError(opSyncDownload, reasonQueryFailed, err, zap.String(fieldUsername, username.String()))
		return nil, storeFailure(opSyncDownload, reasonQueryFailed, err)
	}

	records := make([]DayRecord, 0, len(stored))
	for _, row := range stored {
		record, err := dayRecordFromStored(row)
		if err != nil {
			s.logError(opSyncDownload, reasonPayloadDecode, err,
				zap.String(fieldUsername, username.String()),
				zap.String(fieldDate, row.Day))
			return nil, newServiceError(opSyncDownload, reasonPayloadDecode, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func dayRecordFromStored(row StoredDay) (DayRecord, error) {
	payload, err := decodePayload(row.PayloadJSON)
	if err != nil {
		return DayRecord{}, err
	}
	return DayRecord{
		Date:        DayDate(row.Day),
		Timestamp:   row.Timestamp,
		AbsenceLock: row.AbsenceLock,
		ManagerLock: row.ManagerLock,
		Payload:     payload,
	}, nil
}
