package worklog

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ConflictReason explains why a whole-month write was not applied.
type ConflictReason string

// ConflictReasonServerNewer marks a stored month whose updatedAt is newer than the submission.
const ConflictReasonServerNewer ConflictReason = "server_newer"

// MonthConflict records a whole-month write refused by the version check.
type MonthConflict struct {
	YearMonth       YearMonth
	Reason          ConflictReason
	ServerUpdatedAt time.Time
	ClientUpdatedAt time.Time
}

// MonthUpdateResult aggregates an UpdateMonths call.
type MonthUpdateResult struct {
	Modified  int
	Inserted  int
	Conflicts []MonthConflict
}

type validatedMonth struct {
	month StoredMonth
	days  []StoredDay
}

// GetMonths returns the full documents of the requested months. Months the user
// has no document for are omitted.
func (s *Service) GetMonths(ctx context.Context, username Username, rawYearMonths []string) ([]MonthDocument, error) {
	if err := s.ready(opGetMonths); err != nil {
		return nil, err
	}

	yearMonths := make([]string, 0, len(rawYearMonths))
	seen := make(map[YearMonth]struct{}, len(rawYearMonths))
	for _, raw := range rawYearMonths {
		yearMonth, err := NewYearMonth(raw)
		if err != nil {
			return nil, newServiceError(opGetMonths, reasonInvalidInput, err)
		}
		if _, ok := seen[yearMonth]; ok {
			continue
		}
		seen[yearMonth] = struct{}{}
		yearMonths = append(yearMonths, yearMonth.String())
	}

	ctx, cancel := s.scoped(ctx)
	defer cancel()

	documents, reason, err := s.fetchMonthDocuments(ctx, username, yearMonths)
	if err != nil {
		s.logError(opGetMonths, reason, err, zap.String(fieldUsername, username.String()))
		if reason == reasonPayloadDecode {
			return nil, newServiceError(opGetMonths, reason, err)
		}
		return nil, storeFailure(opGetMonths, reason, err)
	}
	return documents, nil
}

func (s *Service) fetchMonthDocuments(ctx context.Context, username Username, yearMonths []string) ([]MonthDocument, string, error) {
	months, days, err := s.store.fetchMonths(ctx, username, yearMonths)
	if err != nil {
		return nil, reasonQueryFailed, err
	}

	daysByMonth := make(map[string][]DayRecord, len(months))
	for _, row := range days {
		record, err := dayRecordFromStored(row)
		if err != nil {
			return nil, reasonPayloadDecode, err
		}
		daysByMonth[row.YearMonth] = append(daysByMonth[row.YearMonth], record)
	}

	documents := make([]MonthDocument, 0, len(months))
	for _, month := range months {
		extra, err := decodePayload(month.ExtraJSON)
		if err != nil {
			return nil, reasonPayloadDecode, err
		}
		monthDays := daysByMonth[month.YearMonth]
		if monthDays == nil {
			monthDays = []DayRecord{}
		}
		documents = append(documents, MonthDocument{
			Username:  username,
			YearMonth: YearMonth(month.YearMonth),
			UpdatedAt: millisToTime(month.UpdatedAtMillis),
			MonthData: MonthData{Days: monthDays, Extra: extra},
		})
	}
	return documents, "", nil
}

// UpdateMonths replaces whole month documents, refusing any month whose stored
// updatedAt is strictly newer than the submitted one. The submitted updatedAt is
// stored as-is. Malformed entries fail the whole call before any write.
// Modified counts every replaced month, including a replace whose content equals
// the stored document.
func (s *Service) UpdateMonths(ctx context.Context, username Username, entries []MonthEntry) (MonthUpdateResult, error) {
	if err := s.ready(opUpdateMonths); err != nil {
		return MonthUpdateResult{}, err
	}

	validated := make([]validatedMonth, 0, len(entries))
	seenMonths := make(map[YearMonth]struct{}, len(entries))
	for _, entry := range entries {
		month, err := validateMonthEntry(username, entry)
		if err != nil {
			return MonthUpdateResult{}, newServiceError(opUpdateMonths, reasonInvalidInput, err)
		}
		yearMonth := YearMonth(month.month.YearMonth)
		if _, ok := seenMonths[yearMonth]; ok {
			return MonthUpdateResult{}, newServiceError(opUpdateMonths, reasonInvalidInput,
				invalid(ErrInvalidYearMonth, "%s submitted twice", yearMonth))
		}
		seenMonths[yearMonth] = struct{}{}
		validated = append(validated, month)
	}

	result := MonthUpdateResult{Conflicts: make([]MonthConflict, 0)}
	if len(validated) == 0 {
		return result, nil
	}

	ctx, cancel := s.scoped(ctx)
	defer cancel()

	writes, err := s.store.replaceMonths(ctx, username, validated)
	if err != nil {
		s.logError(opUpdateMonths, reasonWriteFailed, err, zap.String(fieldUsername, username.String()))
		return MonthUpdateResult{}, storeFailure(opUpdateMonths, reasonWriteFailed, err)
	}

	written := make([]string, 0, len(writes))
	for index, write := range writes {
		switch {
		case write.conflict != nil:
			result.Conflicts = append(result.Conflicts, *write.conflict)
			s.loggerOrDefault().Info("month update conflict",
				zap.String(fieldUsername, username.String()),
				zap.String(fieldYearMonth, write.conflict.YearMonth.String()),
				zap.Time("server_updated_at", write.conflict.ServerUpdatedAt),
				zap.Time("client_updated_at", write.conflict.ClientUpdatedAt))
		case write.inserted:
			result.Inserted++
			written = append(written, validated[index].month.YearMonth)
		default:
			result.Modified++
			written = append(written, validated[index].month.YearMonth)
		}
	}

	s.publish(username, nil, written, s.now())
	return result, nil
}

func validateMonthEntry(username Username, entry MonthEntry) (validatedMonth, error) {
	entryUsername, err := NewUsername(entry.Username)
	if err != nil {
		return validatedMonth{}, err
	}
	if entryUsername != username {
		return validatedMonth{}, invalid(ErrUsernameMismatch, "%s != %s", entryUsername, username)
	}
	yearMonth, err := NewYearMonth(entry.YearMonth)
	if err != nil {
		return validatedMonth{}, err
	}
	if entry.UpdatedAt.IsZero() {
		return validatedMonth{}, invalid(ErrInvalidTimestamp, "%s: updatedAt required", yearMonth)
	}

	extraJSON, err := encodePayload(entry.MonthData.Extra)
	if err != nil {
		return validatedMonth{}, invalid(ErrInvalidPayload, "%s extras: %v", yearMonth, err)
	}

	days := make([]StoredDay, 0, len(entry.MonthData.Days))
	seenDays := make(map[DayDate]struct{}, len(entry.MonthData.Days))
	for _, day := range entry.MonthData.Days {
		date, err := NewDayDate(day.Date.String())
		if err != nil {
			return validatedMonth{}, err
		}
		if date.YearMonth() != yearMonth {
			return validatedMonth{}, invalid(ErrDayOutsideMonth, "%s in %s", date, yearMonth)
		}
		if _, ok := seenDays[date]; ok {
			return validatedMonth{}, invalid(ErrDuplicateDay, "%s", date)
		}
		seenDays[date] = struct{}{}

		payloadJSON, err := encodePayload(day.Payload)
		if err != nil {
			return validatedMonth{}, invalid(ErrInvalidPayload, "%s: %v", date, err)
		}
		days = append(days, StoredDay{
			Username:    username.String(),
			Day:         date.String(),
			YearMonth:   yearMonth.String(),
			Timestamp:   day.Timestamp,
			AbsenceLock: day.AbsenceLock,
			ManagerLock: day.ManagerLock,
			PayloadJSON: payloadJSON,
		})
	}

	return validatedMonth{
		month: StoredMonth{
			Username:        username.String(),
			YearMonth:       yearMonth.String(),
			UpdatedAtMillis: entry.UpdatedAt.UTC().UnixMilli(),
			ExtraJSON:       extraJSON,
		},
		days: days,
	}, nil
}
