package worklog

import (
	"context"

	"go.uber.org/zap"
)

// UploadOutcome is the per-day result of SyncUpload.
type UploadOutcome string

const (
	// UploadOutcomeCreated means the day created its month document.
	UploadOutcomeCreated UploadOutcome = "created"
	// UploadOutcomeUploaded means the day was appended to or replaced in an existing month.
	UploadOutcomeUploaded UploadOutcome = "uploaded"
	// UploadOutcomeSkipped means the stored day is locked and the submission was discarded.
	UploadOutcomeSkipped UploadOutcome = "skipped"
)

// DayUploadResult reports what happened to one submitted day.
type DayUploadResult struct {
	Date      DayDate
	Outcome   UploadOutcome
	Timestamp int64
}

// UploadResult aggregates a SyncUpload call.
type UploadResult struct {
	Uploaded int
	Skipped  int
	Days     []DayUploadResult
}

// SyncUpload stores client day records unless the server copy is locked. The
// server assigns ts and ignores the submitted one. Submitted lock flags are stored
// with the day, but only the stored flags decide whether a day may be written.
// Each day is committed on its own, so a store failure leaves earlier days of the
// batch written.
func (s *Service) SyncUpload(ctx context.Context, username Username, days []DayRecord) (UploadResult, error) {
	if err := s.ready(opSyncUpload); err != nil {
		return UploadResult{}, err
	}

	validated := make([]DayRecord, 0, len(days))
	for _, day := range days {
		date, err := NewDayDate(day.Date.String())
		if err != nil {
			return UploadResult{}, newServiceError(opSyncUpload, reasonInvalidInput, err)
		}
		day.Date = date
		validated = append(validated, day)
	}

	ctx, cancel := s.scoped(ctx)
	defer cancel()

	result := UploadResult{Days: make([]DayUploadResult, 0, len(validated))}
	changedDates := make([]string, 0, len(validated))
	for _, day := range validated {
		payloadJSON, err := encodePayload(day.Payload)
		if err != nil {
			s.logError(opSyncUpload, reasonPayloadEncode, err,
				zap.String(fieldUsername, username.String()),
				zap.String(fieldDate, day.Date.String()))
			return result, newServiceError(opSyncUpload, reasonPayloadEncode, err)
		}

		uploadedAt := s.now()
		row := StoredDay{
			Username:    username.String(),
			Day:         day.Date.String(),
			YearMonth:   day.Date.YearMonth().String(),
			Timestamp:   uploadedAt.UnixMilli(),
			AbsenceLock: day.AbsenceLock,
			ManagerLock: day.ManagerLock,
			PayloadJSON: payloadJSON,
		}

		write, err := s.store.upsertDay(ctx, username, row, uploadedAt)
		if err != nil {
			s.logError(opSyncUpload, reasonWriteFailed, err,
				zap.String(fieldUsername, username.String()),
				zap.String(fieldDate, day.Date.String()),
				zap.Int("uploaded_before_failure", result.Uploaded))
			s.publish(username, changedDates, nil, uploadedAt)
			return result, storeFailure(opSyncUpload, reasonWriteFailed, err)
		}

		dayResult := DayUploadResult{Date: day.Date, Timestamp: row.Timestamp}
		switch {
		case !write.applied:
			dayResult.Outcome = UploadOutcomeSkipped
			dayResult.Timestamp = 0
			result.Skipped++
			s.loggerOrDefault().Info("locked day upload skipped",
				zap.String(fieldUsername, username.String()),
				zap.String(fieldDate, day.Date.String()))
		case write.monthCreated:
			dayResult.Outcome = UploadOutcomeCreated
			result.Uploaded++
			changedDates = append(changedDates, day.Date.String())
		default:
			dayResult.Outcome = UploadOutcomeUploaded
			result.Uploaded++
			changedDates = append(changedDates, day.Date.String())
		}
		result.Days = append(result.Days, dayResult)
	}

	s.publish(username, changedDates, nil, s.now())
	return result, nil
}
