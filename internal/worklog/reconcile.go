package worklog

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// SyncPlan is the outcome of comparing a client's day timestamps with the server.
// The three lists are disjoint.
type SyncPlan struct {
	ToUpload        []DayDate
	ToDownload      []DayDate
	LockedConflicts []DayDate
}

// reconcileDays decides, per date, which side holds the newer copy. A locked
// server day always lands in LockedConflicts, whatever the timestamps say.
func reconcileDays(local map[DayDate]int64, server map[DayDate]DayTimestamp) SyncPlan {
	plan := SyncPlan{
		ToUpload:        make([]DayDate, 0),
		ToDownload:      make([]DayDate, 0),
		LockedConflicts: make([]DayDate, 0),
	}

	for date, localTS := range local {
		serverDay, ok := server[date]
		switch {
		case !ok:
			plan.ToUpload = append(plan.ToUpload, date)
		case serverDay.IsLocked:
			plan.LockedConflicts = append(plan.LockedConflicts, date)
		case localTS > serverDay.Timestamp:
			plan.ToUpload = append(plan.ToUpload, date)
		case serverDay.Timestamp > localTS:
			plan.ToDownload = append(plan.ToDownload, date)
		}
	}

	for date, serverDay := range server {
		if _, ok := local[date]; ok {
			continue
		}
		if serverDay.IsLocked {
			plan.LockedConflicts = append(plan.LockedConflicts, date)
			continue
		}
		plan.ToDownload = append(plan.ToDownload, date)
	}

	sortDates(plan.ToUpload)
	sortDates(plan.ToDownload)
	sortDates(plan.LockedConflicts)
	return plan
}

func sortDates(dates []DayDate) {
	sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })
}

// SyncCheck validates the client's per-day timestamps and reconciles them
// against the stored days of the user.
func (s *Service) SyncCheck(ctx context.Context, username Username, localTimestamps map[string]int64) (SyncPlan, error) {
	if err := s.ready(opSyncCheck); err != nil {
		return SyncPlan{}, err
	}

	local := make(map[DayDate]int64, len(localTimestamps))
	for rawDate, ts := range localTimestamps {
		date, err := NewDayDate(rawDate)
		if err != nil {
			return SyncPlan{}, newServiceError(opSyncCheck, reasonInvalidInput, err)
		}
		if ts < 0 {
			return SyncPlan{}, newServiceError(opSyncCheck, reasonInvalidInput, invalid(ErrInvalidTimestamp, "%s: %d", rawDate, ts))
		}
		local[date] = ts
	}

	ctx, cancel := s.scoped(ctx)
	defer cancel()

	server, err := s.dayTimestamps(ctx, username)
	if err != nil {
		s.logError(opSyncCheck, reasonQueryFailed, err, zap.String(fieldUsername, username.String()))
		return SyncPlan{}, storeFailure(opSyncCheck, reasonQueryFailed, err)
	}

	plan := reconcileDays(local, server)
	s.loggerOrDefault().Debug("sync check completed",
		zap.String(fieldUsername, username.String()),
		zap.Int("local_days", len(local)),
		zap.Int("to_upload", len(plan.ToUpload)),
		zap.Int("to_download", len(plan.ToDownload)),
		zap.Int("locked_conflicts", len(plan.LockedConflicts)))
	return plan, nil
}
