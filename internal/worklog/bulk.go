package worklog

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BulkUserStatus tags the per-user result of an administrative bulk sync.
type BulkUserStatus string

const (
	// BulkUserStatusOK means timestamps and any stale months were fetched.
	BulkUserStatusOK BulkUserStatus = "ok"
	// BulkUserStatusFailed means the user's reads failed; the batch went on without them.
	BulkUserStatusFailed BulkUserStatus = "failed"
)

// BulkSyncRequest carries one user's month-granularity client state.
type BulkSyncRequest struct {
	Username        string
	LocalTimestamps map[string]time.Time
}

// BulkUserResult is the tagged outcome for one user.
type BulkUserResult struct {
	Username      Username
	Status        BulkUserStatus
	MonthsFetched int
	Error         string
}

// BulkSyncResult aggregates AdminBulkSync. ServerTimestamps has an entry for
// every requested user, empty when that user's read failed.
type BulkSyncResult struct {
	ServerTimestamps map[Username]map[YearMonth]time.Time
	UpdatedData      []MonthDocument
	Users            []BulkUserResult
}

type bulkRequest struct {
	username Username
	local    map[YearMonth]time.Time
}

type bulkOutcome struct {
	timestamps map[YearMonth]time.Time
	documents  []MonthDocument
	status     BulkUserStatus
	err        error
}

// AdminBulkSync runs the month-level read path for many users. Users are
// processed independently with bounded concurrency; one user's failure never
// aborts the others.
func (s *Service) AdminBulkSync(ctx context.Context, requests []BulkSyncRequest) (BulkSyncResult, error) {
	if err := s.ready(opAdminBulkSync); err != nil {
		return BulkSyncResult{}, err
	}
	if len(requests) == 0 {
		return BulkSyncResult{}, newServiceError(opAdminBulkSync, reasonInvalidInput, invalid(ErrEmptyBatch, "syncRequests"))
	}

	normalized := make([]bulkRequest, 0, len(requests))
	seen := make(map[Username]struct{}, len(requests))
	for _, request := range requests {
		username, err := NewUsername(request.Username)
		if err != nil {
			return BulkSyncResult{}, newServiceError(opAdminBulkSync, reasonInvalidInput, err)
		}
		if _, ok := seen[username]; ok {
			continue
		}
		seen[username] = struct{}{}

		local := make(map[YearMonth]time.Time, len(request.LocalTimestamps))
		for rawMonth, updatedAt := range request.LocalTimestamps {
			yearMonth, err := NewYearMonth(rawMonth)
			if err != nil {
				return BulkSyncResult{}, newServiceError(opAdminBulkSync, reasonInvalidInput, err)
			}
			local[yearMonth] = updatedAt
		}
		normalized = append(normalized, bulkRequest{username: username, local: local})
	}

	outcomes := make([]bulkOutcome, len(normalized))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.bulkConcurrency)
	for index := range normalized {
		request := normalized[index]
		group.Go(func() error {
			outcomes[index] = s.bulkSyncUser(groupCtx, request)
			return nil
		})
	}
	_ = group.Wait()

	result := BulkSyncResult{
		ServerTimestamps: make(map[Username]map[YearMonth]time.Time, len(normalized)),
		UpdatedData:      make([]MonthDocument, 0),
		Users:            make([]BulkUserResult, 0, len(normalized)),
	}
	for index, request := range normalized {
		outcome := outcomes[index]
		timestamps := outcome.timestamps
		if timestamps == nil {
			timestamps = map[YearMonth]time.Time{}
		}
		result.ServerTimestamps[request.username] = timestamps
		result.UpdatedData = append(result.UpdatedData, outcome.documents...)

		userResult := BulkUserResult{
			Username:      request.username,
			Status:        outcome.status,
			MonthsFetched: len(outcome.documents),
		}
		if outcome.err != nil {
			userResult.Error = outcome.err.Error()
		}
		result.Users = append(result.Users, userResult)
	}

	s.loggerOrDefault().Info("admin bulk sync completed",
		zap.Int("users", len(normalized)),
		zap.Int("months", len(result.UpdatedData)))
	return result, nil
}

func (s *Service) bulkSyncUser(ctx context.Context, request bulkRequest) bulkOutcome {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	timestamps, err := s.monthTimestamps(ctx, request.username)
	if err != nil {
		s.loggerOrDefault().Warn("bulk sync timestamps failed",
			zap.String("operation", opAdminBulkSync),
			zap.String(fieldUsername, request.username.String()),
			zap.Error(err))
		return bulkOutcome{status: BulkUserStatusFailed, err: err}
	}

	stale := staleMonths(request.local, timestamps)
	if len(stale) == 0 {
		return bulkOutcome{timestamps: timestamps, status: BulkUserStatusOK}
	}

	documents, _, err := s.fetchMonthDocuments(ctx, request.username, stale)
	if err != nil {
		s.loggerOrDefault().Warn("bulk sync month fetch failed",
			zap.String("operation", opAdminBulkSync),
			zap.String(fieldUsername, request.username.String()),
			zap.Error(err))
		return bulkOutcome{timestamps: timestamps, status: BulkUserStatusFailed, err: err}
	}
	return bulkOutcome{timestamps: timestamps, documents: documents, status: BulkUserStatusOK}
}

// staleMonths lists server months the client lacks or holds an older copy of.
func staleMonths(local map[YearMonth]time.Time, server map[YearMonth]time.Time) []string {
	stale := make([]string, 0)
	for yearMonth, serverUpdatedAt := range server {
		localUpdatedAt, ok := local[yearMonth]
		if !ok || serverUpdatedAt.After(localUpdatedAt) {
			stale = append(stale, yearMonth.String())
		}
	}
	sort.Strings(stale)
	return stale
}
