package worklog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultOperationTimeout = 10 * time.Second
	defaultBulkConcurrency  = 4

	opServiceNew        = "worklog.service.new"
	opMonthTimestamps   = "worklog.month_timestamps"
	opDayTimestamps     = "worklog.day_timestamps"
	opLockedDays        = "worklog.locked_days"
	opSyncStatus        = "worklog.sync_status"
	opSyncCheck         = "worklog.sync_check"
	opSyncUpload        = "worklog.sync_upload"
	opSyncDownload      = "worklog.sync_download"
	opGetMonths         = "worklog.get_months"
	opUpdateMonths      = "worklog.update_months"
	opAdminBulkSync     = "worklog.admin_bulk_sync"
	opSetDayLock        = "worklog.set_day_lock"
	fieldUsername       = "username"
	fieldYearMonth      = "year_month"
	fieldDate           = "date"
	reasonMissingDB     = "missing_database"
	reasonInvalidInput  = "invalid_input"
	reasonUserNotFound  = "user_not_found"
	reasonUserLookup    = "user_lookup_failed"
	reasonQueryFailed   = "query_failed"
	reasonWriteFailed   = "write_failed"
	reasonPayloadDecode = "payload_decode_failed"
	reasonPayloadEncode = "payload_encode_failed"
	reasonDayNotFound   = "day_not_found"
)

var (
	// ErrUserNotFound indicates that the addressed username is unknown to the user directory.
	ErrUserNotFound = errors.New("worklog: user not found")
	// ErrDayNotFound indicates that the addressed day has never been stored.
	ErrDayNotFound = errors.New("worklog: day not found")
	// ErrStore wraps failures of the underlying persistent store.
	ErrStore = errors.New("worklog: store failure")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a stable "<operation>.<reason>" code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func storeFailure(operation, reason string, cause error) error {
	return newServiceError(operation, reason, fmt.Errorf("%w: %w", ErrStore, cause))
}

// UserDirectory answers whether a username is registered, so that "no data"
// can be told apart from "no such user".
type UserDirectory interface {
	UserExists(ctx context.Context, username string) (bool, error)
}

// ChangePublisher receives a notification after day data of a user changed.
type ChangePublisher interface {
	PublishChange(event ChangeEvent)
}

// ChangeEvent describes a committed write.
type ChangeEvent struct {
	Username   string
	Dates      []string
	YearMonths []string
	At         time.Time
}

type ServiceConfig struct {
	Database         *gorm.DB
	Clock            func() time.Time
	Logger           *zap.Logger
	Users            UserDirectory
	Publisher        ChangePublisher
	OperationTimeout time.Duration
	BulkConcurrency  int
}

// Service implements the offline-first synchronization engine on top of MonthStore.
type Service struct {
	store            *MonthStore
	clock            func() time.Time
	logger           *zap.Logger
	users            UserDirectory
	publisher        ChangePublisher
	operationTimeout time.Duration
	bulkConcurrency  int
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDB, errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}

	concurrency := cfg.BulkConcurrency
	if concurrency <= 0 {
		concurrency = defaultBulkConcurrency
	}

	return &Service{
		store:            NewMonthStore(cfg.Database),
		clock:            clock,
		logger:           logger,
		users:            cfg.Users,
		publisher:        cfg.Publisher,
		operationTimeout: timeout,
		bulkConcurrency:  concurrency,
	}, nil
}

func (s *Service) ready(operation string) error {
	if s == nil || s.store == nil || s.store.db == nil {
		s.logError(operation, reasonMissingDB, errMissingDatabase)
		return newServiceError(operation, reasonMissingDB, errMissingDatabase)
	}
	return nil
}

// scoped bounds a single operation's store calls by the configured deadline.
func (s *Service) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.operationTimeout
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *Service) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Service) publish(username Username, dates []string, yearMonths []string, at time.Time) {
	if s.publisher == nil || (len(dates) == 0 && len(yearMonths) == 0) {
		return
	}
	s.publisher.PublishChange(ChangeEvent{
		Username:   username.String(),
		Dates:      dates,
		YearMonths: yearMonths,
		At:         at,
	})
}

// ensureUserKnown resolves an empty result: known users get empty data, unknown
// ones a not-found error. Without a directory every user counts as known.
func (s *Service) ensureUserKnown(ctx context.Context, operation string, username Username) error {
	if s.users == nil {
		return nil
	}
	exists, err := s.users.UserExists(ctx, username.String())
	if err != nil {
		s.logError(operation, reasonUserLookup, err, zap.String(fieldUsername, username.String()))
		return newServiceError(operation, reasonUserLookup, err)
	}
	if !exists {
		return newServiceError(operation, reasonUserNotFound, fmt.Errorf("%w: %s", ErrUserNotFound, username))
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("worklog service error", attrs...)
}
