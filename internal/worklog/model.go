package worklog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	maxUsernameLength = 190
	yearMonthLayout   = "2006-01"
	dayDateLayout     = "2006-01-02"
)

var (
	// ErrValidation marks malformed input; operations fail before touching the store.
	ErrValidation = errors.New("worklog: validation failed")
	// ErrInvalidUsername indicates that a username is empty or exceeds storage bounds.
	ErrInvalidUsername = errors.New("worklog: invalid username")
	// ErrInvalidYearMonth indicates a partition key that is not YYYY-MM.
	ErrInvalidYearMonth = errors.New("worklog: invalid year month")
	// ErrInvalidDayDate indicates a day key that is not YYYY-MM-DD.
	ErrInvalidDayDate = errors.New("worklog: invalid day date")
	// ErrInvalidTimestamp indicates a missing or negative timestamp.
	ErrInvalidTimestamp = errors.New("worklog: invalid timestamp")
	// ErrUsernameMismatch indicates a month entry addressed to a different user than the request.
	ErrUsernameMismatch = errors.New("worklog: username mismatch")
	// ErrDayOutsideMonth indicates a day whose date prefix differs from its month document.
	ErrDayOutsideMonth = errors.New("worklog: day outside month")
	// ErrDuplicateDay indicates the same date appears twice in one month document.
	ErrDuplicateDay = errors.New("worklog: duplicate day")
	// ErrInvalidPayload indicates day or month content that cannot be encoded.
	ErrInvalidPayload = errors.New("worklog: invalid payload")
	// ErrEmptyBatch indicates a bulk request without items.
	ErrEmptyBatch = errors.New("worklog: empty batch")
)

func invalid(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrValidation, kind, fmt.Sprintf(format, args...))
}

// Username identifies the owner of month documents.
type Username string

// NewUsername validates raw input and returns a Username.
func NewUsername(rawInput string) (Username, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", invalid(ErrInvalidUsername, "empty")
	}
	if len(trimmed) > maxUsernameLength {
		return "", invalid(ErrInvalidUsername, "exceeds %d characters", maxUsernameLength)
	}
	return Username(trimmed), nil
}

// String returns the underlying username.
func (u Username) String() string {
	return string(u)
}

// YearMonth is the YYYY-MM partition key of a month document.
type YearMonth string

// NewYearMonth validates raw input and returns a YearMonth.
func NewYearMonth(rawInput string) (YearMonth, error) {
	trimmed := strings.TrimSpace(rawInput)
	if len(trimmed) != len(yearMonthLayout) {
		return "", invalid(ErrInvalidYearMonth, "%q", rawInput)
	}
	if _, err := time.Parse(yearMonthLayout, trimmed); err != nil {
		return "", invalid(ErrInvalidYearMonth, "%q", rawInput)
	}
	return YearMonth(trimmed), nil
}

// String returns the YYYY-MM value.
func (ym YearMonth) String() string {
	return string(ym)
}

// DayDate is the YYYY-MM-DD identity key of a day record.
type DayDate string

// NewDayDate validates raw input and returns a DayDate.
func NewDayDate(rawInput string) (DayDate, error) {
	trimmed := strings.TrimSpace(rawInput)
	if len(trimmed) != len(dayDateLayout) {
		return "", invalid(ErrInvalidDayDate, "%q", rawInput)
	}
	if _, err := time.Parse(dayDateLayout, trimmed); err != nil {
		return "", invalid(ErrInvalidDayDate, "%q", rawInput)
	}
	return DayDate(trimmed), nil
}

// String returns the YYYY-MM-DD value.
func (d DayDate) String() string {
	return string(d)
}

// YearMonth returns the month partition the day belongs to.
func (d DayDate) YearMonth() YearMonth {
	if len(d) < len(yearMonthLayout) {
		return YearMonth(d)
	}
	return YearMonth(d[:len(yearMonthLayout)])
}

// DayRecord is one calendar day of work. Payload carries the client fields the
// engine does not interpret; they are stored and returned verbatim.
type DayRecord struct {
	Date        DayDate
	Timestamp   int64
	AbsenceLock bool
	ManagerLock bool
	Payload     map[string]json.RawMessage
}

// Locked reports whether either lock flag closes the day.
func (r DayRecord) Locked() bool {
	return r.AbsenceLock || r.ManagerLock
}

// DayTimestamp is the server view of a single day used during reconciliation.
type DayTimestamp struct {
	Timestamp int64 `json:"ts"`
	IsLocked  bool  `json:"isLocked"`
}

// MonthData is the body of a month document: its days plus any extra keys
// supplied on the whole-month path.
type MonthData struct {
	Days  []DayRecord
	Extra map[string]json.RawMessage
}

// MonthDocument is the stored unit keyed by (username, yearMonth).
type MonthDocument struct {
	Username  Username
	YearMonth YearMonth
	UpdatedAt time.Time
	MonthData MonthData
}

// MonthEntry is one whole-month write submitted on the legacy path.
type MonthEntry struct {
	Username  string
	YearMonth string
	UpdatedAt time.Time
	MonthData MonthData
}

func millisToTime(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
