package worklog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func monthEntryFixture(t *testing.T, raw string) MonthEntry {
	t.Helper()
	var entry MonthEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		t.Fatalf("invalid month entry fixture: %v", err)
	}
	return entry
}

func TestUpdateMonthsInsertsThenModifies(t *testing.T) {
	publisher := &recordingPublisher{}
	service, _ := newTestService(t, ServiceConfig{Publisher: publisher})
	username := mustUsername(t, "alice")

	first := monthEntryFixture(t, `{
		"username": "alice",
		"yearMonth": "2024-01",
		"updatedAt": "2024-02-01T00:00:00Z",
		"monthData": {"days": [{"d":"2024-01-02","ts":100,"hours":8},{"d":"2024-01-03","ts":200,"ma":true}], "approvedBy": "carol"}
	}`)
	result, err := service.UpdateMonths(context.Background(), username, []MonthEntry{first})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 0, result.Modified)
	assert.Empty(t, result.Conflicts)

	second := monthEntryFixture(t, `{
		"username": "alice",
		"yearMonth": "2024-01",
		"updatedAt": "2024-02-01T00:00:00Z",
		"monthData": {"days": [{"d":"2024-01-04","ts":300}]}
	}`)
	result, err = service.UpdateMonths(context.Background(), username, []MonthEntry{second})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 1, result.Modified)

	documents, err := service.GetMonths(context.Background(), username, []string{"2024-01", "2023-12"})
	require.NoError(t, err)
	require.Len(t, documents, 1)
	require.Len(t, documents[0].MonthData.Days, 1)
	assert.Equal(t, DayDate("2024-01-04"), documents[0].MonthData.Days[0].Date)
	assert.Equal(t, int64(300), documents[0].MonthData.Days[0].Timestamp)
	assert.True(t, mustTime(t, "2024-02-01T00:00:00Z").Equal(documents[0].UpdatedAt))
	assert.Len(t, publisher.Events(), 2)

	result, err = service.UpdateMonths(context.Background(), username, []MonthEntry{second})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Modified, "an unchanged replace still counts as modified")
}

func TestUpdateMonthsKeepsLockFlagsAndExtras(t *testing.T) {
	service, _ := newTestService(t, ServiceConfig{})
	username := mustUsername(t, "alice")

	entry := monthEntryFixture(t, `{
		"username": "alice",
		"yearMonth": "2024-01",
		"updatedAt": "2024-02-01T00:00:00Z",
		"monthData": {"days": [{"d":"2024-01-03","ts":200,"ma":true}], "approvedBy": "carol"}
	}`)
	_, err := service.UpdateMonths(context.Background(), username, []MonthEntry{entry})
	require.NoError(t, err)

	locked, err := service.LockedDays(context.Background(), username)
	require.NoError(t, err)
	assert.Equal(t, []DayDate{"2024-01-03"}, locked)

	documents, err := service.GetMonths(context.Background(), username, []string{"2024-01"})
	require.NoError(t, err)
	require.Len(t, documents, 1)
	assert.JSONEq(t, `"carol"`, string(documents[0].MonthData.Extra["approvedBy"]))
}

func TestUpdateMonthsReportsConflictWhenServerIsNewer(t *testing.T) {
	service, _ := newTestService(t, ServiceConfig{})
	username := mustUsername(t, "alice")

	stored := monthEntryFixture(t, `{
		"username": "alice",
		"yearMonth": "2024-01",
		"updatedAt": "2024-02-01T12:00:00Z",
		"monthData": {"days": [{"d":"2024-01-02","ts":100,"hours":8}]}
	}`)
	_, err := service.UpdateMonths(context.Background(), username, []MonthEntry{stored})
	require.NoError(t, err)

	stale := monthEntryFixture(t, `{
		"username": "alice",
		"yearMonth": "2024-01",
		"updatedAt": "2024-02-01T11:00:00Z",
		"monthData": {"days": []}
	}`)
	fresh := monthEntryFixture(t, `{
		"username": "alice",
		"yearMonth": "2024-02",
		"updatedAt": "2024-03-01T00:00:00Z",
		"monthData": {"days": [{"d":"2024-02-01","ts":1}]}
	}`)
	result, err := service.UpdateMonths(context.Background(), username, []MonthEntry{stale, fresh})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	require.Len(t, result.Conflicts, 1)
	conflict := result.Conflicts[0]
	assert.Equal(t, YearMonth("2024-01"), conflict.YearMonth)
	assert.Equal(t, ConflictReasonServerNewer, conflict.Reason)
	assert.True(t, mustTime(t, "2024-02-01T12:00:00Z").Equal(conflict.ServerUpdatedAt))
	assert.True(t, mustTime(t, "2024-02-01T11:00:00Z").Equal(conflict.ClientUpdatedAt))

	records, err := service.SyncDownload(context.Background(), username, []string{"2024-01-02"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.JSONEq(t, "8", string(records[0].Payload["hours"]))
}

func TestUpdateMonthsRejectsMalformedEntries(t *testing.T) {
	service, db := newTestService(t, ServiceConfig{})
	username := mustUsername(t, "alice")

	testCases := []struct {
		name    string
		entry   string
		wantErr error
	}{
		{
			name:    "username mismatch",
			entry:   `{"username":"bob","yearMonth":"2024-01","updatedAt":"2024-02-01T00:00:00Z","monthData":{"days":[]}}`,
			wantErr: ErrUsernameMismatch,
		},
		{
			name:    "day outside month",
			entry:   `{"username":"alice","yearMonth":"2024-01","updatedAt":"2024-02-01T00:00:00Z","monthData":{"days":[{"d":"2024-02-01"}]}}`,
			wantErr: ErrDayOutsideMonth,
		},
		{
			name:    "duplicate day",
			entry:   `{"username":"alice","yearMonth":"2024-01","updatedAt":"2024-02-01T00:00:00Z","monthData":{"days":[{"d":"2024-01-01"},{"d":"2024-01-01"}]}}`,
			wantErr: ErrDuplicateDay,
		},
		{
			name:    "missing updatedAt",
			entry:   `{"username":"alice","yearMonth":"2024-01","monthData":{"days":[]}}`,
			wantErr: ErrInvalidTimestamp,
		},
		{
			name:    "bad month key",
			entry:   `{"username":"alice","yearMonth":"2024-1","updatedAt":"2024-02-01T00:00:00Z","monthData":{"days":[]}}`,
			wantErr: ErrInvalidYearMonth,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.UpdateMonths(context.Background(), username, []MonthEntry{monthEntryFixture(t, testCase.entry)})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			assert.True(t, errors.Is(err, testCase.wantErr), "got %v", err)
		})
	}

	var count int64
	require.NoError(t, db.Model(&StoredMonth{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestUpdateMonthsRejectsUnencodablePayloads(t *testing.T) {
	service, _ := newTestService(t, ServiceConfig{})
	username := mustUsername(t, "alice")
	updatedAt := mustTime(t, "2024-02-01T00:00:00Z")
	broken := json.RawMessage(`{"unterminated":`)

	testCases := []struct {
		name  string
		entry MonthEntry
	}{
		{
			name: "month extras",
			entry: MonthEntry{Username: "alice", YearMonth: "2024-01", UpdatedAt: updatedAt, MonthData: MonthData{
				Extra: map[string]json.RawMessage{"settings": broken},
			}},
		},
		{
			name: "day payload",
			entry: MonthEntry{Username: "alice", YearMonth: "2024-01", UpdatedAt: updatedAt, MonthData: MonthData{
				Days: []DayRecord{{Date: "2024-01-02", Payload: map[string]json.RawMessage{"hours": broken}}},
			}},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.UpdateMonths(context.Background(), username, []MonthEntry{testCase.entry})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			assert.True(t, errors.Is(err, ErrInvalidPayload), "got %v", err)
			assert.False(t, errors.Is(err, ErrInvalidYearMonth))
			assert.False(t, errors.Is(err, ErrInvalidDayDate))
		})
	}
}

func TestDayUploadBumpsMonthVersionSeenByMonthPath(t *testing.T) {
	clock := newStepClock(mustTime(t, "2024-02-10T00:00:00Z"))
	service, _ := newTestService(t, ServiceConfig{Clock: clock.Now})
	username := mustUsername(t, "alice")

	entry := monthEntryFixture(t, `{
		"username": "alice",
		"yearMonth": "2024-02",
		"updatedAt": "2024-02-05T00:00:00Z",
		"monthData": {"days": []}
	}`)
	_, err := service.UpdateMonths(context.Background(), username, []MonthEntry{entry})
	require.NoError(t, err)

	_, err = service.SyncUpload(context.Background(), username, []DayRecord{dayWithPayload(t, "2024-02-09", `{"hours":2}`)})
	require.NoError(t, err)

	result, err := service.UpdateMonths(context.Background(), username, []MonthEntry{entry})
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	assert.True(t, clock.Now().Equal(result.Conflicts[0].ServerUpdatedAt))
}
