package worklog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const (
	fieldDayDate     = "d"
	fieldDayTS       = "ts"
	fieldAbsenceLock = "al"
	fieldManagerLock = "ma"
	fieldDays        = "days"
)

var nullLiteral = []byte("null")

// MarshalJSON flattens the opaque payload next to the reserved day keys.
func (r DayRecord) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(r.Payload)+4)
	for key, value := range r.Payload {
		fields[key] = value
	}
	fields[fieldDayDate] = r.Date.String()
	fields[fieldDayTS] = r.Timestamp
	fields[fieldAbsenceLock] = r.AbsenceLock
	fields[fieldManagerLock] = r.ManagerLock
	return json.Marshal(fields)
}

// UnmarshalJSON splits the reserved day keys from the opaque payload. Lock flags
// only count when they are literally true.
func (r *DayRecord) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("day record must be an object")
	}

	decoded := DayRecord{}
	if raw, ok := fields[fieldDayDate]; ok {
		var date string
		if err := json.Unmarshal(raw, &date); err != nil {
			return fmt.Errorf("day record %q: %w", fieldDayDate, err)
		}
		decoded.Date = DayDate(date)
	}
	if raw, ok := fields[fieldDayTS]; ok {
		ts, err := decodeMillis(raw)
		if err != nil {
			return fmt.Errorf("day record %q: %w", fieldDayTS, err)
		}
		decoded.Timestamp = ts
	}
	decoded.AbsenceLock = isTrue(fields[fieldAbsenceLock])
	decoded.ManagerLock = isTrue(fields[fieldManagerLock])

	delete(fields, fieldDayDate)
	delete(fields, fieldDayTS)
	delete(fields, fieldAbsenceLock)
	delete(fields, fieldManagerLock)
	if len(fields) > 0 {
		decoded.Payload = fields
	}

	*r = decoded
	return nil
}

func decodeMillis(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), nullLiteral) {
		return 0, nil
	}
	var whole int64
	if err := json.Unmarshal(raw, &whole); err == nil {
		return whole, nil
	}
	var fractional float64
	if err := json.Unmarshal(raw, &fractional); err != nil {
		return 0, err
	}
	return int64(fractional), nil
}

func isTrue(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var flag bool
	if err := json.Unmarshal(raw, &flag); err != nil {
		return false
	}
	return flag
}

// MarshalJSON renders the month body as {"days":[...], ...extra}.
func (m MonthData) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(m.Extra)+1)
	for key, value := range m.Extra {
		fields[key] = value
	}
	days := m.Days
	if days == nil {
		days = []DayRecord{}
	}
	fields[fieldDays] = days
	return json.Marshal(fields)
}

// UnmarshalJSON accepts a month body; keys other than days are kept as extras.
func (m *MonthData) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), nullLiteral) {
		*m = MonthData{}
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	decoded := MonthData{}
	if raw, ok := fields[fieldDays]; ok && !bytes.Equal(bytes.TrimSpace(raw), nullLiteral) {
		if err := json.Unmarshal(raw, &decoded.Days); err != nil {
			return fmt.Errorf("month data %q: %w", fieldDays, err)
		}
	}
	delete(fields, fieldDays)
	if len(fields) > 0 {
		decoded.Extra = fields
	}
	*m = decoded
	return nil
}

type monthDocumentJSON struct {
	Username  string    `json:"username"`
	YearMonth string    `json:"yearMonth"`
	UpdatedAt time.Time `json:"updatedAt"`
	MonthData MonthData `json:"monthData"`
}

// MarshalJSON renders the document in the shape clients already consume.
func (d MonthDocument) MarshalJSON() ([]byte, error) {
	return json.Marshal(monthDocumentJSON{
		Username:  d.Username.String(),
		YearMonth: d.YearMonth.String(),
		UpdatedAt: d.UpdatedAt.UTC(),
		MonthData: d.MonthData,
	})
}

// UnmarshalJSON reads a month entry as submitted on the whole-month path.
func (e *MonthEntry) UnmarshalJSON(data []byte) error {
	var payload monthDocumentJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	*e = MonthEntry{
		Username:  payload.Username,
		YearMonth: payload.YearMonth,
		UpdatedAt: payload.UpdatedAt,
		MonthData: payload.MonthData,
	}
	return nil
}

func encodePayload(payload map[string]json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "{}", nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func decodePayload(raw string) (map[string]json.RawMessage, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, nil
	}
	return payload, nil
}
