package worklog

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type stepClock struct {
	mu      sync.Mutex
	current time.Time
}

func newStepClock(start time.Time) *stepClock {
	return &stepClock{current: start}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *stepClock) Advance(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(step)
}

type staticDirectory map[string]bool

func (d staticDirectory) UserExists(_ context.Context, username string) (bool, error) {
	return d[username], nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (p *recordingPublisher) PublishChange(event ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Events() []ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ChangeEvent(nil), p.events...)
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:worklog_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

// openFileTestDatabase backs the store with a temp file so that several pooled
// connections write concurrently.
func openFileTestDatabase(t *testing.T, maxOpenConns int) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "worklog.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, cfg ServiceConfig) (*Service, *gorm.DB) {
	t.Helper()
	db := openTestDatabase(t)
	cfg.Database = db
	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("failed to construct worklog service: %v", err)
	}
	return service, db
}

func mustUsername(t *testing.T, value string) Username {
	t.Helper()
	username, err := NewUsername(value)
	if err != nil {
		t.Fatalf("unexpected username error: %v", err)
	}
	return username
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("invalid time fixture %q: %v", value, err)
	}
	return parsed.UTC()
}

func dayWithPayload(t *testing.T, date string, payload string) DayRecord {
	t.Helper()
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		t.Fatalf("invalid payload fixture: %v", err)
	}
	return DayRecord{Date: DayDate(date), Payload: fields}
}

func seedDay(t *testing.T, db *gorm.DB, day StoredDay, monthUpdatedAt time.Time) {
	t.Helper()
	month := StoredMonth{
		Username:        day.Username,
		YearMonth:       day.YearMonth,
		UpdatedAtMillis: monthUpdatedAt.UnixMilli(),
		ExtraJSON:       emptyObjectJSON,
	}
	if err := db.Where(queryUserMonth, month.Username, month.YearMonth).FirstOrCreate(&month).Error; err != nil {
		t.Fatalf("failed to seed month: %v", err)
	}
	if day.PayloadJSON == "" {
		day.PayloadJSON = emptyObjectJSON
	}
	if err := db.Create(&day).Error; err != nil {
		t.Fatalf("failed to seed day: %v", err)
	}
}
