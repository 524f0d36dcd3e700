package users

import (
	"strings"
	"time"
)

// User is a registered worklog owner.
type User struct {
	Username   string    `gorm:"column:username;primaryKey;size:190;not null"`
	Role       string    `gorm:"column:role;size:32;not null;default:user"`
	LastSeenAt time.Time `gorm:"column:last_seen_at"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing the user directory.
func (User) TableName() string {
	return "users"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
