package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/worklog/internal/auth"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidIdentity indicates the identity did not contain a usable username.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for the user directory.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service records every username that authenticated and answers existence lookups.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:    cfg.Database,
		now:   clock,
		cache: sync.Map{},
	}, nil
}

// Register records the identity on first sight and keeps its role current.
// Repeated calls for an unchanged identity are served from the cache.
func (s *Service) Register(ctx context.Context, identity auth.Identity) error {
	username := normalize(identity.Username)
	if username == "" {
		return ErrInvalidIdentity
	}
	role := string(auth.ParseRole(string(identity.Role)))

	if cachedRole, ok := s.cache.Load(username); ok {
		if cached, ok := cachedRole.(string); ok && cached == role {
			return nil
		}
	}

	user := User{
		Username:   username,
		Role:       role,
		LastSeenAt: s.now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "last_seen_at", "updated_at"}),
	}).Create(&user).Error
	if err != nil {
		return err
	}

	s.cache.Store(username, role)
	return nil
}

// UserExists reports whether the username has ever been registered.
func (s *Service) UserExists(ctx context.Context, username string) (bool, error) {
	username = normalize(username)
	if username == "" {
		return false, nil
	}
	if _, ok := s.cache.Load(username); ok {
		return true, nil
	}

	var user User
	err := s.db.WithContext(ctx).
		Where("username = ?", username).
		Take(&user).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.cache.Store(username, user.Role)
	return true, nil
}

// ListUsers returns every registered user ordered by username.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	var registered []User
	err := s.db.WithContext(ctx).
		Order("username ASC").
		Find(&registered).
		Error
	if err != nil {
		return nil, err
	}
	return registered, nil
}
