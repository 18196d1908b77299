package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"brewery-presence-backend/internal/apperr"
)

// Store groups every persistence operation of the service.
type Store interface {
	PresenceStore
	CheckInStore
	FriendStore
	BreweryStore
	PushSubscriptionStore
	Ping(ctx context.Context) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// Ping checks the underlying connection.
func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// notFoundOr maps gorm.ErrRecordNotFound to apperr's not_found kind and wraps
// anything else with the operation name.
func notFoundOr(err error, op, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Wrap(apperr.KindNotFound, err, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("%s: %w", op, err)
}
