package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"brewery-presence-backend/internal/model"
)

// PresenceStore persists the one-per-user presence record. It does no merging;
// callers read, merge and save under their own per-user lock.
type PresenceStore interface {
	GetPresence(ctx context.Context, userID string) (*model.PresenceRecord, error)
	SavePresence(ctx context.Context, rec *model.PresenceRecord) error
	ListPresenceByBrewery(ctx context.Context, breweryID string) ([]model.PresenceRecord, error)
	ListPresenceByUsers(ctx context.Context, userIDs []string) ([]model.PresenceRecord, error)
	ListStalePresence(ctx context.Context, before time.Time) ([]model.PresenceRecord, error)
}

func (s *gormStore) GetPresence(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	var rec model.PresenceRecord
	if err := s.db.WithContext(ctx).First(&rec, "user_id = ?", userID).Error; err != nil {
		return nil, notFoundOr(err, "get presence", "no presence for user %s", userID)
	}
	return &rec, nil
}

// SavePresence inserts or fully replaces the user's row.
func (s *gormStore) SavePresence(ctx context.Context, rec *model.PresenceRecord) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to save presence for user %s: %w", rec.UserID, err)
	}
	return nil
}

func (s *gormStore) ListPresenceByBrewery(ctx context.Context, breweryID string) ([]model.PresenceRecord, error) {
	var recs []model.PresenceRecord
	err := s.db.WithContext(ctx).
		Where("brewery_id = ? AND status <> ?", breweryID, model.StatusOffline).
		Order("user_id").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list presence for brewery %s: %w", breweryID, err)
	}
	return recs, nil
}

func (s *gormStore) ListPresenceByUsers(ctx context.Context, userIDs []string) ([]model.PresenceRecord, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var recs []model.PresenceRecord
	if err := s.db.WithContext(ctx).Where("user_id IN ?", userIDs).Order("user_id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list presence for %d users: %w", len(userIDs), err)
	}
	return recs, nil
}

// ListStalePresence returns non-offline records last updated before the cutoff.
func (s *gormStore) ListStalePresence(ctx context.Context, before time.Time) ([]model.PresenceRecord, error) {
	var recs []model.PresenceRecord
	err := s.db.WithContext(ctx).
		Where("status <> ? AND updated_at < ?", model.StatusOffline, before.UTC()).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale presence: %w", err)
	}
	return recs, nil
}
