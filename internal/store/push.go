package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"brewery-presence-backend/internal/apperr"
	"brewery-presence-backend/internal/model"
)

// PushSubscriptionStore persists browser push endpoints per user.
type PushSubscriptionStore interface {
	SavePushSubscription(ctx context.Context, sub *model.PushSubscription) error
	GetPushSubscription(ctx context.Context, userID, endpoint string) (*model.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, userID, endpoint string) error
	ListPushSubscriptions(ctx context.Context, userIDs []string) ([]model.PushSubscription, error)
	DeleteExpiredPushSubscription(ctx context.Context, endpoint string) error
}

// SavePushSubscription creates or replaces the subscription for an endpoint.
func (s *gormStore) SavePushSubscription(ctx context.Context, sub *model.PushSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(sub).Error
	if err != nil {
		return fmt.Errorf("failed to save push subscription: %w", err)
	}
	return nil
}

func (s *gormStore) GetPushSubscription(ctx context.Context, userID, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).First(&sub, "endpoint = ? AND user_id = ?", endpoint, userID).Error; err != nil {
		return nil, notFoundOr(err, "get push subscription", "subscription not found")
	}
	return &sub, nil
}

func (s *gormStore) DeletePushSubscription(ctx context.Context, userID, endpoint string) error {
	res := s.db.WithContext(ctx).Where("endpoint = ? AND user_id = ?", endpoint, userID).Delete(&model.PushSubscription{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete push subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("subscription not found")
	}
	return nil
}

func (s *gormStore) ListPushSubscriptions(ctx context.Context, userIDs []string) ([]model.PushSubscription, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list push subscriptions: %w", err)
	}
	return subs, nil
}

func (s *gormStore) DeleteExpiredPushSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
		return fmt.Errorf("failed to delete expired subscription %s: %w", endpoint, err)
	}
	return nil
}
