package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"brewery-presence-backend/internal/apperr"
	"brewery-presence-backend/internal/model"
)

// CheckInFilter narrows ListCheckIns. Zero fields are ignored.
type CheckInFilter struct {
	UserID    string
	BreweryID string
	Status    model.CheckInStatus
	Limit     int
}

// CheckInStore persists the check-in ledger.
type CheckInStore interface {
	// StartCheckIn cancels any active check-in of c.UserID and inserts c in one
	// transaction. The cancelled rows are returned.
	StartCheckIn(ctx context.Context, c *model.CheckIn) ([]model.CheckIn, error)
	GetCheckIn(ctx context.Context, id string) (*model.CheckIn, error)
	// TransitionCheckIn moves an active check-in to a terminal status. It fails
	// with not_found for unknown ids and invalid_state when the row is not active.
	TransitionCheckIn(ctx context.Context, id string, to model.CheckInStatus, at time.Time) (*model.CheckIn, error)
	ListCheckIns(ctx context.Context, filter CheckInFilter) ([]model.CheckIn, error)
}

func (s *gormStore) StartCheckIn(ctx context.Context, c *model.CheckIn) ([]model.CheckIn, error) {
	var superseded []model.CheckIn
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND status = ?", c.UserID, model.CheckInActive).
			Find(&superseded).Error; err != nil {
			return fmt.Errorf("failed to load active check-ins for user %s: %w", c.UserID, err)
		}

		for i := range superseded {
			cancelledAt := c.CheckinTime
			superseded[i].Status = model.CheckInCancelled
			superseded[i].CheckoutTime = &cancelledAt
			if err := tx.Model(&model.CheckIn{}).
				Where("id = ?", superseded[i].ID).
				Updates(map[string]any{"status": model.CheckInCancelled, "checkout_time": cancelledAt}).Error; err != nil {
				return fmt.Errorf("failed to cancel check-in %s: %w", superseded[i].ID, err)
			}
		}

		if err := tx.Create(c).Error; err != nil {
			return fmt.Errorf("failed to create check-in for user %s: %w", c.UserID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return superseded, nil
}

func (s *gormStore) GetCheckIn(ctx context.Context, id string) (*model.CheckIn, error) {
	var c model.CheckIn
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "get check-in", "check-in %s not found", id)
	}
	return &c, nil
}

func (s *gormStore) TransitionCheckIn(ctx context.Context, id string, to model.CheckInStatus, at time.Time) (*model.CheckIn, error) {
	var out model.CheckIn
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.CheckIn{}).
			Where("id = ? AND status = ?", id, model.CheckInActive).
			Updates(map[string]any{"status": to, "checkout_time": at})
		if res.Error != nil {
			return fmt.Errorf("failed to transition check-in %s: %w", id, res.Error)
		}

		if err := tx.First(&out, "id = ?", id).Error; err != nil {
			return notFoundOr(err, "reload check-in", "check-in %s not found", id)
		}
		if res.RowsAffected == 0 {
			return apperr.InvalidState("check-in %s is %s", id, out.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCheckIns returns matching rows, newest check-in first.
func (s *gormStore) ListCheckIns(ctx context.Context, filter CheckInFilter) ([]model.CheckIn, error) {
	q := s.db.WithContext(ctx).Model(&model.CheckIn{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.BreweryID != "" {
		q = q.Where("brewery_id = ?", filter.BreweryID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var out []model.CheckIn
	if err := q.Order("checkin_time DESC").Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	return out, nil
}
