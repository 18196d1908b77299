package store

import (
	"context"

	"brewery-presence-backend/internal/model"
)

// BreweryStore reads the brewery catalog.
type BreweryStore interface {
	GetBrewery(ctx context.Context, id string) (*model.Brewery, error)
}

func (s *gormStore) GetBrewery(ctx context.Context, id string) (*model.Brewery, error) {
	var b model.Brewery
	if err := s.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "get brewery", "brewery %s not found", id)
	}
	return &b, nil
}
