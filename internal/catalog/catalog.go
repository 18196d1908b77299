// Package catalog answers brewery existence and name lookups for the ledger.
package catalog

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"brewery-presence-backend/internal/apperr"
	"brewery-presence-backend/internal/model"
	"brewery-presence-backend/internal/store"
)

// Catalog caches brewery rows read from the catalog collaborator.
// Unknown ids are not cached so newly added breweries show up immediately.
type Catalog struct {
	store store.BreweryStore
	cache *cache.Cache
}

// New wraps st with a cache whose entries live for ttl.
func New(st store.BreweryStore, ttl time.Duration) *Catalog {
	return &Catalog{
		store: st,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Get returns the brewery or a not_found error.
func (c *Catalog) Get(ctx context.Context, id string) (*model.Brewery, error) {
	if v, ok := c.cache.Get(id); ok {
		b := v.(model.Brewery)
		return &b, nil
	}
	b, err := c.store.GetBrewery(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(id, *b)
	return b, nil
}

// Exists reports whether id names a catalog brewery.
func (c *Catalog) Exists(ctx context.Context, id string) (bool, error) {
	_, err := c.Get(ctx, id)
	switch apperr.KindOf(err) {
	case "":
		return true, nil
	case apperr.KindNotFound:
		return false, nil
	default:
		return false, err
	}
}
