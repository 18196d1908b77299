// Package presence owns the authoritative presence record of every user.
package presence

import (
	"context"
	"time"

	"brewery-presence-backend/internal/apperr"
	"brewery-presence-backend/internal/keylock"
	"brewery-presence-backend/internal/model"
	"brewery-presence-backend/internal/store"
	"brewery-presence-backend/internal/visibility"
)

// Update is a partial presence change. Nil fields keep their stored value.
// A non-nil empty BreweryID clears the pin.
type Update struct {
	Status        *model.PresenceStatus
	Location      *model.GeoPoint
	ClearLocation bool
	BreweryID     *string
	Visibility    *visibility.Tier
}

// Change describes one committed presence write.
type Change struct {
	Before *model.PresenceRecord // nil on first creation
	After  model.PresenceRecord
}

// Breweries lists the distinct breweries whose roster the change can affect.
func (c Change) Breweries() []string {
	var out []string
	if c.Before != nil && c.Before.Brewery() != "" {
		out = append(out, c.Before.Brewery())
	}
	if b := c.After.Brewery(); b != "" && (len(out) == 0 || out[0] != b) {
		out = append(out, b)
	}
	return out
}

// WentOffline reports a transition into the offline status.
func (c Change) WentOffline() bool {
	return c.After.Status == model.StatusOffline &&
		(c.Before == nil || c.Before.Status != model.StatusOffline)
}

// Notifier receives every committed change, in commit order per user.
type Notifier interface {
	PresenceChanged(ctx context.Context, change Change)
}

type nopNotifier struct{}

func (nopNotifier) PresenceChanged(context.Context, Change) {}

// BreweryChecker reports whether a brewery exists in the catalog.
type BreweryChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Service merges partial updates into presence records.
type Service struct {
	store     store.PresenceStore
	locks     *keylock.Map
	notifier  Notifier
	breweries BreweryChecker
	now       func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBreweries rejects pins to breweries the catalog does not know.
func WithBreweries(c BreweryChecker) Option {
	return func(s *Service) { s.breweries = c }
}

// NewService creates a presence service. A nil notifier discards changes.
func NewService(st store.PresenceStore, notifier Notifier, opts ...Option) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	s := &Service{
		store:    st,
		locks:    keylock.New(),
		notifier: notifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validate(u Update) error {
	if u.Status != nil && !u.Status.Valid() {
		return apperr.Validation("unknown status %q", *u.Status)
	}
	if u.Visibility != nil && !u.Visibility.Valid() {
		return apperr.Validation("unknown visibility %q", *u.Visibility)
	}
	if u.Location != nil {
		if u.ClearLocation {
			return apperr.Validation("location and clearLocation are mutually exclusive")
		}
		if !u.Location.Valid() {
			return apperr.Validation("location %v is out of range", *u.Location)
		}
	}
	if u.Status != nil && *u.Status == model.StatusOffline && u.BreweryID != nil && *u.BreweryID != "" {
		return apperr.Validation("an offline user cannot be pinned to a brewery")
	}
	return nil
}

// Upsert merges u into the user's record, creating it when absent, and
// notifies the change before returning.
func (s *Service) Upsert(ctx context.Context, userID string, u Update) (*model.PresenceRecord, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}
	if err := validate(u); err != nil {
		return nil, err
	}
	if err := s.checkBrewery(ctx, u.BreweryID); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	prev, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	var next model.PresenceRecord
	if prev == nil {
		if u.Status == nil {
			return nil, apperr.Validation("status is required for a new presence record")
		}
		next = model.PresenceRecord{UserID: userID, Visibility: visibility.Everyone}
	} else {
		next = *prev
	}

	if u.Status != nil {
		next.Status = *u.Status
	}
	if u.Visibility != nil {
		next.Visibility = *u.Visibility
	}
	if u.ClearLocation {
		next.SetLocation(nil)
	} else if u.Location != nil {
		next.SetLocation(u.Location)
	}
	if u.BreweryID != nil {
		if *u.BreweryID == "" {
			next.BreweryID = nil
		} else {
			if u.Status == nil && next.Status == model.StatusOffline {
				return nil, apperr.Validation("set a status before pinning a brewery while offline")
			}
			id := *u.BreweryID
			next.BreweryID = &id
		}
	}
	if next.Status == model.StatusOffline {
		next.BreweryID = nil
	}
	next.UpdatedAt = s.now().UTC()

	return s.commit(ctx, prev, next)
}

func (s *Service) checkBrewery(ctx context.Context, id *string) error {
	if s.breweries == nil || id == nil || *id == "" {
		return nil
	}
	ok, err := s.breweries.Exists(ctx, *id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Validation("unknown brewery %q", *id)
	}
	return nil
}

// Heartbeat refreshes UpdatedAt so the reaper keeps the record alive.
func (s *Service) Heartbeat(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	rec, err := s.store.GetPresence(ctx, userID)
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt = s.now().UTC()
	if err := s.store.SavePresence(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ExpireIfStale marks the user offline when the record is still older than
// cutoff once the user's lock is held. It reports whether a write happened.
func (s *Service) ExpireIfStale(ctx context.Context, userID string, cutoff time.Time) (bool, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	prev, err := s.load(ctx, userID)
	if err != nil || prev == nil {
		return false, err
	}
	if prev.Status == model.StatusOffline || !prev.UpdatedAt.Before(cutoff) {
		return false, nil
	}

	next := *prev
	next.Status = model.StatusOffline
	next.BreweryID = nil
	next.UpdatedAt = s.now().UTC()
	if _, err := s.commit(ctx, prev, next); err != nil {
		return false, err
	}
	return true, nil
}

// Unpin clears the brewery pin only while it still points at breweryID. It
// reports whether the record changed.
func (s *Service) Unpin(ctx context.Context, userID, breweryID string) (bool, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	prev, err := s.load(ctx, userID)
	if err != nil || prev == nil {
		return false, err
	}
	if prev.Brewery() != breweryID {
		return false, nil
	}

	next := *prev
	next.BreweryID = nil
	next.UpdatedAt = s.now().UTC()
	if _, err := s.commit(ctx, prev, next); err != nil {
		return false, err
	}
	return true, nil
}

// GoOffline marks the user offline unless keep reports true once the user's
// lock is held. It reports whether a write happened.
func (s *Service) GoOffline(ctx context.Context, userID string, keep func() bool) (bool, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	prev, err := s.load(ctx, userID)
	if err != nil || prev == nil {
		return false, err
	}
	if prev.Status == model.StatusOffline || (keep != nil && keep()) {
		return false, nil
	}

	next := *prev
	next.Status = model.StatusOffline
	next.BreweryID = nil
	next.UpdatedAt = s.now().UTC()
	if _, err := s.commit(ctx, prev, next); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) load(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	rec, err := s.store.GetPresence(ctx, userID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil, nil
	}
	return rec, err
}

func (s *Service) commit(ctx context.Context, prev *model.PresenceRecord, next model.PresenceRecord) (*model.PresenceRecord, error) {
	if err := s.store.SavePresence(ctx, &next); err != nil {
		return nil, err
	}
	s.notifier.PresenceChanged(ctx, Change{Before: prev, After: next})
	return &next, nil
}

// Get returns the user's record or a not_found error.
func (s *Service) Get(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	return s.store.GetPresence(ctx, userID)
}

// ListByBrewery returns every non-offline record pinned to breweryID, unfiltered.
func (s *Service) ListByBrewery(ctx context.Context, breweryID string) ([]model.PresenceRecord, error) {
	return s.store.ListPresenceByBrewery(ctx, breweryID)
}

// ListByUsers returns the records of the given users that exist.
func (s *Service) ListByUsers(ctx context.Context, userIDs []string) ([]model.PresenceRecord, error) {
	return s.store.ListPresenceByUsers(ctx, userIDs)
}
