// Package checkin runs the check-in lifecycle: active, then completed or cancelled.
package checkin

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"brewery-presence-backend/internal/apperr"
	"brewery-presence-backend/internal/keylock"
	"brewery-presence-backend/internal/model"
	"brewery-presence-backend/internal/presence"
	"brewery-presence-backend/internal/store"
	"brewery-presence-backend/internal/visibility"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// BreweryLookup resolves catalog breweries.
type BreweryLookup interface {
	Get(ctx context.Context, id string) (*model.Brewery, error)
}

// PresenceUpdater is the slice of the presence service the ledger drives.
type PresenceUpdater interface {
	Upsert(ctx context.Context, userID string, u presence.Update) (*model.PresenceRecord, error)
	Unpin(ctx context.Context, userID, breweryID string) (bool, error)
}

// Dispatcher queues friend notifications for a new check-in.
type Dispatcher interface {
	Dispatch(checkInID string)
}

// CreateRequest carries the caller-supplied fields of a new check-in.
// A zero Privacy means public.
type CreateRequest struct {
	BreweryID string
	Privacy   visibility.Tier
	Comment   string
	PhotoRef  string
	RouteID   string
}

// Filter narrows List. Zero fields are ignored.
type Filter = store.CheckInFilter

// Ledger creates and transitions check-ins and keeps presence in step.
type Ledger struct {
	store      store.CheckInStore
	breweries  BreweryLookup
	presence   PresenceUpdater
	dispatcher Dispatcher
	locks      *keylock.Map
	now        func() time.Time
}

// NewLedger wires the ledger. dispatcher may be nil when push is disabled.
func NewLedger(st store.CheckInStore, breweries BreweryLookup, p PresenceUpdater, dispatcher Dispatcher) *Ledger {
	return &Ledger{
		store:      st,
		breweries:  breweries,
		presence:   p,
		dispatcher: dispatcher,
		locks:      keylock.New(),
		now:        time.Now,
	}
}

// Create opens a check-in. Any active check-in of the user is cancelled in
// the same transaction, then the user's presence is pinned to the brewery.
func (l *Ledger) Create(ctx context.Context, userID string, req CreateRequest) (*model.CheckIn, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}
	req.BreweryID = strings.TrimSpace(req.BreweryID)
	if req.BreweryID == "" {
		return nil, apperr.Validation("breweryId is required")
	}
	if req.Privacy == "" {
		req.Privacy = visibility.Everyone
	}
	if !req.Privacy.Valid() {
		return nil, apperr.Validation("unknown privacy %q", req.Privacy)
	}

	brewery, err := l.breweries.Get(ctx, req.BreweryID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil, apperr.Validation("unknown brewery %s", req.BreweryID)
	}
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(userID)
	defer unlock()

	c := &model.CheckIn{
		ID:          uuid.NewString(),
		UserID:      userID,
		BreweryID:   brewery.ID,
		BreweryName: brewery.Name,
		Status:      model.CheckInActive,
		Privacy:     visibility.Privacy(req.Privacy),
		CheckinTime: l.now().UTC(),
		Comment:     req.Comment,
		PhotoRef:    req.PhotoRef,
		RouteID:     req.RouteID,
	}
	superseded, err := l.store.StartCheckIn(ctx, c)
	if err != nil {
		return nil, err
	}
	for _, old := range superseded {
		log.Printf("Check-in %s of user %s cancelled by new check-in %s", old.ID, userID, c.ID)
	}

	online := model.StatusOnline
	breweryID := c.BreweryID
	if _, err := l.presence.Upsert(ctx, userID, presence.Update{Status: &online, BreweryID: &breweryID}); err != nil {
		log.Printf("Error pinning presence of user %s to brewery %s: %v", userID, breweryID, err)
	}

	if l.dispatcher != nil && c.Tier() != visibility.Nobody {
		l.dispatcher.Dispatch(c.ID)
	}
	return c, nil
}

// Checkout completes an active check-in owned by userID.
func (l *Ledger) Checkout(ctx context.Context, userID, checkInID string) (*model.CheckIn, error) {
	return l.finish(ctx, userID, checkInID, model.CheckInCompleted)
}

// Cancel abandons an active check-in owned by userID.
func (l *Ledger) Cancel(ctx context.Context, userID, checkInID string) (*model.CheckIn, error) {
	return l.finish(ctx, userID, checkInID, model.CheckInCancelled)
}

func (l *Ledger) finish(ctx context.Context, userID, checkInID string, to model.CheckInStatus) (*model.CheckIn, error) {
	if checkInID == "" {
		return nil, apperr.Validation("check-in id is required")
	}

	unlock := l.locks.Lock(userID)
	defer unlock()

	current, err := l.store.GetCheckIn(ctx, checkInID)
	if err != nil {
		return nil, err
	}
	// Other users' check-ins are indistinguishable from missing ones.
	if current.UserID != userID {
		return nil, apperr.NotFound("check-in %s not found", checkInID)
	}
	if current.Status != model.CheckInActive {
		return nil, apperr.InvalidState("check-in %s is %s", checkInID, current.Status)
	}

	updated, err := l.store.TransitionCheckIn(ctx, checkInID, to, l.now().UTC())
	if err != nil {
		return nil, err
	}

	l.unpin(ctx, userID, updated.BreweryID)
	return updated, nil
}

// unpin clears the presence brewery when it still points at breweryID.
func (l *Ledger) unpin(ctx context.Context, userID, breweryID string) {
	if _, err := l.presence.Unpin(ctx, userID, breweryID); err != nil {
		log.Printf("Error clearing presence pin of user %s: %v", userID, err)
	}
}

// Get returns one check-in. Only its owner may read it.
func (l *Ledger) Get(ctx context.Context, userID, checkInID string) (*model.CheckIn, error) {
	c, err := l.store.GetCheckIn(ctx, checkInID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, apperr.NotFound("check-in %s not found", checkInID)
	}
	return c, nil
}

// List returns check-ins newest first.
func (l *Ledger) List(ctx context.Context, f Filter) ([]model.CheckIn, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("unknown status %q", f.Status)
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	return l.store.ListCheckIns(ctx, f)
}
