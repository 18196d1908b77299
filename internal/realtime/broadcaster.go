package realtime

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"

	"brewery-presence-backend/internal/keylock"
	"brewery-presence-backend/internal/model"
	"brewery-presence-backend/internal/presence"
	"brewery-presence-backend/internal/roster"
	"brewery-presence-backend/internal/visibility"
)

// RosterSource builds per-viewer brewery lists.
type RosterSource interface {
	Entries(ctx context.Context, breweryID string) ([]roster.Entry, error)
	Filter(ctx context.Context, viewerID string, entries []roster.Entry) ([]model.PresenceView, error)
	PublicView(ctx context.Context, rec model.PresenceRecord) (model.PresenceView, error)
}

// FriendLister lists accepted friends.
type FriendLister interface {
	AcceptedFriends(ctx context.Context, userID string) ([]string, error)
}

// Broadcaster fans presence changes out to watchers and friends. It keeps the
// last roster pushed to each connection so unchanged rosters are not resent.
type Broadcaster struct {
	hub      *Hub
	registry *Registry
	roster   RosterSource
	friends  FriendLister
	refresh  *keylock.Map

	mu   sync.Mutex
	last map[string][]byte
}

// NewBroadcaster wires a broadcaster.
func NewBroadcaster(hub *Hub, registry *Registry, rs RosterSource, friends FriendLister) *Broadcaster {
	return &Broadcaster{
		hub:      hub,
		registry: registry,
		roster:   rs,
		friends:  friends,
		refresh:  keylock.New(),
		last:     make(map[string][]byte),
	}
}

// RefreshBrewery pushes the current roster of breweryID to each watcher whose
// personalised view changed. A failure for one watcher does not stop the rest.
func (b *Broadcaster) RefreshBrewery(ctx context.Context, breweryID string) error {
	unlock := b.refresh.Lock(breweryID)
	defer unlock()

	subs := b.registry.SubscribersOf(breweryID)
	if len(subs) == 0 {
		return nil
	}
	entries, err := b.roster.Entries(ctx, breweryID)
	if err != nil {
		return err
	}
	for _, connID := range subs {
		if err := b.push(ctx, connID, breweryID, entries, false); err != nil {
			log.Printf("Error refreshing brewery %s for connection %s: %v", breweryID, connID, err)
		}
	}
	return nil
}

// SendSnapshot pushes the roster of breweryID to connID even if unchanged.
func (b *Broadcaster) SendSnapshot(ctx context.Context, connID, breweryID string) error {
	unlock := b.refresh.Lock(breweryID)
	defer unlock()

	entries, err := b.roster.Entries(ctx, breweryID)
	if err != nil {
		return err
	}
	return b.push(ctx, connID, breweryID, entries, true)
}

func (b *Broadcaster) push(ctx context.Context, connID, breweryID string, entries []roster.Entry, force bool) error {
	c, ok := b.hub.Get(connID)
	if !ok {
		return nil
	}
	views, err := b.roster.Filter(ctx, c.UserID, entries)
	if err != nil {
		return err
	}
	msg, err := encode(EventBreweryPresenceList, "", BreweryPresenceList{BreweryID: breweryID, Users: views})
	if err != nil {
		return fmt.Errorf("failed to encode roster: %w", err)
	}

	b.mu.Lock()
	// The connection may have switched breweries since the subscriber list
	// was read; a roster for the old one would follow the new snapshot.
	if b.registry.WatchedBy(connID) != breweryID {
		b.mu.Unlock()
		return nil
	}
	if !force && bytes.Equal(b.last[connID], msg) {
		b.mu.Unlock()
		return nil
	}
	b.last[connID] = msg
	b.mu.Unlock()

	if !c.enqueue(msg) {
		b.Forget(connID)
	}
	return nil
}

// Forget drops the remembered roster of a connection.
func (b *Broadcaster) Forget(connID string) {
	b.mu.Lock()
	delete(b.last, connID)
	b.mu.Unlock()
}

// PresenceChanged refreshes every affected brewery, then tells the owner and
// the connected friends allowed to see the record.
func (b *Broadcaster) PresenceChanged(ctx context.Context, change presence.Change) {
	for _, breweryID := range change.Breweries() {
		if err := b.RefreshBrewery(ctx, breweryID); err != nil {
			log.Printf("Error refreshing brewery %s: %v", breweryID, err)
		}
	}
	if err := b.announce(ctx, change); err != nil {
		log.Printf("Error announcing presence of user %s: %v", change.After.UserID, err)
	}
}

func (b *Broadcaster) announce(ctx context.Context, change presence.Change) error {
	rec := change.After
	owner := rec.UserID

	if b.hub.Connected(owner) {
		msg, err := encode(EventPresenceUpdated, "", rec.View())
		if err != nil {
			return err
		}
		b.hub.SendToUser(owner, msg)
	}

	friendIDs, err := b.friends.AcceptedFriends(ctx, owner)
	if err != nil {
		return err
	}
	var audience []string
	for _, id := range friendIDs {
		if b.hub.Connected(id) && visibility.CanView(id, owner, rec.Visibility, visibility.Accepted) {
			audience = append(audience, id)
		}
	}
	if len(audience) == 0 {
		return nil
	}

	var msg []byte
	if change.WentOffline() {
		msg, err = encode(EventPresenceOffline, "", PresenceOffline{UserID: owner, UpdatedAt: rec.UpdatedAt})
	} else {
		var view model.PresenceView
		view, err = b.roster.PublicView(ctx, rec)
		if err != nil {
			return err
		}
		msg, err = encode(EventPresenceUpdated, "", view)
	}
	if err != nil {
		return err
	}
	for _, id := range audience {
		b.hub.SendToUser(id, msg)
	}
	return nil
}
