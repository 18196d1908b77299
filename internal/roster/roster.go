// Package roster builds the per-viewer list of who is at a brewery.
package roster

import (
	"context"
	"fmt"

	"brewery-presence-backend/internal/model"
	"brewery-presence-backend/internal/store"
	"brewery-presence-backend/internal/visibility"
)

// Entry is a presence record with the tier that governs who may see it.
type Entry struct {
	Record model.PresenceRecord
	Tier   visibility.Tier
}

// Roster combines presence, active check-ins and the friend graph.
type Roster struct {
	presence store.PresenceStore
	checkIns store.CheckInStore
	friends  store.FriendStore
	graph    visibility.Graph
}

// New creates a roster.
func New(p store.PresenceStore, checkIns store.CheckInStore, friends store.FriendStore, graph visibility.Graph) *Roster {
	return &Roster{presence: p, checkIns: checkIns, friends: friends, graph: graph}
}

// Entries returns everyone pinned to breweryID, unfiltered. A user whose
// active check-in there is stricter than their presence visibility gets the
// check-in's tier.
func (r *Roster) Entries(ctx context.Context, breweryID string) ([]Entry, error) {
	recs, err := r.presence.ListPresenceByBrewery(ctx, breweryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list presence at brewery %s: %w", breweryID, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}

	active, err := r.checkIns.ListCheckIns(ctx, store.CheckInFilter{BreweryID: breweryID, Status: model.CheckInActive})
	if err != nil {
		return nil, fmt.Errorf("failed to list active check-ins at brewery %s: %w", breweryID, err)
	}
	privacy := make(map[string]visibility.Tier, len(active))
	for _, c := range active {
		privacy[c.UserID] = c.Tier()
	}

	entries := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		tier := rec.Visibility
		if p, ok := privacy[rec.UserID]; ok {
			tier = visibility.Strictest(tier, p)
		}
		entries = append(entries, Entry{Record: rec, Tier: tier})
	}
	return entries, nil
}

// Filter keeps the entries viewerID may see, preserving order.
func (r *Roster) Filter(ctx context.Context, viewerID string, entries []Entry) ([]model.PresenceView, error) {
	subjects := make([]string, len(entries))
	for i, e := range entries {
		subjects[i] = e.Record.UserID
	}
	rels, err := r.graph.Relations(ctx, viewerID, subjects)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve relationships for %s: %w", viewerID, err)
	}

	out := make([]model.PresenceView, 0, len(entries))
	for _, e := range entries {
		if visibility.CanView(viewerID, e.Record.UserID, e.Tier, rels[e.Record.UserID]) {
			out = append(out, e.Record.View())
		}
	}
	return out, nil
}

// CheckIns keeps the check-ins viewerID may see under their privacy,
// preserving order. Hidden rows are dropped rather than reported.
func (r *Roster) CheckIns(ctx context.Context, viewerID string, list []model.CheckIn) ([]model.CheckIn, error) {
	subjects := make([]string, len(list))
	for i, c := range list {
		subjects[i] = c.UserID
	}
	rels, err := r.graph.Relations(ctx, viewerID, subjects)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve relationships for %s: %w", viewerID, err)
	}

	out := make([]model.CheckIn, 0, len(list))
	for _, c := range list {
		if visibility.CanView(viewerID, c.UserID, c.Tier(), rels[c.UserID]) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ForViewer is Entries followed by Filter.
func (r *Roster) ForViewer(ctx context.Context, viewerID, breweryID string) ([]model.PresenceView, error) {
	entries, err := r.Entries(ctx, breweryID)
	if err != nil {
		return nil, err
	}
	return r.Filter(ctx, viewerID, entries)
}

// Friends returns the presence of viewerID's accepted friends that the
// viewer may see. A brewery pinned under a private check-in is withheld.
func (r *Roster) Friends(ctx context.Context, viewerID string) ([]model.PresenceView, error) {
	friendIDs, err := r.friends.AcceptedFriends(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list friends of %s: %w", viewerID, err)
	}
	recs, err := r.presence.ListPresenceByUsers(ctx, friendIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list friend presence: %w", err)
	}

	out := make([]model.PresenceView, 0, len(recs))
	for _, rec := range recs {
		if !visibility.CanView(viewerID, rec.UserID, rec.Visibility, visibility.Accepted) {
			continue
		}
		view, err := r.PublicView(ctx, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

// PublicView renders rec for someone other than its owner.
func (r *Roster) PublicView(ctx context.Context, rec model.PresenceRecord) (model.PresenceView, error) {
	view := rec.View()
	b := rec.Brewery()
	if b == "" {
		return view, nil
	}
	hidden, err := r.privateAt(ctx, rec.UserID, b)
	if err != nil {
		return view, err
	}
	if hidden {
		view.BreweryID = nil
		view.Location = nil
	}
	return view, nil
}

func (r *Roster) privateAt(ctx context.Context, userID, breweryID string) (bool, error) {
	active, err := r.checkIns.ListCheckIns(ctx, store.CheckInFilter{
		UserID: userID, BreweryID: breweryID, Status: model.CheckInActive, Limit: 1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to read active check-in of %s: %w", userID, err)
	}
	return len(active) > 0 && active[0].Tier() == visibility.Nobody, nil
}
