package store

import (
	"context"
	"fmt"
	"sort"

	"brewery-presence-backend/internal/model"
	"brewery-presence-backend/internal/visibility"
)

// FriendStore reads the friend graph owned by the social collaborator.
type FriendStore interface {
	Relationships(ctx context.Context, userID string, others []string) (map[string]visibility.Relationship, error)
	AcceptedFriends(ctx context.Context, userID string) ([]string, error)
	SaveFriendEdge(ctx context.Context, edge *model.FriendEdge) error
}

func relationshipOf(status model.FriendStatus) visibility.Relationship {
	switch status {
	case model.FriendAccepted:
		return visibility.Accepted
	case model.FriendBlocked:
		return visibility.Blocked
	case model.FriendPending:
		return visibility.Pending
	}
	return visibility.Strangers
}

// merge folds the two directed edges of a pair: blocked wins, then accepted,
// then pending.
func merge(cur, next visibility.Relationship) visibility.Relationship {
	rank := func(r visibility.Relationship) int {
		switch r {
		case visibility.Blocked:
			return 3
		case visibility.Accepted:
			return 2
		case visibility.Pending:
			return 1
		}
		return 0
	}
	if rank(next) > rank(cur) {
		return next
	}
	return cur
}

// Relationships resolves userID against every id in others, direction-agnostic.
func (s *gormStore) Relationships(ctx context.Context, userID string, others []string) (map[string]visibility.Relationship, error) {
	out := make(map[string]visibility.Relationship, len(others))
	if len(others) == 0 {
		return out, nil
	}

	var edges []model.FriendEdge
	err := s.db.WithContext(ctx).
		Where("(user_id = ? AND friend_id IN ?) OR (friend_id = ? AND user_id IN ?)", userID, others, userID, others).
		Find(&edges).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load friend edges for user %s: %w", userID, err)
	}

	for _, e := range edges {
		other := e.FriendID
		if other == userID {
			other = e.UserID
		}
		out[other] = merge(out[other], relationshipOf(e.Status))
	}
	return out, nil
}

// AcceptedFriends lists users with an accepted edge and no blocked edge.
func (s *gormStore) AcceptedFriends(ctx context.Context, userID string) ([]string, error) {
	var edges []model.FriendEdge
	if err := s.db.WithContext(ctx).
		Where("user_id = ? OR friend_id = ?", userID, userID).
		Find(&edges).Error; err != nil {
		return nil, fmt.Errorf("failed to load friends of user %s: %w", userID, err)
	}

	rels := make(map[string]visibility.Relationship)
	for _, e := range edges {
		other := e.FriendID
		if other == userID {
			other = e.UserID
		}
		rels[other] = merge(rels[other], relationshipOf(e.Status))
	}

	var friends []string
	for id, rel := range rels {
		if rel == visibility.Accepted {
			friends = append(friends, id)
		}
	}
	sort.Strings(friends)
	return friends, nil
}

func (s *gormStore) SaveFriendEdge(ctx context.Context, edge *model.FriendEdge) error {
	if err := s.db.WithContext(ctx).Save(edge).Error; err != nil {
		return fmt.Errorf("failed to save friend edge %s->%s: %w", edge.UserID, edge.FriendID, err)
	}
	return nil
}
