package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"brewery-presence-backend/internal/apperr"
	"brewery-presence-backend/internal/model"
	"brewery-presence-backend/internal/visibility"
)

const (
	presenceKeyPrefix  = "presence:user:"
	breweryKeyPrefix   = "presence:brewery:"
	activePresenceZSet = "presence:active"
)

// redisPresence is the stored JSON shape; model.PresenceRecord hides its raw
// coordinates from JSON.
type redisPresence struct {
	UserID     string               `json:"user_id"`
	Status     model.PresenceStatus `json:"status"`
	Latitude   *float64             `json:"lat,omitempty"`
	Longitude  *float64             `json:"lon,omitempty"`
	BreweryID  *string              `json:"brewery_id,omitempty"`
	Visibility visibility.Tier      `json:"visibility"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

func toRedis(r *model.PresenceRecord) redisPresence {
	return redisPresence{
		UserID: r.UserID, Status: r.Status,
		Latitude: r.Latitude, Longitude: r.Longitude,
		BreweryID: r.BreweryID, Visibility: r.Visibility, UpdatedAt: r.UpdatedAt,
	}
}

func (p redisPresence) record() model.PresenceRecord {
	return model.PresenceRecord{
		UserID: p.UserID, Status: p.Status,
		Latitude: p.Latitude, Longitude: p.Longitude,
		BreweryID: p.BreweryID, Visibility: p.Visibility, UpdatedAt: p.UpdatedAt,
	}
}

// RedisPresenceStore keeps presence in Redis so several server processes can
// share one view. A set per brewery indexes pinned users and a sorted set of
// update times drives the stale sweep.
type RedisPresenceStore struct {
	client *redis.Client
}

// NewRedisPresenceStore creates a Redis-backed PresenceStore.
func NewRedisPresenceStore(client *redis.Client) *RedisPresenceStore {
	return &RedisPresenceStore{client: client}
}

func presenceKey(userID string) string { return presenceKeyPrefix + userID }

func breweryKey(breweryID string) string { return breweryKeyPrefix + breweryID }

func (r *RedisPresenceStore) GetPresence(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	data, err := r.client.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.Wrap(apperr.KindNotFound, err, fmt.Sprintf("no presence for user %s", userID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	var p redisPresence
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence: %w", err)
	}
	rec := p.record()
	return &rec, nil
}

// SavePresence replaces the user's value and moves the brewery index entry.
func (r *RedisPresenceStore) SavePresence(ctx context.Context, rec *model.PresenceRecord) error {
	prev, err := r.GetPresence(ctx, rec.UserID)
	if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
		return err
	}

	data, err := json.Marshal(toRedis(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	newBrewery := rec.Brewery()
	if rec.Status == model.StatusOffline {
		newBrewery = ""
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, presenceKey(rec.UserID), data, 0)
		if prev != nil && prev.Brewery() != "" && prev.Brewery() != newBrewery {
			pipe.SRem(ctx, breweryKey(prev.Brewery()), rec.UserID)
		}
		if newBrewery != "" {
			pipe.SAdd(ctx, breweryKey(newBrewery), rec.UserID)
		}
		if rec.Status == model.StatusOffline {
			pipe.ZRem(ctx, activePresenceZSet, rec.UserID)
		} else {
			pipe.ZAdd(ctx, activePresenceZSet, redis.Z{Score: float64(rec.UpdatedAt.UnixMilli()), Member: rec.UserID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save presence for user %s: %w", rec.UserID, err)
	}
	return nil
}

func (r *RedisPresenceStore) ListPresenceByBrewery(ctx context.Context, breweryID string) ([]model.PresenceRecord, error) {
	userIDs, err := r.client.SMembers(ctx, breweryKey(breweryID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list brewery %s members: %w", breweryID, err)
	}

	recs, err := r.ListPresenceByUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	// The set can briefly lag a concurrent move; trust the record itself.
	out := recs[:0]
	for _, rec := range recs {
		if rec.Brewery() == breweryID && rec.Status != model.StatusOffline {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListPresenceByUsers retrieves presence for many users in one round trip.
// Users without a record are skipped.
func (r *RedisPresenceStore) ListPresenceByUsers(ctx context.Context, userIDs []string) ([]model.PresenceRecord, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	sorted := append([]string(nil), userIDs...)
	sort.Strings(sorted)

	keys := make([]string, len(sorted))
	for i, id := range sorted {
		keys[i] = presenceKey(id)
	}

	results, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bulk presence: %w", err)
	}

	out := make([]model.PresenceRecord, 0, len(results))
	for _, result := range results {
		data, ok := result.(string)
		if !ok {
			continue
		}
		var p redisPresence
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			continue
		}
		out = append(out, p.record())
	}
	return out, nil
}

func (r *RedisPresenceStore) ListStalePresence(ctx context.Context, before time.Time) ([]model.PresenceRecord, error) {
	userIDs, err := r.client.ZRangeByScore(ctx, activePresenceZSet, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list stale presence: %w", err)
	}
	return r.ListPresenceByUsers(ctx, userIDs)
}
