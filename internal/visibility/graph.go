package visibility

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// RelationshipSource is the friend-graph collaborator.
type RelationshipSource interface {
	Relationships(ctx context.Context, userID string, others []string) (map[string]Relationship, error)
}

// Graph resolves relationships for one viewer against many subjects at once.
type Graph interface {
	Relations(ctx context.Context, viewerID string, subjects []string) (map[string]Relationship, error)
}

// CachedGraph memoises pair lookups so a fan-out pass over many watchers does
// not hit the friend store once per (watcher, subject) pair. Accepted pairs
// are never cached: a stale entry may only deny, never grant.
type CachedGraph struct {
	src   RelationshipSource
	cache *cache.Cache
}

// NewCachedGraph wraps src with a TTL cache.
func NewCachedGraph(src RelationshipSource, ttl time.Duration) *CachedGraph {
	return &CachedGraph{
		src:   src,
		cache: cache.New(ttl, 2*ttl),
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// Relations returns the relationship between viewerID and every subject.
// Subjects equal to the viewer and missing pairs are Strangers.
func (g *CachedGraph) Relations(ctx context.Context, viewerID string, subjects []string) (map[string]Relationship, error) {
	out := make(map[string]Relationship, len(subjects))
	var misses []string
	for _, s := range subjects {
		if s == viewerID {
			continue
		}
		if v, ok := g.cache.Get(pairKey(viewerID, s)); ok {
			out[s] = v.(Relationship)
			continue
		}
		misses = append(misses, s)
	}
	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := g.src.Relationships(ctx, viewerID, misses)
	if err != nil {
		return nil, err
	}
	for _, s := range misses {
		rel := fetched[s]
		out[s] = rel
		if rel == Accepted {
			continue
		}
		g.cache.SetDefault(pairKey(viewerID, s), rel)
	}
	return out, nil
}

// Relation is a single-pair convenience over Relations.
func (g *CachedGraph) Relation(ctx context.Context, a, b string) (Relationship, error) {
	rels, err := g.Relations(ctx, a, []string{b})
	if err != nil {
		return Strangers, err
	}
	return rels[b], nil
}

// Invalidate drops the cached pair after a friend edge changes.
func (g *CachedGraph) Invalidate(a, b string) {
	g.cache.Delete(pairKey(a, b))
}
