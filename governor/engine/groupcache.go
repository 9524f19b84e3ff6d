package engine

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Caches group lookups in front of a slow external permission provider. Errors are not cached.
type CachingGroupResolver struct {
	Inner GroupResolver
	Data  *expirable.LRU[string, string]
}

var _ GroupResolver = (*CachingGroupResolver)(nil)

func NewCachingGroupResolver(inner GroupResolver, capacity int, ttl time.Duration) *CachingGroupResolver {
	return &CachingGroupResolver{
		Inner: inner,
		Data:  expirable.NewLRU[string, string](capacity, nil, ttl),
	}
}

func (r *CachingGroupResolver) GroupOf(ctx context.Context, s Sender) (string, error) {
	if g, ok := r.Data.Get(s.ID); ok {
		groupCacheHits.Inc()
		return g, nil
	}
	groupCacheMisses.Inc()
	g, err := r.Inner.GroupOf(ctx, s)
	if err != nil {
		return "", err
	}
	r.Data.Add(s.ID, g)
	return g, nil
}

// Drops a single sender, eg after their group changed.
func (r *CachingGroupResolver) Purge(senderID string) {
	r.Data.Remove(senderID)
}

func (r *CachingGroupResolver) PurgeAll() {
	r.Data.Purge()
}
