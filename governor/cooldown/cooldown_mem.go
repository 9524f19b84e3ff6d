package cooldown

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Entries are never evicted; the key space is bounded by the set of senders seen during the process lifetime.
type MemStore struct {
	last *xsync.MapOf[string, time.Time]
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		last: xsync.NewMapOf[string, time.Time](),
	}
}

func (s *MemStore) Reserve(ctx context.Context, key string, now time.Time, window time.Duration) (*Reservation, time.Duration, error) {
	var res *Reservation
	var remaining time.Duration
	s.last.Compute(key, func(old time.Time, loaded bool) (time.Time, bool) {
		if loaded && window > 0 {
			if since := now.Sub(old); since < window {
				remaining = window - since
				return old, false
			}
		}
		res = &Reservation{
			Key:         key,
			Stamp:       now,
			previous:    old,
			hadPrevious: loaded,
		}
		return now, false
	})
	return res, remaining, nil
}

func (s *MemStore) Release(ctx context.Context, r *Reservation) error {
	if r == nil {
		return nil
	}
	s.last.Compute(r.Key, func(cur time.Time, loaded bool) (time.Time, bool) {
		if !loaded || !cur.Equal(r.Stamp) {
			// someone else used the key after us; leave their stamp alone
			return cur, !loaded
		}
		if r.hadPrevious {
			return r.previous, false
		}
		return cur, true
	})
	return nil
}

func (s *MemStore) LastUsed(ctx context.Context, key string) (time.Time, bool, error) {
	t, ok := s.last.Load(key)
	return t, ok, nil
}

func (s *MemStore) Len() int {
	return s.last.Size()
}
