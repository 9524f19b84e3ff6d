// Per-key cooldown tracking, used for mention and announcement rate limiting.
//
// The check ("has the window elapsed since the last use?") and the update ("record now as the last use") happen as one atomic operation per key, so two concurrent messages from the same sender can not both pass the same cooldown.
//
// Includes an interface and implementations using in-process memory and redis.
package cooldown

import (
	"context"
	"time"
)

// A granted cooldown slot. Returned by Reserve, and can be handed back to Release when the action it guarded did not go through.
type Reservation struct {
	Key   string
	Stamp time.Time

	previous    time.Time
	hadPrevious bool
}

type Store interface {
	// Atomically checks that the last use of key is at least window before now, and if so records now as the last use.
	//
	// Returns a nil reservation and the remaining wait when the key is still cooling down.
	Reserve(ctx context.Context, key string, now time.Time, window time.Duration) (*Reservation, time.Duration, error)
	// Restores the state from before the reservation, if nothing else has used the key since.
	Release(ctx context.Context, r *Reservation) error
	LastUsed(ctx context.Context, key string) (time.Time, bool, error)
}

func Key(category, subject string) string {
	return category + "/" + subject
}
