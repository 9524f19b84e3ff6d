package engine

import (
	"context"
	"errors"
	"log/slog"
)

var ErrRelayQueueFull = errors.New("relay queue full, result dropped")

// Decouples message processing from a slow relay: Relay only enqueues, and Run hands queued results to the inner relay one at a time.
type QueuedRelay struct {
	Inner  Relay
	Logger *slog.Logger

	queue chan *ProcessedMessageResult
}

var _ Relay = (*QueuedRelay)(nil)
var _ Maintainer = (*QueuedRelay)(nil)

func NewQueuedRelay(inner Relay, logger *slog.Logger, size int) *QueuedRelay {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 1024
	}
	return &QueuedRelay{
		Inner:  inner,
		Logger: logger.With("component", "relay"),
		queue:  make(chan *ProcessedMessageResult, size),
	}
}

// Never blocks. Returns ErrRelayQueueFull when the result had to be dropped.
func (q *QueuedRelay) Relay(ctx context.Context, res *ProcessedMessageResult) error {
	select {
	case q.queue <- res:
		return nil
	default:
		relayDropped.Inc()
		return ErrRelayQueueFull
	}
}

func (q *QueuedRelay) Pending() int {
	return len(q.queue)
}

// Delivers queued results until the context is cancelled. Results still queued at that point are dropped.
func (q *QueuedRelay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if n := len(q.queue); n > 0 {
				q.Logger.Warn("relay stopped with results still queued", "pending", n)
			}
			return nil
		case res := <-q.queue:
			q.deliver(ctx, res)
		}
	}
}

func (q *QueuedRelay) deliver(ctx context.Context, res *ProcessedMessageResult) {
	defer func() {
		if r := recover(); r != nil {
			relayErrors.Inc()
			q.Logger.Error("relay panicked", "err", r)
		}
	}()
	if err := q.Inner.Relay(ctx, res); err != nil {
		relayErrors.Inc()
		q.Logger.Warn("relay failed", "sender", res.SenderID, "channel", res.ChannelID, "err", err)
	}
}
