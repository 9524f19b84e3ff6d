package event

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parley-chat/parley/governor/config"
	"github.com/parley-chat/parley/governor/engine"
	"github.com/parley-chat/parley/governor/scheduler"

	"github.com/google/uuid"
)

var ErrBroadcastNotFound = errors.New("broadcast not found")

// An entry in the auto-broadcast rotation.
type Broadcast struct {
	ID     string
	Text   string
	Weight int
	Shown  int64
	Active bool

	fromConfig bool
}

type FireBroadcast struct{}

func (FireBroadcast) Kind() string { return "fire_broadcast" }

// Cumulative-weight roulette: returns the index of the first entry whose running weight total exceeds draw, or -1 when draw is out of range. draw must be uniform in [0, sum(weights)) for selection to be proportional to weight.
func PickWeighted(weights []int, draw int) int {
	if draw < 0 {
		return -1
	}
	acc := 0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		acc += w
		if acc > draw {
			return i
		}
	}
	return -1
}

// Replaces the configured part of the pool. Shown counters carry over for entries whose id is unchanged; entries added at runtime stay.
func (p *Plugin) mergeBroadcasts(entries []config.BroadcastEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := make(map[string]*Broadcast, len(p.broadcasts))
	for _, b := range p.broadcasts {
		prev[b.ID] = b
	}
	next := make([]*Broadcast, 0, len(entries)+len(p.broadcasts))
	for _, e := range entries {
		b := &Broadcast{ID: e.ID, Text: e.Text, Weight: e.Weight, Active: e.IsActive(), fromConfig: true}
		if old, ok := prev[e.ID]; ok {
			b.Shown = old.Shown
		}
		next = append(next, b)
	}
	for _, b := range p.broadcasts {
		if !b.fromConfig {
			next = append(next, b)
		}
	}
	p.broadcasts = next
}

// Adds a broadcast to the rotation at runtime. It survives rule reloads but not restarts.
func (p *Plugin) AddBroadcast(text string, weight int) (Broadcast, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Broadcast{}, engine.Reject(engine.ReasonInvalidRequest, "empty broadcast text")
	}
	if weight < 1 {
		return Broadcast{}, engine.Reject(engine.ReasonInvalidRequest, "broadcast weight must be at least 1")
	}
	b := &Broadcast{ID: uuid.NewString(), Text: text, Weight: weight, Active: true}
	p.mu.Lock()
	p.broadcasts = append(p.broadcasts, b)
	p.mu.Unlock()
	return *b, nil
}

func (p *Plugin) SetBroadcastActive(id string, active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.broadcasts {
		if b.ID == id {
			b.Active = active
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrBroadcastNotFound, id)
}

// Snapshot of the rotation pool, in configuration order.
func (p *Plugin) Broadcasts() []Broadcast {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Broadcast, len(p.broadcasts))
	for i, b := range p.broadcasts {
		out[i] = *b
	}
	return out
}

// Draws one active broadcast and counts it as shown. Returns false when no entry is active.
func (p *Plugin) drawBroadcast() (Broadcast, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var active []*Broadcast
	var weights []int
	total := 0
	for _, b := range p.broadcasts {
		if b.Active && b.Weight > 0 {
			active = append(active, b)
			weights = append(weights, b.Weight)
			total += b.Weight
		}
	}
	if total == 0 {
		return Broadcast{}, false
	}
	idx := PickWeighted(weights, p.Rand(total))
	if idx < 0 {
		return Broadcast{}, false
	}
	b := active[idx]
	b.Shown++
	return *b, true
}

func (p *Plugin) fireBroadcast(ctx context.Context) error {
	channel := p.Rules.Rules().Event.BroadcastChannel
	if channel == "" || p.Broadcaster == nil {
		return nil
	}
	b, ok := p.drawBroadcast()
	if !ok {
		return nil
	}
	if err := p.Broadcaster.Broadcast(ctx, channel, b.Text); err != nil {
		return fmt.Errorf("delivering broadcast %s: %w", b.ID, err)
	}
	broadcastsDelivered.WithLabelValues(b.ID).Inc()
	return nil
}

// Emits a FireBroadcast once the rotation interval has passed since the previous one. The first rotation happens one interval after the first sweep.
func (p *Plugin) sweepRotation(now time.Time) []scheduler.Command {
	interval := p.Rules.Rules().Event.BroadcastInterval
	if interval <= 0 {
		return nil
	}
	if p.nextRotation.IsZero() {
		p.nextRotation = now.Add(interval)
		return nil
	}
	if now.Before(p.nextRotation) {
		return nil
	}
	p.nextRotation = now.Add(interval)
	return []scheduler.Command{FireBroadcast{}}
}
