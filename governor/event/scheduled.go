package event

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/parley-chat/parley/governor/config"
	"github.com/parley-chat/parley/governor/engine"
	"github.com/parley-chat/parley/governor/scheduler"

	"github.com/google/uuid"
)

var ErrScheduledNotFound = errors.New("scheduled message not found")

// A message delivered to the announcement channel at a set time, once or on a fixed interval. Values handed out by the plugin are snapshots.
type ScheduledMessage struct {
	ID            string        `json:"id"`
	Text          string        `json:"text"`
	At            time.Time     `json:"at"`
	Recurring     bool          `json:"recurring"`
	Interval      time.Duration `json:"interval,omitempty"`
	TimesExecuted int           `json:"times_executed"`
	Active        bool          `json:"active"`
	CreatedBy     string        `json:"created_by"`
	CreatedAt     time.Time     `json:"created_at"`

	fromConfig bool
}

type FireScheduledMessage struct {
	ID string
}

func (FireScheduledMessage) Kind() string { return "fire_scheduled_message" }

// Registers a message for delivery at the given time. Times in the past are rejected. A recurring message needs a positive interval.
func (p *Plugin) ScheduleMessage(owner engine.Sender, text string, at time.Time, recurring bool, intervalMinutes int) (*ScheduledMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, engine.Reject(engine.ReasonInvalidRequest, "empty scheduled message")
	}
	now := p.now()
	if at.Before(now) {
		return nil, engine.Reject(engine.ReasonScheduleInPast, "cannot schedule a message in the past")
	}
	if intervalMinutes < 0 || (recurring && intervalMinutes == 0) {
		return nil, engine.Reject(engine.ReasonInvalidRequest, "recurring messages need a positive interval")
	}
	m := &ScheduledMessage{
		ID:        uuid.NewString(),
		Text:      text,
		At:        at,
		Recurring: recurring,
		Interval:  time.Duration(intervalMinutes) * time.Minute,
		Active:    true,
		CreatedBy: owner.ID,
		CreatedAt: now,
	}
	p.scheduled.Store(m.ID, m)
	scheduledActive.Inc()
	p.Logger.Info("message scheduled", "id", m.ID, "at", at, "recurring", recurring, "owner", owner.ID)
	out := *m
	return &out, nil
}

// Removes a scheduled message. A delivery already in progress is not recalled. A config-defined message stays cancelled across reloads while its entry remains in the config.
func (p *Plugin) CancelScheduled(id string) error {
	m, ok := p.scheduled.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrScheduledNotFound, id)
	}
	if m.fromConfig {
		p.cancelled.Store(id, struct{}{})
	}
	scheduledActive.Dec()
	return nil
}

func (p *Plugin) ScheduledMessage(id string) (*ScheduledMessage, bool) {
	m, ok := p.scheduled.Load(id)
	if !ok {
		return nil, false
	}
	out := *m
	return &out, true
}

// Active scheduled messages, soonest first.
func (p *Plugin) Scheduled() []*ScheduledMessage {
	var out []*ScheduledMessage
	p.scheduled.Range(func(_ string, m *ScheduledMessage) bool {
		cp := *m
		out = append(out, &cp)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// first slot of a recurring schedule strictly after now
func nextSlot(at time.Time, interval time.Duration, now time.Time) time.Time {
	if at.After(now) {
		return at
	}
	steps := now.Sub(at)/interval + 1
	return at.Add(steps * interval)
}

// Syncs config-defined messages with the rule table. Recurring entries are placed on their next slot after now; one-shot entries which are not in the future are skipped, as are entries cancelled at runtime. Execution counts carry over for ids already present, config entries which were removed are dropped, and messages created at runtime are untouched.
func (p *Plugin) mergeScheduled(entries []config.ScheduledEntry) {
	now := p.now()
	keep := make(map[string]bool, len(entries))
	inConfig := make(map[string]bool, len(entries))
	for _, e := range entries {
		inConfig[e.ID] = true
		if _, ok := p.cancelled.Load(e.ID); ok {
			continue
		}
		interval := time.Duration(e.IntervalMinutes) * time.Minute
		recurring := e.Recurring && interval > 0
		at := e.At
		if recurring {
			at = nextSlot(at, interval, now)
		} else if !at.After(now) {
			continue
		}
		keep[e.ID] = true
		p.scheduled.Compute(e.ID, func(old *ScheduledMessage, loaded bool) (*ScheduledMessage, bool) {
			m := &ScheduledMessage{
				ID:        e.ID,
				Text:      e.Text,
				At:        at,
				Recurring: recurring,
				Interval:  interval,
				Active:    true,
				CreatedBy: "config",
				CreatedAt: now,

				fromConfig: true,
			}
			if loaded && old.fromConfig {
				m.TimesExecuted = old.TimesExecuted
				m.CreatedAt = old.CreatedAt
				// the current slot, when due but not fired yet, is kept
				if old.Recurring == recurring && old.Interval == interval && !old.At.After(now) && old.At.Add(interval).After(now) {
					m.At = old.At
				}
			} else if !loaded {
				scheduledActive.Inc()
			}
			return m, false
		})
	}
	p.cancelled.Range(func(id string, _ struct{}) bool {
		if !inConfig[id] {
			p.cancelled.Delete(id)
		}
		return true
	})
	p.scheduled.Range(func(id string, m *ScheduledMessage) bool {
		if m.fromConfig && !keep[id] {
			if _, ok := p.scheduled.LoadAndDelete(id); ok {
				scheduledActive.Dec()
			}
		}
		return true
	})
}

func (p *Plugin) sweepScheduled(now time.Time) []scheduler.Command {
	var cmds []scheduler.Command
	p.scheduled.Range(func(id string, m *ScheduledMessage) bool {
		if m.Active && !now.Before(m.At) {
			cmds = append(cmds, FireScheduledMessage{ID: id})
		}
		return true
	})
	return cmds
}

// Advances or retires the message atomically, then delivers it. A duplicate command for a slot which already fired does nothing.
func (p *Plugin) fireScheduled(ctx context.Context, id string) error {
	now := p.now()
	var fired *ScheduledMessage
	p.scheduled.Compute(id, func(m *ScheduledMessage, loaded bool) (*ScheduledMessage, bool) {
		if !loaded {
			return nil, true
		}
		if !m.Active || now.Before(m.At) {
			return m, false
		}
		next := *m
		next.TimesExecuted++
		fired = &next
		if next.Recurring && next.Interval > 0 {
			next.At = nextSlot(next.At.Add(next.Interval), next.Interval, now)
			return &next, false
		}
		next.Active = false
		return &next, true
	})
	if fired == nil {
		return nil
	}
	if !fired.Recurring {
		scheduledActive.Dec()
	}
	scheduledFired.Inc()

	channel := p.Rules.Rules().Event.AnnounceChannel
	if channel == "" || p.Broadcaster == nil {
		p.Logger.Warn("scheduled message fired with no announcement channel", "id", id)
		return nil
	}
	if err := p.Broadcaster.Broadcast(ctx, channel, fired.Text); err != nil {
		return fmt.Errorf("delivering scheduled message %s: %w", id, err)
	}
	return nil
}
