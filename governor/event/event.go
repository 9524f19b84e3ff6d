// Channel behavior for announcement channels: announcement-mode gating and formatting, weighted auto-broadcast rotation, and one-shot or recurring scheduled messages.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/parley-chat/parley/governor/config"
	"github.com/parley-chat/parley/governor/cooldown"
	"github.com/parley-chat/parley/governor/engine"
	"github.com/parley-chat/parley/governor/scheduler"

	"github.com/puzpuzpuz/xsync/v3"
)

type RuleSource interface {
	Rules() *config.Rules
	Subscribe(fn func(*config.Rules))
}

type Plugin struct {
	Logger      *slog.Logger
	Rules       RuleSource
	Perms       engine.PermissionChecker
	Broadcaster engine.Broadcaster
	Cooldowns   cooldown.Store
	// returns a uniform integer in [0, n); replaced in tests for deterministic draws
	Rand func(n int) int

	loop *scheduler.Loop

	mu         sync.Mutex
	broadcasts []*Broadcast
	// only touched from the loop goroutine
	nextRotation time.Time

	scheduled *xsync.MapOf[string, *ScheduledMessage]
	// config-defined ids cancelled at runtime; kept out of merges until the entry leaves the config
	cancelled *xsync.MapOf[string, struct{}]
}

var _ engine.Stage = (*Plugin)(nil)
var _ engine.Maintainer = (*Plugin)(nil)

func NewPlugin(logger *slog.Logger, rules RuleSource, perms engine.PermissionChecker, bc engine.Broadcaster, cooldowns cooldown.Store) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	if cooldowns == nil {
		cooldowns = cooldown.NewMemStore()
	}
	r := rules.Rules()
	p := &Plugin{
		Logger:      logger.With("component", "event"),
		Rules:       rules,
		Perms:       perms,
		Broadcaster: bc,
		Cooldowns:   cooldowns,
		Rand:        rand.IntN,
		scheduled:   xsync.NewMapOf[string, *ScheduledMessage](),
		cancelled:   xsync.NewMapOf[string, struct{}](),
	}
	p.loop = scheduler.NewLoop("event", logger, r.Event.SweepInterval, p.handle)
	p.loop.AddSweep(p.sweepRotation)
	p.loop.AddSweep(p.sweepScheduled)
	p.reload(r)
	rules.Subscribe(p.reload)
	return p
}

func (p *Plugin) reload(r *config.Rules) {
	p.mergeBroadcasts(r.Event.Broadcasts)
	p.mergeScheduled(r.Event.Scheduled)
}

// Re-applies the current rule table, eg after the loop clock was replaced.
func (p *Plugin) Reload() {
	p.reload(p.Rules.Rules())
}

func (p *Plugin) Name() string {
	return "event"
}

func (p *Plugin) Loop() *scheduler.Loop {
	return p.loop
}

func (p *Plugin) Run(ctx context.Context) error {
	return p.loop.Run(ctx)
}

func (p *Plugin) now() time.Time {
	return p.loop.Now()
}

func (p *Plugin) Process(c *engine.MessageContext) error {
	data := &engine.EventData{}
	c.Result().Event = data
	if !c.Channel.Event.AnnouncementMode {
		return nil
	}
	cfg := p.Rules.Rules().Event
	if !p.mayAnnounce(c.Ctx, cfg, c.Sender) {
		return engine.Reject(engine.ReasonAnnounceDenied, "only announcers may post in this channel")
	}
	res, err := p.reserveCooldown(c.Ctx, cfg, c.Sender, c.Now)
	if err != nil {
		return err
	}
	if res != nil {
		c.OnRollback(func() {
			if err := p.Cooldowns.Release(c.Ctx, res); err != nil {
				c.Logger.Warn("failed to release announcement cooldown", "err", err)
			}
		})
	}
	c.SetText(FormatAnnouncement(cfg.Marker, cfg.TimeFormat, c.Now, c.Text()))
	data.IsAnnouncement = true
	c.OnCommit(func() { announcements.WithLabelValues("channel").Inc() })
	return nil
}

// Sends a system announcement to the configured announcement channel on behalf of sender. Urgent announcements skip the per-sender cooldown and carry an urgent marker.
func (p *Plugin) CreateAnnouncement(ctx context.Context, sender engine.Sender, text string, urgent bool) error {
	cfg := p.Rules.Rules().Event
	text = strings.TrimSpace(text)
	if text == "" {
		return engine.Reject(engine.ReasonInvalidRequest, "empty announcement")
	}
	if cfg.AnnounceChannel == "" || p.Broadcaster == nil {
		return engine.Reject(engine.ReasonInvalidRequest, "no announcement channel configured")
	}
	if !p.mayAnnounce(ctx, cfg, sender) {
		return engine.Reject(engine.ReasonAnnounceDenied, "you may not make announcements")
	}
	now := p.now()
	marker := cfg.Marker
	var res *cooldown.Reservation
	if urgent {
		marker = "URGENT " + marker
	} else {
		var err error
		if res, err = p.reserveCooldown(ctx, cfg, sender, now); err != nil {
			return err
		}
	}
	if err := p.Broadcaster.Broadcast(ctx, cfg.AnnounceChannel, FormatAnnouncement(marker, cfg.TimeFormat, now, text)); err != nil {
		if res != nil {
			if rerr := p.Cooldowns.Release(ctx, res); rerr != nil {
				p.Logger.Warn("failed to release announcement cooldown", "err", rerr)
			}
		}
		return fmt.Errorf("delivering announcement: %w", err)
	}
	kind := "normal"
	if urgent {
		kind = "urgent"
	}
	announcements.WithLabelValues(kind).Inc()
	p.Logger.Info("announcement sent", "sender", sender.ID, "urgent", urgent)
	return nil
}

func (p *Plugin) mayAnnounce(ctx context.Context, cfg config.Event, s engine.Sender) bool {
	if slices.Contains(cfg.Announcers, s.ID) || (s.Name != "" && slices.Contains(cfg.Announcers, s.Name)) {
		return true
	}
	return p.Perms != nil && p.Perms.Has(ctx, s, cfg.AnnounceCapability)
}

// Returns a nil reservation when no cooldown is configured.
func (p *Plugin) reserveCooldown(ctx context.Context, cfg config.Event, s engine.Sender, now time.Time) (*cooldown.Reservation, error) {
	if cfg.AnnounceCooldown <= 0 {
		return nil, nil
	}
	res, remaining, err := p.Cooldowns.Reserve(ctx, cooldown.Key("announce", s.ID), now, cfg.AnnounceCooldown)
	if err != nil {
		return nil, fmt.Errorf("announcement cooldown lookup: %w", err)
	}
	if res == nil {
		return nil, engine.Reject(engine.ReasonAnnounceCooldown, "you can announce again in %s", remaining.Round(time.Second))
	}
	return res, nil
}

func FormatAnnouncement(marker, layout string, at time.Time, text string) string {
	return fmt.Sprintf("[%s %s] %s", marker, at.Format(layout), text)
}

func (p *Plugin) handle(ctx context.Context, cmd scheduler.Command) error {
	switch c := cmd.(type) {
	case FireBroadcast:
		return p.fireBroadcast(ctx)
	case FireScheduledMessage:
		return p.fireScheduled(ctx, c.ID)
	default:
		return scheduler.UnknownCommand(cmd)
	}
}
