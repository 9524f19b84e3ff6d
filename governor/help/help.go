// Channel behavior for support channels: FAQ matching, help request detection, staff notification, and support tickets with auto-close.
package help

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/parley-chat/parley/governor/config"
	"github.com/parley-chat/parley/governor/engine"
	"github.com/parley-chat/parley/governor/scheduler"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

type RuleSource interface {
	Rules() *config.Rules
	Subscribe(fn func(*config.Rules))
}

type Plugin struct {
	Logger    *slog.Logger
	Rules     RuleSource
	Directory engine.OnlinePlayerDirectory
	Perms     engine.PermissionChecker

	faq      atomic.Pointer[faqIndex]
	notifier *rate.Limiter
	loop     *scheduler.Loop

	tickets *xsync.MapOf[int64, *Ticket]
	// owner id to number of open or in-progress tickets
	active *xsync.MapOf[string, int]
	lastID atomic.Int64
}

var _ engine.Stage = (*Plugin)(nil)
var _ engine.Maintainer = (*Plugin)(nil)

func NewPlugin(logger *slog.Logger, rules RuleSource, dir engine.OnlinePlayerDirectory, perms engine.PermissionChecker) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	r := rules.Rules()
	p := &Plugin{
		Logger:    logger.With("component", "help"),
		Rules:     rules,
		Directory: dir,
		Perms:     perms,
		notifier:  rate.NewLimiter(notifyLimit(r.Help), r.Help.NotifyBurst),
		tickets:   xsync.NewMapOf[int64, *Ticket](),
		active:    xsync.NewMapOf[string, int](),
	}
	p.faq.Store(buildFAQIndex(r.Help.FAQ))
	rules.Subscribe(p.reload)
	p.loop = scheduler.NewLoop("help", logger, r.Help.Tickets.SweepInterval, p.handle)
	p.loop.AddSweep(p.sweepStale)
	return p
}

func notifyLimit(h config.Help) rate.Limit {
	if h.NotifyEvery <= 0 {
		return rate.Inf
	}
	return rate.Every(h.NotifyEvery)
}

// Rebuilds derived state from a new rule table. Tickets are left untouched.
func (p *Plugin) reload(r *config.Rules) {
	p.faq.Store(buildFAQIndex(r.Help.FAQ))
	p.notifier.SetLimit(notifyLimit(r.Help))
	p.notifier.SetBurst(r.Help.NotifyBurst)
}

func (p *Plugin) Name() string {
	return "help"
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

// Returns the FAQ entry answering text, or nil.
func (p *Plugin) MatchFAQ(text string) *config.FAQEntry {
	return p.faq.Load().match(text)
}

func (p *Plugin) Process(c *engine.MessageContext) error {
	cfg := p.Rules.Rules().Help
	text := c.Original()
	data := &engine.HelpData{
		IsHelpRequest: IsHelpRequest(text, cfg.Keywords),
		FAQ:           p.MatchFAQ(text),
	}

	if data.FAQ != nil {
		faqMatches.WithLabelValues(data.FAQ.ID).Inc()
		if sess := p.senderSession(c); sess != nil {
			c.Notify(sess, fmt.Sprintf("FAQ: %s %s", data.FAQ.Question, data.FAQ.Answer))
		}
	}

	if data.IsHelpRequest {
		if cfg.NotifyStaff {
			data.StaffNotified = p.notifyStaff(c, cfg.StaffCapability)
		}
		if cfg.Tickets.Enabled && p.activeCount(c.Sender.ID) == 0 {
			data.TicketSuggested = true
		}
	}

	c.Result().Help = data
	return nil
}

func (p *Plugin) senderSession(c *engine.MessageContext) engine.Session {
	dir := c.Directory()
	if dir == nil {
		return nil
	}
	sess, ok := dir.ByID(c.Sender.ID)
	if !ok {
		return nil
	}
	return sess
}

// Queues a notice to every online staff member except the sender. Returns false when nobody was notified or the notification budget is spent.
func (p *Plugin) notifyStaff(c *engine.MessageContext, capability string) bool {
	staff := p.onlineStaff(c.Ctx, capability, c.Sender.ID)
	if len(staff) == 0 {
		return false
	}
	if !p.notifier.AllowN(c.Now, 1) {
		staffNotifications.WithLabelValues("throttled").Inc()
		c.Logger.Debug("staff notification throttled")
		return false
	}
	for _, sess := range staff {
		c.Notify(sess, fmt.Sprintf("[help] %s needs help in #%s: %s", displayName(c.Sender), c.Channel.ID, c.Original()))
	}
	staffNotifications.WithLabelValues("sent").Inc()
	return true
}

func (p *Plugin) onlineStaff(ctx context.Context, capability, exceptID string) []engine.Session {
	if p.Directory == nil || p.Perms == nil {
		return nil
	}
	var out []engine.Session
	for _, sess := range p.Directory.Online() {
		if sess.ID() == exceptID {
			continue
		}
		if p.Perms.Has(ctx, engine.Sender{ID: sess.ID(), Name: sess.Name()}, capability) {
			out = append(out, sess)
		}
	}
	return out
}

func (p *Plugin) isStaff(ctx context.Context, s engine.Sender) bool {
	return p.Perms != nil && p.Perms.Has(ctx, s, p.Rules.Rules().Help.StaffCapability)
}

// best-effort direct message to an online player, outside of message processing
func (p *Plugin) tell(ctx context.Context, playerID, text string) {
	if p.Directory == nil || playerID == "" {
		return
	}
	sess, ok := p.Directory.ByID(playerID)
	if !ok {
		return
	}
	if err := sess.Send(ctx, text); err != nil {
		p.Logger.Warn("failed to notify player", "player", playerID, "err", err)
	}
}

func displayName(s engine.Sender) string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}
