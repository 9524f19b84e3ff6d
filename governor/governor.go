package governor

import (
	"context"
	"log/slog"
	"time"

	"github.com/parley-chat/parley/governor/access"
	"github.com/parley-chat/parley/governor/config"
	"github.com/parley-chat/parley/governor/cooldown"
	"github.com/parley-chat/parley/governor/engine"
	"github.com/parley-chat/parley/governor/event"
	"github.com/parley-chat/parley/governor/help"
	"github.com/parley-chat/parley/governor/mention"
	"github.com/parley-chat/parley/governor/trade"
)

type Config struct {
	Logger *slog.Logger
	// required
	Rules *config.Store
	// required
	Groups      engine.GroupResolver
	Perms       engine.PermissionChecker
	Directory   engine.OnlinePlayerDirectory
	Broadcaster engine.Broadcaster
	Relay       engine.Relay
	// when positive, relayed results are queued (up to this many) and delivered from Run instead of on the message goroutine
	RelayQueueSize int
	// overrides the item catalog from the rule table
	Catalog engine.ItemCatalog
	// shared by mention and announcement cooldowns; in-memory when nil
	Cooldowns cooldown.Store

	// when positive, group lookups are cached for this long and the cache is dropped on every rules reload
	GroupCacheTTL  time.Duration
	GroupCacheSize int

	// defaults to time.Now; applies to message processing and every maintenance loop
	Clock func() time.Time
}

// A fully wired pipeline, plus direct handles on the plugins for their out-of-band operations (tickets, post cancellation, scheduling, announcements).
type Governor struct {
	*engine.Pipeline

	Access   *access.Gate
	Mentions *mention.Engine
	Trade    *trade.Plugin
	Help     *help.Plugin
	Event    *event.Plugin

	groupCache *engine.CachingGroupResolver
}

func New(cfg Config) *Governor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cooldowns := cfg.Cooldowns
	if cooldowns == nil {
		cooldowns = cooldown.NewMemStore()
	}
	groups := cfg.Groups
	var cached *engine.CachingGroupResolver
	if cfg.GroupCacheTTL > 0 {
		size := cfg.GroupCacheSize
		if size <= 0 {
			size = 10_000
		}
		cached = engine.NewCachingGroupResolver(groups, size, cfg.GroupCacheTTL)
		cfg.Rules.Subscribe(func(*config.Rules) { cached.PurgeAll() })
		groups = cached
	}

	g := &Governor{
		Access:   access.NewGate(cfg.Rules),
		Mentions: mention.NewEngine(cfg.Rules, cooldowns),
		Trade:    trade.NewPlugin(logger, cfg.Rules, cfg.Directory),
		Help:     help.NewPlugin(logger, cfg.Rules, cfg.Directory, cfg.Perms),
		Event:    event.NewPlugin(logger, cfg.Rules, cfg.Perms, cfg.Broadcaster, cooldowns),

		groupCache: cached,
	}
	g.Trade.Catalog = cfg.Catalog
	if cfg.Clock != nil {
		g.Trade.Loop().Now = cfg.Clock
		g.Help.Loop().Now = cfg.Clock
		g.Event.Loop().Now = cfg.Clock
		// config-defined schedules were placed against the wall clock
		g.Event.Reload()
	}

	relay := cfg.Relay
	if relay != nil && cfg.RelayQueueSize > 0 {
		relay = engine.NewQueuedRelay(relay, logger, cfg.RelayQueueSize)
	}

	g.Pipeline = &engine.Pipeline{
		Logger:    logger.With("component", "pipeline"),
		Channels:  cfg.Rules,
		Groups:    groups,
		Perms:     cfg.Perms,
		Directory: cfg.Directory,
		Relay:     relay,
		Access:    g.Access,
		Mentions:  g.Mentions,
		Plugins: map[config.ChannelKind]engine.Stage{
			config.KindTrade: g.Trade,
			config.KindHelp:  g.Help,
			config.KindEvent: g.Event,
		},
		Clock: cfg.Clock,
	}
	return g
}

// Runs one maintenance pass of every plugin loop against the configured clock. Used for replays, where time only moves when the input says so.
func (g *Governor) Tick(ctx context.Context) {
	g.Trade.Loop().Tick(ctx)
	g.Help.Loop().Tick(ctx)
	g.Event.Loop().Tick(ctx)
}

// Drops any cached group for the sender. Hosts call this whenever they change a player's group, so the next message sees it.
func (g *Governor) PurgeGroup(senderID string) {
	if g.groupCache != nil {
		g.groupCache.Purge(senderID)
	}
}
