// Channel behavior for marketplace channels: trade keyword requirement, price detection and highlighting, item references, and auto-expiring trade posts.
package trade

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/parley-chat/parley/governor/config"
	"github.com/parley-chat/parley/governor/engine"
	"github.com/parley-chat/parley/governor/keyword"
	"github.com/parley-chat/parley/governor/scheduler"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// Current rule table plus reload notifications. Implemented by *config.Store.
type RuleSource interface {
	Rules() *config.Rules
	Subscribe(fn func(*config.Rules))
}

type Plugin struct {
	Logger    *slog.Logger
	Rules     RuleSource
	Directory engine.OnlinePlayerDirectory
	// optional; overrides the catalog built from the rule table
	Catalog engine.ItemCatalog

	loop    *scheduler.Loop
	posts   *xsync.MapOf[string, *Post]
	catalog atomic.Pointer[StaticCatalog]
}

var _ engine.Stage = (*Plugin)(nil)
var _ engine.Maintainer = (*Plugin)(nil)

func NewPlugin(logger *slog.Logger, rules RuleSource, dir engine.OnlinePlayerDirectory) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Plugin{
		Logger:    logger.With("component", "trade"),
		Rules:     rules,
		Directory: dir,
		posts:     xsync.NewMapOf[string, *Post](),
	}
	p.catalog.Store(NewStaticCatalog(rules.Rules().Trade.Items))
	rules.Subscribe(func(r *config.Rules) {
		p.catalog.Store(NewStaticCatalog(r.Trade.Items))
	})
	p.loop = scheduler.NewLoop("trade", logger, rules.Rules().Trade.SweepInterval, p.handle)
	p.loop.AddSweep(p.sweepExpired)
	return p
}

func (p *Plugin) Name() string {
	return "trade"
}

func (p *Plugin) Loop() *scheduler.Loop {
	return p.loop
}

func (p *Plugin) Run(ctx context.Context) error {
	return p.loop.Run(ctx)
}

func (p *Plugin) itemCatalog() engine.ItemCatalog {
	if p.Catalog != nil {
		return p.Catalog
	}
	return p.catalog.Load()
}

func (p *Plugin) Process(c *engine.MessageContext) error {
	rules := p.Rules.Rules()
	settings := c.Channel.Trade
	data := &engine.TradeData{}

	if settings.RequireKeywords && !HasTradeKeyword(c.Original(), rules.Trade.Keywords) {
		return engine.Reject(engine.ReasonMissingKeyword, "trade messages must include one of: %s", strings.Join(rules.Trade.Keywords, ", "))
	}

	if settings.PriceDetection {
		data.Prices = DetectPrices(c.Original())
		highlight := data.Prices
		if c.Text() != c.Original() {
			// earlier stages rewrote the text, so highlight spans come from the current text, outside their markup
			highlight = DetectPricesOutsideMarkup(c.Text())
		}
		c.SetText(Highlight(c.Text(), highlight, rules.Trade.HighlightPrefix, rules.Trade.HighlightSuffix))
		pricesDetected.Add(float64(len(data.Prices)))
	}

	if settings.ItemLinks {
		var holdings []config.Item
		if dir := c.Directory(); dir != nil {
			if sess, ok := dir.ByID(c.Sender.ID); ok {
				holdings = sess.Holdings()
			}
		}
		text, linked := LinkItems(c.Text(), holdings, p.itemCatalog())
		c.SetText(text)
		data.HasItemLinks = linked
	}

	if settings.AutoExpire > 0 {
		post := &Post{
			ID:        uuid.NewString(),
			OwnerID:   c.Sender.ID,
			OwnerName: c.Sender.Name,
			ChannelID: c.Channel.ID,
			Text:      c.Original(),
			CreatedAt: c.Now,
			ExpiresAt: c.Now.Add(settings.AutoExpire),
		}
		data.PostID = post.ID
		data.ExpiresAt = post.ExpiresAt
		c.OnCommit(func() {
			p.register(post)
			c.Logger.Info("trade post registered", "post", post.ID, "expires", post.ExpiresAt)
		})
	}

	c.Result().Trade = data
	return nil
}

// Case-insensitive whole-word check for any of the trade keywords.
func HasTradeKeyword(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	tokens := keyword.TokenizeText(text)
	for _, kw := range keywords {
		if slices.Contains(tokens, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (p *Plugin) ActivePosts() int {
	return p.posts.Size()
}
