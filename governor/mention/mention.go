// Detection, rate limiting and rewriting of @-mentions.
//
// Three categories are recognized, and evaluated in this order: broadcast mentions (@everyone, @all, @here), staff mentions (@staff, @admin, @mod, @moderator), and individual player mentions. Each category present in a message is checked against the sender group's restriction and then its cooldown; either check can reject the whole message.
package mention

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/parley-chat/parley/governor/config"
	"github.com/parley-chat/parley/governor/cooldown"
	"github.com/parley-chat/parley/governor/engine"
)

type Category string

const (
	CategoryEveryone Category = "everyone"
	CategoryStaff    Category = "staff"
	CategoryPlayer   Category = "player"
)

var (
	everyoneWords = map[string]bool{"everyone": true, "all": true, "here": true}
	staffWords    = map[string]bool{"staff": true, "admin": true, "mod": true, "moderator": true}

	mentionPattern = regexp.MustCompile(`@([\pL\pN_]{1,32})`)
)

type RuleSource interface {
	Rules() *config.Rules
}

type Engine struct {
	Rules     RuleSource
	Cooldowns cooldown.Store
}

var _ engine.Stage = (*Engine)(nil)

func NewEngine(rules RuleSource, cooldowns cooldown.Store) *Engine {
	if cooldowns == nil {
		cooldowns = cooldown.NewMemStore()
	}
	return &Engine{
		Rules:     rules,
		Cooldowns: cooldowns,
	}
}

func (e *Engine) Name() string {
	return "mentions"
}

// A single @-token found in message text.
type Match struct {
	Category Category
	// token without the leading '@'
	Word string
	// byte offsets of the whole token, including '@'
	Start int
	End   int
}

// Finds all mention tokens in text, in order of appearance. Tokens directly preceded by a letter, digit, underscore or dot (eg email addresses) are ignored.
func Detect(text string) []Match {
	var out []Match
	for _, loc := range mentionPattern.FindAllStringSubmatchIndex(text, -1) {
		if loc[0] > 0 {
			prev, _ := utf8.DecodeLastRuneInString(text[:loc[0]])
			if prev == '_' || prev == '.' || unicode.IsLetter(prev) || unicode.IsDigit(prev) {
				continue
			}
		}
		word := text[loc[2]:loc[3]]
		m := Match{Word: word, Start: loc[0], End: loc[1], Category: CategoryPlayer}
		lower := strings.ToLower(word)
		switch {
		case everyoneWords[lower]:
			m.Category = CategoryEveryone
		case staffWords[lower]:
			m.Category = CategoryStaff
		}
		out = append(out, m)
	}
	return out
}

func (e *Engine) Process(c *engine.MessageContext) error {
	matches := Detect(c.Text())
	if len(matches) == 0 {
		return nil
	}
	rules := e.Rules.Rules()
	restr := rules.Mentions.For(c.Group)
	bypass := c.Has(rules.Mentions.BypassCapability)

	data := &engine.MentionData{}
	replacements := make(map[int]string, len(matches))
	notified := make(map[string]bool)
	var hasEveryone, hasStaff bool
	var players []resolvedMention
	for _, m := range matches {
		switch m.Category {
		case CategoryEveryone:
			hasEveryone = true
			replacements[m.Start] = fmt.Sprintf(`<mention kind="everyone">@%s</mention>`, m.Word)
		case CategoryStaff:
			hasStaff = true
			replacements[m.Start] = fmt.Sprintf(`<mention kind="staff">@%s</mention>`, m.Word)
		default:
			r := e.resolve(c, m)
			players = append(players, r)
			if r.session == nil {
				replacements[m.Start] = fmt.Sprintf(`<mention muted>@%s</mention>`, m.Word)
			} else {
				replacements[m.Start] = fmt.Sprintf(`<mention player=%q>@%s</mention>`, r.session.Name(), r.session.Name())
			}
		}
	}

	if hasEveryone {
		if !restr.CanMentionEveryone {
			return engine.Reject(engine.ReasonMentionNotAllowed, "you are not allowed to mention everyone")
		}
		if err := e.reserve(c, CategoryEveryone, restr.EveryoneCooldown, bypass); err != nil {
			return err
		}
		data.MentionedEveryone = true
	}
	if hasStaff {
		if !restr.CanMentionStaff {
			return engine.Reject(engine.ReasonMentionNotAllowed, "you are not allowed to mention staff")
		}
		if err := e.reserve(c, CategoryStaff, restr.StaffCooldown, bypass); err != nil {
			return err
		}
		data.MentionedStaff = true
	}

	online := 0
	for _, r := range players {
		if r.session != nil {
			online++
		}
	}
	if online > 0 {
		if err := e.reserve(c, CategoryPlayer, restr.PlayerCooldown, bypass); err != nil {
			return err
		}
		for _, r := range players {
			if r.session == nil || notified[r.session.ID()] {
				continue
			}
			notified[r.session.ID()] = true
			data.MentionedPlayers = append(data.MentionedPlayers, r.session.Name())
			if r.session.ID() != c.Sender.ID {
				c.Notify(r.session, fmt.Sprintf("%s mentioned you in #%s: %s", senderName(c.Sender), c.Channel.ID, c.Original()))
			}
		}
	}

	c.SetText(rewrite(c.Text(), matches, replacements))
	c.Result().Mentions = data
	for _, m := range matches {
		mentionsDetected.WithLabelValues(string(m.Category)).Inc()
	}
	return nil
}

// session is nil when the name did not resolve to an online player
type resolvedMention struct {
	match   Match
	session engine.Session
}

func (e *Engine) resolve(c *engine.MessageContext, m Match) resolvedMention {
	r := resolvedMention{match: m}
	if dir := c.Directory(); dir != nil {
		if sess, ok := dir.Lookup(m.Word); ok {
			r.session = sess
		}
	}
	return r
}

// Atomically checks and records the cooldown for a category. The reservation is handed back if the message is later rejected.
func (e *Engine) reserve(c *engine.MessageContext, cat Category, window time.Duration, bypass bool) error {
	if bypass || window <= 0 {
		return nil
	}
	res, remaining, err := e.Cooldowns.Reserve(c.Ctx, cooldown.Key("mention-"+string(cat), c.Sender.ID), c.Now, window)
	if err != nil {
		return fmt.Errorf("mention cooldown lookup: %w", err)
	}
	if res == nil {
		mentionCooldownHits.WithLabelValues(string(cat)).Inc()
		return engine.Reject(engine.ReasonMentionCooldown, "you can mention %s again in %s", cat, remaining.Round(time.Second))
	}
	c.OnRollback(func() {
		if err := e.Cooldowns.Release(c.Ctx, res); err != nil {
			c.Logger.Warn("failed to release mention cooldown", "category", cat, "err", err)
		}
	})
	return nil
}

// substitutes replacements right to left, so earlier offsets stay valid
func rewrite(text string, matches []Match, replacements map[int]string) string {
	ordered := append([]Match(nil), matches...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start > ordered[j].Start })
	for _, m := range ordered {
		repl, ok := replacements[m.Start]
		if !ok {
			continue
		}
		text = text[:m.Start] + repl + text[m.End:]
	}
	return text
}

func senderName(s engine.Sender) string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}
