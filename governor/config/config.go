// Rule tables for the message governance pipeline.
//
// Rules are decoded from YAML, normalized (defaults filled in, malformed entries dropped with a warning), and published through a Store which swaps the whole table atomically on reload.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig []byte

const (
	DefaultGroupName       = "default"
	DefaultMaxLength       = 256
	DefaultSweepInterval   = 30 * time.Second
	DefaultAnnounceMarker  = "ANNOUNCEMENT"
	DefaultAnnounceTimeFmt = "15:04"
	DefaultStaffCapability = "chat.staff"
	DefaultAnnounceCap     = "chat.announce"
	DefaultBypassCap       = "chat.mention.bypass"
)

var DefaultTradeKeywords = []string{"WTS", "WTB", "WTT", "SELLING", "BUYING", "TRADING"}

type ChannelKind string

const (
	KindPlain ChannelKind = "plain"
	KindTrade ChannelKind = "trade"
	KindHelp  ChannelKind = "help"
	KindEvent ChannelKind = "event"
)

// Top-level rule table. Treated as immutable once published through a Store.
type Rules struct {
	Defaults Defaults         `yaml:"defaults"`
	Groups   map[string]Group `yaml:"groups"`
	Channels []Channel        `yaml:"channels"`
	Mentions Mentions         `yaml:"mentions"`
	Trade    Trade            `yaml:"trade"`
	Help     Help             `yaml:"help"`
	Event    Event            `yaml:"event"`
	// static player fixtures, only used by the daemon's built-in host adapter
	Players []Player `yaml:"players"`

	channels map[string]Channel
	warnings []string
}

type Defaults struct {
	Group     string `yaml:"group"`
	MaxLength int    `yaml:"max_length"`
}

type Group struct {
	MaxLength int `yaml:"max_length"`
}

type Channel struct {
	ID     string      `yaml:"id"`
	Kind   ChannelKind `yaml:"kind"`
	Access AccessRule  `yaml:"access"`
	// per-group length limits which override the group-level limit for this channel only
	MaxLength map[string]int `yaml:"max_length"`
	// accepted messages are handed to the outbound relay hook
	Relay bool         `yaml:"relay"`
	Trade TradeChannel `yaml:"trade"`
	Event EventChannel `yaml:"event"`
}

// Deny is evaluated before allow. Either list may contain the "*" wildcard.
type AccessRule struct {
	Allowed []string `yaml:"allowed"`
	Denied  []string `yaml:"denied"`
}

type TradeChannel struct {
	RequireKeywords bool          `yaml:"require_keywords"`
	PriceDetection  bool          `yaml:"price_detection"`
	ItemLinks       bool          `yaml:"item_links"`
	AutoExpire      time.Duration `yaml:"auto_expire"`
}

type EventChannel struct {
	AnnouncementMode bool `yaml:"announcement_mode"`
}

type MentionRestriction struct {
	CanMentionEveryone bool          `yaml:"can_mention_everyone"`
	CanMentionStaff    bool          `yaml:"can_mention_staff"`
	EveryoneCooldown   time.Duration `yaml:"everyone_cooldown"`
	StaffCooldown      time.Duration `yaml:"staff_cooldown"`
	PlayerCooldown     time.Duration `yaml:"player_cooldown"`
}

type Mentions struct {
	Default          MentionRestriction            `yaml:"default"`
	Groups           map[string]MentionRestriction `yaml:"groups"`
	BypassCapability string                        `yaml:"bypass_capability"`
}

type Item struct {
	Type        string `yaml:"type" json:"type"`
	DisplayName string `yaml:"display_name" json:"display_name"`
}

type Trade struct {
	Keywords        []string      `yaml:"keywords"`
	HighlightPrefix string        `yaml:"highlight_prefix"`
	HighlightSuffix string        `yaml:"highlight_suffix"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	// global item-type registry, consulted when an item reference is not in the sender's holdings
	Items []Item `yaml:"items"`
}

type FAQEntry struct {
	ID       string   `yaml:"id" json:"id"`
	Question string   `yaml:"question" json:"question"`
	Answer   string   `yaml:"answer" json:"answer"`
	Keywords []string `yaml:"keywords" json:"-"`
	Category string   `yaml:"category" json:"category,omitempty"`
}

type Tickets struct {
	Enabled        bool          `yaml:"enabled"`
	MaxPerPlayer   int           `yaml:"max_per_player"`
	AutoCloseAfter time.Duration `yaml:"auto_close_after"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

type Help struct {
	FAQ             []FAQEntry `yaml:"faq"`
	Keywords        []string   `yaml:"keywords"`
	NotifyStaff     bool       `yaml:"notify_staff"`
	StaffCapability string     `yaml:"staff_capability"`
	// token bucket for staff notifications: one token every NotifyEvery, up to NotifyBurst
	NotifyEvery time.Duration `yaml:"notify_every"`
	NotifyBurst int           `yaml:"notify_burst"`
	Tickets     Tickets       `yaml:"tickets"`
}

type BroadcastEntry struct {
	ID     string `yaml:"id"`
	Text   string `yaml:"text"`
	Weight int    `yaml:"weight"`
	// nil means active
	Active *bool `yaml:"active"`
}

func (b BroadcastEntry) IsActive() bool {
	return b.Active == nil || *b.Active
}

type ScheduledEntry struct {
	ID              string    `yaml:"id"`
	Text            string    `yaml:"text"`
	At              time.Time `yaml:"at"`
	Recurring       bool      `yaml:"recurring"`
	IntervalMinutes int       `yaml:"interval_minutes"`
}

type Event struct {
	AnnounceCapability string        `yaml:"announce_capability"`
	Announcers         []string      `yaml:"announcers"`
	AnnounceCooldown   time.Duration `yaml:"announce_cooldown"`
	Marker             string        `yaml:"marker"`
	TimeFormat         string        `yaml:"time_format"`
	// channel that createAnnouncement and scheduled messages are delivered to
	AnnounceChannel   string           `yaml:"announce_channel"`
	BroadcastChannel  string           `yaml:"broadcast_channel"`
	BroadcastInterval time.Duration    `yaml:"broadcast_interval"`
	Broadcasts        []BroadcastEntry `yaml:"broadcasts"`
	Scheduled         []ScheduledEntry `yaml:"scheduled"`
	SweepInterval     time.Duration    `yaml:"sweep_interval"`
}

type Player struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Group        string   `yaml:"group"`
	Capabilities []string `yaml:"capabilities"`
	Holdings     []Item   `yaml:"holdings"`
}

// Decodes and normalizes a YAML rule table.
func Parse(data []byte) (*Rules, error) {
	var r Rules
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	r.normalize()
	return &r, nil
}

func LoadFile(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	return Parse(data)
}

// Returns an empty, normalized rule table: every channel lookup misses, every default applies.
func Empty() *Rules {
	r := Rules{}
	r.normalize()
	return &r
}

// Non-fatal problems found while normalizing: entries which were dropped or clamped.
func (r *Rules) Warnings() []string {
	return r.warnings
}

func (r *Rules) Channel(id string) (Channel, bool) {
	ch, ok := r.channels[id]
	return ch, ok
}

// Resolves the effective message length limit for a group, optionally overridden per channel.
func (r *Rules) MaxLength(group string, ch *Channel) int {
	if ch != nil {
		if v, ok := ch.MaxLength[group]; ok && v > 0 {
			return v
		}
	}
	if g, ok := r.Groups[group]; ok && g.MaxLength > 0 {
		return g.MaxLength
	}
	return r.Defaults.MaxLength
}

// Returns the explicit restriction for a group, or the default entry.
func (m Mentions) For(group string) MentionRestriction {
	if mr, ok := m.Groups[group]; ok {
		return mr
	}
	return m.Default
}

func (r *Rules) warn(format string, args ...any) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

func (r *Rules) normalize() {
	if r.Defaults.Group == "" {
		r.Defaults.Group = DefaultGroupName
	}
	if r.Defaults.MaxLength <= 0 {
		r.Defaults.MaxLength = DefaultMaxLength
	}

	r.channels = make(map[string]Channel, len(r.Channels))
	kept := r.Channels[:0]
	for i, ch := range r.Channels {
		if ch.ID == "" {
			r.warn("channels[%d]: missing id, dropped", i)
			continue
		}
		if _, dupe := r.channels[ch.ID]; dupe {
			r.warn("channels[%d]: duplicate id %q, dropped", i, ch.ID)
			continue
		}
		switch ch.Kind {
		case "":
			ch.Kind = KindPlain
		case KindPlain, KindTrade, KindHelp, KindEvent:
		default:
			r.warn("channel %q: unknown kind %q, treated as plain", ch.ID, ch.Kind)
			ch.Kind = KindPlain
		}
		if ch.Trade.AutoExpire < 0 {
			r.warn("channel %q: negative auto_expire, disabled", ch.ID)
			ch.Trade.AutoExpire = 0
		}
		r.channels[ch.ID] = ch
		kept = append(kept, ch)
	}
	r.Channels = kept

	if r.Mentions.BypassCapability == "" {
		r.Mentions.BypassCapability = DefaultBypassCap
	}

	if len(r.Trade.Keywords) == 0 {
		r.Trade.Keywords = DefaultTradeKeywords
	}
	if r.Trade.SweepInterval <= 0 {
		r.Trade.SweepInterval = DefaultSweepInterval
	}
	items := r.Trade.Items[:0]
	for i, it := range r.Trade.Items {
		if strings.TrimSpace(it.Type) == "" {
			r.warn("trade.items[%d]: missing type, dropped", i)
			continue
		}
		items = append(items, it)
	}
	r.Trade.Items = items

	if r.Help.StaffCapability == "" {
		r.Help.StaffCapability = DefaultStaffCapability
	}
	if r.Help.Tickets.SweepInterval <= 0 {
		r.Help.Tickets.SweepInterval = DefaultSweepInterval
	}
	if r.Help.NotifyBurst <= 0 {
		r.Help.NotifyBurst = 5
	}
	faq := r.Help.FAQ[:0]
	for i, e := range r.Help.FAQ {
		if strings.TrimSpace(e.Question) == "" || strings.TrimSpace(e.Answer) == "" {
			r.warn("help.faq[%d]: missing question or answer, dropped", i)
			continue
		}
		if e.ID == "" {
			e.ID = fmt.Sprintf("faq-%d", i+1)
		}
		faq = append(faq, e)
	}
	r.Help.FAQ = faq

	if r.Event.AnnounceCapability == "" {
		r.Event.AnnounceCapability = DefaultAnnounceCap
	}
	if r.Event.Marker == "" {
		r.Event.Marker = DefaultAnnounceMarker
	}
	if r.Event.TimeFormat == "" {
		r.Event.TimeFormat = DefaultAnnounceTimeFmt
	}
	if r.Event.SweepInterval <= 0 {
		r.Event.SweepInterval = DefaultSweepInterval
	}
	seen := make(map[string]bool, len(r.Event.Broadcasts))
	bcasts := r.Event.Broadcasts[:0]
	for i, b := range r.Event.Broadcasts {
		if strings.TrimSpace(b.Text) == "" {
			r.warn("event.broadcasts[%d]: empty text, dropped", i)
			continue
		}
		if b.ID == "" {
			b.ID = fmt.Sprintf("broadcast-%d", i+1)
		}
		if seen[b.ID] {
			r.warn("event.broadcasts[%d]: duplicate id %q, dropped", i, b.ID)
			continue
		}
		seen[b.ID] = true
		if b.Weight < 1 {
			r.warn("event.broadcasts[%d]: weight %d raised to 1", i, b.Weight)
			b.Weight = 1
		}
		bcasts = append(bcasts, b)
	}
	r.Event.Broadcasts = bcasts

	sched := r.Event.Scheduled[:0]
	for i, s := range r.Event.Scheduled {
		if strings.TrimSpace(s.Text) == "" || s.At.IsZero() {
			r.warn("event.scheduled[%d]: missing text or time, dropped", i)
			continue
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("scheduled-%d", i+1)
		}
		if s.IntervalMinutes < 0 {
			r.warn("event.scheduled[%d]: negative interval, treated as one-shot", i)
			s.IntervalMinutes = 0
		}
		sched = append(sched, s)
	}
	r.Event.Scheduled = sched
}
