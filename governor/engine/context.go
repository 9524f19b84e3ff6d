package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/parley-chat/parley/governor/config"
)

// The interface exposed to pipeline stages for a single message.
type MessageContext struct {
	// Actual golang "context.Context", if needed for timeouts etc
	Ctx context.Context
	// slog logger handle, with message-specific structured fields pre-populated. Pointer, but expected to never be nil.
	Logger  *slog.Logger
	Sender  Sender
	Group   string
	Channel config.Channel
	// processing time for this message; stages use this instead of the wall clock
	Now time.Time

	pipeline *Pipeline // NOTE: pointer, but expected never to be nil
	result   *ProcessedMessageResult
	effects  *Effects
}

func NewMessageContext(ctx context.Context, p *Pipeline, sender Sender, group string, ch config.Channel, text string) *MessageContext {
	return &MessageContext{
		Ctx:     ctx,
		Logger:  p.Logger.With("sender", sender.ID, "channel", ch.ID, "group", group),
		Sender:  sender,
		Group:   group,
		Channel: ch,
		Now:     p.now(),

		pipeline: p,
		result: &ProcessedMessageResult{
			SenderID:     sender.ID,
			ChannelID:    ch.ID,
			Group:        group,
			OriginalText: text,
			Text:         text,
		},
		effects: &Effects{},
	}
}

// Current text, including rewrites by earlier stages.
func (c *MessageContext) Text() string {
	return c.result.Text
}

func (c *MessageContext) Original() string {
	return c.result.OriginalText
}

func (c *MessageContext) SetText(text string) {
	c.result.Text = text
}

// Result being assembled; stages attach their metadata here.
func (c *MessageContext) Result() *ProcessedMessageResult {
	return c.result
}

func (c *MessageContext) Effects() *Effects {
	return c.effects
}

func (c *MessageContext) Has(capability string) bool {
	if capability == "" || c.pipeline.Perms == nil {
		return false
	}
	return c.pipeline.Perms.Has(c.Ctx, c.Sender, capability)
}

func (c *MessageContext) Directory() OnlinePlayerDirectory {
	return c.pipeline.Directory
}

// Queues a message to an online session, delivered only if the whole pipeline accepts.
func (c *MessageContext) Notify(sess Session, text string) {
	c.effects.Notifications = append(c.effects.Notifications, Notification{Session: sess, Text: text})
}

// Registers a side effect which runs only if the whole pipeline accepts.
func (c *MessageContext) OnCommit(fn func()) {
	c.effects.commits = append(c.effects.commits, fn)
}

// Registers an undo action which runs if this or a later stage rejects the message, or if this stage fails.
func (c *MessageContext) OnRollback(fn func()) {
	c.effects.rollbacks = append(c.effects.rollbacks, fn)
}

// state captured before each stage, so a failing stage can be undone
type stageSnapshot struct {
	text          string
	mentions      *MentionData
	trade         *TradeData
	help          *HelpData
	event         *EventData
	notifications int
	commits       int
	rollbacks     int
}

func (c *MessageContext) snapshot() stageSnapshot {
	return stageSnapshot{
		text:          c.result.Text,
		mentions:      c.result.Mentions,
		trade:         c.result.Trade,
		help:          c.result.Help,
		event:         c.result.Event,
		notifications: len(c.effects.Notifications),
		commits:       len(c.effects.commits),
		rollbacks:     len(c.effects.rollbacks),
	}
}

func (c *MessageContext) restore(s stageSnapshot) {
	c.effects.rollbackFrom(c.Logger, s.rollbacks)
	c.result.Text = s.text
	c.result.Mentions = s.mentions
	c.result.Trade = s.trade
	c.result.Help = s.help
	c.result.Event = s.event
	c.effects.Notifications = c.effects.Notifications[:s.notifications]
	c.effects.commits = c.effects.commits[:s.commits]
}
