package engine

import (
	"context"
	"fmt"

	"github.com/parley-chat/parley/governor/config"
)

// Identity of the account which sent a message. ID is stable; Name is the display name players type in mentions.
type Sender struct {
	ID   string
	Name string
}

func (s Sender) String() string {
	return fmt.Sprintf("%s(%s)", s.Name, s.ID)
}

// Maps a sender to their permission group, backed by an external permission provider.
type GroupResolver interface {
	GroupOf(ctx context.Context, s Sender) (string, error)
}

type PermissionChecker interface {
	Has(ctx context.Context, s Sender, capability string) bool
}

// Per-channel configuration source. config.Store is the production implementation.
type ChannelRegistry interface {
	Channel(id string) (config.Channel, bool)
	Defaults() config.Defaults
}

// A live connection for an online player.
type Session interface {
	ID() string
	Name() string
	Send(ctx context.Context, text string) error
	// items currently held by the player, for item-reference resolution
	Holdings() []config.Item
}

type OnlinePlayerDirectory interface {
	// case-insensitive lookup by display name
	Lookup(name string) (Session, bool)
	ByID(id string) (Session, bool)
	Online() []Session
}

// Registry of all known item types.
type ItemCatalog interface {
	LookupItem(name string) (config.Item, bool)
}

// Delivers system-originated text (broadcasts, scheduled messages, announcements) to a channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, channelID, text string) error
}

// Outbound hook for accepted messages, eg forwarding to a chat bridge.
type Relay interface {
	Relay(ctx context.Context, res *ProcessedMessageResult) error
}

// A pipeline stage: access gate, mention engine, or a channel plugin.
//
// A stage either rewrites the context (text, metadata, deferred effects) and returns nil, returns a *Rejection to block the message, or returns any other error to signal an internal failure (the stage is skipped and the message passes through).
type Stage interface {
	Name() string
	Process(c *MessageContext) error
}

// Implemented by stages which own a background maintenance loop.
type Maintainer interface {
	Run(ctx context.Context) error
}
