// Message governance pipeline for multi-channel chat.
//
// This package (`github.com/parley-chat/parley/governor`) decides, for each inbound (sender, channel, text) message, whether it may be sent, and rewrites it according to per-channel and per-group rules. Messages pass an access gate, then the mention engine, then the behavior plugin for the channel's kind (trade, help or event). The first rejection stops the chain; an internal failure in a stage skips that stage and lets the message through. Plugins also own background maintenance loops for trade post expiry, ticket auto-close, broadcast rotation and scheduled messages.
//
// The outcome is an engine-agnostic ProcessedMessageResult for a downstream renderer or transport. See `cmd/parley` for a daemon built on this package.
package governor
