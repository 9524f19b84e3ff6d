package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parley-chat/parley/governor/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("governor")

// Runtime for executing the governance chain on inbound messages: access gate, then mention engine, then the plugin for the channel's kind.
//
// TODO: careful when initializing: Logger, Channels and Groups must not be nil. Stages and other collaborators are optional.
type Pipeline struct {
	Logger    *slog.Logger
	Channels  ChannelRegistry
	Groups    GroupResolver
	Perms     PermissionChecker
	Directory OnlinePlayerDirectory
	// optional outbound hook for accepted messages on channels with relay enabled. Called on the message goroutine; wrap slow relays in a QueuedRelay.
	Relay Relay

	Access   Stage
	Mentions Stage
	Plugins  map[config.ChannelKind]Stage

	// defaults to time.Now
	Clock func() time.Time
}

func (p *Pipeline) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}

// Processes one inbound chat message synchronously on the calling goroutine.
//
// Never returns nil. A rejected message has Valid=false and a non-nil Rejection; internal failures degrade (the failing stage is skipped) rather than block.
func (p *Pipeline) ProcessMessage(ctx context.Context, sender Sender, channelID, text string) *ProcessedMessageResult {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ProcessMessage", trace.WithAttributes(
		attribute.String("channel", channelID),
		attribute.String("sender", sender.ID),
	))
	defer span.End()

	ch, ok := p.Channels.Channel(channelID)
	if !ok {
		res := &ProcessedMessageResult{
			SenderID:     sender.ID,
			ChannelID:    channelID,
			OriginalText: text,
			Text:         text,
			Rejection:    Reject(ReasonAccessDenied, "unknown channel %q", channelID),
		}
		messagesRejected.WithLabelValues(string(ReasonAccessDenied)).Inc()
		return res
	}
	defer func() {
		messageDuration.WithLabelValues(string(ch.Kind)).Observe(time.Since(start).Seconds())
	}()

	group, degradedGroup := p.resolveGroup(ctx, sender)
	c := NewMessageContext(ctx, p, sender, group, ch, text)
	if degradedGroup {
		c.result.Degraded = append(c.result.Degraded, "groups")
	}

	for _, stage := range p.stagesFor(ch) {
		if rej := p.runStage(c, stage); rej != nil {
			c.effects.rollback(c.Logger)
			c.result.Valid = false
			c.result.Rejection = rej
			c.result.Text = text
			messagesRejected.WithLabelValues(string(rej.Reason)).Inc()
			span.SetAttributes(attribute.String("rejected", string(rej.Reason)))
			c.Logger.Debug("message rejected", "stage", rej.Stage, "reason", rej.Reason, "msg", rej.Message)
			return c.result
		}
	}

	c.result.Valid = true
	c.effects.commit(ctx, c.Logger)
	messagesAccepted.WithLabelValues(string(ch.Kind)).Inc()
	if ch.Relay && p.Relay != nil {
		if err := p.Relay.Relay(ctx, c.result); err != nil {
			relayErrors.Inc()
			c.Logger.Warn("relay failed", "err", err)
		}
	}
	return c.result
}

func (p *Pipeline) stagesFor(ch config.Channel) []Stage {
	stages := make([]Stage, 0, 3)
	if p.Access != nil {
		stages = append(stages, p.Access)
	}
	if p.Mentions != nil {
		stages = append(stages, p.Mentions)
	}
	if plugin, ok := p.Plugins[ch.Kind]; ok && plugin != nil {
		stages = append(stages, plugin)
	}
	return stages
}

// group lookup failures fall back to the default group, and are reported as a degradation
func (p *Pipeline) resolveGroup(ctx context.Context, sender Sender) (string, bool) {
	fallback := p.Channels.Defaults().Group
	if p.Groups == nil {
		return fallback, false
	}
	group, err := p.Groups.GroupOf(ctx, sender)
	if err != nil {
		stageDegraded.WithLabelValues("groups").Inc()
		p.Logger.Warn("group lookup failed, using default group", "sender", sender.ID, "err", err)
		return fallback, true
	}
	if group == "" {
		return fallback, false
	}
	return group, false
}

// Runs a single stage. Returns a rejection to stop the chain; internal failures are undone and swallowed.
func (p *Pipeline) runStage(c *MessageContext, stage Stage) *Rejection {
	snap := c.snapshot()
	start := time.Now()
	err := p.callStage(c, stage)
	stageDuration.WithLabelValues(stage.Name()).Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}
	if rej, ok := AsRejection(err); ok {
		if rej.Stage == "" {
			rej.Stage = stage.Name()
		}
		return rej
	}
	stageDegraded.WithLabelValues(stage.Name()).Inc()
	c.Logger.Warn("stage failed, passing message through", "stage", stage.Name(), "err", err)
	c.restore(snap)
	c.result.Degraded = append(c.result.Degraded, stage.Name())
	return nil
}

func (p *Pipeline) callStage(c *MessageContext, stage Stage) (err error) {
	// similar to an HTTP server, we want to recover any panics from stage execution
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", stage.Name(), r)
		}
	}()
	return stage.Process(c)
}

// Runs the maintenance loops of every stage which has one, until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, stage := range p.allStages() {
		m, ok := stage.(Maintainer)
		if !ok {
			continue
		}
		name := stage.Name()
		g.Go(func() error {
			if err := m.Run(ctx); err != nil {
				return fmt.Errorf("%s maintenance: %w", name, err)
			}
			return nil
		})
	}
	// a queued relay is drained alongside the plugin loops
	if m, ok := p.Relay.(Maintainer); ok {
		g.Go(func() error {
			if err := m.Run(ctx); err != nil {
				return fmt.Errorf("relay: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) allStages() []Stage {
	out := []Stage{}
	if p.Access != nil {
		out = append(out, p.Access)
	}
	if p.Mentions != nil {
		out = append(out, p.Mentions)
	}
	for _, kind := range []config.ChannelKind{config.KindPlain, config.KindTrade, config.KindHelp, config.KindEvent} {
		if s, ok := p.Plugins[kind]; ok && s != nil {
			out = append(out, s)
		}
	}
	return out
}
