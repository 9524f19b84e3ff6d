package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/parley-chat/parley/governor/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRules() *config.Rules {
	r, err := config.Parse([]byte(`
channels:
  - id: global
    relay: true
  - id: quiet
  - id: market
    kind: trade
`))
	if err != nil {
		panic(err)
	}
	return r
}

func pipelineFixture(stages ...Stage) (*Pipeline, *MockDirectory, *MockRelay) {
	dir := NewMockDirectory()
	relay := &MockRelay{}
	p := &Pipeline{
		Logger:    slog.Default(),
		Channels:  config.NewStore(slog.Default(), testRules()),
		Groups:    NewMockGroups(),
		Perms:     NewMockPerms(),
		Directory: dir,
		Relay:     relay,
		Plugins:   map[config.ChannelKind]Stage{},
	}
	if len(stages) > 0 {
		p.Access = stages[0]
	}
	if len(stages) > 1 {
		p.Mentions = stages[1]
	}
	if len(stages) > 2 {
		p.Plugins[config.KindTrade] = stages[2]
	}
	return p, dir, relay
}

func appendStage(name, suffix string) FuncStage {
	return FuncStage{StageName: name, Fn: func(c *MessageContext) error {
		c.SetText(c.Text() + suffix)
		return nil
	}}
}

func TestPipelineAccumulatesRewrites(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	p, _, relay := pipelineFixture(appendStage("a", "-a"), appendStage("b", "-b"), appendStage("c", "-c"))

	res := p.ProcessMessage(ctx, Sender{ID: "p1", Name: "Alice"}, "market", "hi")
	assert.True(res.Valid)
	assert.Nil(res.Rejection)
	assert.Equal("hi-a-b-c", res.Text)
	assert.Equal("hi", res.OriginalText)
	assert.Equal("default", res.Group)

	// plugin only runs for its channel kind
	res = p.ProcessMessage(ctx, Sender{ID: "p1", Name: "Alice"}, "global", "hi")
	assert.Equal("hi-a-b", res.Text)

	// market does not relay, global does
	assert.Len(relay.Relayed, 1)
	assert.Equal("global", relay.Relayed[0].ChannelID)
}

func TestPipelineShortCircuit(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	sess := &MockSession{SessionID: "p2", SessionName: "Bob"}
	var rolledBack, committed, thirdRan bool
	first := FuncStage{StageName: "first", Fn: func(c *MessageContext) error {
		c.SetText("rewritten")
		c.Notify(sess, "you were mentioned")
		c.OnCommit(func() { committed = true })
		c.OnRollback(func() { rolledBack = true })
		return nil
	}}
	second := FuncStage{StageName: "second", Fn: func(c *MessageContext) error {
		return Reject(ReasonMentionCooldown, "slow down")
	}}
	third := FuncStage{StageName: "third", Fn: func(c *MessageContext) error {
		thirdRan = true
		return nil
	}}
	p, _, relay := pipelineFixture(first, second, third)

	res := p.ProcessMessage(ctx, Sender{ID: "p1"}, "global", "original")
	assert.False(res.Valid)
	require.NotNil(t, res.Rejection)
	assert.Equal(ReasonMentionCooldown, res.Rejection.Reason)
	assert.Equal("second", res.Rejection.Stage)
	assert.Equal("original", res.Text)
	assert.True(rolledBack)
	assert.False(committed)
	assert.False(thirdRan)
	assert.Empty(sess.Sent())
	assert.Empty(relay.Relayed)
}

func TestPipelineCommitsEffects(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	sess := &MockSession{SessionID: "p2", SessionName: "Bob"}
	broken := &MockSession{SessionID: "p3", SessionName: "Carol", SendErr: errors.New("disconnected")}
	var committed, rolledBack bool
	stage := FuncStage{StageName: "notify", Fn: func(c *MessageContext) error {
		c.Notify(sess, "hello bob")
		c.Notify(broken, "hello carol")
		c.OnCommit(func() { committed = true })
		c.OnCommit(func() { panic("hook failure") })
		c.OnRollback(func() { rolledBack = true })
		return nil
	}}
	p, _, _ := pipelineFixture(stage)

	res := p.ProcessMessage(ctx, Sender{ID: "p1"}, "quiet", "x")
	assert.True(res.Valid)
	assert.True(committed)
	assert.False(rolledBack)
	assert.Equal([]string{"hello bob"}, sess.Sent())
}

func TestPipelineDegradesOnStageFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var undone int
	failing := FuncStage{StageName: "failing", Fn: func(c *MessageContext) error {
		c.SetText("half-finished rewrite")
		c.Result().Mentions = &MentionData{MentionedEveryone: true}
		c.OnRollback(func() { undone++ })
		return errors.New("pattern exploded")
	}}
	panicking := FuncStage{StageName: "panicking", Fn: func(c *MessageContext) error {
		c.SetText("also broken")
		panic("nil map")
	}}
	p, _, _ := pipelineFixture(appendStage("ok", "!"), failing, panicking)

	res := p.ProcessMessage(ctx, Sender{ID: "p1"}, "market", "hello")
	assert.True(res.Valid)
	assert.Equal("hello!", res.Text)
	assert.Nil(res.Mentions)
	assert.Equal([]string{"failing", "panicking"}, res.Degraded)
	assert.Equal(1, undone)
}

func TestPipelineUnknownChannel(t *testing.T) {
	assert := assert.New(t)

	p, _, _ := pipelineFixture()
	res := p.ProcessMessage(context.Background(), Sender{ID: "p1"}, "nowhere", "hi")
	assert.False(res.Valid)
	assert.Equal(ReasonAccessDenied, res.Rejection.Reason)
}

func TestPipelineGroupFallback(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var seen string
	stage := FuncStage{StageName: "spy", Fn: func(c *MessageContext) error {
		seen = c.Group
		return nil
	}}
	p, _, _ := pipelineFixture(stage)
	groups := p.Groups.(*MockGroups)

	groups.Set("p1", "vip")
	p.ProcessMessage(ctx, Sender{ID: "p1"}, "quiet", "x")
	assert.Equal("vip", seen)

	groups.Err = errors.New("provider offline")
	res := p.ProcessMessage(ctx, Sender{ID: "p1"}, "quiet", "x")
	assert.True(res.Valid)
	assert.Equal("default", seen)
	assert.Equal([]string{"groups"}, res.Degraded)
}

func TestPipelineRelayFailureDoesNotBlock(t *testing.T) {
	assert := assert.New(t)

	p, _, relay := pipelineFixture()
	relay.Err = errors.New("bridge down")
	res := p.ProcessMessage(context.Background(), Sender{ID: "p1"}, "global", "hi")
	assert.True(res.Valid)
	assert.Equal(1, relay.Attempts)
}

type loopStage struct {
	FuncStage
	ran chan struct{}
}

func (s loopStage) Run(ctx context.Context) error {
	close(s.ran)
	<-ctx.Done()
	return nil
}

func TestPipelineRunsMaintainers(t *testing.T) {
	assert := assert.New(t)

	ls := loopStage{FuncStage: appendStage("loop", ""), ran: make(chan struct{})}
	p, _, _ := pipelineFixture(appendStage("a", ""), appendStage("b", ""), ls)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx) }()
	select {
	case <-ls.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("maintainer did not start")
	}
	cancel()
	assert.NoError(<-errc)
}

func TestRejectionErrors(t *testing.T) {
	assert := assert.New(t)

	var err error = Reject(ReasonTicketQuota, "you already have %d open tickets", 3)
	wrapped := errors.Join(errors.New("context"), err)
	rej, ok := AsRejection(wrapped)
	assert.True(ok)
	assert.Equal(ReasonTicketQuota, rej.Reason)
	assert.True(strings.Contains(rej.Error(), "3 open tickets"))

	_, ok = AsRejection(errors.New("plain"))
	assert.False(ok)
}
