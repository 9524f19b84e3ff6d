package governor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/parley-chat/parley/governor/config"
	"github.com/parley-chat/parley/governor/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	gov   *Governor
	clock *engine.FixedClock
	dir   *engine.MockDirectory
	bc    *engine.MockBroadcaster
	relay *engine.MockRelay
}

func exampleFixture(t *testing.T) *fixture {
	rules, err := config.Parse(config.ExampleConfig)
	require.NoError(t, err)
	store := config.NewStore(slog.Default(), rules)
	dir, groups, perms := engine.FixturesFromRules(rules)

	f := &fixture{
		clock: engine.NewFixedClock(time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)),
		dir:   dir,
		bc:    &engine.MockBroadcaster{},
		relay: &engine.MockRelay{},
	}
	f.gov = New(Config{
		Rules:         store,
		Groups:        groups,
		Perms:         perms,
		Directory:     dir,
		Broadcaster:   f.bc,
		Relay:         f.relay,
		GroupCacheTTL: time.Minute,
		Clock:         f.clock.Now,
	})
	return f
}

func (f *fixture) session(id string) *engine.MockSession {
	s, _ := f.dir.ByID(id)
	return s.(*engine.MockSession)
}

func TestTradeEndToEnd(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := exampleFixture(t)

	res := f.gov.ProcessMessage(ctx, Sender{ID: "p-alice", Name: "Alice"}, "trade", "WTS diamond sword $50")
	require.True(res.Valid, "%v", res.Rejection)
	require.NotNil(res.Trade)
	require.Len(res.Trade.Prices, 1)
	assert.Equal(50.0, res.Trade.Prices[0].Value)
	require.NotEmpty(res.Trade.PostID)
	assert.Equal("vip", res.Group)
	assert.Empty(res.Degraded)

	// trade channel relays accepted messages
	require.Len(f.relay.Relayed, 1)
	assert.Equal(res.Trade.PostID, f.relay.Relayed[0].Trade.PostID)

	_, ok := f.gov.Trade.Post(res.Trade.PostID)
	assert.True(ok)

	f.clock.Advance(time.Hour)
	f.gov.Trade.Loop().Tick(ctx)
	_, ok = f.gov.Trade.Post(res.Trade.PostID)
	assert.False(ok)
	sent := f.session("p-alice").Sent()
	if assert.Len(sent, 1) {
		assert.Contains(sent[0], "expired")
	}
}

func TestExampleChannels(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := exampleFixture(t)

	alice := Sender{ID: "p-alice", Name: "Alice"}
	troll := Sender{ID: "p-troll", Name: "Troll"}
	morgan := Sender{ID: "p-mod", Name: "Morgan"}

	res := f.gov.ProcessMessage(ctx, troll, "global", "hello")
	assert.Equal(ReasonAccessDenied, res.Rejection.Reason)

	res = f.gov.ProcessMessage(ctx, alice, "staff", "let me in")
	assert.Equal(ReasonAccessDenied, res.Rejection.Reason)
	assert.True(f.gov.ProcessMessage(ctx, morgan, "staff", "@everyone meeting").Valid)

	res = f.gov.ProcessMessage(ctx, alice, "global", "@everyone hi")
	assert.Equal(ReasonMentionNotAllowed, res.Rejection.Reason)

	res = f.gov.ProcessMessage(ctx, alice, "help", "How do I claim land?")
	assert.True(res.Valid)
	if assert.NotNil(res.Help.FAQ) {
		assert.Equal("claim", res.Help.FAQ.ID)
	}
	assert.True(res.Help.StaffNotified)

	res = f.gov.ProcessMessage(ctx, alice, "events", "party time")
	assert.Equal(ReasonAnnounceDenied, res.Rejection.Reason)
	res = f.gov.ProcessMessage(ctx, morgan, "events", "party time")
	assert.True(res.Valid)
	assert.Equal("[ANNOUNCEMENT 20:00] party time", res.Text)
}

func TestConfigScheduleFollowsClock(t *testing.T) {
	assert := assert.New(t)
	f := exampleFixture(t)

	sched := f.gov.Event.Scheduled()
	if assert.Len(sched, 1) {
		assert.Equal("restart", sched[0].ID)
		assert.Equal(time.Date(2026, 8, 2, 3, 55, 0, 0, time.UTC), sched[0].At)
	}
}

func TestPurgeGroupAfterChange(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	rules, err := config.Parse(config.ExampleConfig)
	require.NoError(t, err)
	dir, groups, perms := engine.FixturesFromRules(rules)
	gov := New(Config{
		Rules:         config.NewStore(slog.Default(), rules),
		Groups:        groups,
		Perms:         perms,
		Directory:     dir,
		GroupCacheTTL: time.Hour,
	})

	bob := Sender{ID: "p-bob", Name: "Bob"}
	assert.True(gov.ProcessMessage(ctx, bob, "global", "hi").Valid)
	groups.Set("p-bob", "muted")
	// still served from the cache
	assert.True(gov.ProcessMessage(ctx, bob, "global", "hi").Valid)

	gov.PurgeGroup("p-bob")
	res := gov.ProcessMessage(ctx, bob, "global", "hi")
	assert.False(res.Valid)
	assert.Equal(ReasonAccessDenied, res.Rejection.Reason)
}
