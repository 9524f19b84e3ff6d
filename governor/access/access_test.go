package access

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/parley-chat/parley/governor/config"
	"github.com/parley-chat/parley/governor/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanAccessWildcardPrecedence(t *testing.T) {
	assert := assert.New(t)

	rule := config.AccessRule{Allowed: []string{"*"}, Denied: []string{"muted"}}
	rej := CanAccess("muted", rule)
	if assert.NotNil(rej) {
		assert.Equal(engine.ReasonAccessDenied, rej.Reason)
	}
	for _, g := range []string{"default", "vip", "staff", "", "MUTED"} {
		assert.Nil(CanAccess(g, rule), g)
	}
}

func TestCanAccess(t *testing.T) {
	assert := assert.New(t)

	testCases := []struct {
		group   string
		rule    config.AccessRule
		allowed bool
	}{
		{group: "default", rule: config.AccessRule{}, allowed: true},
		{group: "default", rule: config.AccessRule{Allowed: []string{"staff"}}, allowed: false},
		{group: "staff", rule: config.AccessRule{Allowed: []string{"staff"}}, allowed: true},
		// deny wins over an explicit allow
		{group: "staff", rule: config.AccessRule{Allowed: []string{"staff"}, Denied: []string{"staff"}}, allowed: false},
		{group: "staff", rule: config.AccessRule{Allowed: []string{"staff"}, Denied: []string{"*"}}, allowed: false},
		{group: "vip", rule: config.AccessRule{Denied: []string{"muted"}}, allowed: true},
	}

	for _, tc := range testCases {
		rej := CanAccess(tc.group, tc.rule)
		assert.Equal(tc.allowed, rej == nil, "group=%s rule=%+v", tc.group, tc.rule)
	}

	rej := CanAccess("default", config.AccessRule{Allowed: []string{"staff"}})
	assert.Contains(rej.Message, "restricted to specific groups")
}

func TestValidateLength(t *testing.T) {
	assert := assert.New(t)

	assert.Nil(ValidateLength("hello", 5))
	assert.NotNil(ValidateLength("hello!", 5))
	assert.Nil(ValidateLength(strings.Repeat("x", 1000), 0))

	// a flag and a combining accent: two characters, many bytes
	assert.Equal(2, Length("🇩🇪e\u0301"))
	assert.Nil(ValidateLength("🇩🇪e\u0301", 2))
	assert.Equal(4, Length("café"))

	rej := ValidateLength("abcdef", 3)
	assert.Equal(engine.ReasonMessageTooLong, rej.Reason)
	assert.Contains(rej.Message, "max 3")
}

func TestGateInPipeline(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	rules, err := config.Parse([]byte(`
defaults:
  max_length: 10
groups:
  vip:
    max_length: 20
channels:
  - id: global
    access:
      allowed: ["*"]
      denied: [muted]
  - id: staff
    access:
      allowed: [staff]
  - id: trade
    max_length:
      vip: 5
`))
	require.NoError(err)
	store := config.NewStore(slog.Default(), rules)
	groups := engine.NewMockGroups()
	groups.Set("p-vip", "vip")
	groups.Set("p-muted", "muted")

	p := &engine.Pipeline{
		Logger:   slog.Default(),
		Channels: store,
		Groups:   groups,
		Access:   NewGate(store),
	}
	vip := engine.Sender{ID: "p-vip"}
	muted := engine.Sender{ID: "p-muted"}
	plain := engine.Sender{ID: "p-plain"}

	assert.True(p.ProcessMessage(ctx, plain, "global", "hi").Valid)
	res := p.ProcessMessage(ctx, muted, "global", "hi")
	assert.False(res.Valid)
	assert.Equal("access", res.Rejection.Stage)
	assert.False(p.ProcessMessage(ctx, plain, "staff", "hi").Valid)

	// default limit, group limit, channel override
	assert.False(p.ProcessMessage(ctx, plain, "global", "0123456789x").Valid)
	assert.True(p.ProcessMessage(ctx, vip, "global", "0123456789x").Valid)
	res = p.ProcessMessage(ctx, vip, "trade", "123456")
	assert.Equal(engine.ReasonMessageTooLong, res.Rejection.Reason)
}
