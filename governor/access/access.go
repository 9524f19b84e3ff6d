// Channel access and message length gate. Runs first in the pipeline, against the original text.
package access

import (
	"slices"

	"github.com/parley-chat/parley/governor/config"
	"github.com/parley-chat/parley/governor/engine"

	"github.com/rivo/uniseg"
)

const Wildcard = "*"

// Source of the current rule table. Implemented by *config.Store.
type RuleSource interface {
	Rules() *config.Rules
}

type Gate struct {
	Rules RuleSource
}

var _ engine.Stage = (*Gate)(nil)

func NewGate(rules RuleSource) *Gate {
	return &Gate{Rules: rules}
}

func (g *Gate) Name() string {
	return "access"
}

func (g *Gate) Process(c *engine.MessageContext) error {
	if rej := CanAccess(c.Group, c.Channel.Access); rej != nil {
		return rej
	}
	limit := g.Rules.Rules().MaxLength(c.Group, &c.Channel)
	if rej := ValidateLength(c.Text(), limit); rej != nil {
		return rej
	}
	return nil
}

// Evaluates a channel's access rule for a group. Deny entries are checked first and always win, including a wildcard deny. A non-empty allow list admits only the groups it names (or everyone, with a wildcard).
//
// Returns nil when access is allowed.
func CanAccess(group string, rule config.AccessRule) *engine.Rejection {
	if slices.Contains(rule.Denied, group) || slices.Contains(rule.Denied, Wildcard) {
		return engine.Reject(engine.ReasonAccessDenied, "your group may not use this channel")
	}
	if len(rule.Allowed) > 0 && !slices.Contains(rule.Allowed, group) && !slices.Contains(rule.Allowed, Wildcard) {
		return engine.Reject(engine.ReasonAccessDenied, "channel is restricted to specific groups")
	}
	return nil
}

// Length in user-perceived characters. Emoji sequences and combining marks count once.
func Length(text string) int {
	n := 0
	gr := uniseg.NewGraphemes(text)
	for gr.Next() {
		n++
	}
	return n
}

// Returns nil when text is within limit characters. A non-positive limit disables the check.
func ValidateLength(text string, limit int) *engine.Rejection {
	if limit <= 0 {
		return nil
	}
	if n := Length(text); n > limit {
		return engine.Reject(engine.ReasonMessageTooLong, "message is too long (%d characters, max %d)", n, limit)
	}
	return nil
}
