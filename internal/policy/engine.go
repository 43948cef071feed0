// Package policy decides whether a tool operation may run and whether it needs confirmation.
package policy

import (
	"fmt"
	"time"

	"github.com/actiongate/actiongate/internal/tools"
)

// Context holds information about a requested tool operation.
type Context struct {
	Sender    string
	Team      string
	Channel   string
	Tool      string
	Tier      int
	Arguments map[string]any
	TraceID   string
}

// Decision is the result of a policy evaluation.
type Decision struct {
	Allow bool
	// RequiresConfirmation is true for every operation with side effects.
	RequiresConfirmation bool
	Reason               string
	Tier                 int
	Ts                   time.Time
	TraceID              string
}

// Engine evaluates whether a tool operation should proceed.
type Engine interface {
	Evaluate(ctx Context) Decision
}

// DefaultEngine gates on tier and an optional sender allowlist.
type DefaultEngine struct {
	// AllowedSenders is the set of senders permitted to trigger side effects.
	// If empty, all senders are allowed.
	AllowedSenders map[string]bool
}

// NewDefaultEngine creates a policy engine. An empty allowlist admits everyone.
func NewDefaultEngine(allowed ...string) *DefaultEngine {
	e := &DefaultEngine{}
	if len(allowed) > 0 {
		e.AllowedSenders = make(map[string]bool, len(allowed))
		for _, s := range allowed {
			e.AllowedSenders[s] = true
		}
	}
	return e
}

// Evaluate checks tool tier and sender authorization.
func (e *DefaultEngine) Evaluate(ctx Context) Decision {
	d := Decision{
		Tier:    ctx.Tier,
		Ts:      time.Now(),
		TraceID: ctx.TraceID,
	}

	// Read-only lookups run directly
	if ctx.Tier == tools.TierReadOnly {
		d.Allow = true
		d.Reason = "tier_0_read_only"
		return d
	}

	if len(e.AllowedSenders) > 0 && !e.AllowedSenders[ctx.Sender] {
		d.Reason = fmt.Sprintf("sender_not_authorized: %s", ctx.Sender)
		return d
	}

	d.Allow = true
	d.RequiresConfirmation = true
	d.Reason = fmt.Sprintf("tier_%d_requires_confirmation", ctx.Tier)
	return d
}

// EvaluateOperations evaluates a batch and reports whether any operation needs
// confirmation. The first denial short-circuits with that decision.
func EvaluateOperations(e Engine, reg *tools.Registry, base Context, ops []tools.Operation) (Decision, bool) {
	needs := false
	var last Decision
	for _, op := range ops {
		c := base
		c.Tool = op.Tool
		c.Arguments = op.Arguments
		c.Tier = tools.TierHighRisk
		if t, ok := reg.Get(op.Tool); ok {
			c.Tier = tools.ToolTier(t)
		}
		d := e.Evaluate(c)
		if !d.Allow {
			return d, false
		}
		if d.RequiresConfirmation {
			needs = true
		}
		last = d
	}
	last.Allow = true
	last.RequiresConfirmation = needs
	return last, needs
}
