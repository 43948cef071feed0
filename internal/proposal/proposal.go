// Package proposal turns resolved tool operations into a reviewable action proposal.
package proposal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/actiongate/actiongate/internal/bus"
	"github.com/actiongate/actiongate/internal/degrade"
	"github.com/actiongate/actiongate/internal/policy"
	"github.com/actiongate/actiongate/internal/recall"
	"github.com/actiongate/actiongate/internal/tools"
)

// Risk levels.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

var (
	// ErrNotPermitted is returned when policy denies one of the operations.
	ErrNotPermitted = errors.New("operation not permitted")
	// ErrUnknownTool is returned when an operation names an unregistered tool.
	ErrUnknownTool = errors.New("unknown tool")
)

// Risk summarises what approving the proposal would do.
type Risk struct {
	Level      string   `json:"level"`
	Factors    []string `json:"factors,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Reversible bool     `json:"reversible"`
}

// Proposal is a staged set of operations plus everything a reviewer needs to judge it.
type Proposal struct {
	Title                string            `json:"title"`
	Intro                string            `json:"intro,omitempty"`
	Description          string            `json:"description"`
	ActionType           string            `json:"action_type"`
	Confidence           float64           `json:"confidence"`
	RequiresConfirmation bool              `json:"requires_confirmation"`
	Operations           []tools.Operation `json:"operations"`
	Risk                 Risk              `json:"risk"`
	Preview              map[string]string `json:"preview,omitempty"`
}

// Writer produces the optional conversational intro.
type Writer interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Generator builds proposals from operations.
type Generator struct {
	Registry *tools.Registry
	Policy   policy.Engine
	Writer   Writer
}

func NewGenerator(reg *tools.Registry, engine policy.Engine, w Writer) *Generator {
	return &Generator{Registry: reg, Policy: engine, Writer: w}
}

const introSystem = `You write one short, friendly sentence introducing an action you are about to take for the user.
Do not restate recipients, bodies or times; those are shown separately. Never claim the action is done.`

// Propose returns nil when ops is empty. A failed intro degrades the result
// but the returned proposal is still complete.
func (g *Generator) Propose(ctx context.Context, ops []tools.Operation, gathered recall.Gathered, ictx bus.InteractionContext) degrade.Result[*Proposal] {
	if len(ops) == 0 {
		return degrade.OK[*Proposal](nil)
	}
	for _, op := range ops {
		if _, ok := g.Registry.Get(op.Tool); !ok {
			return degrade.Fallback[*Proposal](nil, fmt.Errorf("%w: %s", ErrUnknownTool, op.Tool))
		}
	}

	decision, needs := policy.EvaluateOperations(g.Policy, g.Registry, policy.Context{
		Sender:  ictx.UserID,
		Team:    ictx.TeamID,
		Channel: ictx.ChannelID,
		TraceID: ictx.TraceID,
	}, ops)
	if !decision.Allow {
		return degrade.Fallback[*Proposal](nil, fmt.Errorf("%w: %s", ErrNotPermitted, decision.Reason))
	}

	p := g.build(ops, gathered)
	p.RequiresConfirmation = needs
	if !needs || g.Writer == nil {
		return degrade.OK(p)
	}

	intro, err := g.Writer.Generate(ctx, introSystem, fmt.Sprintf("Action: %s\nUser request context: %s", p.Title, gathered.Summary))
	if err != nil {
		return degrade.Fallback(p, fmt.Errorf("proposal intro: %w", err))
	}
	p.Intro = strings.TrimSpace(intro)
	return degrade.OK(p)
}

func (g *Generator) build(ops []tools.Operation, gathered recall.Gathered) *Proposal {
	p := &Proposal{
		Operations: ops,
		Preview:    map[string]string{},
		Confidence: 1,
		Risk:       Risk{Level: RiskLow, Reversible: true},
	}
	var (
		sections   []string
		actionType string
		maxTier    = tools.TierReadOnly
	)
	for i, op := range ops {
		t, _ := g.Registry.Get(op.Tool)
		tier := tools.ToolTier(t)
		if tier > maxTier {
			maxTier = tier
		}

		at := tools.ToolActionType(t)
		if tier > tools.TierReadOnly {
			switch {
			case actionType == "":
				actionType = at
			case actionType != at:
				actionType = tools.ActionOther
			}
		}

		if d, ok := t.(tools.Describer); ok {
			sections = append(sections, d.Describe(op.Arguments))
		} else {
			sections = append(sections, genericDescription(op))
			p.Confidence -= 0.1
		}

		rev := false
		if r, ok := t.(tools.Reversible); ok {
			rev = r.Reversible()
		}
		if tier > tools.TierReadOnly {
			p.Risk.Factors = append(p.Risk.Factors, factorFor(op.Tool, tier, op.Arguments))
			if !rev {
				p.Risk.Reversible = false
			}
		}
		for k, v := range previewFields(op.Arguments) {
			key := k
			if len(ops) > 1 {
				key = fmt.Sprintf("%d.%s", i+1, k)
			}
			p.Preview[key] = v
		}
	}
	if actionType == "" {
		actionType = tools.ActionSearch
	}
	p.ActionType = actionType
	if p.Confidence < 0.5 {
		p.Confidence = 0.5
	}

	switch maxTier {
	case tools.TierHighRisk:
		p.Risk.Level = RiskHigh
	case tools.TierWrite:
		p.Risk.Level = RiskMedium
	}
	if !p.Risk.Reversible {
		p.Risk.Warnings = append(p.Risk.Warnings, "This cannot be undone once approved.")
	}
	if gathered.Kind != recall.KindNone && gathered.Kind != "" && gathered.Confidence == 0 {
		p.Risk.Warnings = append(p.Risk.Warnings, "Earlier conversation could not be read; check the details carefully.")
	}

	p.Title = titleFor(actionType, len(ops))
	p.Description = strings.Join(sections, "\n\n")
	return p
}

func titleFor(actionType string, n int) string {
	if n > 1 {
		return fmt.Sprintf("I'll run these %d actions", n)
	}
	switch actionType {
	case tools.ActionEmail:
		return "I'll send this email"
	case tools.ActionCalendar:
		return "I'll create this calendar event"
	case tools.ActionContact:
		return "I'll add this contact"
	case tools.ActionSearch:
		return "I'll look this up"
	}
	return "I'll run this action"
}

func factorFor(tool string, tier int, args map[string]any) string {
	if to := tools.GetStrings(args, "to"); len(to) > 0 {
		return fmt.Sprintf("%s reaches %d external recipient(s)", tool, len(to)+len(tools.GetStrings(args, "cc")))
	}
	if att := tools.GetStrings(args, "attendees"); len(att) > 0 {
		return fmt.Sprintf("%s invites %d attendee(s)", tool, len(att))
	}
	if tier == tools.TierHighRisk {
		return tool + " acts on your behalf outside this conversation"
	}
	return tool + " changes data in your account"
}

// genericDescription lists every argument in full, sorted by key.
func genericDescription(op tools.Operation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s", op.Tool)
	keys := make([]string, 0, len(op.Arguments))
	for k := range op.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n*%s:* %s", k, formatValue(op.Arguments[k]))
	}
	return b.String()
}

func previewFields(args map[string]any) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		out[k] = formatValue(v)
	}
	return out
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "(none)"
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, formatValue(item))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}
