package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/actiongate/actiongate/internal/bus"
	"github.com/actiongate/actiongate/internal/degrade"
	"github.com/actiongate/actiongate/internal/tools"
)

const maxOutputRunes = 2000

const summarySystem = `You report the outcome of actions you just performed for the user in a chat.
Write a short, friendly message. Mention each action and whether it worked.
For failures, say what kind of problem happened in plain words. Never include stack traces, JSON, ids or raw error text.`

type summaryItem struct {
	Operation string `json:"operation"`
	Success   bool   `json:"success"`
	Output    string `json:"output,omitempty"`
	Problem   string `json:"problem,omitempty"`
}

// Respond turns results into one user-facing message. When the model fails the
// templated sentence is returned with the error attached.
func (d *Dispatcher) Respond(ctx context.Context, results []tools.Result, ictx bus.InteractionContext) degrade.Result[string] {
	if len(results) == 0 {
		return degrade.OK("There was nothing to run.")
	}
	if d.Writer == nil {
		return degrade.OK(d.withHint(Template(results), results))
	}

	items := make([]summaryItem, 0, len(results))
	for _, r := range results {
		it := summaryItem{Operation: r.Operation, Success: r.Success}
		if r.Success {
			it.Output = truncateRunes(r.Output, maxOutputRunes)
		} else {
			it.Problem = problemFor(r.Class)
		}
		items = append(items, it)
	}
	payload, _ := json.Marshal(items)

	msg, err := d.Writer.Generate(ctx, summarySystem, "Results:\n"+string(payload))
	if err != nil {
		return degrade.Fallback(d.withHint(Template(results), results), fmt.Errorf("summarize results: %w", err))
	}
	return degrade.OK(d.withHint(strings.TrimSpace(msg), results))
}

func (d *Dispatcher) withHint(msg string, results []tools.Result) string {
	if !HasAuthFailure(results) || d.ReconnectHint == "" || strings.Contains(msg, d.ReconnectHint) {
		return msg
	}
	return msg + "\n\n" + d.ReconnectHint
}

// Template builds the fallback message from the result list alone.
func Template(results []tools.Result) string {
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	var b strings.Builder
	switch {
	case ok == len(results):
		b.WriteString("All done.")
	case ok == 0 && len(results) == 1:
		b.WriteString("Sorry, I couldn't complete that.")
	case ok == 0:
		b.WriteString("Sorry, none of those actions went through.")
	default:
		fmt.Fprintf(&b, "%d of %d actions went through.", ok, len(results))
	}
	for _, r := range results {
		if r.Success {
			line := strings.TrimSpace(r.Output)
			if line == "" {
				line = humanize(r.Operation) + " succeeded"
			}
			b.WriteString("\n• " + truncateRunes(line, 300))
			continue
		}
		fmt.Fprintf(&b, "\n• %s failed: %s", humanize(r.Operation), problemFor(r.Class))
	}
	return b.String()
}

func problemFor(class string) string {
	switch class {
	case tools.FailureAuth:
		return "your account connection needs attention"
	case tools.FailureTimeout:
		return "the service took too long to respond"
	}
	return "something went wrong on our side"
}

func humanize(op string) string {
	s := strings.ReplaceAll(op, "_", " ")
	if s == "" {
		return "Action"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
