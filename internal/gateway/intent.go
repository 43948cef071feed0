package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/actiongate/actiongate/internal/provider"
	"github.com/actiongate/actiongate/internal/recall"
	"github.com/actiongate/actiongate/internal/tools"
)

// ChatModel is the tool-calling language model.
type ChatModel interface {
	Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// Intent is what the model wants to do with a message.
type Intent struct {
	Reply      string
	Operations []tools.Operation
}

// IntentResolver asks the model which tools, if any, a message calls for.
type IntentResolver struct {
	Model    ChatModel
	Registry *tools.Registry
	now      func() time.Time
}

func NewIntentResolver(m ChatModel, reg *tools.Registry) *IntentResolver {
	return &IntentResolver{Model: m, Registry: reg, now: time.Now}
}

const intentSystem = `You are an assistant in a private chat that can read and act on the user's email, calendar and contacts.
Today is %s.
When the user asks for something one of your tools can do, call the tool with complete, concrete arguments.
Never pretend an action has been done; calls that change anything are shown to the user for approval first.
When no tool is needed, answer directly and briefly.`

const reconstructSystem = `Earlier in this chat you proposed the action quoted below and the user has now agreed to it.
Call exactly the tools needed to perform that action, with the same recipients, subjects, bodies, titles and times.
Do not add or change anything.`

// Resolve maps a user message (plus gathered context) to a reply or tool calls.
func (r *IntentResolver) Resolve(ctx context.Context, text string, gathered recall.Gathered) (Intent, error) {
	msgs := []provider.Message{{Role: "system", Content: fmt.Sprintf(intentSystem, r.now().Format("Monday, 2 January 2006"))}}
	if s := strings.TrimSpace(gathered.Summary); s != "" {
		msgs = append(msgs, provider.Message{Role: "system", Content: "Relevant earlier conversation:\n" + s})
	}
	msgs = append(msgs, provider.Message{Role: "user", Content: text})
	return r.call(ctx, msgs)
}

// Reconstruct recovers the operations behind a proposal message that carries no reference.
func (r *IntentResolver) Reconstruct(ctx context.Context, proposalText string) ([]tools.Operation, error) {
	in, err := r.call(ctx, []provider.Message{
		{Role: "system", Content: reconstructSystem},
		{Role: "user", Content: proposalText},
	})
	if err != nil {
		return nil, err
	}
	return in.Operations, nil
}

func (r *IntentResolver) call(ctx context.Context, msgs []provider.Message) (Intent, error) {
	resp, err := r.Model.Chat(ctx, &provider.ChatRequest{
		Messages: msgs,
		Tools:    provider.ToolDefinitions(r.Registry.Definitions()),
	})
	if err != nil {
		return Intent{}, fmt.Errorf("resolve intent: %w", err)
	}
	in := Intent{Reply: strings.TrimSpace(resp.Content)}
	for _, tc := range resp.ToolCalls {
		args := tc.Arguments
		if args == nil {
			args = map[string]any{}
		}
		in.Operations = append(in.Operations, tools.Operation{Tool: tc.Name, Arguments: args})
	}
	return in, nil
}
