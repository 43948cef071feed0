// Package tools provides the tool framework and the productivity tools the gateway dispatches to.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Tool is the interface that all dispatchable tools must implement.
type Tool interface {
	// Name returns the tool identifier used in function calls.
	Name() string
	// Description returns a human-readable description for the LLM.
	Description() string
	// Parameters returns the JSON Schema for tool parameters.
	Parameters() map[string]any
	// Execute runs the tool with the given parameters.
	// Credentials are read from the ExecContext attached to ctx.
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// TieredTool is an optional interface for tools that declare a risk tier.
// Tier 0: read-only (never needs confirmation)
// Tier 1: controlled writes (needs confirmation)
// Tier 2: external/high-impact (needs confirmation)
type TieredTool interface {
	Tool
	Tier() int
}

// Risk tier constants.
const (
	TierReadOnly = 0 // Read-only lookups
	TierWrite    = 1 // Creates or edits records owned by the user
	TierHighRisk = 2 // Sends something to other people
)

// ToolTier returns the risk tier for a tool.
// Tools that do not declare a tier are treated as high-risk.
func ToolTier(t Tool) int {
	if tt, ok := t.(TieredTool); ok {
		return tt.Tier()
	}
	return TierHighRisk
}

// Action type tags used for proposal rendering.
const (
	ActionEmail    = "email"
	ActionCalendar = "calendar"
	ActionContact  = "contact"
	ActionContent  = "content"
	ActionSearch   = "search"
	ActionOther    = "other"
)

// ActionTyped is implemented by tools that belong to a product area.
type ActionTyped interface {
	ActionType() string
}

// ToolActionType returns the tool's action type, or ActionOther.
func ToolActionType(t Tool) string {
	if at, ok := t.(ActionTyped); ok {
		return at.ActionType()
	}
	return ActionOther
}

// Describer restates a call's parameters for a human reviewer.
// The text must include every concrete value the call would use.
type Describer interface {
	Describe(params map[string]any) string
}

// Reversible is implemented by tools whose effects can be undone by the user.
type Reversible interface {
	Reversible() bool
}

// CredentialedTool is implemented by tools that call an account-scoped API.
type CredentialedTool interface {
	RequiresCredential() bool
}

// NeedsCredential reports whether a tool needs a user token to run.
func NeedsCredential(t Tool) bool {
	if ct, ok := t.(CredentialedTool); ok {
		return ct.RequiresCredential()
	}
	return false
}

// ErrUnauthorized is returned when the upstream API rejects or lacks credentials.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNoCredential is returned when no token is available for the requester.
var ErrNoCredential = fmt.Errorf("%w: no connected account", ErrUnauthorized)

// ExecContext carries the requester identity and token into Execute.
type ExecContext struct {
	TeamID string
	UserID string
	Token  string
}

type execKey struct{}

// WithExec attaches an ExecContext to ctx.
func WithExec(ctx context.Context, ec ExecContext) context.Context {
	return context.WithValue(ctx, execKey{}, ec)
}

// ExecFrom returns the ExecContext attached to ctx, if any.
func ExecFrom(ctx context.Context) ExecContext {
	ec, _ := ctx.Value(execKey{}).(ExecContext)
	return ec
}

// Operation is one tool invocation requested by the language model.
type Operation struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// Failure classes attached to failed results.
const (
	FailureAuth    = "auth"
	FailureTimeout = "timeout"
	FailureUnknown = "unknown"
)

// Result is the outcome of one dispatched operation.
type Result struct {
	Operation string        `json:"operation"`
	Success   bool          `json:"success"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Class     string        `json:"class,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Registry manages tool registration and execution.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools ordered by name.
func (r *Registry) List() []Tool {
	result := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, tool)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Definitions returns tool definitions in OpenAI format, ordered by name.
func (r *Registry) Definitions() []map[string]any {
	list := r.List()
	result := make([]map[string]any, 0, len(list))
	for _, tool := range list {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name(),
				"description": tool.Description(),
				"parameters":  tool.Parameters(),
			},
		})
	}
	return result
}

// Execute runs a tool by name with the given parameters.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(ctx, params)
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value.
func GetInt(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

// GetBool extracts a bool parameter with a default value.
func GetBool(params map[string]any, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// GetStrings extracts a list parameter. A single string is split on commas.
func GetStrings(params map[string]any, key string) []string {
	v, ok := params[key]
	if !ok {
		return nil
	}
	var out []string
	switch t := v.(type) {
	case []string:
		out = append(out, t...)
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case string:
		out = splitList(t)
	}
	return compact(out)
}
