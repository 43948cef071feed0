// Package recall decides whether a message needs prior conversation material and fetches it.
package recall

import (
	"context"

	"github.com/tidwall/gjson"

	"github.com/actiongate/actiongate/internal/provider"
)

// Kind names a retrieval strategy.
type Kind string

const (
	KindNone   Kind = "none"
	KindThread Kind = "thread_history"
	KindRecent Kind = "recent_messages"
	KindSearch Kind = "search_results"
)

// ParseKind maps model output onto a Kind. Anything outside the taxonomy is KindNone.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindNone, KindThread, KindRecent, KindSearch:
		return k, true
	}
	return KindNone, false
}

// Need is the classifier verdict.
type Need struct {
	Kind       Kind    `json:"kind"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// Message is one entry of conversation history.
type Message struct {
	UserID  string `json:"user_id,omitempty"`
	BotID   string `json:"bot_id,omitempty"`
	SubType string `json:"subtype,omitempty"`
	Text    string `json:"text"`
	TS      string `json:"ts"`
}

// IsAutomated reports whether the message was posted by an integration.
func (m Message) IsAutomated() bool {
	return m.BotID != "" || m.SubType == "bot_message"
}

// Gathered is the retrieved context handed to intent resolution.
type Gathered struct {
	Kind       Kind      `json:"kind"`
	Messages   []Message `json:"messages,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Confidence float64   `json:"confidence"`
}

// Empty reports whether nothing was gathered.
func (g Gathered) Empty() bool {
	return len(g.Messages) == 0 && g.Summary == ""
}

// SearchOptions bounds a history search.
type SearchOptions struct {
	Channels []string
	Limit    int
}

// History reads prior messages from the chat platform. Results are oldest first.
type History interface {
	// ReadRecent returns up to limit of the newest channel messages for which keep returns true.
	// A nil keep accepts everything.
	ReadRecent(ctx context.Context, channel string, limit int, keep func(Message) bool) ([]Message, error)
	ReadThread(ctx context.Context, channel, threadTS string, limit int) ([]Message, error)
	Search(ctx context.Context, query string, opts SearchOptions) ([]Message, error)
}

// Model is the structured-generation collaborator.
type Model interface {
	Classify(ctx context.Context, prompt string, schema *provider.Schema) (gjson.Result, error)
	Generate(ctx context.Context, system, prompt string) (string, error)
}
