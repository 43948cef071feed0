package recall

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/actiongate/actiongate/internal/bus"
	"github.com/actiongate/actiongate/internal/degrade"
)

const maxSummaryRunes = 4000

const keywordPrompt = `Turn the user's message into a short keyword search query (2 to 6 words) for finding the earlier messages it refers to.
Reply with the query only.

Message:
%s`

// Retriever executes the strategy chosen by the classifier.
type Retriever struct {
	History      History
	Model        Model
	HistoryLimit int
	SearchLimit  int
}

func NewRetriever(h History, m Model, historyLimit, searchLimit int) *Retriever {
	return &Retriever{History: h, Model: m, HistoryLimit: historyLimit, SearchLimit: searchLimit}
}

// Retrieve is best-effort. Any failure yields an empty, zero-confidence Gathered.
func (r *Retriever) Retrieve(ctx context.Context, need Need, text string, ictx bus.InteractionContext) degrade.Result[Gathered] {
	if need.Kind == KindNone || r.History == nil {
		return degrade.OK(Gathered{Kind: KindNone})
	}
	msgs, err := r.fetch(ctx, need, text, ictx)
	if err != nil {
		return degrade.Fallback(Gathered{Kind: need.Kind}, fmt.Errorf("retrieve %s: %w", need.Kind, err))
	}
	return degrade.OK(Gathered{
		Kind:       need.Kind,
		Messages:   msgs,
		Summary:    summarize(msgs),
		Confidence: need.Confidence,
	})
}

func (r *Retriever) fetch(ctx context.Context, need Need, text string, ictx bus.InteractionContext) ([]Message, error) {
	switch need.Kind {
	case KindThread:
		if ictx.ThreadTS == "" {
			// Top-level DM: the conversation itself is the thread.
			return r.History.ReadRecent(ctx, ictx.ChannelID, r.HistoryLimit, nil)
		}
		return r.History.ReadThread(ctx, ictx.ChannelID, ictx.ThreadTS, r.HistoryLimit)
	case KindRecent:
		return r.History.ReadRecent(ctx, ictx.ChannelID, r.HistoryLimit, func(m Message) bool {
			return m.UserID == ictx.UserID && !m.IsAutomated()
		})
	case KindSearch:
		query, err := r.keywords(ctx, text)
		if err != nil {
			return nil, err
		}
		return r.History.Search(ctx, query, SearchOptions{
			Channels: []string{ictx.ChannelID},
			Limit:    r.SearchLimit,
		})
	}
	return nil, fmt.Errorf("unsupported kind %q", need.Kind)
}

func (r *Retriever) keywords(ctx context.Context, text string) (string, error) {
	if r.Model == nil {
		return "", fmt.Errorf("no model for keyword query")
	}
	q, err := r.Model.Generate(ctx, "", fmt.Sprintf(keywordPrompt, text))
	if err != nil {
		return "", fmt.Errorf("keyword query: %w", err)
	}
	q = strings.Trim(strings.TrimSpace(q), `"'`)
	if q == "" {
		return "", fmt.Errorf("keyword query: empty")
	}
	return q, nil
}

// summarize renders messages oldest first, keeping the newest when over budget.
func summarize(msgs []Message) string {
	lines := make([]string, 0, len(msgs))
	total := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		t := strings.TrimSpace(msgs[i].Text)
		if t == "" {
			continue
		}
		line := "- " + t
		n := utf8.RuneCountInString(line) + 1
		if total+n > maxSummaryRunes {
			break
		}
		total += n
		lines = append(lines, line)
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}
