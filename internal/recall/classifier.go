package recall

import (
	"context"
	"fmt"
	"strings"

	"github.com/actiongate/actiongate/internal/degrade"
	"github.com/actiongate/actiongate/internal/provider"
)

var needSchema = provider.MustSchema("context_need", `{
  "type": "object",
  "required": ["kind", "confidence"],
  "properties": {
    "kind": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "rationale": {"type": "string"}
  }
}`)

const classifyPrompt = `Decide whether answering the user's message requires earlier conversation material.
Choose "kind" from exactly one of:
- "none": the message stands on its own
- "thread_history": it continues the current thread ("reply to that", "as above")
- "recent_messages": it refers to something the user said recently in this conversation
- "search_results": it refers to an older topic that must be searched for
Give a confidence between 0 and 1 and a one-sentence rationale.

Message:
%s`

// ErrUnknownKind marks classifier output outside the taxonomy.
var ErrUnknownKind = fmt.Errorf("context need outside taxonomy")

// Classifier maps a message to a Need.
type Classifier struct {
	Model Model
}

func NewClassifier(m Model) *Classifier {
	return &Classifier{Model: m}
}

// Classify never fails: errors degrade to KindNone.
func (c *Classifier) Classify(ctx context.Context, text string) degrade.Result[Need] {
	none := Need{Kind: KindNone}
	text = strings.TrimSpace(text)
	if text == "" || c.Model == nil {
		return degrade.OK(none)
	}
	res, err := c.Model.Classify(ctx, fmt.Sprintf(classifyPrompt, text), needSchema)
	if err != nil {
		return degrade.Fallback(none, fmt.Errorf("classify context need: %w", err))
	}
	raw := res.Get("kind").String()
	kind, ok := ParseKind(raw)
	if !ok {
		return degrade.Fallback(none, fmt.Errorf("%w: %q", ErrUnknownKind, raw))
	}
	conf := res.Get("confidence").Float()
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return degrade.OK(Need{Kind: kind, Confidence: conf, Rationale: res.Get("rationale").String()})
}
