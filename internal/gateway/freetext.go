package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/actiongate/actiongate/internal/bus"
	"github.com/actiongate/actiongate/internal/config"
	"github.com/actiongate/actiongate/internal/proposal"
	"github.com/actiongate/actiongate/internal/provider"
	"github.com/actiongate/actiongate/internal/recall"
)

// ReplyClass is how a free-text reply relates to a pending proposal.
type ReplyClass string

const (
	ReplyConfirm   ReplyClass = "confirm"
	ReplyReject    ReplyClass = "reject"
	ReplyAmbiguous ReplyClass = "ambiguous"
	ReplyUnknown   ReplyClass = "unknown"
)

// Replies longer than this are never treated as a yes/no answer.
const maxReplyRunes = 160

// defaultLinkCapacity bounds how many ref-less proposal messages are remembered.
const defaultLinkCapacity = 1000

var (
	confirmPhrases = map[string]bool{
		"yes": true, "y": true, "yep": true, "yeah": true, "yup": true, "sure": true,
		"ok": true, "okay": true, "confirm": true, "confirmed": true, "approve": true,
		"approved": true, "go ahead": true, "do it": true, "send it": true, "please do": true,
		"sounds good": true, "lgtm": true, "yes please": true, "go for it": true,
	}
	rejectPhrases = map[string]bool{
		"no": true, "n": true, "nope": true, "nah": true, "cancel": true, "stop": true,
		"don't": true, "dont": true, "do not": true, "reject": true, "abort": true,
		"never mind": true, "nevermind": true, "no thanks": true, "don't send": true,
	}
)

var replySchema = provider.MustSchema("confirmation_reply", `{
  "type": "object",
  "required": ["decision"],
  "properties": {
    "decision": {"type": "string"}
  }
}`)

const replyPrompt = `The assistant proposed an action and asked the user to confirm it.
Proposal:
%s

User reply:
%s

Classify the reply. "decision" is one of:
- "confirm": the user agrees to the action
- "reject": the user declines or cancels it
- "ambiguous": the reply is about the proposal but its intent is unclear
- "unknown": the reply is not an answer to the proposal at all`

// lexicalClass answers obvious yes/no replies without a model call.
func lexicalClass(text string) (ReplyClass, bool) {
	norm := strings.ToLower(strings.TrimSpace(text))
	norm = strings.ReplaceAll(norm, "’", "'")
	norm = strings.TrimRightFunc(norm, func(r rune) bool { return unicode.IsPunct(r) && r != '\'' || unicode.IsSpace(r) })
	norm = strings.Join(strings.Fields(norm), " ")
	switch {
	case confirmPhrases[norm]:
		return ReplyConfirm, true
	case rejectPhrases[norm]:
		return ReplyReject, true
	}
	return ReplyUnknown, false
}

// pendingProposal is the newest eligible proposal message in the channel.
type pendingProposal struct {
	Text           string
	TS             string
	ConfirmationID string
}

// FreeText resolves yes/no replies typed into the conversation.
type FreeText struct {
	History   recall.History
	Model     recall.Model
	Policy    string
	ScanLimit int

	links proposalLinks
}

// proposalLinks maps a ref-less proposal message (channel|ts) to the
// confirmation staged for it, so the message is staged at most once.
// Oldest links are evicted first once capacity is reached.
type proposalLinks struct {
	mu       sync.Mutex
	ids      map[string]string
	order    []string
	capacity int
	group    singleflight.Group
}

func linkKey(channel, ts string) string { return channel + "|" + ts }

func (l *proposalLinks) get(key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.ids[key]
	return id, ok
}

func (l *proposalLinks) put(key, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ids == nil {
		l.ids = make(map[string]string)
	}
	if l.capacity <= 0 {
		l.capacity = defaultLinkCapacity
	}
	if _, ok := l.ids[key]; ok {
		return
	}
	if len(l.order) >= l.capacity {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.ids, oldest)
	}
	l.ids[key] = id
	l.order = append(l.order, key)
}

// stageResult is what a staging attempt produced: a confirmation id, or the
// message to send when nothing could be staged.
type stageResult struct {
	ID      string
	FailMsg string
}

// linkedConfirmation returns the confirmation already staged for the proposal
// message, or stages one with stage. Concurrent replies to the same message
// share a single staging attempt.
func (f *FreeText) linkedConfirmation(channel, ts string, stage func() stageResult) stageResult {
	key := linkKey(channel, ts)
	if id, ok := f.links.get(key); ok {
		return stageResult{ID: id}
	}
	v, _, _ := f.links.group.Do(key, func() (any, error) {
		if id, ok := f.links.get(key); ok {
			return stageResult{ID: id}, nil
		}
		res := stage()
		if res.ID != "" {
			f.links.put(key, res.ID)
		}
		return res, nil
	})
	return v.(stageResult)
}

// findProposal scans recent history for the newest non-requester message that reads like a proposal.
func (f *FreeText) findProposal(ctx context.Context, ictx bus.InteractionContext) (*pendingProposal, error) {
	if f.History == nil {
		return nil, nil
	}
	msgs, err := f.History.ReadRecent(ctx, ictx.ChannelID, f.ScanLimit, func(m recall.Message) bool {
		return m.UserID != ictx.UserID || m.IsAutomated()
	})
	if err != nil {
		return nil, err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if !proposal.LooksLikeProposal(m.Text) {
			continue
		}
		p := &pendingProposal{Text: m.Text, TS: m.TS}
		if id, ok := proposal.ParseRef(m.Text); ok {
			p.ConfirmationID = id
		}
		return p, nil
	}
	return nil, nil
}

// classify returns the reply class, trying the lexical fast path first.
func (f *FreeText) classify(ctx context.Context, text, proposalText string) (ReplyClass, error) {
	if c, ok := lexicalClass(text); ok {
		return c, nil
	}
	if f.Model == nil {
		return ReplyUnknown, nil
	}
	res, err := f.Model.Classify(ctx, fmt.Sprintf(replyPrompt, proposalText, text), replySchema)
	if err != nil {
		return ReplyUnknown, err
	}
	switch c := ReplyClass(res.Get("decision").String()); c {
	case ReplyConfirm, ReplyReject, ReplyAmbiguous:
		return c, nil
	}
	return ReplyUnknown, nil
}

// decide applies the ambiguous-reply policy. ok=false means "not an answer".
func (f *FreeText) decide(c ReplyClass) (approve, clarify, ok bool) {
	switch c {
	case ReplyConfirm:
		return true, false, true
	case ReplyReject:
		return false, false, true
	case ReplyAmbiguous:
		switch f.Policy {
		case config.AmbiguousReject:
			return false, false, true
		case config.AmbiguousClarify:
			return false, true, true
		}
		return true, false, true
	}
	return false, false, false
}

func candidateReply(text string) bool {
	t := strings.TrimSpace(text)
	return t != "" && utf8.RuneCountInString(t) <= maxReplyRunes
}
