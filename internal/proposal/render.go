package proposal

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/actiongate/actiongate/internal/bus"
)

// Action ids carried by the confirmation buttons.
const (
	ActionConfirm = "actiongate_confirm"
	ActionReject  = "actiongate_reject"
)

// DefaultDisplayLimit matches the section text limit of the chat platform.
const DefaultDisplayLimit = 3000

var refPattern = regexp.MustCompile(`Ref: ([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})`)

// RefLine is the marker that lets a free-text reply find the confirmation behind a message.
func RefLine(confirmationID string) string {
	return "Ref: " + confirmationID
}

// ParseRef extracts the confirmation id from a rendered proposal.
func ParseRef(text string) (string, bool) {
	m := refPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

var indicators = []string{
	"i'll send", "i will send",
	"i'll create", "i will create",
	"i'll add", "i will add",
	"i'll schedule", "i'll run", "i'll update",
	"shall i", "should i", "want me to",
	"ready to send", "please confirm", "reply yes",
}

// LooksLikeProposal reports whether text reads like a pending proposal.
func LooksLikeProposal(text string) bool {
	lower := strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	if refPattern.MatchString(text) {
		return true
	}
	for _, ind := range indicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// Text renders the full proposal as plain markdown.
func Text(p *Proposal, confirmationID string) string {
	var b strings.Builder
	if p.Intro != "" {
		b.WriteString(p.Intro)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "*%s*\n\n%s\n\n", p.Title, p.Description)
	fmt.Fprintf(&b, "*Risk:* %s", p.Risk.Level)
	if p.Risk.Reversible {
		b.WriteString(" (reversible)")
	}
	for _, f := range p.Risk.Factors {
		b.WriteString("\n• " + f)
	}
	for _, w := range p.Risk.Warnings {
		b.WriteString("\n:warning: " + w)
	}
	if confirmationID != "" {
		fmt.Fprintf(&b, "\n\nReply *yes* to go ahead or *no* to cancel.\n%s", RefLine(confirmationID))
	}
	return b.String()
}

// RenderBlocks splits the proposal into sections no longer than limit runes and
// attaches the confirm/cancel buttons to the last one. Nothing is dropped; the
// transport spreads lists longer than one message allows over several posts.
func RenderBlocks(p *Proposal, confirmationID string, limit int) []bus.Block {
	if limit <= 0 {
		limit = DefaultDisplayLimit
	}
	chunks := Chunk(Text(p, confirmationID), limit)
	blocks := make([]bus.Block, 0, len(chunks)+1)
	for _, c := range chunks {
		blocks = append(blocks, bus.Block{Text: c})
	}
	if confirmationID == "" {
		return blocks
	}
	buttons := []bus.Button{
		{Label: "Confirm", ActionID: ActionConfirm, Value: confirmationID, Style: bus.StylePrimary},
		{Label: "Cancel", ActionID: ActionReject, Value: confirmationID, Style: bus.StyleDanger},
	}
	return append(blocks, bus.Block{Buttons: buttons})
}

// Chunk splits text on line boundaries into pieces of at most limit runes.
// Lines longer than limit are split on rune boundaries.
func Chunk(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var (
		out []string
		cur strings.Builder
		n   int
	)
	flush := func() {
		if n > 0 {
			out = append(out, cur.String())
			cur.Reset()
			n = 0
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		ln := utf8.RuneCountInString(line)
		if n+ln <= limit {
			cur.WriteString(line)
			n += ln
			continue
		}
		flush()
		for ln > limit {
			r := []rune(line)
			out = append(out, string(r[:limit]))
			line = string(r[limit:])
			ln -= limit
		}
		cur.WriteString(line)
		n = ln
	}
	flush()
	return out
}
