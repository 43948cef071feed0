package gateway

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/actiongate/actiongate/internal/bus"
)

// Verdict is the outcome of the intake filter.
type Verdict int

const (
	Continue Verdict = iota
	Drop
	Redirect
)

func (v Verdict) String() string {
	switch v {
	case Drop:
		return "drop"
	case Redirect:
		return "redirect"
	}
	return "continue"
}

// Identity is the bot's own account on the chat platform.
type Identity struct {
	UserID string
	BotID  string
	TeamID string
}

// IdentityResolver looks up the bot identity (auth.test on Slack).
type IdentityResolver interface {
	BotIdentity(ctx context.Context) (Identity, error)
}

// Filter drops self-authored and automated events and redirects anything outside a DM.
//
// The Slack transport already discards plain message events from channels and
// group DMs (only app_mention is forwarded from there), so in production the
// Redirect verdict is reached through mentions. Any other source that hands the
// gateway a non-IM event, message type included, still gets the DM-only notice.
type Filter struct {
	resolver IdentityResolver

	group    singleflight.Group
	mu       sync.RWMutex
	identity *Identity
}

func NewFilter(resolver IdentityResolver) *Filter {
	return &Filter{resolver: resolver}
}

// Evaluate never consults the language model.
func (f *Filter) Evaluate(ctx context.Context, ev *bus.InboundEvent) Verdict {
	if ev.IsAutomated() {
		return Drop
	}
	if id, ok := f.botIdentity(ctx); ok {
		if (id.UserID != "" && ev.UserID == id.UserID) || (id.BotID != "" && ev.BotID == id.BotID) {
			return Drop
		}
	}
	if !ev.IsDirect() {
		return Redirect
	}
	return Continue
}

// botIdentity resolves once per process. Concurrent first calls share one lookup;
// a failed lookup is retried on the next event.
func (f *Filter) botIdentity(ctx context.Context) (Identity, bool) {
	f.mu.RLock()
	if f.identity != nil {
		id := *f.identity
		f.mu.RUnlock()
		return id, true
	}
	f.mu.RUnlock()
	if f.resolver == nil {
		return Identity{}, false
	}

	v, err, _ := f.group.Do("bot-identity", func() (any, error) {
		id, err := f.resolver.BotIdentity(ctx)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.identity = &id
		f.mu.Unlock()
		return id, nil
	})
	if err != nil {
		slog.Warn("bot identity lookup failed, continuing without self filter", "error", err)
		return Identity{}, false
	}
	return v.(Identity), true
}
