// Package bus provides the async message bus between the chat transport and the gateway.
package bus

import (
	"context"
	"sync"
	"time"
)

// Event types carried by InboundEvent.
const (
	EventMessage    = "message"
	EventAppMention = "app_mention"
)

// Channel types as reported by the chat platform.
const (
	ChannelTypeIM    = "im"
	ChannelTypeMPIM  = "mpim"
	ChannelTypeGroup = "group"
	ChannelTypePub   = "channel"
)

// SubtypeBotMessage marks messages posted by integrations.
const SubtypeBotMessage = "bot_message"

// InboundEvent is a raw message event from the chat platform.
type InboundEvent struct {
	EventID     string    `json:"event_id,omitempty"`
	Type        string    `json:"type"`
	UserID      string    `json:"user_id"`
	BotID       string    `json:"bot_id,omitempty"`
	SubType     string    `json:"subtype,omitempty"`
	TeamID      string    `json:"team_id"`
	ChannelID   string    `json:"channel_id"`
	ChannelType string    `json:"channel_type"`
	Text        string    `json:"text"`
	TS          string    `json:"ts"`
	ThreadTS    string    `json:"thread_ts,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// IsAutomated reports whether the platform flagged the event as bot-authored.
func (e *InboundEvent) IsAutomated() bool {
	return e.BotID != "" || e.SubType == SubtypeBotMessage
}

// IsDirect reports whether the event arrived in a one-to-one conversation.
func (e *InboundEvent) IsDirect() bool {
	return e.ChannelType == ChannelTypeIM
}

// InteractionContext is the per-request identity derived once from an event.
// It is passed by value and never mutated.
type InteractionContext struct {
	TraceID     string
	TeamID      string
	UserID      string
	ChannelID   string
	ThreadTS    string
	IsDirect    bool
	DisplayName string
	Email       string
}

// LogAttrs returns the correlation attributes attached to every log line for the request.
func (c InteractionContext) LogAttrs() []any {
	return []any{"trace_id", c.TraceID, "team", c.TeamID, "user", c.UserID, "channel", c.ChannelID}
}

// ActionEvent is a button press on an interactive message.
type ActionEvent struct {
	ActionID  string `json:"action_id"`
	Value     string `json:"value"`
	UserID    string `json:"user_id"`
	TeamID    string `json:"team_id"`
	ChannelID string `json:"channel_id"`
	MessageTS string `json:"message_ts,omitempty"`
	ThreadTS  string `json:"thread_ts,omitempty"`
}

// Inbound wraps exactly one of Event or Action.
type Inbound struct {
	Event  *InboundEvent
	Action *ActionEvent
}

// Button styles understood by the transport.
const (
	StylePrimary = "primary"
	StyleDanger  = "danger"
)

// Button is an interactive element attached to a block.
type Button struct {
	Label    string `json:"label"`
	ActionID string `json:"action_id"`
	Value    string `json:"value"`
	Style    string `json:"style,omitempty"`
}

// Block is one rendered section: text, buttons, or both.
type Block struct {
	Text    string   `json:"text,omitempty"`
	Buttons []Button `json:"buttons,omitempty"`
}

// OutboundMessage is a reply from the gateway to a conversation.
type OutboundMessage struct {
	Channel  string  `json:"channel"`
	ChatID   string  `json:"chat_id"`
	ThreadTS string  `json:"thread_ts,omitempty"`
	TraceID  string  `json:"trace_id"`
	Content  string  `json:"content"`
	Blocks   []Block `json:"blocks,omitempty"`
}

// MessageBus decouples the transport from the gateway core.
type MessageBus struct {
	inbound  chan *Inbound
	outbound chan *OutboundMessage
	subs     map[string][]func(*OutboundMessage)
	mu       sync.RWMutex
}

// NewMessageBus creates a new message bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan *Inbound, 100),
		outbound: make(chan *OutboundMessage, 100),
		subs:     make(map[string][]func(*OutboundMessage)),
	}
}

// PublishEvent queues a message event for the gateway.
func (b *MessageBus) PublishEvent(ev *InboundEvent) {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	b.inbound <- &Inbound{Event: ev}
}

// PublishAction queues a button press for the gateway.
func (b *MessageBus) PublishAction(ev *ActionEvent) {
	b.inbound <- &Inbound{Action: ev}
}

// ConsumeInbound blocks until an item is available or context is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*Inbound, error) {
	select {
	case in := <-b.inbound:
		return in, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishOutbound sends a message from the gateway to the transports.
func (b *MessageBus) PublishOutbound(msg *OutboundMessage) {
	b.outbound <- msg
}

// Subscribe registers a callback for outbound messages to a specific channel.
func (b *MessageBus) Subscribe(channel string, callback func(*OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = append(b.subs[channel], callback)
}

// DispatchOutbound delivers outbound messages to subscribers until ctx ends.
// This should be run as a goroutine.
func (b *MessageBus) DispatchOutbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.outbound:
			b.mu.RLock()
			callbacks := b.subs[msg.Channel]
			b.mu.RUnlock()

			for _, cb := range callbacks {
				cb(msg)
			}
		}
	}
}

// InboundSize returns the number of pending inbound items.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}

// OutboundSize returns the number of pending outbound messages.
func (b *MessageBus) OutboundSize() int {
	return len(b.outbound)
}
