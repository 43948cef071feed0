package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/actiongate/actiongate/internal/bus"
)

// Message subtypes that carry a fresh user request. Edits, deletions and
// membership notices are not requests.
var acceptedSubtypes = map[string]bool{
	"":                    true,
	bus.SubtypeBotMessage: true,
	"file_share":          true,
	"thread_broadcast":    true,
}

// EventsHandler serves the Slack Events API endpoint.
func (c *SlackChannel) EventsHandler() http.Handler {
	return http.HandlerFunc(c.handleEvents)
}

// InteractionsHandler serves the interactivity endpoint (button presses).
func (c *SlackChannel) InteractionsHandler() http.Handler {
	return http.HandlerFunc(c.handleInteractions)
}

func (c *SlackChannel) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, ok := c.readVerified(w, r)
	if !ok {
		return
	}
	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}
	switch ev.Type {
	case slackevents.URLVerification:
		var ch slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &ch); err != nil {
			http.Error(w, "invalid challenge", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(ch.Challenge))
	case slackevents.CallbackEvent:
		eventID := ""
		if cb, ok := ev.Data.(*slackevents.EventsAPICallbackEvent); ok && cb != nil {
			eventID = cb.EventID
		}
		c.publishInner(ev, eventID)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (c *SlackChannel) handleInteractions(w http.ResponseWriter, r *http.Request) {
	body, ok := c.readVerified(w, r)
	if !ok {
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	cb, err := slack.InteractionCallbackParse(r)
	if err != nil {
		http.Error(w, "invalid interaction payload", http.StatusBadRequest)
		return
	}
	if act, ok := actionFromCallback(cb); ok {
		c.Bus.PublishAction(act)
	}
	w.WriteHeader(http.StatusOK)
}

// readVerified reads the body and checks the v0 request signature.
func (c *SlackChannel) readVerified(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return nil, false
	}
	secret := strings.TrimSpace(c.config.SigningSecret)
	if secret == "" {
		c.logger.Warn("slack signing secret not configured, accepting unsigned request")
		return body, true
	}
	sv, err := slack.NewSecretsVerifier(r.Header, secret)
	if err != nil {
		http.Error(w, "invalid slack signature", http.StatusUnauthorized)
		return nil, false
	}
	if _, err := sv.Write(body); err != nil {
		http.Error(w, "invalid slack signature", http.StatusUnauthorized)
		return nil, false
	}
	if err := sv.Ensure(); err != nil {
		c.logger.Warn("slack signature rejected", "error", err)
		http.Error(w, "invalid slack signature", http.StatusUnauthorized)
		return nil, false
	}
	return body, true
}

func (c *SlackChannel) runSocketMode(ctx context.Context, client *socketmode.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-client.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				if evt.Request != nil {
					client.Ack(*evt.Request)
				}
				ev, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok || ev.Type != slackevents.CallbackEvent {
					continue
				}
				eventID := ""
				if cb, ok := ev.Data.(*slackevents.EventsAPICallbackEvent); ok && cb != nil {
					eventID = cb.EventID
				}
				c.publishInner(ev, eventID)
			case socketmode.EventTypeInteractive:
				if evt.Request != nil {
					client.Ack(*evt.Request)
				}
				if cb, ok := evt.Data.(slack.InteractionCallback); ok {
					if act, ok := actionFromCallback(cb); ok {
						c.Bus.PublishAction(act)
					}
				}
			case socketmode.EventTypeConnectionError:
				c.logger.Warn("slack socket mode connection error")
			}
		}
	}
}

func (c *SlackChannel) publishInner(ev slackevents.EventsAPIEvent, eventID string) {
	var in *bus.InboundEvent
	switch e := ev.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		in = inboundFromMessage(e)
	case *slackevents.AppMentionEvent:
		in = inboundFromMention(e)
	}
	if in == nil {
		return
	}
	in.EventID = eventID
	in.TeamID = ev.TeamID
	in.ReceivedAt = time.Now().UTC()
	c.Bus.PublishEvent(in)
}

// inboundFromMessage normalizes a message event. Outside direct messages only
// app_mention is forwarded, so a mention is not handled twice.
func inboundFromMessage(e *slackevents.MessageEvent) *bus.InboundEvent {
	if e == nil || !acceptedSubtypes[e.SubType] {
		return nil
	}
	channelType := strings.ToLower(strings.TrimSpace(e.ChannelType))
	if channelType == "" && strings.HasPrefix(strings.ToUpper(e.Channel), "D") {
		channelType = bus.ChannelTypeIM
	}
	if channelType != bus.ChannelTypeIM {
		return nil
	}
	text := strings.TrimSpace(e.Text)
	if text == "" && e.SubType == "file_share" {
		text = "[file shared]"
	}
	if text == "" || e.Channel == "" {
		return nil
	}
	return &bus.InboundEvent{
		Type:        bus.EventMessage,
		UserID:      e.User,
		BotID:       e.BotID,
		SubType:     e.SubType,
		ChannelID:   e.Channel,
		ChannelType: channelType,
		Text:        text,
		TS:          firstNonEmpty(e.TimeStamp, e.EventTimeStamp),
		ThreadTS:    e.ThreadTimeStamp,
	}
}

func inboundFromMention(e *slackevents.AppMentionEvent) *bus.InboundEvent {
	if e == nil || e.Channel == "" {
		return nil
	}
	channelType := bus.ChannelTypePub
	if strings.HasPrefix(strings.ToUpper(e.Channel), "D") {
		channelType = bus.ChannelTypeIM
	}
	return &bus.InboundEvent{
		Type:        bus.EventAppMention,
		UserID:      e.User,
		BotID:       e.BotID,
		ChannelID:   e.Channel,
		ChannelType: channelType,
		Text:        strings.TrimSpace(e.Text),
		TS:          firstNonEmpty(e.TimeStamp, e.EventTimeStamp),
		ThreadTS:    e.ThreadTimeStamp,
	}
}

// actionFromCallback extracts the first block action of a button press.
func actionFromCallback(cb slack.InteractionCallback) (*bus.ActionEvent, bool) {
	if cb.Type != slack.InteractionTypeBlockActions || len(cb.ActionCallback.BlockActions) == 0 {
		return nil, false
	}
	a := cb.ActionCallback.BlockActions[0]
	channelID := firstNonEmpty(cb.Channel.ID, cb.Container.ChannelID)
	if channelID == "" || cb.User.ID == "" {
		return nil, false
	}
	return &bus.ActionEvent{
		ActionID:  a.ActionID,
		Value:     a.Value,
		UserID:    cb.User.ID,
		TeamID:    firstNonEmpty(cb.Team.ID, cb.User.TeamID),
		ChannelID: channelID,
		MessageTS: firstNonEmpty(cb.Container.MessageTs, cb.Message.Timestamp),
		ThreadTS:  cb.Container.ThreadTs,
	}, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
