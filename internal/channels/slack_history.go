package channels

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/slack-go/slack"

	"github.com/actiongate/actiongate/internal/gateway"
	"github.com/actiongate/actiongate/internal/recall"
)

// ErrSearchUnavailable is returned by Search when no user token is configured.
// search.messages does not accept bot tokens.
var ErrSearchUnavailable = errors.New("slack search requires a user token")

const maxHistoryPages = 3

// SlackHistory reads conversation history through the Web API.
type SlackHistory struct {
	api    *slack.Client
	search *slack.Client
}

// NewSlackHistory reads with api and searches with searchAPI, which may be nil.
func NewSlackHistory(api, searchAPI *slack.Client) *SlackHistory {
	return &SlackHistory{api: api, search: searchAPI}
}

// ReadRecent pages backwards through conversations.history until limit kept
// messages are found or maxHistoryPages pages were read.
func (h *SlackHistory) ReadRecent(ctx context.Context, channel string, limit int, keep func(recall.Message) bool) ([]recall.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var (
		out    []recall.Message
		cursor string
	)
	for page := 0; page < maxHistoryPages && len(out) < limit; page++ {
		resp, err := h.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: channel,
			Cursor:    cursor,
			Limit:     limit * 2,
		})
		if err != nil {
			return nil, fmt.Errorf("conversations.history %s: %w", channel, err)
		}
		// Newest first.
		for _, m := range resp.Messages {
			msg := toRecall(m.Msg)
			if keep != nil && !keep(msg) {
				continue
			}
			out = append(out, msg)
			if len(out) == limit {
				break
			}
		}
		cursor = resp.ResponseMetaData.NextCursor
		if !resp.HasMore || cursor == "" {
			break
		}
	}
	reverse(out)
	return out, nil
}

func (h *SlackHistory) ReadThread(ctx context.Context, channel, threadTS string, limit int) ([]recall.Message, error) {
	msgs, _, _, err := h.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: channel,
		Timestamp: threadTS,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("conversations.replies %s/%s: %w", channel, threadTS, err)
	}
	out := make([]recall.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toRecall(m.Msg))
	}
	// Replies come oldest first; keep the newest limit.
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (h *SlackHistory) Search(ctx context.Context, query string, opts recall.SearchOptions) ([]recall.Message, error) {
	if h.search == nil {
		return nil, ErrSearchUnavailable
	}
	params := slack.NewSearchParameters()
	params.Sort = "timestamp"
	params.SortDirection = "desc"
	if opts.Limit > 0 {
		params.Count = opts.Limit
	}
	res, err := h.search.SearchMessagesContext(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("search.messages: %w", err)
	}
	allowed := map[string]bool{}
	for _, c := range opts.Channels {
		allowed[c] = true
	}
	var out []recall.Message
	for _, m := range res.Matches {
		if len(allowed) > 0 && !allowed[m.Channel.ID] {
			continue
		}
		out = append(out, recall.Message{UserID: m.User, Text: m.Text, TS: m.Timestamp})
	}
	sort.SliceStable(out, func(i, j int) bool { return tsLess(out[i].TS, out[j].TS) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out, nil
}

func toRecall(m slack.Msg) recall.Message {
	return recall.Message{UserID: m.User, BotID: m.BotID, SubType: m.SubType, Text: m.Text, TS: m.Timestamp}
}

func tsLess(a, b string) bool {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA != nil || errB != nil {
		return a < b
	}
	return fa < fb
}

func reverse(ms []recall.Message) {
	for i, j := 0, len(ms)-1; i < j; i, j = i+1, j-1 {
		ms[i], ms[j] = ms[j], ms[i]
	}
}

// SlackIdentity resolves the bot's own user with auth.test.
type SlackIdentity struct {
	api *slack.Client
}

func NewSlackIdentity(api *slack.Client) *SlackIdentity {
	return &SlackIdentity{api: api}
}

func (s *SlackIdentity) BotIdentity(ctx context.Context) (gateway.Identity, error) {
	resp, err := s.api.AuthTestContext(ctx)
	if err != nil {
		return gateway.Identity{}, fmt.Errorf("auth.test: %w", err)
	}
	return gateway.Identity{UserID: resp.UserID, BotID: resp.BotID, TeamID: resp.TeamID}, nil
}
