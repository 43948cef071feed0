package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"golang.org/x/time/rate"

	"github.com/actiongate/actiongate/internal/bus"
	"github.com/actiongate/actiongate/internal/config"
	"github.com/actiongate/actiongate/internal/logging"
)

const defaultSlackAPI = "https://slack.com/api/"

// SlackChannel is the Slack transport: Events API or socket mode in, chat.postMessage out.
type SlackChannel struct {
	BaseChannel
	config  config.SlackConfig
	api     *slack.Client
	search  *slack.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	cancel context.CancelFunc
}

// NewSlackChannel builds the transport. The bot token is required.
func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus, httpClient *http.Client) (*SlackChannel, error) {
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		return nil, errors.New("missing slack bot token")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	base := strings.TrimSpace(cfg.APIURL)
	if base == "" {
		base = defaultSlackAPI
	}
	opts := []slack.Option{
		slack.OptionHTTPClient(httpClient),
		slack.OptionAPIURL(strings.TrimRight(base, "/") + "/"),
	}
	if app := strings.TrimSpace(cfg.AppToken); app != "" {
		opts = append(opts, slack.OptionAppLevelToken(app))
	}
	perSecond := cfg.PostsPerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.PostBurst
	if burst <= 0 {
		burst = 1
	}
	c := &SlackChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		config:      cfg,
		api:         slack.New(token, opts...),
		limiter:     rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:      logging.ForComponent(logging.CompSlack),
	}
	if user := strings.TrimSpace(cfg.UserToken); user != "" {
		c.search = slack.New(user, opts[:2]...)
	}
	return c, nil
}

func (c *SlackChannel) Name() string { return "slack" }

// Client exposes the underlying API client for history and identity lookups.
func (c *SlackChannel) Client() *slack.Client { return c.api }

// SearchClient returns the user-token client, or nil when search is not configured.
func (c *SlackChannel) SearchClient() *slack.Client { return c.search }

// Start subscribes to outbound replies and, in socket mode, opens the websocket.
// In Events API mode inbound traffic arrives through EventsHandler and InteractionsHandler.
func (c *SlackChannel) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		if err := c.Send(ctx, msg); err != nil {
			c.logger.Error("slack send failed", "trace_id", msg.TraceID, "chat_id", msg.ChatID, "error", err)
		}
	})
	if !c.config.SocketMode {
		return nil
	}
	if strings.TrimSpace(c.config.AppToken) == "" {
		return errors.New("socket mode requires a slack app token")
	}
	client := socketmode.New(c.api)
	go c.runSocketMode(ctx, client)
	go func() {
		if err := client.RunContext(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("slack socket mode stopped", "error", err)
		}
	}()
	c.logger.Info("slack socket mode started")
	return nil
}

func (c *SlackChannel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Block Kit limits for a single chat.postMessage call.
const (
	maxBlocksPerMessage = 50
	maxFallbackRunes    = 3000
)

// Send posts msg, rendering blocks and buttons when present. More blocks
// than one message can carry are posted as consecutive messages in order,
// so buttons always land on the last one. Rate-limited posts are retried
// after the delay Slack asks for.
func (c *SlackChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	channelID := strings.TrimSpace(msg.ChatID)
	if channelID == "" {
		return errors.New("slack send: empty chat id")
	}
	chunks := chunkBlocks(renderBlocks(msg.Blocks), maxBlocksPerMessage)
	if len(chunks) == 0 {
		return c.post(ctx, channelID, msg.ThreadTS, msg.Content, nil)
	}
	for i, chunk := range chunks {
		text := fallbackText(msg.Content)
		if i > 0 {
			text = "(continued)"
		}
		if err := c.post(ctx, channelID, msg.ThreadTS, text, chunk); err != nil {
			return fmt.Errorf("slack send part %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

func (c *SlackChannel) post(ctx context.Context, channelID, threadTS, text string, blocks []slack.Block) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}
	if ts := strings.TrimSpace(threadTS); ts != "" {
		opts = append(opts, slack.MsgOptionTS(ts))
	}
	return withRetry(ctx, 3, 200*time.Millisecond, func() (bool, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return false, err
		}
		_, _, err := c.api.PostMessageContext(ctx, channelID, opts...)
		return retryDecision(ctx, err)
	})
}

// chunkBlocks splits blocks into ordered groups of at most size.
func chunkBlocks(blocks []slack.Block, size int) [][]slack.Block {
	var out [][]slack.Block
	for len(blocks) > size {
		out = append(out, blocks[:size:size])
		blocks = blocks[size:]
	}
	if len(blocks) > 0 {
		out = append(out, blocks)
	}
	return out
}

// fallbackText is the notification text sent alongside blocks; the blocks
// carry the full content.
func fallbackText(s string) string {
	if utf8.RuneCountInString(s) <= maxFallbackRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxFallbackRunes-1]) + "…"
}

// renderBlocks maps bus blocks onto Block Kit: text becomes a mrkdwn
// section and buttons become one actions block.
func renderBlocks(in []bus.Block) []slack.Block {
	var out []slack.Block
	for i, b := range in {
		if strings.TrimSpace(b.Text) != "" {
			txt := slack.NewTextBlockObject(slack.MarkdownType, b.Text, false, false)
			out = append(out, slack.NewSectionBlock(txt, nil, nil))
		}
		if len(b.Buttons) == 0 {
			continue
		}
		elems := make([]slack.BlockElement, 0, len(b.Buttons))
		for _, btn := range b.Buttons {
			el := slack.NewButtonBlockElement(btn.ActionID, btn.Value,
				slack.NewTextBlockObject(slack.PlainTextType, btn.Label, false, false))
			switch btn.Style {
			case bus.StylePrimary:
				el = el.WithStyle(slack.StylePrimary)
			case bus.StyleDanger:
				el = el.WithStyle(slack.StyleDanger)
			}
			elems = append(elems, el)
		}
		out = append(out, slack.NewActionBlock(fmt.Sprintf("actions_%d", i), elems...))
	}
	return out
}

func retryDecision(ctx context.Context, err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) && rle != nil {
		if rle.RetryAfter > 0 {
			select {
			case <-time.After(rle.RetryAfter):
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
		return true, err
	}
	var sce slack.StatusCodeError
	if errors.As(err, &sce) && sce.Code >= 500 {
		return true, err
	}
	return false, err
}

func withRetry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() (retryable bool, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || i == attempts-1 {
			break
		}
		select {
		case <-time.After(baseDelay * time.Duration(1<<i)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
