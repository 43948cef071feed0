package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/actiongate/actiongate/internal/approval"
	"github.com/actiongate/actiongate/internal/bus"
	"github.com/actiongate/actiongate/internal/dispatch"
	"github.com/actiongate/actiongate/internal/policy"
	"github.com/actiongate/actiongate/internal/proposal"
	"github.com/actiongate/actiongate/internal/provider"
	"github.com/actiongate/actiongate/internal/recall"
	"github.com/actiongate/actiongate/internal/tools"
)

// emailTool is a high-risk, credentialed tool with a full description.
type emailTool struct {
	calls atomic.Int32
	err   error
	last  atomic.Value
}

func (t *emailTool) Name() string               { return "send_email" }
func (t *emailTool) Description() string        { return "Send an email" }
func (t *emailTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *emailTool) Tier() int                  { return tools.TierHighRisk }
func (t *emailTool) ActionType() string         { return tools.ActionEmail }
func (t *emailTool) RequiresCredential() bool   { return true }
func (t *emailTool) Describe(p map[string]any) string {
	return "Send an email\n*To:* " + strings.Join(tools.GetStrings(p, "to"), ", ") +
		"\n*Subject:* " + tools.GetString(p, "subject", "") + "\n*Body:*\n" + tools.GetString(p, "body", "")
}
func (t *emailTool) Execute(ctx context.Context, p map[string]any) (string, error) {
	t.calls.Add(1)
	t.last.Store(tools.ExecFrom(ctx))
	if t.err != nil {
		return "", t.err
	}
	return "Email sent to " + strings.Join(tools.GetStrings(p, "to"), ", "), nil
}

// agendaTool is read-only.
type agendaTool struct{ calls atomic.Int32 }

func (t *agendaTool) Name() string               { return "list_calendar_events" }
func (t *agendaTool) Description() string        { return "List events" }
func (t *agendaTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *agendaTool) Tier() int                  { return tools.TierReadOnly }
func (t *agendaTool) Execute(context.Context, map[string]any) (string, error) {
	t.calls.Add(1)
	return "09:00 Standup", nil
}

type fakeChat struct {
	mu    sync.Mutex
	calls int
	reqs  []*provider.ChatRequest
	fn    func(req *provider.ChatRequest) (*provider.ChatResponse, error)
}

func (f *fakeChat) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	f.mu.Lock()
	f.calls++
	f.reqs = append(f.reqs, req)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return &provider.ChatResponse{Content: "Hello!"}, nil
	}
	return fn(req)
}

func (f *fakeChat) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func replyWith(content string) func(*provider.ChatRequest) (*provider.ChatResponse, error) {
	return func(*provider.ChatRequest) (*provider.ChatResponse, error) {
		return &provider.ChatResponse{Content: content}, nil
	}
}

func callTool(name string, args map[string]any) func(*provider.ChatRequest) (*provider.ChatResponse, error) {
	return func(*provider.ChatRequest) (*provider.ChatResponse, error) {
		return &provider.ChatResponse{ToolCalls: []provider.ToolCall{{ID: "c1", Name: name, Arguments: args}}}, nil
	}
}

type fakeModel struct {
	mu        sync.Mutex
	decision  string
	need      string
	summary   string
	genErr    error
	classErr  error
	classCall map[string]int
}

func (m *fakeModel) Classify(_ context.Context, _ string, s *provider.Schema) (gjson.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.classCall == nil {
		m.classCall = map[string]int{}
	}
	m.classCall[s.Name]++
	if m.classErr != nil {
		return gjson.Result{}, m.classErr
	}
	switch s.Name {
	case "confirmation_reply":
		return gjson.Parse(`{"decision":"` + m.decision + `"}`), nil
	default:
		need := m.need
		if need == "" {
			need = "none"
		}
		return gjson.Parse(`{"kind":"` + need + `","confidence":0.9}`), nil
	}
}

func (m *fakeModel) Generate(context.Context, string, string) (string, error) {
	if m.genErr != nil {
		return "", m.genErr
	}
	if m.summary == "" {
		return "All set.", nil
	}
	return m.summary, nil
}

func (m *fakeModel) calls(schema string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.classCall[schema]
}

type fakeHistory struct {
	mu   sync.Mutex
	msgs []recall.Message
	err  error
}

func (h *fakeHistory) add(m recall.Message) {
	h.mu.Lock()
	h.msgs = append(h.msgs, m)
	h.mu.Unlock()
}

func (h *fakeHistory) ReadRecent(_ context.Context, _ string, limit int, keep func(recall.Message) bool) ([]recall.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	var out []recall.Message
	for _, m := range h.msgs {
		if keep == nil || keep(m) {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (h *fakeHistory) ReadThread(ctx context.Context, ch, _ string, limit int) ([]recall.Message, error) {
	return h.ReadRecent(ctx, ch, limit, nil)
}

func (h *fakeHistory) Search(ctx context.Context, _ string, opts recall.SearchOptions) ([]recall.Message, error) {
	return h.ReadRecent(ctx, "", opts.Limit, nil)
}

type recordingReplier struct {
	mu   sync.Mutex
	msgs []*bus.OutboundMessage
	// history mirrors bot replies into the channel history like the platform would.
	history *fakeHistory
}

func (r *recordingReplier) Reply(_ context.Context, msg *bus.OutboundMessage) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	if r.history != nil {
		r.history.add(recall.Message{UserID: "UBOT", BotID: "BBOT", Text: msg.Content, TS: time.Now().Format("150405.000000")})
	}
	return nil
}

func (r *recordingReplier) all() []*bus.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*bus.OutboundMessage(nil), r.msgs...)
}

func (r *recordingReplier) last(t *testing.T) *bus.OutboundMessage {
	t.Helper()
	all := r.all()
	if len(all) == 0 {
		t.Fatalf("no replies sent")
	}
	return all[len(all)-1]
}

type fakeIdentity struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (f *fakeIdentity) BotIdentity(context.Context) (Identity, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return Identity{}, f.err
	}
	return Identity{UserID: "UBOT", BotID: "BBOT", TeamID: "T1"}, nil
}

type fakeTokens struct {
	has bool
	err error
}

func (f fakeTokens) GetValidToken(context.Context, string, string) (string, error) {
	if !f.has {
		return "", errors.New("no token")
	}
	return "tok-123", nil
}

func (f fakeTokens) HasValidTokens(context.Context, string, string) (bool, error) {
	return f.has, f.err
}

type harness struct {
	gw       *Gateway
	chat     *fakeChat
	model    *fakeModel
	history  *fakeHistory
	replies  *recordingReplier
	email    *emailTool
	agenda   *agendaTool
	identity *fakeIdentity
	manager  *approval.Manager
}

type harnessOption func(*Options, *fakeTokens)

func withPolicy(p string) harnessOption {
	return func(o *Options, _ *fakeTokens) { o.AmbiguousPolicy = p }
}

func withTTL(d time.Duration) harnessOption {
	return func(o *Options, _ *fakeTokens) { o.ConfirmationTTL = d }
}

func withoutToken() harnessOption {
	return func(_ *Options, tk *fakeTokens) { tk.has = false }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		chat:     &fakeChat{},
		model:    &fakeModel{},
		history:  &fakeHistory{},
		email:    &emailTool{},
		agenda:   &agendaTool{},
		identity: &fakeIdentity{},
	}
	h.replies = &recordingReplier{history: h.history}

	o := Options{ConfirmationTTL: time.Minute, ProposalScanLimit: 10}
	tk := fakeTokens{has: true}
	for _, fn := range opts {
		fn(&o, &tk)
	}

	reg := tools.NewRegistry()
	reg.Register(h.email)
	reg.Register(h.agenda)

	disp := dispatch.New(reg, tk, nil, h.model)
	h.manager = approval.NewManager(nil, nil)
	h.gw = New(o, Deps{
		Replier:       h.replies,
		Dedup:         NewDeduplicator(100, 50),
		Filter:        NewFilter(h.identity),
		Classifier:    recall.NewClassifier(h.model),
		Retriever:     recall.NewRetriever(h.history, h.model, 20, 10),
		Intents:       NewIntentResolver(h.chat, reg),
		Proposals:     proposal.NewGenerator(reg, policy.NewDefaultEngine(), nil),
		Confirmations: h.manager,
		Dispatcher:    disp,
		History:       h.history,
		Model:         h.model,
		Registry:      reg,
		Tokens:        tk,
	})
	return h
}

var tsSeq atomic.Int64

func dm(text string) *bus.InboundEvent {
	n := tsSeq.Add(1)
	return &bus.InboundEvent{
		Type:        bus.EventMessage,
		UserID:      "U1",
		TeamID:      "T1",
		ChannelID:   "D1",
		ChannelType: bus.ChannelTypeIM,
		Text:        text,
		TS:          time.Unix(1_700_000_000+n, 0).Format("20060102150405") + ".0001",
	}
}

// send delivers a user message and mirrors it into history first, like Slack does.
func (h *harness) send(ev *bus.InboundEvent) {
	h.history.add(recall.Message{UserID: ev.UserID, Text: ev.Text, TS: ev.TS})
	h.gw.HandleEvent(context.Background(), ev)
}

func (h *harness) press(actionID, confirmationID, user string) {
	h.gw.HandleAction(context.Background(), &bus.ActionEvent{
		ActionID:  actionID,
		Value:     confirmationID,
		UserID:    user,
		TeamID:    "T1",
		ChannelID: "D1",
	})
}

// stagedID returns the confirmation id carried by the last reply's buttons.
func (h *harness) stagedID(t *testing.T) string {
	t.Helper()
	msg := h.replies.last(t)
	if len(msg.Blocks) == 0 {
		t.Fatalf("last reply has no blocks: %q", msg.Content)
	}
	buttons := msg.Blocks[len(msg.Blocks)-1].Buttons
	if len(buttons) != 2 {
		t.Fatalf("expected confirm/cancel buttons, got %+v", buttons)
	}
	return buttons[0].Value
}

var emailArgs = map[string]any{
	"to":      []any{"dana@example.com"},
	"subject": "Weekly report",
	"body":    "Hi Dana,\nNumbers are attached.\nThanks",
}
