package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/actiongate/actiongate/internal/approval"
	"github.com/actiongate/actiongate/internal/audit"
	"github.com/actiongate/actiongate/internal/bus"
	"github.com/actiongate/actiongate/internal/credentials"
	"github.com/actiongate/actiongate/internal/tools"
)

type fnTool struct {
	name string
	fn   func(ctx context.Context, params map[string]any) (string, error)
}

func (t fnTool) Name() string               { return t.name }
func (t fnTool) Description() string        { return t.name }
func (t fnTool) Parameters() map[string]any { return nil }
func (t fnTool) Execute(ctx context.Context, p map[string]any) (string, error) {
	return t.fn(ctx, p)
}

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) GetValidToken(context.Context, string, string) (string, error) {
	return s.token, s.err
}

func (s staticTokens) HasValidTokens(context.Context, string, string) (bool, error) {
	return s.token != "", s.err
}

type recordingAudit struct {
	events []audit.Event
	err    error
}

func (r *recordingAudit) Publish(_ context.Context, ev audit.Event) error {
	r.events = append(r.events, ev)
	return r.err
}
func (r *recordingAudit) Close() error { return nil }

type stubWriter struct {
	out    string
	err    error
	prompt string
}

func (w *stubWriter) Generate(_ context.Context, _, prompt string) (string, error) {
	w.prompt = prompt
	return w.out, w.err
}

func testICtx() bus.InteractionContext {
	return bus.InteractionContext{TraceID: "tr-1", TeamID: "T1", UserID: "U1", ChannelID: "D1", IsDirect: true}
}

func registry(ts ...tools.Tool) *tools.Registry {
	reg := tools.NewRegistry()
	for _, t := range ts {
		reg.Register(t)
	}
	return reg
}

func TestDispatchSequentialWithToken(t *testing.T) {
	var order []string
	mk := func(name string) tools.Tool {
		return fnTool{name: name, fn: func(ctx context.Context, _ map[string]any) (string, error) {
			ec := tools.ExecFrom(ctx)
			order = append(order, name+":"+ec.Token+":"+ec.UserID)
			return name + " ok", nil
		}}
	}
	pub := &recordingAudit{}
	d := New(registry(mk("a"), mk("b"), mk("c")), staticTokens{token: "tok"}, pub, nil)

	res := d.Dispatch(context.Background(), []tools.Operation{{Tool: "c"}, {Tool: "a"}, {Tool: "b"}}, testICtx())
	require.Len(t, res, 3)
	require.Equal(t, []string{"c:tok:U1", "a:tok:U1", "b:tok:U1"}, order)
	for _, r := range res {
		require.True(t, r.Success)
	}
	require.Len(t, pub.events, 3)
	require.Equal(t, "tr-1", pub.events[0].TraceID)
}

func TestDispatchWithoutTokenStillRuns(t *testing.T) {
	called := false
	tool := fnTool{name: "list_emails", fn: func(ctx context.Context, _ map[string]any) (string, error) {
		called = true
		require.Empty(t, tools.ExecFrom(ctx).Token)
		return "", tools.ErrNoCredential
	}}
	d := New(registry(tool), staticTokens{err: credentials.ErrNoToken}, nil, nil)
	res := d.Dispatch(context.Background(), []tools.Operation{{Tool: "list_emails"}}, testICtx())
	require.True(t, called)
	require.False(t, res[0].Success)
	require.Equal(t, tools.FailureAuth, res[0].Class)
}

func TestDispatchFirewallCatchesPanics(t *testing.T) {
	boom := fnTool{name: "boom", fn: func(context.Context, map[string]any) (string, error) {
		var m map[string]int
		m["x"]++
		return "", nil
	}}
	after := fnTool{name: "after", fn: func(context.Context, map[string]any) (string, error) { return "fine", nil }}
	d := New(registry(boom, after), nil, nil, nil)

	res := d.Dispatch(context.Background(), []tools.Operation{{Tool: "boom"}, {Tool: "after"}}, testICtx())
	require.Len(t, res, 2)
	require.False(t, res[0].Success)
	require.Contains(t, res[0].Error, "panicked")
	require.Equal(t, tools.FailureUnknown, res[0].Class)
	require.True(t, res[1].Success)
}

func TestDispatchUnknownTool(t *testing.T) {
	d := New(registry(), nil, nil, nil)
	res := d.Dispatch(context.Background(), []tools.Operation{{Tool: "ghost"}}, testICtx())
	require.False(t, res[0].Success)
	require.Contains(t, res[0].Error, "ghost")
}

func TestDispatchAuditFailureIsNotFatal(t *testing.T) {
	tool := fnTool{name: "t", fn: func(context.Context, map[string]any) (string, error) { return "ok", nil }}
	d := New(registry(tool), nil, &recordingAudit{err: errors.New("kafka down")}, nil)
	res := d.Dispatch(context.Background(), []tools.Operation{{Tool: "t"}}, testICtx())
	require.True(t, res[0].Success)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("send_email: %w", tools.ErrUnauthorized), tools.FailureAuth},
		{credentials.ErrNoToken, tools.FailureAuth},
		{errors.New(`oauth2: "invalid_grant"`), tools.FailureAuth},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), tools.FailureTimeout},
		{fmt.Errorf("dial: %w", timeoutErr{}), tools.FailureTimeout},
		{errors.New("bad request"), tools.FailureUnknown},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Classify(tc.err), tc.err.Error())
	}
	require.Empty(t, Classify(nil))
}

func TestExecuteConfirmationCarriesConfirmationID(t *testing.T) {
	tool := fnTool{name: "send_email", fn: func(context.Context, map[string]any) (string, error) { return "sent", nil }}
	pub := &recordingAudit{}
	d := New(registry(tool), nil, pub, nil)
	c := approval.Confirmation{
		ID:         "c-1",
		TraceID:    "tr-9",
		Owner:      approval.Owner{TeamID: "T1", UserID: "U1"},
		ChannelID:  "D1",
		Operations: []tools.Operation{{Tool: "send_email"}},
		Status:     approval.StatusConfirmed,
		ExpiresAt:  time.Now().Add(time.Minute),
	}
	res := d.ExecuteConfirmation(context.Background(), c)
	require.True(t, res[0].Success)
	require.Equal(t, "c-1", pub.events[0].ConfirmationID)
	require.Equal(t, "tr-9", pub.events[0].TraceID)
}

func TestRespondUsesSummary(t *testing.T) {
	w := &stubWriter{out: "  Sent your email to Bob.  "}
	d := New(registry(), nil, nil, w)
	res := d.Respond(context.Background(), []tools.Result{{Operation: "send_email", Success: true, Output: "Email sent to bob"}}, testICtx())
	require.False(t, res.Degraded())
	require.Equal(t, "Sent your email to Bob.", res.Value)
	require.Contains(t, w.prompt, "Email sent to bob")
}

func TestRespondFallbackIsTemplated(t *testing.T) {
	d := New(registry(), nil, nil, &stubWriter{err: errors.New("model down")})
	results := []tools.Result{
		{Operation: "create_calendar_event", Success: true, Output: "Event created"},
		{Operation: "send_email", Success: false, Error: "panic: runtime error at main.go:12", Class: tools.FailureUnknown},
	}
	res := d.Respond(context.Background(), results, testICtx())
	require.True(t, res.Degraded())
	require.Contains(t, res.Value, "1 of 2 actions went through.")
	require.Contains(t, res.Value, "Event created")
	require.Contains(t, res.Value, "Send email failed: something went wrong")
	require.NotContains(t, res.Value, "main.go")
}

func TestRespondAuthFailureCarriesReconnectHint(t *testing.T) {
	tool := fnTool{name: "send_email", fn: func(context.Context, map[string]any) (string, error) {
		return "", fmt.Errorf("send_email: %w", tools.ErrUnauthorized)
	}}
	for _, w := range []*stubWriter{{out: "That didn't work."}, {err: errors.New("down")}} {
		d := New(registry(tool), staticTokens{token: "expired"}, nil, w)
		results := d.Dispatch(context.Background(), []tools.Operation{{Tool: "send_email"}}, testICtx())
		require.False(t, results[0].Success)

		msg := d.Respond(context.Background(), results, testICtx()).Value
		require.Contains(t, msg, "reconnect your account")
		require.NotContains(t, msg, "goroutine")
		require.Equal(t, 1, strings.Count(msg, DefaultReconnectHint))
	}
}

func TestRespondEmpty(t *testing.T) {
	d := New(registry(), nil, nil, &stubWriter{err: errors.New("unused")})
	res := d.Respond(context.Background(), nil, testICtx())
	require.False(t, res.Degraded())
	require.NotEmpty(t, res.Value)
}
