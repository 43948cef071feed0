package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAIProviderDefaults(t *testing.T) {
	p := NewOpenAIProvider("k", "", "")
	if p.DefaultModel() != defaultChatModel || p.apiBase != defaultAPIBase {
		t.Fatalf("unexpected defaults %q %q", p.DefaultModel(), p.apiBase)
	}
	p = NewOpenAIProvider("k", "https://openrouter.ai/api/v1/", "openai/gpt-4o")
	if p.DefaultModel() != "openai/gpt-4o" || p.apiBase != "https://openrouter.ai/api/v1" {
		t.Fatalf("unexpected overrides %q %q", p.DefaultModel(), p.apiBase)
	}
}

func TestOpenAIProviderToolCalls(t *testing.T) {
	var sent map[string]any
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&sent)
		_, _ = w.Write([]byte(`{
		  "choices": [{
		    "finish_reason": "tool_calls",
		    "message": {"role": "assistant", "content": "", "tool_calls": [
		      {"id": "call_1", "type": "function", "function": {"name": "send_email", "arguments": "{\"to\":[\"a@x.com\"],\"subject\":\"hi\"}"}},
		      {"id": "call_2", "type": "function", "function": {"name": "list_calendar_events", "arguments": "not json"}}
		    ]}
		  }],
		  "usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("test-key", server.URL, "test-model")
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "email a"}},
		Tools:    []ToolDefinition{{Type: "function", Function: FunctionDef{Name: "send_email"}}},
		JSONMode: true,
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if auth != "Bearer test-key" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if sent["model"] != "test-model" || sent["tool_choice"] != "auto" || sent["response_format"] == nil {
		t.Fatalf("unexpected request body %v", sent)
	}
	if len(resp.ToolCalls) != 2 || resp.ToolCalls[0].Name != "send_email" || resp.ToolCalls[0].Arguments["subject"] != "hi" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[1].Arguments["raw"] != "not json" {
		t.Fatalf("expected raw arguments to be kept, got %+v", resp.ToolCalls[1].Arguments)
	}
	if resp.Usage.TotalTokens != 15 || resp.FinishReason != "tool_calls" {
		t.Fatalf("unexpected usage %+v", resp)
	}
}

func TestOpenAIProviderRateLimit(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("test-key", server.URL, "")
	_, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if !errors.Is(err, ErrRateLimit) {
		t.Fatalf("expected ErrRateLimit, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 429 || apiErr.RetryAfter != 7*time.Second {
		t.Fatalf("expected APIError 429 with retry hint, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("rate limit should not be retried, got %d calls", calls)
	}
}

func TestOpenAIProviderRetriesServerErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("", server.URL, "")
	p.backoff = time.Millisecond
	resp, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if err != nil || resp.Content != "hello" || calls != 2 {
		t.Fatalf("expected success on retry, got %+v %v after %d calls", resp, err, calls)
	}
}

func TestParseCompletionErrors(t *testing.T) {
	if _, err := parseCompletion([]byte(`{"choices":[]}`)); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
	if _, err := parseCompletion([]byte(`<html>`)); !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
}

type scripted struct {
	content string
	err     error
	last    *ChatRequest
}

func (s *scripted) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &ChatResponse{Content: s.content}, nil
}

func (s *scripted) DefaultModel() string { return "fake" }

var kindSchema = MustSchema("kind", `{
  "type": "object",
  "properties": {"kind": {"enum": ["a", "b"]}, "confidence": {"type": "number"}},
  "required": ["kind"]
}`)

func TestStructuredClassifyValidates(t *testing.T) {
	llm := &scripted{content: "```json\n{\"kind\": \"a\", \"confidence\": 0.9}\n```"}
	s := NewStructured(llm, "m", 100, 0.3)
	res, err := s.Classify(context.Background(), "classify this", kindSchema)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if res.Get("kind").String() != "a" || res.Get("confidence").Float() != 0.9 {
		t.Fatalf("unexpected result %s", res.Raw)
	}
	if !llm.last.JSONMode || llm.last.Temperature != 0 {
		t.Fatalf("classification should use JSON mode at temperature 0: %+v", llm.last)
	}
}

func TestStructuredClassifyRejectsOutOfEnum(t *testing.T) {
	s := NewStructured(&scripted{content: `{"kind": "zzz"}`}, "m", 100, 0)
	if _, err := s.Classify(context.Background(), "x", kindSchema); !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
	s = NewStructured(&scripted{content: `not json at all`}, "m", 100, 0)
	if _, err := s.Classify(context.Background(), "x", kindSchema); !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput for prose, got %v", err)
	}
}

func TestStructuredGenerate(t *testing.T) {
	s := NewStructured(&scripted{content: "  hello  "}, "m", 100, 0.3)
	out, err := s.Generate(context.Background(), "sys", "hi")
	if err != nil || out != "hello" {
		t.Fatalf("unexpected generate %q %v", out, err)
	}
	s = NewStructured(&scripted{content: "   "}, "m", 100, 0.3)
	if _, err := s.Generate(context.Background(), "", "hi"); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestToolDefinitionsConversion(t *testing.T) {
	defs := ToolDefinitions([]map[string]any{
		{"type": "function", "function": map[string]any{"name": "x", "description": "d", "parameters": map[string]any{"type": "object"}}},
		{"type": "function"},
	})
	if len(defs) != 1 || defs[0].Function.Name != "x" {
		t.Fatalf("unexpected conversion %+v", defs)
	}
}
