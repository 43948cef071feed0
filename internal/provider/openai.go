package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultAPIBase   = "https://api.openai.com/v1"
	defaultChatModel = "anthropic/claude-sonnet-4-5"
	maxResponseBytes = 4 << 20
)

// OpenAIProvider talks to any OpenAI-compatible /chat/completions endpoint
// (OpenAI, OpenRouter, local gateways).
type OpenAIProvider struct {
	apiKey     string
	apiBase    string
	model      string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
}

// NewOpenAIProvider returns a provider with a 60s request timeout.
func NewOpenAIProvider(apiKey, apiBase, model string) *OpenAIProvider {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = defaultAPIBase
	}
	if strings.TrimSpace(model) == "" {
		model = defaultChatModel
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		apiBase:    strings.TrimRight(apiBase, "/"),
		model:      model,
		client:     &http.Client{Timeout: 60 * time.Second},
		maxRetries: 2,
		backoff:    300 * time.Millisecond,
	}
}

func (p *OpenAIProvider) DefaultModel() string { return p.model }

// APIError is a non-200 reply from the completion endpoint.
type APIError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion endpoint returned %d: %s", e.Status, e.Body)
}

// Unwrap maps 429 onto ErrRateLimit.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusTooManyRequests {
		return ErrRateLimit
	}
	return nil
}

type wireRequest struct {
	Model          string            `json:"model"`
	Messages       []wireMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Tools          []ToolDefinition  `json:"tools,omitempty"`
	ToolChoice     string            `json:"tool_choice,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func buildWireRequest(model string, req *ChatRequest) wireRequest {
	if req.Model != "" {
		model = req.Model
	}
	out := wireRequest{
		Model:       model,
		Messages:    make([]wireMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			call := wireToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = string(args)
			wm.ToolCalls = append(wm.ToolCalls, call)
		}
		out.Messages = append(out.Messages, wm)
	}
	if len(req.Tools) > 0 {
		out.Tools = req.Tools
		out.ToolChoice = "auto"
	}
	if req.JSONMode {
		out.ResponseFormat = map[string]string{"type": "json_object"}
	}
	return out
}

// Chat sends one completion request. 5xx replies are retried with linear
// backoff; 429 is returned at once so callers can degrade.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	payload, err := json.Marshal(buildWireRequest(p.model, req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * p.backoff):
			}
		}
		body, err := p.post(ctx, payload)
		if err == nil {
			return parseCompletion(body)
		}
		lastErr = err
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Status < 500 {
			return nil, err
		}
	}
	return nil, lastErr
}

func (p *OpenAIProvider) post(ctx context.Context, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return nil, apiErr
	}
	return body, nil
}

// parseCompletion reads the first choice; tool-call arguments that are not
// valid JSON are kept under "raw".
func parseCompletion(body []byte) (*ChatResponse, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("parse response: %w", ErrMalformedOutput)
	}
	root := gjson.ParseBytes(body)
	choice := root.Get("choices.0")
	if !choice.Exists() {
		return nil, ErrEmptyResponse
	}

	out := &ChatResponse{
		Content:      choice.Get("message.content").String(),
		FinishReason: choice.Get("finish_reason").String(),
		Usage: Usage{
			PromptTokens:     int(root.Get("usage.prompt_tokens").Int()),
			CompletionTokens: int(root.Get("usage.completion_tokens").Int()),
			TotalTokens:      int(root.Get("usage.total_tokens").Int()),
		},
	}
	choice.Get("message.tool_calls").ForEach(func(_, tc gjson.Result) bool {
		raw := tc.Get("function.arguments").String()
		var args map[string]any
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				args = map[string]any{"raw": raw}
			}
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.Get("id").String(),
			Name:      tc.Get("function.name").String(),
			Arguments: args,
		})
		return true
	})
	return out, nil
}
