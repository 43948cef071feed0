package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// Schema is a compiled JSON schema used to constrain structured output.
type Schema struct {
	Name     string
	Source   string
	compiled *jsonschema.Schema
}

// CompileSchema compiles src under the given name.
func CompileSchema(name, src string) (*Schema, error) {
	s, err := jsonschema.CompileString("https://actiongate.local/schemas/"+name+".json", src)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{Name: name, Source: src, compiled: s}, nil
}

// MustSchema is CompileSchema for package-level schemas.
func MustSchema(name, src string) *Schema {
	s, err := CompileSchema(name, src)
	if err != nil {
		panic(err)
	}
	return s
}

// Structured wraps an LLMProvider with schema-constrained classification and
// free-form generation.
type Structured struct {
	LLM         LLMProvider
	Model       string
	MaxTokens   int
	Temperature float64
}

// NewStructured wraps llm.
func NewStructured(llm LLMProvider, model string, maxTokens int, temperature float64) *Structured {
	return &Structured{LLM: llm, Model: model, MaxTokens: maxTokens, Temperature: temperature}
}

// Classify asks the model for a JSON object matching schema and returns it as
// a gjson result. Output that does not parse or validate is ErrMalformedOutput.
func (s *Structured) Classify(ctx context.Context, prompt string, schema *Schema) (gjson.Result, error) {
	system := "You are a strict classifier. Reply with exactly one JSON object that validates against this JSON schema and nothing else:\n" + schema.Source
	resp, err := s.LLM.Chat(ctx, &ChatRequest{
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Model:       s.Model,
		MaxTokens:   s.MaxTokens,
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		return gjson.Result{}, err
	}
	raw := extractJSONObject(resp.Content)
	if !gjson.Valid(raw) {
		return gjson.Result{}, fmt.Errorf("%w: %s not valid JSON", ErrMalformedOutput, schema.Name)
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := schema.compiled.Validate(doc); err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %s: %v", ErrMalformedOutput, schema.Name, err)
	}
	return gjson.Parse(raw), nil
}

// Generate returns a free-form completion for prompt.
func (s *Structured) Generate(ctx context.Context, system, prompt string) (string, error) {
	msgs := make([]Message, 0, 2)
	if system != "" {
		msgs = append(msgs, Message{Role: "system", Content: system})
	}
	msgs = append(msgs, Message{Role: "user", Content: prompt})
	resp, err := s.LLM.Chat(ctx, &ChatRequest{
		Messages:    msgs,
		Model:       s.Model,
		MaxTokens:   s.MaxTokens,
		Temperature: s.Temperature,
	})
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

// Chat passes a tool-enabled request through with the wrapper's defaults.
func (s *Structured) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = s.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = s.MaxTokens
	}
	return s.LLM.Chat(ctx, req)
}

// extractJSONObject strips code fences and surrounding prose.
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return strings.TrimSpace(s)
	}
	return s[start : end+1]
}
