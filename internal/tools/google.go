package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GoogleAPI is the shared HTTP client behind the mail, calendar and contacts tools.
type GoogleAPI struct {
	APIBase    string
	PeopleBase string
	HTTP       *http.Client
}

// NewGoogleAPI builds a client for the given API roots.
func NewGoogleAPI(apiBase, peopleBase string, timeout time.Duration) *GoogleAPI {
	if apiBase == "" {
		apiBase = "https://www.googleapis.com"
	}
	if peopleBase == "" {
		peopleBase = "https://people.googleapis.com"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GoogleAPI{
		APIBase:    strings.TrimSuffix(apiBase, "/"),
		PeopleBase: strings.TrimSuffix(peopleBase, "/"),
		HTTP:       &http.Client{Timeout: timeout},
	}
}

// RegisterGoogleTools adds every Google-backed tool to r.
func RegisterGoogleTools(r *Registry, api *GoogleAPI) {
	r.Register(&SendEmailTool{api: api})
	r.Register(&ListEmailsTool{api: api})
	r.Register(&CreateEventTool{api: api})
	r.Register(&ListEventsTool{api: api})
	r.Register(&SearchContactsTool{api: api})
	r.Register(&CreateContactTool{api: api})
}

// do sends an authenticated JSON request and returns the raw response body.
// 401 and 403 are reported as ErrUnauthorized.
func (g *GoogleAPI) do(ctx context.Context, method, rawURL string, body any) ([]byte, error) {
	token := strings.TrimSpace(ExecFrom(ctx).Token)
	if token == "" {
		return nil, ErrNoCredential
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := g.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: provider API status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("provider API status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func clamp(v, minV, maxV int) int {
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}

func schemaString(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func schemaStringList(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}

func schemaInt(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
