package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// SendEmailTool sends a message from the requester's mailbox.
type SendEmailTool struct{ api *GoogleAPI }

func (t *SendEmailTool) Name() string             { return "send_email" }
func (t *SendEmailTool) Tier() int                { return TierHighRisk }
func (t *SendEmailTool) ActionType() string       { return ActionEmail }
func (t *SendEmailTool) RequiresCredential() bool { return true }
func (t *SendEmailTool) Reversible() bool         { return false }

func (t *SendEmailTool) Description() string {
	return "Send an email from the user's mailbox."
}

func (t *SendEmailTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to":      schemaStringList("Recipient email addresses"),
			"cc":      schemaStringList("Optional CC addresses"),
			"subject": schemaString("Subject line"),
			"body":    schemaString("Plain-text body"),
		},
		"required": []string{"to", "subject", "body"},
	}
}

func (t *SendEmailTool) Describe(params map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Send an email\n*To:* %s\n", orNone(strings.Join(GetStrings(params, "to"), ", ")))
	if cc := GetStrings(params, "cc"); len(cc) > 0 {
		fmt.Fprintf(&b, "*Cc:* %s\n", strings.Join(cc, ", "))
	}
	fmt.Fprintf(&b, "*Subject:* %s\n*Body:*\n%s", orNone(GetString(params, "subject", "")), orNone(GetString(params, "body", "")))
	return b.String()
}

func (t *SendEmailTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	to := GetStrings(params, "to")
	if len(to) == 0 {
		return "", fmt.Errorf("send_email: at least one recipient is required")
	}
	raw := buildRFC822(to, GetStrings(params, "cc"), GetString(params, "subject", ""), GetString(params, "body", ""))
	payload := map[string]string{"raw": base64.URLEncoding.EncodeToString([]byte(raw))}
	data, err := t.api.do(ctx, http.MethodPost, t.api.APIBase+"/gmail/v1/users/me/messages/send", payload)
	if err != nil {
		return "", fmt.Errorf("send_email: %w", err)
	}
	var resp struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(data, &resp)
	return fmt.Sprintf("Email sent to %s (id %s)", strings.Join(to, ", "), resp.ID), nil
}

func buildRFC822(to, cc []string, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	if len(cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(cc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(body)
	return b.String()
}

// ListEmailsTool lists recent messages matching a mailbox query.
type ListEmailsTool struct{ api *GoogleAPI }

func (t *ListEmailsTool) Name() string             { return "list_emails" }
func (t *ListEmailsTool) Tier() int                { return TierReadOnly }
func (t *ListEmailsTool) ActionType() string       { return ActionEmail }
func (t *ListEmailsTool) RequiresCredential() bool { return true }

func (t *ListEmailsTool) Description() string {
	return "List messages in the user's mailbox, optionally filtered by a search query."
}

func (t *ListEmailsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":       schemaString("Optional mailbox search query, e.g. from:alice is:unread"),
			"max_results": schemaInt("Maximum number of messages (default 10, max 50)"),
		},
	}
}

func (t *ListEmailsTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	q := url.Values{}
	q.Set("maxResults", strconv.Itoa(clamp(GetInt(params, "max_results", 10), 1, 50)))
	if query := strings.TrimSpace(GetString(params, "query", "")); query != "" {
		q.Set("q", query)
	}
	data, err := t.api.do(ctx, http.MethodGet, t.api.APIBase+"/gmail/v1/users/me/messages?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("list_emails: %w", err)
	}
	var resp struct {
		Messages []struct {
			ID       string `json:"id"`
			ThreadID string `json:"threadId"`
		} `json:"messages"`
		ResultSizeEstimate int `json:"resultSizeEstimate"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("list_emails: parse response: %w", err)
	}
	if len(resp.Messages) == 0 {
		return "No matching messages.", nil
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.ID)
	}
	return fmt.Sprintf("%d matching messages: %s", len(ids), strings.Join(ids, ", ")), nil
}
