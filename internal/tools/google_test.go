package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestAPI(t *testing.T, h http.HandlerFunc) *GoogleAPI {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewGoogleAPI(srv.URL, srv.URL, 5*time.Second)
}

func authed(token string) context.Context {
	return WithExec(context.Background(), ExecContext{TeamID: "T1", UserID: "U1", Token: token})
}

func TestSendEmailPostsRawMessage(t *testing.T) {
	var gotRaw string
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gmail/v1/users/me/messages/send" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		decoded, _ := base64.URLEncoding.DecodeString(body["raw"])
		gotRaw = string(decoded)
		_, _ = w.Write([]byte(`{"id":"m1"}`))
	})
	tool := &SendEmailTool{api: api}
	out, err := tool.Execute(authed("tok"), map[string]any{
		"to":      []any{"bob@example.com"},
		"subject": "Q3 numbers",
		"body":    "See attached.",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "m1") {
		t.Fatalf("expected message id in output, got %q", out)
	}
	if !strings.Contains(gotRaw, "To: bob@example.com") || !strings.Contains(gotRaw, "Subject: Q3 numbers") {
		t.Fatalf("unexpected raw message %q", gotRaw)
	}
}

func TestSendEmailDescribeRestatesEverything(t *testing.T) {
	body := strings.Repeat("long body line\n", 200)
	desc := (&SendEmailTool{}).Describe(map[string]any{
		"to":      []any{"a@x.com", "b@x.com"},
		"cc":      "c@x.com",
		"subject": "Plan",
		"body":    body,
	})
	for _, want := range []string{"a@x.com, b@x.com", "c@x.com", "Plan", body} {
		if !strings.Contains(desc, want) {
			t.Fatalf("description missing %q", want[:min(len(want), 30)])
		}
	}
}

func TestGoogleAPIUnauthorized(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := (&ListEmailsTool{api: api}).Execute(authed("expired"), nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestGoogleAPIMissingToken(t *testing.T) {
	api := NewGoogleAPI("http://127.0.0.1:1", "", time.Second)
	_, err := (&ListEventsTool{api: api}).Execute(context.Background(), nil)
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}

func TestCreateEventSendsAttendees(t *testing.T) {
	var got map[string]any
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calendar/v3/calendars/primary/events" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"e1","htmlLink":"https://cal/e1"}`))
	})
	out, err := (&CreateEventTool{api: api}).Execute(authed("tok"), map[string]any{
		"title":     "Sync",
		"start":     "2026-10-20T10:00:00Z",
		"end":       "2026-10-20T10:30:00Z",
		"attendees": []any{"bob@example.com"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "https://cal/e1") {
		t.Fatalf("expected link in output, got %q", out)
	}
	attendees, _ := got["attendees"].([]any)
	if len(attendees) != 1 {
		t.Fatalf("expected one attendee, got %v", got["attendees"])
	}
}

func TestListEventsFormatsItems(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("timeMin") != "2026-10-20T00:00:00Z" {
			t.Errorf("expected timeMin passthrough, got %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"items":[{"summary":"Standup","start":{"dateTime":"2026-10-20T09:00:00Z"}}]}`))
	})
	out, err := (&ListEventsTool{api: api}).Execute(authed("tok"), map[string]any{"time_min": "2026-10-20T00:00:00Z"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "- 2026-10-20T09:00:00Z: Standup" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSearchAndCreateContact(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/people:searchContacts":
			_, _ = w.Write([]byte(`{"results":[{"person":{"names":[{"displayName":"Ana"}],"emailAddresses":[{"value":"ana@x.com"}]}}]}`))
		case "/v1/people:createContact":
			_, _ = w.Write([]byte(`{"resourceName":"people/c1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	out, err := (&SearchContactsTool{api: api}).Execute(authed("tok"), map[string]any{"query": "ana"})
	if err != nil || !strings.Contains(out, "ana@x.com") {
		t.Fatalf("search: %q %v", out, err)
	}
	out, err = (&CreateContactTool{api: api}).Execute(authed("tok"), map[string]any{"name": "Ana", "email": "ana@x.com"})
	if err != nil || !strings.Contains(out, "people/c1") {
		t.Fatalf("create: %q %v", out, err)
	}
}

func TestRegisterGoogleTools(t *testing.T) {
	r := NewRegistry()
	RegisterGoogleTools(r, NewGoogleAPI("", "", 0))
	if len(r.List()) != 6 {
		t.Fatalf("expected 6 tools, got %d", len(r.List()))
	}
	send, _ := r.Get("send_email")
	if ToolTier(send) != TierHighRisk || !NeedsCredential(send) {
		t.Fatal("send_email must be high risk and credentialed")
	}
	list, _ := r.Get("list_emails")
	if ToolTier(list) != TierReadOnly {
		t.Fatal("list_emails must be read-only")
	}
}
