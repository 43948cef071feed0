package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

type tokenServer struct {
	mu    sync.Mutex
	forms []url.Values
	reply func(form url.Values) (int, map[string]any)
}

func (s *tokenServer) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("unexpected content type %q", ct)
		}
		_ = r.ParseForm()
		s.mu.Lock()
		s.forms = append(s.forms, r.PostForm)
		s.mu.Unlock()
		status, body := s.reply(r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOAuthClientExchange(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := &tokenServer{reply: func(url.Values) (int, map[string]any) {
		return http.StatusOK, map[string]any{"access_token": "ya29.new", "refresh_token": "1//r", "expires_in": 3600, "scope": "gmail"}
	}}
	srv := ts.start(t)
	c := &OAuthClient{TokenURL: srv.URL, ClientID: "cid", ClientSecret: "sec", RedirectURL: "https://gate/cb", Now: func() time.Time { return now }}

	tok, err := c.Exchange(context.Background(), " code-1 ")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if tok.Access != "ya29.new" || tok.Refresh != "1//r" || tok.Provider != ProviderGoogle || tok.Scope != "gmail" {
		t.Fatalf("unexpected token %+v", tok)
	}
	if tok.Expires != now.Add(time.Hour).Unix() {
		t.Fatalf("expires = %d", tok.Expires)
	}
	form := ts.forms[0]
	if form.Get("grant_type") != "authorization_code" || form.Get("code") != "code-1" ||
		form.Get("client_id") != "cid" || form.Get("client_secret") != "sec" || form.Get("redirect_uri") != "https://gate/cb" {
		t.Fatalf("unexpected form %v", form)
	}
}

func TestOAuthClientExchangeErrors(t *testing.T) {
	ts := &tokenServer{reply: func(url.Values) (int, map[string]any) {
		return http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Bad Request"}
	}}
	srv := ts.start(t)
	c := &OAuthClient{TokenURL: srv.URL, ClientID: "cid"}

	_, err := c.Exchange(context.Background(), "stale")
	if err == nil || !strings.Contains(err.Error(), "invalid_grant") {
		t.Fatalf("expected invalid_grant, got %v", err)
	}
	if _, err := c.Exchange(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty code")
	}
}

func TestOAuthClientRefreshKeepsRefreshToken(t *testing.T) {
	ts := &tokenServer{reply: func(url.Values) (int, map[string]any) {
		return http.StatusOK, map[string]any{"access_token": "ya29.fresh", "expires_in": 60}
	}}
	srv := ts.start(t)
	c := &OAuthClient{TokenURL: srv.URL, ClientID: "cid"}

	old := &OAuthToken{Provider: ProviderGoogle, Access: "ya29.old", Refresh: "1//keep", Email: "dana@example.com", Scope: "gmail"}
	tok, err := c.Refresh(context.Background(), old)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tok.Access != "ya29.fresh" || tok.Refresh != "1//keep" || tok.Email != "dana@example.com" || tok.Scope != "gmail" {
		t.Fatalf("unexpected refreshed token %+v", tok)
	}
	if f := ts.forms[0]; f.Get("grant_type") != "refresh_token" || f.Get("refresh_token") != "1//keep" {
		t.Fatalf("unexpected form %v", f)
	}
	if _, err := c.Refresh(context.Background(), &OAuthToken{Access: "x"}); !errors.Is(err, ErrRefreshUnavailable) {
		t.Fatalf("expected ErrRefreshUnavailable, got %v", err)
	}
}
