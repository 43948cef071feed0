package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultGoogleTokenURL is Google's OAuth 2.0 token endpoint.
const DefaultGoogleTokenURL = "https://oauth2.googleapis.com/token"

// ErrRefreshUnavailable is returned when an expired token has no refresh token.
var ErrRefreshUnavailable = errors.New("token expired and cannot be refreshed")

// OAuthClient exchanges authorization codes and refresh tokens at a token endpoint.
type OAuthClient struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	HTTPClient   *http.Client
	Now          func() time.Time
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorDesc    string `json:"error_description,omitempty"`
}

// Exchange trades an authorization code for a token.
func (c *OAuthClient) Exchange(ctx context.Context, code string) (*OAuthToken, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.New("token exchange: empty authorization code")
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.RedirectURL)
	raw, err := c.post(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	return c.toToken(raw, ""), nil
}

// Refresh returns a new access token for tok. The refresh token is carried
// over when the endpoint does not rotate it.
func (c *OAuthClient) Refresh(ctx context.Context, tok *OAuthToken) (*OAuthToken, error) {
	if tok == nil || strings.TrimSpace(tok.Refresh) == "" {
		return nil, ErrRefreshUnavailable
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", tok.Refresh)
	raw, err := c.post(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("token refresh: %w", err)
	}
	out := c.toToken(raw, tok.Refresh)
	out.Provider = tok.Provider
	out.Email = tok.Email
	if out.Scope == "" {
		out.Scope = tok.Scope
	}
	return out, nil
}

func (c *OAuthClient) post(ctx context.Context, form url.Values) (*tokenResponse, error) {
	form.Set("client_id", c.ClientID)
	if c.ClientSecret != "" {
		form.Set("client_secret", c.ClientSecret)
	}
	endpoint := c.TokenURL
	if endpoint == "" {
		endpoint = DefaultGoogleTokenURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Error != "" {
			return nil, fmt.Errorf("%s (%s)", out.Error, out.ErrorDesc)
		}
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return nil, errors.New("response missing access_token")
	}
	return &out, nil
}

func (c *OAuthClient) toToken(raw *tokenResponse, prevRefresh string) *OAuthToken {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	tok := &OAuthToken{
		Provider: ProviderGoogle,
		Access:   raw.AccessToken,
		Refresh:  prevRefresh,
		Scope:    raw.Scope,
	}
	if strings.TrimSpace(raw.RefreshToken) != "" {
		tok.Refresh = raw.RefreshToken
	}
	if raw.ExpiresIn > 0 {
		tok.Expires = now().Add(time.Duration(raw.ExpiresIn) * time.Second).Unix()
	}
	return tok
}
