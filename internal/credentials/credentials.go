// Package credentials defines per-user OAuth tokens and the resolver the dispatcher reads them through.
package credentials

import (
	"context"
	"errors"
	"time"
)

// ProviderGoogle is the provider id for the Google Workspace tools.
const ProviderGoogle = "google"

// ErrNoToken is returned when the user has never connected an account.
var ErrNoToken = errors.New("no stored token")

// OAuthToken represents a stored OAuth credential for one user.
type OAuthToken struct {
	Provider string `json:"provider"`
	Access   string `json:"access_token"`
	Refresh  string `json:"refresh_token,omitempty"`
	Expires  int64  `json:"expires_at"`
	Email    string `json:"email,omitempty"`
	Scope    string `json:"scope,omitempty"`
}

// IsExpired reports whether the token is expired (with a 60-second grace margin).
// A zero expiry means the token does not expire.
func IsExpired(t *OAuthToken, now time.Time) bool {
	if t == nil || t.Access == "" {
		return true
	}
	if t.Expires == 0 {
		return false
	}
	return now.Unix() >= t.Expires-60
}

// Resolver hands out access tokens for a (team, user) pair.
type Resolver interface {
	// GetValidToken returns a non-expired access token or ErrNoToken.
	GetValidToken(ctx context.Context, teamID, userID string) (string, error)
	// HasValidTokens reports whether the user has any non-expired token.
	HasValidTokens(ctx context.Context, teamID, userID string) (bool, error)
}
