package timeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/actiongate/actiongate/internal/credentials"
)

// SaveToken inserts or replaces the token for (team, user, provider).
func (s *TimelineService) SaveToken(ctx context.Context, teamID, userID string, tok *credentials.OAuthToken) error {
	if tok == nil || tok.Access == "" {
		return fmt.Errorf("save token: empty access token")
	}
	provider := tok.Provider
	if provider == "" {
		provider = credentials.ProviderGoogle
	}
	access, err := s.seal([]byte(tok.Access))
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	var refresh []byte
	if tok.Refresh != "" {
		if refresh, err = s.seal([]byte(tok.Refresh)); err != nil {
			return fmt.Errorf("seal refresh token: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO oauth_tokens
		(team_id, user_id, provider, access_token, refresh_token, scope, email, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(team_id, user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			scope = excluded.scope,
			email = excluded.email,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		teamID, userID, provider, access, refresh, tok.Scope, tok.Email, tok.Expires, s.now().Unix())
	return err
}

// GetToken loads the token for (team, user, provider), or credentials.ErrNoToken.
func (s *TimelineService) GetToken(ctx context.Context, teamID, userID, provider string) (*credentials.OAuthToken, error) {
	var (
		access, refresh []byte
		tok             = credentials.OAuthToken{Provider: provider}
	)
	err := s.db.QueryRowContext(ctx, `SELECT access_token, refresh_token, COALESCE(scope,''), COALESCE(email,''), expires_at
		FROM oauth_tokens WHERE team_id = ? AND user_id = ? AND provider = ?`,
		teamID, userID, provider).Scan(&access, &refresh, &tok.Scope, &tok.Email, &tok.Expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credentials.ErrNoToken
	}
	if err != nil {
		return nil, err
	}
	plain, err := s.open(access)
	if err != nil {
		return nil, fmt.Errorf("open access token: %w", err)
	}
	tok.Access = string(plain)
	if len(refresh) > 0 {
		plain, err := s.open(refresh)
		if err != nil {
			return nil, fmt.Errorf("open refresh token: %w", err)
		}
		tok.Refresh = string(plain)
	}
	return &tok, nil
}

// GetValidToken implements credentials.Resolver for the Google provider.
func (s *TimelineService) GetValidToken(ctx context.Context, teamID, userID string) (string, error) {
	tok, err := s.GetToken(ctx, teamID, userID, credentials.ProviderGoogle)
	if err != nil {
		return "", err
	}
	if !credentials.IsExpired(tok, s.now()) {
		return tok.Access, nil
	}
	if s.refresher == nil || tok.Refresh == "" {
		return "", credentials.ErrNoToken
	}
	// Concurrent requests for one user share a single refresh.
	v, err, _ := s.refreshes.Do(teamID+"|"+userID, func() (any, error) {
		fresh, err := s.refresher.Refresh(ctx, tok)
		if err != nil {
			return "", err
		}
		if err := s.SaveToken(ctx, teamID, userID, fresh); err != nil {
			return "", fmt.Errorf("save refreshed token: %w", err)
		}
		return fresh.Access, nil
	})
	if err != nil {
		slog.Warn("token refresh failed", "team", teamID, "user", userID, "error", err)
		return "", errors.Join(credentials.ErrNoToken, err)
	}
	return v.(string), nil
}

// HasValidTokens implements credentials.Resolver.
func (s *TimelineService) HasValidTokens(ctx context.Context, teamID, userID string) (bool, error) {
	_, err := s.GetValidToken(ctx, teamID, userID)
	if errors.Is(err, credentials.ErrNoToken) {
		return false, nil
	}
	return err == nil, err
}

// RevokeToken deletes the stored token. Missing rows are not an error.
func (s *TimelineService) RevokeToken(ctx context.Context, teamID, userID, provider string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE team_id = ? AND user_id = ? AND provider = ?`,
		teamID, userID, provider)
	return err
}

// ListTokens returns metadata for every stored token.
func (s *TimelineService) ListTokens(ctx context.Context) ([]TokenInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT team_id, user_id, provider, COALESCE(email,''), COALESCE(scope,''), expires_at, updated_at
		FROM oauth_tokens ORDER BY team_id, user_id, provider`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TokenInfo
	for rows.Next() {
		var (
			ti               TokenInfo
			expires, updated int64
		)
		if err := rows.Scan(&ti.TeamID, &ti.UserID, &ti.Provider, &ti.Email, &ti.Scope, &expires, &updated); err != nil {
			return nil, err
		}
		if expires > 0 {
			ti.ExpiresAt = time.Unix(expires, 0)
		}
		ti.UpdatedAt = time.Unix(updated, 0)
		out = append(out, ti)
	}
	return out, rows.Err()
}

func (s *TimelineService) seal(b []byte) ([]byte, error) {
	if s.sealer == nil {
		return b, nil
	}
	return s.sealer.Seal(b)
}

func (s *TimelineService) open(b []byte) ([]byte, error) {
	if s.sealer == nil {
		return b, nil
	}
	return s.sealer.Open(b)
}
