package cli

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/actiongate/actiongate/internal/config"
	"github.com/actiongate/actiongate/internal/credentials"
	"github.com/actiongate/actiongate/internal/timeline"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage per-user Google account tokens",
}

var (
	tokTeam      string
	tokUser      string
	tokAccess    string
	tokRefresh   string
	tokEmail     string
	tokScope     string
	tokExpiresIn time.Duration
	tokNoQR      bool
)

var tokensSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store an access token for a Slack user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		if strings.TrimSpace(tokAccess) == "" {
			return errors.New("--access is required")
		}
		tok := &credentials.OAuthToken{
			Provider: credentials.ProviderGoogle,
			Access:   strings.TrimSpace(tokAccess),
			Refresh:  strings.TrimSpace(tokRefresh),
			Email:    strings.TrimSpace(tokEmail),
			Scope:    strings.TrimSpace(tokScope),
		}
		if tokExpiresIn > 0 {
			tok.Expires = time.Now().Add(tokExpiresIn).Unix()
		}
		return withTimeline(func(tl *timeline.TimelineService) error {
			if err := tl.SaveToken(cmd.Context(), tokTeam, tokUser, tok); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s stored token for %s/%s\n", color.GreenString("✓"), tokTeam, tokUser)
			return nil
		})
	},
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored tokens (secrets are never printed)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withTimeline(func(tl *timeline.TimelineService) error {
			infos, err := tl.ListTokens(cmd.Context())
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tokens stored.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TEAM\tUSER\tPROVIDER\tEMAIL\tEXPIRES")
			for _, ti := range infos {
				expires := "never"
				if !ti.ExpiresAt.IsZero() {
					expires = ti.ExpiresAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ti.TeamID, ti.UserID, ti.Provider, ti.Email, expires)
			}
			return tw.Flush()
		})
	},
}

var tokensRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Delete the stored token for a Slack user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		return withTimeline(func(tl *timeline.TimelineService) error {
			if err := tl.RevokeToken(cmd.Context(), tokTeam, tokUser, credentials.ProviderGoogle); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked token for %s/%s\n", tokTeam, tokUser)
			return nil
		})
	},
}

var tokensConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Print the Google consent link (and QR code) for a Slack user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		link, err := consentURL(cfg.Google, tokTeam, tokUser)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Send this link to %s:\n%s\n", tokUser, link)
		if !tokNoQR {
			q, err := qrcode.New(link, qrcode.Medium)
			if err != nil {
				return fmt.Errorf("render qr: %w", err)
			}
			fmt.Fprintln(out, q.ToSmallString(false))
		}
		return nil
	},
}

var tokensCompleteCmd = &cobra.Command{
	Use:   "complete <code-or-callback-url>",
	Short: "Exchange an authorization code from the consent page and store the token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		code, err := authorizationCode(args[0], tokTeam, tokUser)
		if err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if strings.TrimSpace(cfg.Google.ClientID) == "" {
			return errors.New("google.clientId is not configured")
		}
		tok, err := googleOAuth(cfg.Google).Exchange(cmd.Context(), code)
		if err != nil {
			return err
		}
		if tokEmail != "" {
			tok.Email = strings.TrimSpace(tokEmail)
		}
		return withTimeline(func(tl *timeline.TimelineService) error {
			if err := tl.SaveToken(cmd.Context(), tokTeam, tokUser, tok); err != nil {
				return err
			}
			refresh := "no refresh token"
			if tok.Refresh != "" {
				refresh = "refresh token stored"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s connected %s/%s (%s)\n", color.GreenString("✓"), tokTeam, tokUser, refresh)
			return nil
		})
	},
}

// authorizationCode accepts either the bare code or the full redirect URL the
// browser landed on. A state in the URL must name the same team and user.
func authorizationCode(arg, team, user string) (string, error) {
	arg = strings.TrimSpace(arg)
	if !strings.Contains(arg, "://") {
		if arg == "" {
			return "", errors.New("authorization code is empty")
		}
		return arg, nil
	}
	u, err := url.Parse(arg)
	if err != nil {
		return "", fmt.Errorf("parse callback url: %w", err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("consent was not granted: %s", e)
	}
	if state := q.Get("state"); state != "" && state != team+":"+user {
		return "", fmt.Errorf("callback is for %s, not %s:%s", state, team, user)
	}
	code := q.Get("code")
	if code == "" {
		return "", errors.New("callback url carries no code")
	}
	return code, nil
}

func googleOAuth(g config.GoogleConfig) *credentials.OAuthClient {
	tokenURL := g.TokenURL
	if strings.TrimSpace(tokenURL) == "" {
		tokenURL = credentials.DefaultGoogleTokenURL
	}
	c := &credentials.OAuthClient{
		TokenURL:     tokenURL,
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		RedirectURL:  g.RedirectURL,
	}
	if g.TimeoutSecs > 0 {
		c.HTTPClient = &http.Client{Timeout: time.Duration(g.TimeoutSecs) * time.Second}
	}
	return c
}

// consentURL builds the offline-access authorization link. state carries team:user
// so the callback can store the resulting token for the right person.
func consentURL(g config.GoogleConfig, team, user string) (string, error) {
	if strings.TrimSpace(g.ClientID) == "" {
		return "", errors.New("google.clientId is not configured")
	}
	if strings.TrimSpace(g.RedirectURL) == "" {
		return "", errors.New("google.redirectUrl is not configured")
	}
	u, err := url.Parse(g.AuthURL)
	if err != nil {
		return "", fmt.Errorf("google.authUrl: %w", err)
	}
	q := u.Query()
	q.Set("client_id", g.ClientID)
	q.Set("redirect_uri", g.RedirectURL)
	q.Set("response_type", "code")
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	q.Set("scope", strings.Join(g.Scopes, " "))
	q.Set("state", team+":"+user)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func requireUser() error {
	if strings.TrimSpace(tokTeam) == "" || strings.TrimSpace(tokUser) == "" {
		return errors.New("--team and --user are required")
	}
	return nil
}

func withTimeline(fn func(*timeline.TimelineService) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	tl, err := openTimeline(cfg)
	if err != nil {
		return err
	}
	defer tl.Close()
	return fn(tl)
}

func init() {
	for _, c := range []*cobra.Command{tokensSetCmd, tokensRevokeCmd, tokensConnectCmd, tokensCompleteCmd} {
		c.Flags().StringVar(&tokTeam, "team", "", "Slack team id")
		c.Flags().StringVar(&tokUser, "user", "", "Slack user id")
	}
	tokensSetCmd.Flags().StringVar(&tokAccess, "access", "", "OAuth access token")
	tokensSetCmd.Flags().StringVar(&tokRefresh, "refresh", "", "OAuth refresh token")
	tokensSetCmd.Flags().StringVar(&tokEmail, "email", "", "Account email")
	tokensSetCmd.Flags().StringVar(&tokScope, "scope", "", "Granted scopes")
	tokensSetCmd.Flags().DurationVar(&tokExpiresIn, "expires-in", 0, "Token lifetime (0 = no expiry)")
	tokensCompleteCmd.Flags().StringVar(&tokEmail, "email", "", "Account email")
	tokensConnectCmd.Flags().BoolVar(&tokNoQR, "no-qr", false, "Do not print a QR code")

	tokensCmd.AddCommand(tokensSetCmd, tokensListCmd, tokensRevokeCmd, tokensConnectCmd, tokensCompleteCmd)
}
