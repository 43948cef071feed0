// Package config provides configuration types and loading for actiongate.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Slack, Model, Providers, Gateway, Google, Storage, Audit, Logging.
type Config struct {
	Slack     SlackConfig     `json:"slack"`
	Model     ModelConfig     `json:"model"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Google    GoogleConfig    `json:"google"`
	Storage   StorageConfig   `json:"storage"`
	Audit     AuditConfig     `json:"audit"`
	Logging   LoggingConfig   `json:"logging"`
}

// ---------------------------------------------------------------------------
// Slack – chat platform
// ---------------------------------------------------------------------------

// SlackConfig configures the Slack app connection.
type SlackConfig struct {
	BotToken      string `json:"botToken" envconfig:"BOT_TOKEN"`
	AppToken      string `json:"appToken" envconfig:"APP_TOKEN"`
	SigningSecret string `json:"signingSecret" envconfig:"SIGNING_SECRET"`
	// UserToken enables search.messages, which bot tokens cannot call.
	UserToken string `json:"userToken,omitempty" envconfig:"USER_TOKEN"`
	// SocketMode receives events over a websocket instead of the HTTP Events API.
	SocketMode bool   `json:"socketMode" envconfig:"SOCKET_MODE"`
	APIURL     string `json:"apiUrl,omitempty" envconfig:"API_URL"`
	// PostsPerSecond throttles chat.postMessage calls across all conversations.
	PostsPerSecond float64 `json:"postsPerSecond" envconfig:"POSTS_PER_SECOND"`
	PostBurst      int     `json:"postBurst" envconfig:"POST_BURST"`
}

// ---------------------------------------------------------------------------
// Model – LLM behaviour
// ---------------------------------------------------------------------------

// ModelConfig groups language-model settings.
type ModelConfig struct {
	Name        string  `json:"name" envconfig:"MODEL"`
	MaxTokens   int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature float64 `json:"temperature" envconfig:"TEMPERATURE"`
}

// ProvidersConfig contains LLM provider credentials.
type ProvidersConfig struct {
	OpenAI ProviderConfig `json:"openai"`
}

// ProviderConfig configures an OpenAI-compatible endpoint.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
}

// ---------------------------------------------------------------------------
// Gateway – pipeline behaviour
// ---------------------------------------------------------------------------

// Ambiguous reply policies for free-text confirmations.
const (
	AmbiguousConfirm = "confirm"
	AmbiguousReject  = "reject"
	AmbiguousClarify = "clarify"
)

// GatewayConfig contains the HTTP listener and pipeline tuning.
type GatewayConfig struct {
	Host string `json:"host" envconfig:"HOST"`
	Port int    `json:"port" envconfig:"PORT"`

	DedupCapacity   int `json:"dedupCapacity" envconfig:"DEDUP_CAPACITY"`
	DedupEvictBatch int `json:"dedupEvictBatch" envconfig:"DEDUP_EVICT_BATCH"`

	ConfirmationTTLSeconds int `json:"confirmationTtlSeconds" envconfig:"CONFIRMATION_TTL_SECONDS"`
	PruneIntervalSeconds   int `json:"pruneIntervalSeconds" envconfig:"PRUNE_INTERVAL_SECONDS"`
	// AmbiguousReplyPolicy decides what an unclear yes/no reply does: confirm, reject or clarify.
	AmbiguousReplyPolicy string `json:"ambiguousReplyPolicy" envconfig:"AMBIGUOUS_REPLY_POLICY"`

	HistoryLimit      int `json:"historyLimit" envconfig:"HISTORY_LIMIT"`
	SearchLimit       int `json:"searchLimit" envconfig:"SEARCH_LIMIT"`
	ProposalScanLimit int `json:"proposalScanLimit" envconfig:"PROPOSAL_SCAN_LIMIT"`
	DisplayLimit      int `json:"displayLimit" envconfig:"DISPLAY_LIMIT"`

	RedirectNotice string   `json:"redirectNotice" envconfig:"REDIRECT_NOTICE"`
	AllowedSenders []string `json:"allowedSenders" envconfig:"ALLOWED_SENDERS"`
}

// ConfirmationTTL returns the confirmation lifetime as a duration.
func (g GatewayConfig) ConfirmationTTL() time.Duration {
	return time.Duration(g.ConfirmationTTLSeconds) * time.Second
}

// PruneInterval returns how often expired confirmations are swept.
func (g GatewayConfig) PruneInterval() time.Duration {
	return time.Duration(g.PruneIntervalSeconds) * time.Second
}

// ---------------------------------------------------------------------------
// Google – domain tool backends
// ---------------------------------------------------------------------------

// GoogleConfig points the mail, calendar and contacts tools at their APIs.
type GoogleConfig struct {
	APIBase       string   `json:"apiBase" envconfig:"API_BASE"`
	PeopleAPIBase string   `json:"peopleApiBase" envconfig:"PEOPLE_API_BASE"`
	ClientID      string   `json:"clientId" envconfig:"CLIENT_ID"`
	ClientSecret  string   `json:"clientSecret" envconfig:"CLIENT_SECRET"`
	RedirectURL   string   `json:"redirectUrl" envconfig:"REDIRECT_URL"`
	AuthURL       string   `json:"authUrl" envconfig:"AUTH_URL"`
	TokenURL      string   `json:"tokenUrl" envconfig:"TOKEN_URL"`
	Scopes        []string `json:"scopes" envconfig:"SCOPES"`
	TimeoutSecs   int      `json:"timeoutSeconds" envconfig:"TIMEOUT_SECONDS"`
}

// ---------------------------------------------------------------------------
// Storage / Audit / Logging
// ---------------------------------------------------------------------------

// StorageConfig locates the token and audit database.
type StorageConfig struct {
	DBPath string `json:"dbPath" envconfig:"DB_PATH"`
	// KeyBackend selects where the token encryption key lives: file, keyring or auto.
	KeyBackend string `json:"keyBackend" envconfig:"KEY_BACKEND"`
}

// AuditConfig configures the dispatched-action audit stream.
type AuditConfig struct {
	Enabled      bool     `json:"enabled" envconfig:"ENABLED"`
	KafkaBrokers []string `json:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `json:"kafkaTopic" envconfig:"KAFKA_TOPIC"`

	// SASLMechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512; empty disables SASL.
	SASLMechanism string `json:"saslMechanism,omitempty" envconfig:"SASL_MECHANISM"`
	SASLUsername  string `json:"saslUsername,omitempty" envconfig:"SASL_USERNAME"`
	SASLPassword  string `json:"saslPassword,omitempty" envconfig:"SASL_PASSWORD"`
	TLS           bool   `json:"tls,omitempty" envconfig:"TLS"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level      string `json:"level" envconfig:"LEVEL"`
	Format     string `json:"format" envconfig:"FORMAT"`
	File       string `json:"file,omitempty" envconfig:"FILE"`
	MaxSizeMB  int    `json:"maxSizeMb" envconfig:"MAX_SIZE_MB"`
	MaxBackups int    `json:"maxBackups" envconfig:"MAX_BACKUPS"`
	MaxAgeDays int    `json:"maxAgeDays" envconfig:"MAX_AGE_DAYS"`
}

// DefaultRedirectNotice is sent when someone addresses the bot outside a direct message.
const DefaultRedirectNotice = "I only take requests in direct messages. Send me a DM and I'll help from there."

// DefaultConfig returns a new Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Slack: SlackConfig{
			PostsPerSecond: 1,
			PostBurst:      4,
		},
		Model: ModelConfig{
			Name:        "anthropic/claude-sonnet-4-5",
			MaxTokens:   2048,
			Temperature: 0.2,
		},
		Gateway: GatewayConfig{
			Host:                   "127.0.0.1",
			Port:                   18791,
			DedupCapacity:          1000,
			DedupEvictBatch:        500,
			ConfirmationTTLSeconds: 600,
			PruneIntervalSeconds:   60,
			AmbiguousReplyPolicy:   AmbiguousConfirm,
			HistoryLimit:           20,
			SearchLimit:            10,
			ProposalScanLimit:      10,
			DisplayLimit:           3000,
			RedirectNotice:         DefaultRedirectNotice,
		},
		Google: GoogleConfig{
			APIBase:       "https://www.googleapis.com",
			PeopleAPIBase: "https://people.googleapis.com",
			AuthURL:       "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:      "https://oauth2.googleapis.com/token",
			Scopes: []string{
				"https://www.googleapis.com/auth/gmail.modify",
				"https://www.googleapis.com/auth/calendar.events",
				"https://www.googleapis.com/auth/contacts",
			},
			TimeoutSecs: 30,
		},
		Storage: StorageConfig{
			DBPath:     "~/.actiongate/actiongate.db",
			KeyBackend: "file",
		},
		Audit: AuditConfig{
			KafkaTopic: "actiongate.actions",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}
