package timeline

import "time"

// Schema is applied on every open; statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS oauth_tokens (
	team_id       TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	provider      TEXT NOT NULL,
	access_token  BLOB NOT NULL,
	refresh_token BLOB,
	scope         TEXT DEFAULT '',
	email         TEXT DEFAULT '',
	expires_at    INTEGER NOT NULL DEFAULT 0,
	updated_at    INTEGER NOT NULL,
	PRIMARY KEY (team_id, user_id, provider)
);

CREATE TABLE IF NOT EXISTS confirmations (
	confirmation_id TEXT PRIMARY KEY,
	trace_id        TEXT,
	team_id         TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	channel_id      TEXT,
	action_type     TEXT,
	title           TEXT,
	operations      TEXT,
	status          TEXT NOT NULL DEFAULT 'pending',
	created_at      INTEGER NOT NULL,
	expires_at      INTEGER NOT NULL,
	responded_at    INTEGER,
	executed_at     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_confirmations_status ON confirmations(status);

CREATE TABLE IF NOT EXISTS action_audit (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id        TEXT,
	confirmation_id TEXT,
	team_id         TEXT,
	user_id         TEXT,
	channel_id      TEXT,
	operation       TEXT NOT NULL,
	success         BOOLEAN NOT NULL,
	failure_class   TEXT DEFAULT '',
	error_text      TEXT DEFAULT '',
	output          TEXT DEFAULT '',
	duration_ms     INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_audit_trace ON action_audit(trace_id);
CREATE INDEX IF NOT EXISTS idx_action_audit_user ON action_audit(team_id, user_id);
`

// ConfirmationRecord is the persisted trail of one confirmation.
type ConfirmationRecord struct {
	ConfirmationID string     `json:"confirmation_id"`
	TraceID        string     `json:"trace_id"`
	TeamID         string     `json:"team_id"`
	UserID         string     `json:"user_id"`
	ChannelID      string     `json:"channel_id"`
	ActionType     string     `json:"action_type"`
	Title          string     `json:"title"`
	Operations     string     `json:"operations"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	RespondedAt    *time.Time `json:"responded_at,omitempty"`
	ExecutedAt     *time.Time `json:"executed_at,omitempty"`
}

// AuditRecord is one dispatched operation.
type AuditRecord struct {
	ID             int64         `json:"id"`
	TraceID        string        `json:"trace_id"`
	ConfirmationID string        `json:"confirmation_id,omitempty"`
	TeamID         string        `json:"team_id"`
	UserID         string        `json:"user_id"`
	ChannelID      string        `json:"channel_id"`
	Operation      string        `json:"operation"`
	Success        bool          `json:"success"`
	FailureClass   string        `json:"failure_class,omitempty"`
	ErrorText      string        `json:"error_text,omitempty"`
	Output         string        `json:"output,omitempty"`
	Duration       time.Duration `json:"duration"`
	CreatedAt      time.Time     `json:"created_at"`
}

// AuditFilter narrows ListAudit.
type AuditFilter struct {
	TraceID string
	TeamID  string
	UserID  string
	Limit   int
}

// TokenInfo describes a stored token without its secret material.
type TokenInfo struct {
	TeamID    string    `json:"team_id"`
	UserID    string    `json:"user_id"`
	Provider  string    `json:"provider"`
	Email     string    `json:"email,omitempty"`
	Scope     string    `json:"scope,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
