// Package timeline persists OAuth tokens, the confirmation trail and the action audit log in SQLite.
package timeline

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"github.com/actiongate/actiongate/internal/credentials"
)

// Sealer encrypts token material at rest.
type Sealer interface {
	Seal(plain []byte) ([]byte, error)
	Open(data []byte) ([]byte, error)
}

// Refresher renews an expired OAuth token.
type Refresher interface {
	Refresh(ctx context.Context, tok *credentials.OAuthToken) (*credentials.OAuthToken, error)
}

type TimelineService struct {
	db        *sql.DB
	sealer    Sealer
	now       func() time.Time
	refresher Refresher
	refreshes singleflight.Group
}

// NewTimelineService opens (or creates) the database at dbPath.
// sealer may be nil, in which case tokens are stored as-is.
func NewTimelineService(dbPath string, sealer Sealer) (*TimelineService, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// Best-effort migration for dbs created before the output column existed.
	_, _ = db.Exec(`ALTER TABLE action_audit ADD COLUMN output TEXT DEFAULT ''`)
	return &TimelineService{db: db, sealer: sealer, now: time.Now}, nil
}

func (s *TimelineService) DB() *sql.DB { return s.db }

// SetRefresher enables renewal of expired tokens that carry a refresh token.
func (s *TimelineService) SetRefresher(r Refresher) { s.refresher = r }

func (s *TimelineService) Close() error {
	return s.db.Close()
}

func unixOrNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Unix()
}

func fromUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}
