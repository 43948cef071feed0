package timeline

import (
	"context"
	"database/sql"
	"time"
)

// InsertConfirmation persists a new pending confirmation.
func (s *TimelineService) InsertConfirmation(ctx context.Context, rec *ConfirmationRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO confirmations
		(confirmation_id, trace_id, team_id, user_id, channel_id, action_type, title, operations, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ConfirmationID, rec.TraceID, rec.TeamID, rec.UserID, rec.ChannelID,
		rec.ActionType, rec.Title, rec.Operations, rec.Status,
		rec.CreatedAt.Unix(), rec.ExpiresAt.Unix())
	return err
}

// UpdateConfirmationStatus records a terminal transition.
func (s *TimelineService) UpdateConfirmationStatus(ctx context.Context, id, status string, respondedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE confirmations SET status = ?, responded_at = ? WHERE confirmation_id = ?`,
		status, respondedAt.Unix(), id)
	return err
}

// MarkConfirmationExecuted stamps the execution time.
func (s *TimelineService) MarkConfirmationExecuted(ctx context.Context, id string, executedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE confirmations SET executed_at = ? WHERE confirmation_id = ?`,
		executedAt.Unix(), id)
	return err
}

// ExpireStaleConfirmations marks leftover pending rows from a previous process as expired.
func (s *TimelineService) ExpireStaleConfirmations(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE confirmations SET status = 'expired', responded_at = ? WHERE status = 'pending'`,
		s.now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetConfirmation returns the persisted trail for id.
func (s *TimelineService) GetConfirmation(ctx context.Context, id string) (*ConfirmationRecord, error) {
	var (
		r                  ConfirmationRecord
		created, expires   int64
		responded, execued sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT confirmation_id, COALESCE(trace_id,''), team_id, user_id, COALESCE(channel_id,''),
		COALESCE(action_type,''), COALESCE(title,''), COALESCE(operations,''), status, created_at, expires_at, responded_at, executed_at
		FROM confirmations WHERE confirmation_id = ?`, id).Scan(
		&r.ConfirmationID, &r.TraceID, &r.TeamID, &r.UserID, &r.ChannelID,
		&r.ActionType, &r.Title, &r.Operations, &r.Status, &created, &expires, &responded, &execued)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(created, 0)
	r.ExpiresAt = time.Unix(expires, 0)
	r.RespondedAt = fromUnix(responded)
	r.ExecutedAt = fromUnix(execued)
	return &r, nil
}
