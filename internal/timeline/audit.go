package timeline

import (
	"context"
	"strings"
	"time"
)

// AppendAudit records one dispatched operation.
func (s *TimelineService) AppendAudit(ctx context.Context, rec *AuditRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO action_audit
		(trace_id, confirmation_id, team_id, user_id, channel_id, operation, success, failure_class, error_text, output, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID, rec.ConfirmationID, rec.TeamID, rec.UserID, rec.ChannelID,
		rec.Operation, rec.Success, rec.FailureClass, rec.ErrorText, rec.Output,
		rec.Duration.Milliseconds(), rec.CreatedAt.Unix())
	if err != nil {
		return err
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

// ListAudit returns audit rows newest first.
func (s *TimelineService) ListAudit(ctx context.Context, f AuditFilter) ([]AuditRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.TraceID != "" {
		where = append(where, "trace_id = ?")
		args = append(args, f.TraceID)
	}
	if f.TeamID != "" {
		where = append(where, "team_id = ?")
		args = append(args, f.TeamID)
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	q := `SELECT id, COALESCE(trace_id,''), COALESCE(confirmation_id,''), COALESCE(team_id,''), COALESCE(user_id,''),
		COALESCE(channel_id,''), operation, success, COALESCE(failure_class,''), COALESCE(error_text,''),
		COALESCE(output,''), duration_ms, created_at FROM action_audit`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			r               AuditRecord
			durMS, created int64
		)
		if err := rows.Scan(&r.ID, &r.TraceID, &r.ConfirmationID, &r.TeamID, &r.UserID,
			&r.ChannelID, &r.Operation, &r.Success, &r.FailureClass, &r.ErrorText,
			&r.Output, &durMS, &created); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.CreatedAt = time.Unix(created, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}
