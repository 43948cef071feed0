// Package audit records every dispatched operation to the local timeline and, optionally, a Kafka topic.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/actiongate/actiongate/internal/timeline"
)

// Event is one dispatched operation outcome.
type Event struct {
	TraceID        string    `json:"trace_id"`
	ConfirmationID string    `json:"confirmation_id,omitempty"`
	TeamID         string    `json:"team_id"`
	UserID         string    `json:"user_id"`
	ChannelID      string    `json:"channel_id"`
	Operation      string    `json:"operation"`
	Success        bool      `json:"success"`
	FailureClass   string    `json:"failure_class,omitempty"`
	Error          string    `json:"error,omitempty"`
	Output         string    `json:"output,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
	Timestamp      time.Time `json:"ts"`
}

// Publisher accepts audit events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi fans an event out to several publishers. Every sink is tried.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Store is the subset of the timeline the sink writes to.
type Store interface {
	AppendAudit(ctx context.Context, rec *timeline.AuditRecord) error
}

// TimelineSink persists events into the local action_audit table.
type TimelineSink struct {
	Store Store
}

func (s TimelineSink) Publish(ctx context.Context, ev Event) error {
	return s.Store.AppendAudit(ctx, &timeline.AuditRecord{
		TraceID:        ev.TraceID,
		ConfirmationID: ev.ConfirmationID,
		TeamID:         ev.TeamID,
		UserID:         ev.UserID,
		ChannelID:      ev.ChannelID,
		Operation:      ev.Operation,
		Success:        ev.Success,
		FailureClass:   ev.FailureClass,
		ErrorText:      ev.Error,
		Output:         ev.Output,
		Duration:       time.Duration(ev.DurationMS) * time.Millisecond,
		CreatedAt:      ev.Timestamp,
	})
}

func (TimelineSink) Close() error { return nil }
