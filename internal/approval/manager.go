// Package approval holds staged actions until their owner confirms or rejects them.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/actiongate/actiongate/internal/bus"
	"github.com/actiongate/actiongate/internal/proposal"
	"github.com/actiongate/actiongate/internal/timeline"
	"github.com/actiongate/actiongate/internal/tools"
)

// Status of a confirmation. Expiry is not a status: expired entries are absent.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
)

var (
	ErrNotFound        = errors.New("confirmation not found")
	ErrExpired         = errors.New("confirmation expired")
	ErrAlreadyResolved = errors.New("confirmation already resolved")
	ErrNotYetApproved  = errors.New("confirmation not yet approved")
	ErrNotOwner        = errors.New("confirmation belongs to another user")
)

// Owner identifies who may resolve a confirmation.
type Owner struct {
	TeamID string `json:"team_id"`
	UserID string `json:"user_id"`
}

// Confirmation is one staged proposal awaiting a decision.
type Confirmation struct {
	ID          string             `json:"id"`
	TraceID     string             `json:"trace_id"`
	Owner       Owner              `json:"owner"`
	ChannelID   string             `json:"channel_id"`
	ThreadTS    string             `json:"thread_ts,omitempty"`
	Proposal    *proposal.Proposal `json:"proposal"`
	Operations  []tools.Operation  `json:"operations"`
	Status      Status             `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
	RespondedAt *time.Time         `json:"responded_at,omitempty"`
	RespondedBy string             `json:"responded_by,omitempty"`
	ExecutedAt  *time.Time         `json:"executed_at,omitempty"`
}

// Interaction rebuilds the requester context the confirmation was created for.
func (c Confirmation) Interaction() bus.InteractionContext {
	return bus.InteractionContext{
		TraceID:   c.TraceID,
		TeamID:    c.Owner.TeamID,
		UserID:    c.Owner.UserID,
		ChannelID: c.ChannelID,
		ThreadTS:  c.ThreadTS,
		IsDirect:  true,
	}
}

// Executor runs the operations of a confirmed proposal.
type Executor interface {
	ExecuteConfirmation(ctx context.Context, c Confirmation) []tools.Result
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, c Confirmation) []tools.Result

func (f ExecutorFunc) ExecuteConfirmation(ctx context.Context, c Confirmation) []tools.Result {
	return f(ctx, c)
}

// Recorder persists the confirmation trail. Failures are logged, never surfaced.
type Recorder interface {
	InsertConfirmation(ctx context.Context, rec *timeline.ConfirmationRecord) error
	UpdateConfirmationStatus(ctx context.Context, id, status string, at time.Time) error
	MarkConfirmationExecuted(ctx context.Context, id string, at time.Time) error
	ExpireStaleConfirmations(ctx context.Context) (int64, error)
}

// Manager is the process-wide confirmation store.
type Manager struct {
	mu       sync.Mutex
	items    map[string]*Confirmation
	exec     Executor
	recorder Recorder
	now      func() time.Time
}

// NewManager creates a manager. recorder may be nil. Pending rows left by a
// previous process are marked expired.
func NewManager(exec Executor, recorder Recorder) *Manager {
	m := &Manager{
		items:    make(map[string]*Confirmation),
		exec:     exec,
		recorder: recorder,
		now:      time.Now,
	}
	m.cleanupStale()
	return m
}

// SetExecutor installs the executor after construction.
func (m *Manager) SetExecutor(exec Executor) {
	m.mu.Lock()
	m.exec = exec
	m.mu.Unlock()
}

func (m *Manager) cleanupStale() {
	if m.recorder == nil {
		return
	}
	if n, err := m.recorder.ExpireStaleConfirmations(context.Background()); err != nil {
		slog.Warn("expire stale confirmations", "error", err)
	} else if n > 0 {
		slog.Info("expired confirmations from previous run", "count", n)
	}
}

// Create stages p for the requester in ictx. The result is always pending.
func (m *Manager) Create(p *proposal.Proposal, ictx bus.InteractionContext, ttl time.Duration) *Confirmation {
	now := m.now()
	c := &Confirmation{
		ID:         uuid.NewString(),
		TraceID:    ictx.TraceID,
		Owner:      Owner{TeamID: ictx.TeamID, UserID: ictx.UserID},
		ChannelID:  ictx.ChannelID,
		ThreadTS:   ictx.ThreadTS,
		Proposal:   p,
		Operations: p.Operations,
		Status:     StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	m.mu.Lock()
	m.items[c.ID] = c
	m.mu.Unlock()

	if m.recorder != nil {
		ops, _ := json.Marshal(c.Operations)
		rec := &timeline.ConfirmationRecord{
			ConfirmationID: c.ID,
			TraceID:        c.TraceID,
			TeamID:         c.Owner.TeamID,
			UserID:         c.Owner.UserID,
			ChannelID:      c.ChannelID,
			ActionType:     p.ActionType,
			Title:          p.Title,
			Operations:     string(ops),
			Status:         string(StatusPending),
			CreatedAt:      c.CreatedAt,
			ExpiresAt:      c.ExpiresAt,
		}
		if err := m.recorder.InsertConfirmation(context.Background(), rec); err != nil {
			slog.Warn("persist confirmation", "id", c.ID, "error", err)
		}
	}
	snap := *c
	return &snap
}

// Get returns a snapshot of a live confirmation. Expired entries are absent.
func (m *Manager) Get(id string) (*Confirmation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok || !m.now().Before(c.ExpiresAt) {
		return nil, false
	}
	snap := *c
	return &snap, true
}

// Respond performs the single terminal transition out of pending.
// Expiry is checked before status, so an expired entry is reported expired
// whatever happened to it before.
func (m *Manager) Respond(id string, approve bool, responder Owner) (*Confirmation, error) {
	m.mu.Lock()
	c, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	now := m.now()
	if !now.Before(c.ExpiresAt) {
		m.mu.Unlock()
		return nil, ErrExpired
	}
	if c.Status != StatusPending {
		m.mu.Unlock()
		return nil, ErrAlreadyResolved
	}
	if responder.UserID != c.Owner.UserID || (responder.TeamID != "" && responder.TeamID != c.Owner.TeamID) {
		m.mu.Unlock()
		return nil, ErrNotOwner
	}
	c.Status = StatusRejected
	if approve {
		c.Status = StatusConfirmed
	}
	c.RespondedAt = &now
	c.RespondedBy = responder.UserID
	snap := *c
	m.mu.Unlock()

	if m.recorder != nil {
		if err := m.recorder.UpdateConfirmationStatus(context.Background(), id, string(snap.Status), now); err != nil {
			slog.Warn("persist confirmation status", "id", id, "error", err)
		}
	}
	return &snap, nil
}

// Execute runs a confirmed proposal exactly once.
func (m *Manager) Execute(ctx context.Context, id string) ([]tools.Result, error) {
	m.mu.Lock()
	c, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	now := m.now()
	switch {
	case c.Status == StatusPending && !now.Before(c.ExpiresAt):
		m.mu.Unlock()
		return nil, ErrExpired
	case c.Status == StatusPending:
		m.mu.Unlock()
		return nil, ErrNotYetApproved
	case c.Status == StatusRejected, c.ExecutedAt != nil:
		m.mu.Unlock()
		return nil, ErrAlreadyResolved
	}
	c.ExecutedAt = &now
	snap := *c
	exec := m.exec
	m.mu.Unlock()

	if exec == nil {
		return nil, errors.New("no executor configured")
	}
	results := exec.ExecuteConfirmation(ctx, snap)
	if m.recorder != nil {
		if err := m.recorder.MarkConfirmationExecuted(context.Background(), id, now); err != nil {
			slog.Warn("persist confirmation execution", "id", id, "error", err)
		}
	}
	return results, nil
}

// Prune drops expired entries and returns how many were removed.
func (m *Manager) Prune(now time.Time) int {
	var expiredPending []string
	m.mu.Lock()
	n := 0
	for id, c := range m.items {
		if now.Before(c.ExpiresAt) {
			continue
		}
		if c.Status == StatusPending {
			expiredPending = append(expiredPending, id)
		}
		delete(m.items, id)
		n++
	}
	m.mu.Unlock()

	if m.recorder != nil {
		for _, id := range expiredPending {
			if err := m.recorder.UpdateConfirmationStatus(context.Background(), id, "expired", now); err != nil {
				slog.Warn("persist confirmation expiry", "id", id, "error", err)
			}
		}
	}
	return n
}

// Run prunes on every tick until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if n := m.Prune(t); n > 0 {
				slog.Debug("pruned confirmations", "count", n)
			}
		}
	}
}

// Len returns the number of cached confirmations, expired ones included until pruned.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
