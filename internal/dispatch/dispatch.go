// Package dispatch executes approved operations against the domain tools.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"strings"
	"time"

	"github.com/actiongate/actiongate/internal/approval"
	"github.com/actiongate/actiongate/internal/audit"
	"github.com/actiongate/actiongate/internal/bus"
	"github.com/actiongate/actiongate/internal/credentials"
	"github.com/actiongate/actiongate/internal/logging"
	"github.com/actiongate/actiongate/internal/tools"
)

// Writer is the summarization collaborator.
type Writer interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Dispatcher runs operations sequentially and never lets a tool failure escape.
type Dispatcher struct {
	Registry      *tools.Registry
	Tokens        credentials.Resolver
	Audit         audit.Publisher
	Writer        Writer
	ReconnectHint string

	now func() time.Time
}

// DefaultReconnectHint is appended to every reply that contains an auth failure.
const DefaultReconnectHint = "It looks like your Google account isn't connected or the connection has expired. Please reconnect your account and try again."

func New(reg *tools.Registry, tokens credentials.Resolver, pub audit.Publisher, w Writer) *Dispatcher {
	if pub == nil {
		pub = audit.Nop{}
	}
	return &Dispatcher{
		Registry:      reg,
		Tokens:        tokens,
		Audit:         pub,
		Writer:        w,
		ReconnectHint: DefaultReconnectHint,
		now:           time.Now,
	}
}

// Dispatch runs ops in order and returns one result per operation.
func (d *Dispatcher) Dispatch(ctx context.Context, ops []tools.Operation, ictx bus.InteractionContext) []tools.Result {
	return d.run(ctx, ops, ictx, "")
}

// ExecuteConfirmation makes the dispatcher the executor of confirmed proposals.
func (d *Dispatcher) ExecuteConfirmation(ctx context.Context, c approval.Confirmation) []tools.Result {
	return d.run(ctx, c.Operations, c.Interaction(), c.ID)
}

func (d *Dispatcher) run(ctx context.Context, ops []tools.Operation, ictx bus.InteractionContext, confirmationID string) []tools.Result {
	logger := logging.WithInteraction(logging.ForComponent(logging.CompDispatch), ictx.TraceID, ictx.TeamID, ictx.UserID, ictx.ChannelID)
	token := d.resolveToken(ctx, ictx, logger)

	results := make([]tools.Result, 0, len(ops))
	for _, op := range ops {
		r := d.runOne(ctx, op, ictx, token, logger)
		results = append(results, r)
		d.publish(ctx, r, ictx, confirmationID, logger)
	}
	return results
}

func (d *Dispatcher) resolveToken(ctx context.Context, ictx bus.InteractionContext, logger *slog.Logger) string {
	if d.Tokens == nil {
		return ""
	}
	tok, err := d.Tokens.GetValidToken(ctx, ictx.TeamID, ictx.UserID)
	switch {
	case errors.Is(err, credentials.ErrNoToken):
		logger.Debug("no stored token, dispatching without credentials")
	case err != nil:
		logger.Warn("token lookup failed, dispatching without credentials", "error", err)
	}
	return tok
}

func (d *Dispatcher) runOne(ctx context.Context, op tools.Operation, ictx bus.InteractionContext, token string, logger *slog.Logger) (r tools.Result) {
	start := d.now()
	r.Operation = op.Tool
	defer func() {
		if p := recover(); p != nil {
			logger.Error("tool panicked", "tool", op.Tool, "panic", p, "stack", string(debug.Stack()))
			r.Success = false
			r.Output = ""
			r.Error = fmt.Sprintf("tool %s panicked: %v", op.Tool, p)
			r.Class = tools.FailureUnknown
		}
		r.Duration = d.now().Sub(start)
	}()

	tool, ok := d.Registry.Get(op.Tool)
	if !ok {
		r.Error = fmt.Sprintf("tool not found: %s", op.Tool)
		r.Class = tools.FailureUnknown
		return r
	}

	execCtx := tools.WithExec(ctx, tools.ExecContext{TeamID: ictx.TeamID, UserID: ictx.UserID, Token: token})
	out, err := tool.Execute(execCtx, op.Arguments)
	if err != nil {
		r.Error = err.Error()
		r.Class = Classify(err)
		logger.Warn("tool failed", "tool", op.Tool, "class", r.Class, "error", err)
		return r
	}
	r.Success = true
	r.Output = out
	logger.Info("tool succeeded", "tool", op.Tool)
	return r
}

func (d *Dispatcher) publish(ctx context.Context, r tools.Result, ictx bus.InteractionContext, confirmationID string, logger *slog.Logger) {
	ev := audit.Event{
		TraceID:        ictx.TraceID,
		ConfirmationID: confirmationID,
		TeamID:         ictx.TeamID,
		UserID:         ictx.UserID,
		ChannelID:      ictx.ChannelID,
		Operation:      r.Operation,
		Success:        r.Success,
		FailureClass:   r.Class,
		Error:          r.Error,
		Output:         r.Output,
		DurationMS:     r.Duration.Milliseconds(),
		Timestamp:      d.now(),
	}
	if err := d.Audit.Publish(ctx, ev); err != nil {
		logger.Warn("audit publish failed", "tool", r.Operation, "error", err)
	}
}

// Classify maps an execution error to a failure class.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, tools.ErrUnauthorized) || errors.Is(err, credentials.ErrNoToken) {
		return tools.FailureAuth
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return tools.FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return tools.FailureTimeout
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"invalid_grant", "invalid_auth", "token expired", "unauthenticated"} {
		if strings.Contains(msg, marker) {
			return tools.FailureAuth
		}
	}
	return tools.FailureUnknown
}

// HasAuthFailure reports whether any result failed for credential reasons.
func HasAuthFailure(results []tools.Result) bool {
	for _, r := range results {
		if !r.Success && r.Class == tools.FailureAuth {
			return true
		}
	}
	return false
}
