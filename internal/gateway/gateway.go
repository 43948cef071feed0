// Package gateway runs the conversational pipeline from inbound chat event to reply.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/actiongate/actiongate/internal/approval"
	"github.com/actiongate/actiongate/internal/bus"
	"github.com/actiongate/actiongate/internal/config"
	"github.com/actiongate/actiongate/internal/credentials"
	"github.com/actiongate/actiongate/internal/dispatch"
	"github.com/actiongate/actiongate/internal/logging"
	"github.com/actiongate/actiongate/internal/proposal"
	"github.com/actiongate/actiongate/internal/recall"
	"github.com/actiongate/actiongate/internal/tools"
)

// InteractionContext is the per-request identity threaded through every stage.
type InteractionContext = bus.InteractionContext

// User-facing messages.
const (
	MsgApology         = "Sorry, something went wrong on my side while handling that. Please try again in a moment."
	MsgDidNotCatch     = "Sorry, I didn't catch that. Could you rephrase?"
	MsgCancelled       = "Okay, I won't do that."
	MsgNotFound        = "I couldn't find that request anymore. Please ask me again."
	MsgExpired         = "That request expired before it was confirmed. Please ask me again if you still want it."
	MsgAlreadyHandled  = "That request has already been handled."
	MsgNotYetApproved  = "That request hasn't been approved yet."
	MsgNotOwner        = "Only the person who made this request can confirm or cancel it."
	MsgNotPermitted    = "You're not allowed to run that action."
	MsgClarify         = "Just to check: reply *yes* to go ahead or *no* to cancel."
	MsgCantRecover     = "I couldn't work out which action you're confirming. Could you restate the request?"
	DefaultConnectHint = "To do that I need access to your Google account, and it isn't connected yet. Ask an admin for a connect link, then try again."
)

// Replier delivers a message to the chat platform.
type Replier interface {
	Reply(ctx context.Context, msg *bus.OutboundMessage) error
}

// BusReplier publishes replies to the outbound bus for the transport to send.
type BusReplier struct {
	Bus     *bus.MessageBus
	Channel string
}

func (r BusReplier) Reply(_ context.Context, msg *bus.OutboundMessage) error {
	if msg.Channel == "" {
		msg.Channel = r.Channel
	}
	r.Bus.PublishOutbound(msg)
	return nil
}

// Options tunes pipeline behaviour.
type Options struct {
	ConfirmationTTL   time.Duration
	DisplayLimit      int
	RedirectNotice    string
	ConnectHint       string
	AmbiguousPolicy   string
	ProposalScanLimit int
}

// OptionsFromConfig maps the gateway config group onto Options.
func OptionsFromConfig(c config.GatewayConfig) Options {
	return Options{
		ConfirmationTTL:   c.ConfirmationTTL(),
		DisplayLimit:      c.DisplayLimit,
		RedirectNotice:    c.RedirectNotice,
		AmbiguousPolicy:   c.AmbiguousReplyPolicy,
		ProposalScanLimit: c.ProposalScanLimit,
	}
}

// Deps are the collaborators and injected stores.
type Deps struct {
	Bus           *bus.MessageBus
	Replier       Replier
	Dedup         *Deduplicator
	Filter        *Filter
	Classifier    *recall.Classifier
	Retriever     *recall.Retriever
	Intents       *IntentResolver
	Proposals     *proposal.Generator
	Confirmations *approval.Manager
	Dispatcher    *dispatch.Dispatcher
	History       recall.History
	Model         recall.Model
	Registry      *tools.Registry
	Tokens        credentials.Resolver
}

// Gateway is the pipeline orchestrator.
type Gateway struct {
	opts          Options
	bus           *bus.MessageBus
	out           Replier
	dedup         *Deduplicator
	filter        *Filter
	classifier    *recall.Classifier
	retriever     *recall.Retriever
	intents       *IntentResolver
	proposals     *proposal.Generator
	confirmations *approval.Manager
	dispatcher    *dispatch.Dispatcher
	freeText      *FreeText
	registry      *tools.Registry
	tokens        credentials.Resolver
	stats         counters
	wg            sync.WaitGroup
}

// New wires the pipeline. Missing stores get defaults; the confirmation
// manager executes through the dispatcher.
func New(opts Options, d Deps) *Gateway {
	if opts.ConfirmationTTL <= 0 {
		opts.ConfirmationTTL = 10 * time.Minute
	}
	if opts.DisplayLimit <= 0 {
		opts.DisplayLimit = proposal.DefaultDisplayLimit
	}
	if opts.RedirectNotice == "" {
		opts.RedirectNotice = config.DefaultRedirectNotice
	}
	if opts.ConnectHint == "" {
		opts.ConnectHint = DefaultConnectHint
	}
	if opts.ProposalScanLimit <= 0 {
		opts.ProposalScanLimit = 10
	}
	if d.Dedup == nil {
		d.Dedup = NewDeduplicator(1000, 500)
	}
	if d.Filter == nil {
		d.Filter = NewFilter(nil)
	}
	var exec approval.Executor
	if d.Dispatcher != nil {
		exec = d.Dispatcher
	}
	if d.Confirmations == nil {
		d.Confirmations = approval.NewManager(exec, nil)
	} else {
		d.Confirmations.SetExecutor(exec)
	}
	if d.Replier == nil && d.Bus != nil {
		d.Replier = BusReplier{Bus: d.Bus, Channel: "slack"}
	}
	return &Gateway{
		opts:          opts,
		bus:           d.Bus,
		out:           d.Replier,
		dedup:         d.Dedup,
		filter:        d.Filter,
		classifier:    d.Classifier,
		retriever:     d.Retriever,
		intents:       d.Intents,
		proposals:     d.Proposals,
		confirmations: d.Confirmations,
		dispatcher:    d.Dispatcher,
		freeText: &FreeText{
			History:   d.History,
			Model:     d.Model,
			Policy:    opts.AmbiguousPolicy,
			ScanLimit: opts.ProposalScanLimit,
		},
		registry: d.Registry,
		tokens:   d.Tokens,
	}
}

// Confirmations exposes the store for the prune loop and status reporting.
func (g *Gateway) Confirmations() *approval.Manager { return g.confirmations }

// Run consumes the inbound bus, one goroutine per item, until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	slog.Info("gateway started")
	defer g.wg.Wait()
	for {
		in, err := g.bus.ConsumeInbound(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("gateway stopping")
				return nil
			}
			return err
		}
		g.wg.Add(1)
		go func(in *bus.Inbound) {
			defer g.wg.Done()
			switch {
			case in.Event != nil:
				g.HandleEvent(ctx, in.Event)
			case in.Action != nil:
				g.HandleAction(ctx, in.Action)
			}
		}(in)
	}
}

// HandleEvent runs one message through the pipeline. It never panics and,
// past the filter, always replies.
func (g *Gateway) HandleEvent(ctx context.Context, ev *bus.InboundEvent) {
	g.stats.received.Add(1)
	if !g.dedup.ShouldProcess(ev) {
		g.stats.duplicates.Add(1)
		slog.Debug("duplicate event dropped", "ts", ev.TS, "user", ev.UserID, "channel", ev.ChannelID, "event_id", ev.EventID)
		return
	}

	ictx := InteractionContext{
		TraceID:   uuid.NewString(),
		TeamID:    ev.TeamID,
		UserID:    ev.UserID,
		ChannelID: ev.ChannelID,
		ThreadTS:  ev.ThreadTS,
		IsDirect:  ev.IsDirect(),
	}
	logger := logging.WithInteraction(logging.ForComponent(logging.CompGateway), ictx.TraceID, ictx.TeamID, ictx.UserID, ictx.ChannelID)
	defer g.recoverWithApology(ctx, ictx, logger)

	switch g.filter.Evaluate(ctx, ev) {
	case Drop:
		g.stats.dropped.Add(1)
		logger.Debug("automated or self-authored event dropped")
		return
	case Redirect:
		g.stats.redirected.Add(1)
		logger.Info("non-direct message redirected", "channel_type", ev.ChannelType)
		g.reply(ctx, ictx, logger, g.opts.RedirectNotice, nil)
		return
	}

	text := cleanText(ev.Text)
	if g.handleFreeText(ctx, text, ictx, logger) {
		return
	}
	g.handleRequest(ctx, text, ictx, logger)
}

// HandleAction resolves a button press.
func (g *Gateway) HandleAction(ctx context.Context, act *bus.ActionEvent) {
	ictx := InteractionContext{
		TraceID:   uuid.NewString(),
		TeamID:    act.TeamID,
		UserID:    act.UserID,
		ChannelID: act.ChannelID,
		ThreadTS:  act.ThreadTS,
		IsDirect:  true,
	}
	logger := logging.WithInteraction(logging.ForComponent(logging.CompApproval), ictx.TraceID, ictx.TeamID, ictx.UserID, ictx.ChannelID)
	defer g.recoverWithApology(ctx, ictx, logger)

	var approve bool
	switch act.ActionID {
	case proposal.ActionConfirm:
		approve = true
	case proposal.ActionReject:
	default:
		logger.Debug("ignoring unrelated action", "action_id", act.ActionID)
		return
	}
	g.resolve(ctx, act.Value, approve, ictx, logger)
}

// handleFreeText reports whether text was consumed as an answer to a pending proposal.
func (g *Gateway) handleFreeText(ctx context.Context, text string, ictx InteractionContext, logger *slog.Logger) bool {
	if !candidateReply(text) {
		return false
	}
	pending, err := g.freeText.findProposal(ctx, ictx)
	if err != nil {
		g.stats.degrade(err)
		logger.Warn("proposal scan failed", "error", err)
		return false
	}
	if pending == nil {
		return false
	}

	class, err := g.freeText.classify(ctx, text, pending.Text)
	if err != nil {
		g.stats.degrade(err)
		logger.Warn("reply classification failed", "error", err)
		return false
	}
	approve, clarify, ok := g.freeText.decide(class)
	logger.Debug("free-text reply classified", "class", class, "proposal_ts", pending.TS)
	if !ok {
		return false
	}
	if clarify {
		g.reply(ctx, ictx, logger, MsgClarify, nil)
		return true
	}

	id := pending.ConfirmationID
	if id == "" {
		staged := g.freeText.linkedConfirmation(ictx.ChannelID, pending.TS, func() stageResult {
			return g.recreateConfirmation(ctx, pending.Text, ictx, logger)
		})
		if staged.ID == "" {
			g.reply(ctx, ictx, logger, staged.FailMsg, nil)
			return true
		}
		id = staged.ID
	}
	g.resolve(ctx, id, approve, ictx, logger)
	return true
}

// recreateConfirmation rebuilds a proposal from message text and stages it.
func (g *Gateway) recreateConfirmation(ctx context.Context, text string, ictx InteractionContext, logger *slog.Logger) stageResult {
	ops, err := g.intents.Reconstruct(ctx, text)
	if err != nil || len(ops) == 0 {
		logger.Warn("could not reconstruct proposal", "error", err, "operations", len(ops))
		return stageResult{FailMsg: MsgCantRecover}
	}
	res := g.proposals.Propose(ctx, ops, recall.Gathered{Kind: recall.KindNone}, ictx)
	if res.Value == nil {
		logger.Warn("reconstructed proposal rejected", "error", res.Err)
		if errors.Is(res.Err, proposal.ErrNotPermitted) {
			return stageResult{FailMsg: MsgNotPermitted}
		}
		return stageResult{FailMsg: MsgCantRecover}
	}
	c := g.confirmations.Create(res.Value, ictx, g.opts.ConfirmationTTL)
	logger.Info("confirmation reconstructed from history", "confirmation_id", c.ID)
	return stageResult{ID: c.ID}
}

// resolve is the convergence point of the button and free-text paths.
func (g *Gateway) resolve(ctx context.Context, id string, approve bool, ictx InteractionContext, logger *slog.Logger) {
	owner := approval.Owner{TeamID: ictx.TeamID, UserID: ictx.UserID}
	c, err := g.confirmations.Respond(id, approve, owner)
	if err != nil {
		logger.Info("confirmation not applied", "confirmation_id", id, "reason", err)
		g.reply(ctx, ictx, logger, confirmationMessage(err), nil)
		return
	}
	g.stats.confirmations.Add(1)
	logger = logger.With("confirmation_id", id, "origin_trace_id", c.TraceID)
	if c.Status == approval.StatusRejected {
		logger.Info("confirmation rejected")
		g.reply(ctx, ictx, logger, MsgCancelled, nil)
		return
	}

	logger.Info("confirmation approved, executing")
	results, err := g.confirmations.Execute(ctx, id)
	if err != nil {
		g.reply(ctx, ictx, logger, confirmationMessage(err), nil)
		return
	}
	g.finish(ctx, results, ictx, logger)
}

func (g *Gateway) handleRequest(ctx context.Context, text string, ictx InteractionContext, logger *slog.Logger) {
	need := g.classifier.Classify(ctx, text)
	if need.Degraded() {
		g.stats.degrade(need.Err)
		logger.Warn("context classification degraded", "error", need.Err)
	}
	gathered := g.retriever.Retrieve(ctx, need.Value, text, ictx)
	if gathered.Degraded() {
		g.stats.degrade(gathered.Err)
		logger.Warn("context retrieval degraded", "kind", need.Value.Kind, "error", gathered.Err)
	}

	intent, err := g.intents.Resolve(ctx, text, gathered.Value)
	if err != nil {
		g.stats.fail(err)
		logger.Error("intent resolution failed", "error", err)
		g.reply(ctx, ictx, logger, MsgApology, nil)
		return
	}
	if len(intent.Operations) == 0 {
		g.reply(ctx, ictx, logger, nonEmpty(intent.Reply, MsgDidNotCatch), nil)
		return
	}

	if g.needsConnect(ctx, intent.Operations, ictx, logger) {
		g.reply(ctx, ictx, logger, g.opts.ConnectHint, nil)
		return
	}

	res := g.proposals.Propose(ctx, intent.Operations, gathered.Value, ictx)
	if res.Value == nil {
		if errors.Is(res.Err, proposal.ErrNotPermitted) {
			logger.Info("operation denied by policy", "error", res.Err)
			g.reply(ctx, ictx, logger, MsgNotPermitted, nil)
			return
		}
		g.stats.degrade(res.Err)
		logger.Warn("proposal generation failed, replying without action", "error", res.Err)
		g.reply(ctx, ictx, logger, nonEmpty(intent.Reply, MsgDidNotCatch), nil)
		return
	}
	if res.Degraded() {
		g.stats.degrade(res.Err)
		logger.Warn("proposal degraded", "error", res.Err)
	}
	p := res.Value

	if !p.RequiresConfirmation {
		results := g.dispatcher.Dispatch(ctx, p.Operations, ictx)
		g.finish(ctx, results, ictx, logger)
		return
	}

	c := g.confirmations.Create(p, ictx, g.opts.ConfirmationTTL)
	g.stats.proposals.Add(1)
	logger.Info("proposal staged", "confirmation_id", c.ID, "action_type", p.ActionType, "risk", p.Risk.Level, "operations", len(p.Operations))
	g.reply(ctx, ictx, logger, proposal.Text(p, c.ID), proposal.RenderBlocks(p, c.ID, g.opts.DisplayLimit))
}

// needsConnect reports whether an operation needs an account the user has not connected.
func (g *Gateway) needsConnect(ctx context.Context, ops []tools.Operation, ictx InteractionContext, logger *slog.Logger) bool {
	if g.tokens == nil || g.registry == nil {
		return false
	}
	needed := false
	for _, op := range ops {
		if t, ok := g.registry.Get(op.Tool); ok && tools.NeedsCredential(t) {
			needed = true
			break
		}
	}
	if !needed {
		return false
	}
	ok, err := g.tokens.HasValidTokens(ctx, ictx.TeamID, ictx.UserID)
	if err != nil {
		// Let the dispatcher surface the auth failure instead.
		logger.Warn("token check failed", "error", err)
		return false
	}
	return !ok
}

func (g *Gateway) finish(ctx context.Context, results []tools.Result, ictx InteractionContext, logger *slog.Logger) {
	g.stats.dispatched.Add(int64(len(results)))
	for _, r := range results {
		if !r.Success {
			g.stats.dispatchFailures.Add(1)
			g.stats.setLastError(fmt.Sprintf("%s: %s", r.Operation, r.Class))
		}
	}
	summary := g.dispatcher.Respond(ctx, results, ictx)
	if summary.Degraded() {
		g.stats.degrade(summary.Err)
		logger.Warn("result summary degraded", "error", summary.Err)
	}
	g.reply(ctx, ictx, logger, nonEmpty(summary.Value, dispatch.Template(results)), nil)
}

func (g *Gateway) reply(ctx context.Context, ictx InteractionContext, logger *slog.Logger, text string, blocks []bus.Block) {
	if g.out == nil {
		logger.Error("no replier configured, dropping reply")
		return
	}
	msg := &bus.OutboundMessage{
		ChatID:   ictx.ChannelID,
		ThreadTS: ictx.ThreadTS,
		TraceID:  ictx.TraceID,
		Content:  text,
		Blocks:   blocks,
	}
	if err := g.out.Reply(ctx, msg); err != nil {
		g.stats.fail(err)
		logger.Error("reply failed", "error", err)
	}
}

func (g *Gateway) recoverWithApology(ctx context.Context, ictx InteractionContext, logger *slog.Logger) {
	p := recover()
	if p == nil {
		return
	}
	g.stats.fail(fmt.Errorf("panic: %v", p))
	logger.Error("unhandled failure", "panic", p, "stack", string(debug.Stack()))
	if ictx.ChannelID != "" {
		g.reply(ctx, ictx, logger, MsgApology, nil)
	}
}

func confirmationMessage(err error) string {
	switch {
	case errors.Is(err, approval.ErrExpired):
		return MsgExpired
	case errors.Is(err, approval.ErrAlreadyResolved):
		return MsgAlreadyHandled
	case errors.Is(err, approval.ErrNotYetApproved):
		return MsgNotYetApproved
	case errors.Is(err, approval.ErrNotOwner):
		return MsgNotOwner
	case errors.Is(err, approval.ErrNotFound):
		return MsgNotFound
	}
	return MsgApology
}

// cleanText strips the leading bot mention from app_mention text.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	for strings.HasPrefix(s, "<@") {
		end := strings.Index(s, ">")
		if end < 0 {
			break
		}
		s = strings.TrimSpace(s[end+1:])
	}
	return s
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
