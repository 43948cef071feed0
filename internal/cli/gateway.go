package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/actiongate/actiongate/internal/approval"
	"github.com/actiongate/actiongate/internal/audit"
	"github.com/actiongate/actiongate/internal/bus"
	"github.com/actiongate/actiongate/internal/channels"
	"github.com/actiongate/actiongate/internal/config"
	"github.com/actiongate/actiongate/internal/dispatch"
	"github.com/actiongate/actiongate/internal/gateway"
	"github.com/actiongate/actiongate/internal/logging"
	"github.com/actiongate/actiongate/internal/policy"
	"github.com/actiongate/actiongate/internal/proposal"
	"github.com/actiongate/actiongate/internal/provider"
	"github.com/actiongate/actiongate/internal/recall"
	"github.com/actiongate/actiongate/internal/secrets"
	"github.com/actiongate/actiongate/internal/timeline"
	"github.com/actiongate/actiongate/internal/tools"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the Slack gateway",
	RunE:  runGateway,
}

var gatewaySignalNotify = signal.NotifyContext

func runGateway(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	_, closer, err := logging.Setup(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer closer.Close()

	printHeader(cmd.OutOrStdout(), "ActionGate Gateway")
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := gatewaySignalNotify(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", rt.server.Addr)
	return rt.Run(ctx)
}

// runtime holds every long-lived component of a running gateway.
type runtime struct {
	cfg      *config.Config
	timeline *timeline.TimelineService
	audit    audit.Publisher
	bus      *bus.MessageBus
	slack    *channels.SlackChannel
	gateway  *gateway.Gateway
	manager  *approval.Manager
	server   *http.Server
}

// buildRuntime wires storage, model, tools and transport into a gateway.
// Nothing is started and no network calls are made.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	tl, err := openTimeline(cfg)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Google.ClientID) != "" {
		tl.SetRefresher(googleOAuth(cfg.Google))
	}
	rt := &runtime{cfg: cfg, timeline: tl, bus: bus.NewMessageBus()}

	pub := audit.Multi{audit.TimelineSink{Store: tl}}
	if cfg.Audit.Enabled && len(cfg.Audit.KafkaBrokers) > 0 {
		kp, err := audit.NewKafkaPublisher(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic, audit.KafkaAuth{
			Mechanism: cfg.Audit.SASLMechanism,
			Username:  cfg.Audit.SASLUsername,
			Password:  cfg.Audit.SASLPassword,
			TLS:       cfg.Audit.TLS,
		})
		if err != nil {
			tl.Close()
			return nil, fmt.Errorf("audit stream: %w", err)
		}
		pub = append(pub, kp)
	}
	rt.audit = pub

	slackCh, err := channels.NewSlackChannel(cfg.Slack, rt.bus, nil)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("slack: %w", err)
	}
	rt.slack = slackCh

	llm := provider.NewOpenAIProvider(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, cfg.Model.Name)
	model := provider.NewStructured(llm, cfg.Model.Name, cfg.Model.MaxTokens, cfg.Model.Temperature)

	reg := tools.NewRegistry()
	tools.RegisterGoogleTools(reg, tools.NewGoogleAPI(cfg.Google.APIBase, cfg.Google.PeopleAPIBase, time.Duration(cfg.Google.TimeoutSecs)*time.Second))

	history := channels.NewSlackHistory(slackCh.Client(), slackCh.SearchClient())
	disp := dispatch.New(reg, tl, rt.audit, model)
	rt.manager = approval.NewManager(disp, tl)

	rt.gateway = gateway.New(gateway.OptionsFromConfig(cfg.Gateway), gateway.Deps{
		Bus:           rt.bus,
		Dedup:         gateway.NewDeduplicator(cfg.Gateway.DedupCapacity, cfg.Gateway.DedupEvictBatch),
		Filter:        gateway.NewFilter(channels.NewSlackIdentity(slackCh.Client())),
		Classifier:    recall.NewClassifier(model),
		Retriever:     recall.NewRetriever(history, model, cfg.Gateway.HistoryLimit, cfg.Gateway.SearchLimit),
		Intents:       gateway.NewIntentResolver(model, reg),
		Proposals:     proposal.NewGenerator(reg, policy.NewDefaultEngine(cfg.Gateway.AllowedSenders...), model),
		Confirmations: rt.manager,
		Dispatcher:    disp,
		History:       history,
		Model:         model,
		Registry:      reg,
		Tokens:        tl,
	})

	mux := http.NewServeMux()
	gateway.RegisterHealth(mux, rt.gateway, time.Now())
	mux.Handle("/slack/events", slackCh.EventsHandler())
	mux.Handle("/slack/interactions", slackCh.InteractionsHandler())
	rt.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return rt, nil
}

// Run starts every loop and blocks until ctx is cancelled.
func (rt *runtime) Run(ctx context.Context) error {
	if err := rt.slack.Start(ctx); err != nil {
		return fmt.Errorf("start slack: %w", err)
	}
	defer rt.slack.Stop()

	go func() {
		if err := rt.bus.DispatchOutbound(ctx); err != nil && ctx.Err() == nil {
			slog.Error("outbound dispatcher stopped", "error", err)
		}
	}()
	go rt.manager.Run(ctx, rt.cfg.Gateway.PruneInterval())

	serveErr := make(chan error, 1)
	go func() {
		if err := rt.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- rt.gateway.Run(ctx) }()

	var err error
	select {
	case err = <-serveErr:
		err = fmt.Errorf("http listener: %w", err)
	case err = <-runErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = rt.server.Shutdown(shutdownCtx)
	slog.Info("gateway stopped")
	return err
}

func (rt *runtime) Close() {
	if rt.audit != nil {
		if err := rt.audit.Close(); err != nil {
			slog.Warn("audit close failed", "error", err)
		}
	}
	if rt.timeline != nil {
		_ = rt.timeline.Close()
	}
}

// openTimeline opens the token and audit database with the sealing key.
func openTimeline(cfg *config.Config) (*timeline.TimelineService, error) {
	dir, err := config.Dir()
	if err != nil {
		dir = filepath.Dir(cfg.Storage.DBPath)
	}
	box, err := secrets.OpenBox(cfg.Storage.KeyBackend, dir)
	if err != nil {
		return nil, fmt.Errorf("token key: %w", err)
	}
	tl, err := timeline.NewTimelineService(cfg.Storage.DBPath, box)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Storage.DBPath, err)
	}
	return tl, nil
}
