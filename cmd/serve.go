package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskbridge/pkg/bus"
	"taskbridge/pkg/channel"
	channelslack "taskbridge/pkg/channel/slack"
	"taskbridge/pkg/channel/telegram"
	"taskbridge/pkg/config"
	"taskbridge/pkg/contextagg"
	"taskbridge/pkg/gateway"
	"taskbridge/pkg/idempotency"
	"taskbridge/pkg/logger"
	"taskbridge/pkg/provider"
	"taskbridge/pkg/record"
	"taskbridge/pkg/slack"
	"taskbridge/pkg/task"
	"taskbridge/pkg/telemetry"
	"taskbridge/pkg/transport"
)

const (
	backendMemory = "memory"
	backendRedis  = "redis"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook gateway",
	Long:  "Serves the Slack events and commands endpoints with health, readiness and metrics, and runs the task workers.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.serve")

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTracer, err := telemetry.InitTracer(cfg.Telemetry, log)
		if err != nil {
			log.Error("Failed to initialize tracing", "error", err)
			return
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(ctx); err != nil {
				log.Warn("Tracer shutdown incomplete", "error", err)
			}
		}()

		svc, closeFn, err := buildGateway(runCtx, cfg, log)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return
		}
		defer closeFn()

		log.Info("Gateway started", "parser", cfg.Parser.Provider, "records", cfg.Records.Backend, "idempotency", cfg.Idempotency.Backend)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Gateway runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// buildGateway wires every component from cfg. The returned func releases
// shared backends.
func buildGateway(ctx context.Context, cfg *config.Config, log *slog.Logger) (*gateway.Service, func(), error) {
	if strings.TrimSpace(cfg.Slack.SigningSecret) == "" {
		log.Warn("Slack signing secret is not set, every webhook will be rejected")
	}

	policies := transport.PoliciesFromConfig(cfg.Transport)
	tr := transport.New(transport.Options{Logger: log, Tracing: cfg.Telemetry.Enabled})
	responseTransport := transport.New(transport.Options{
		HTTPClient: transport.NewSafeHTTPClient(),
		Logger:     log,
		Tracing:    cfg.Telemetry.Enabled,
	})

	slackClient := slack.NewClient(slack.ClientOptions{
		BaseURL:   cfg.Slack.APIBaseURL,
		Token:     cfg.Slack.BotToken,
		Transport: tr,
		Policies:  policies,
		Logger:    log,
	})
	if !slackClient.Enabled() {
		log.Warn("Slack bot token is not set, replies and history are disabled")
	}

	eventGuard, commandGuard, closeGuards, err := newGuards(ctx, cfg.Idempotency)
	if err != nil {
		return nil, nil, err
	}

	parser, err := provider.New(cfg, log)
	if err != nil {
		closeGuards()
		return nil, nil, err
	}
	store, err := record.New(cfg.Records, tr, policies, log)
	if err != nil {
		closeGuards()
		return nil, nil, err
	}

	mb := bus.NewMessageBus()
	aggregator := contextagg.New(channelslack.NewHistorySource(slackClient), contextagg.Options{
		Window:         cfg.Context.Window,
		ExtendedWindow: cfg.Context.ExtendedWindow,
		Logger:         log,
	})

	slackAdapter, err := channelslack.NewAdapter(channelslack.Options{
		Bus:         mb,
		API:         slackClient,
		Responder:   slack.NewResponder(cfg.Slack.ResponseURLHosts, responseTransport, policies.Mutation, log),
		Aggregator:  aggregator,
		Tasks:       task.NewPipeline(parser, store, log),
		BotUserID:   cfg.Slack.BotUserID,
		Workers:     cfg.Gateway.Workers,
		TaskTimeout: time.Duration(cfg.Gateway.TaskTimeoutSeconds) * time.Second,
		Logger:      log,
	})
	if err != nil {
		closeGuards()
		return nil, nil, err
	}

	adapters := []channel.Adapter{slackAdapter}
	alerts, err := alertAdapters(cfg, mb, log)
	if err != nil {
		closeGuards()
		return nil, nil, err
	}
	adapters = append(adapters, alerts...)

	svc, err := gateway.NewService(gateway.Deps{
		Config:       cfg,
		EventGuard:   eventGuard,
		CommandGuard: commandGuard,
		Bus:          mb,
		Identity:     slackClient,
		OnIdentity:   func(identity slack.Identity) { slackAdapter.SetBotUserID(identity.UserID) },
		Adapters:     adapters,
		Logger:       log,
	})
	if err != nil {
		closeGuards()
		return nil, nil, err
	}

	log.Info("Gateway wired", "parser", parser.Name(), "channels", enabledChannelNames(adapters))
	return svc, func() {
		mb.Close()
		closeGuards()
	}, nil
}

// newGuards returns the event and command dedup stores. The two sources never
// share keys.
func newGuards(ctx context.Context, cfg config.IdempotencyConfig) (idempotency.Store, idempotency.Store, func(), error) {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", backendMemory:
		return idempotency.NewGuard(ttl, cfg.MaxSize), idempotency.NewGuard(ttl, cfg.MaxSize), func() {}, nil
	case backendRedis:
		if strings.TrimSpace(cfg.RedisURL) == "" {
			return nil, nil, nil, errors.New("idempotency.redis_url is required for the redis backend")
		}
		events, err := idempotency.NewRedisStore(ctx, cfg.RedisURL, "events", ttl)
		if err != nil {
			return nil, nil, nil, err
		}
		commands, err := idempotency.NewRedisStore(ctx, cfg.RedisURL, "commands", ttl)
		if err != nil {
			_ = events.Close()
			return nil, nil, nil, err
		}
		return events, commands, func() { closeAll(events, commands) }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported idempotency backend: %s", cfg.Backend)
	}
}

func alertAdapters(cfg *config.Config, mb *bus.MessageBus, log *slog.Logger) ([]channel.Adapter, error) {
	if !cfg.Alerts.Telegram.Enabled {
		return nil, nil
	}

	alerter, err := telegram.NewAlerter(cfg.Alerts.Telegram, mb, log)
	if err != nil {
		return nil, fmt.Errorf("configure telegram alerts: %w", err)
	}
	return []channel.Adapter{alerter}, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}

func closeAll(closers ...io.Closer) {
	for _, closer := range closers {
		_ = closer.Close()
	}
}
