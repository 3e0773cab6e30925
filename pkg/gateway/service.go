// Package gateway serves the Slack webhook endpoints and runs the channel
// workers behind them.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"taskbridge/pkg/auth"
	"taskbridge/pkg/bus"
	"taskbridge/pkg/channel"
	"taskbridge/pkg/config"
	"taskbridge/pkg/idempotency"
	"taskbridge/pkg/slack"
)

const (
	defaultHost         = "0.0.0.0"
	defaultPort         = 3000
	identityInterval    = time.Minute
	enqueueTimeout      = 2 * time.Second
	shutdownTimeout     = 10 * time.Second
	defaultMaxBodyBytes = 1 << 20
)

type identityChecker interface {
	AuthTest(ctx context.Context) (slack.Identity, error)
}

// Deps are the collaborators a Service is built from.
type Deps struct {
	Config       *config.Config
	Verifier     *auth.Verifier
	EventGuard   idempotency.Store
	CommandGuard idempotency.Store
	Bus          *bus.MessageBus
	Identity     identityChecker
	// OnIdentity receives the bot identity after each successful check.
	OnIdentity   func(slack.Identity)
	Adapters     []channel.Adapter
	Logger       *slog.Logger
	Now          func() time.Time
}

type Service struct {
	cfg          *config.Config
	log          *slog.Logger
	verifier     *auth.Verifier
	eventGuard   idempotency.Store
	commandGuard idempotency.Store
	bus          *bus.MessageBus
	identity     identityChecker
	onIdentity   func(slack.Identity)
	channels     []channel.Adapter
	now          func() time.Time

	mu            sync.RWMutex
	startedAt     time.Time
	slackLastOKAt time.Time
	slackLastErr  string
	botUserID     string
	channelStates map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	SlackLastOKAt string                  `json:"slack_last_ok_at,omitempty"`
	SlackLastErr  string                  `json:"slack_last_error,omitempty"`
	BotUserID     string                  `json:"bot_user_id,omitempty"`
	QueueDepth    int                     `json:"queue_depth"`
	Channels      map[string]channelState `json:"channels"`
}

func NewService(deps Deps) (*Service, error) {
	if deps.Config == nil {
		return nil, errors.New("config is required")
	}
	if deps.Bus == nil {
		return nil, errors.New("message bus is required")
	}
	if len(deps.Adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}

	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	verifier := deps.Verifier
	if verifier == nil {
		verifier = auth.NewVerifier(deps.Config.Slack.SigningSecret,
			time.Duration(deps.Config.Slack.ReplayToleranceSeconds)*time.Second)
	}
	eventGuard := deps.EventGuard
	if eventGuard == nil {
		eventGuard = idempotency.NewGuard(0, 0)
	}
	commandGuard := deps.CommandGuard
	if commandGuard == nil {
		commandGuard = idempotency.NewGuard(0, 0)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	channelStates := make(map[string]channelState, len(deps.Adapters))
	for _, adapter := range deps.Adapters {
		channelStates[adapter.Name()] = channelState{}
	}

	return &Service{
		cfg:           deps.Config,
		log:           log.With("component", "gateway.service"),
		verifier:      verifier,
		eventGuard:    eventGuard,
		commandGuard:  commandGuard,
		bus:           deps.Bus,
		identity:      deps.Identity,
		onIdentity:    deps.OnIdentity,
		channels:      deps.Adapters,
		now:           now,
		channelStates: channelStates,
	}, nil
}

// Handler returns the routed HTTP handler.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(recordMetrics)
	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Post("/slack/events", s.handleEvents)
	r.Post("/slack/commands", s.handleCommands)

	if s.cfg.Telemetry.Enabled {
		return otelhttp.NewHandler(r, "taskbridge.gateway")
	}
	return r
}

// Run serves HTTP and runs the channel adapters until ctx is done. Adapters
// are given the chance to finish in-flight work before Run returns.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.checkSlackIdentity(ctx); err != nil {
		s.log.Warn("Slack identity check failed", "error", err)
	}

	go func() {
		ticker := time.NewTicker(identityInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.checkSlackIdentity(ctx)
			}
		}
	}()

	errCh := make(chan error, len(s.channels)+1)
	var adapters sync.WaitGroup
	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		adapters.Add(1)
		go func() {
			defer adapters.Done()
			err := adapter.Run(ctx)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
		}()
	}

	server := &http.Server{
		Addr:              s.address(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.log.Info("Gateway listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("start http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("HTTP shutdown incomplete", "error", err)
	}

	if runErr != nil {
		return runErr
	}

	adapters.Wait()
	s.log.Info("Gateway stopped")
	return nil
}

func (s *Service) address() string {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHost
	}
	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultPort
	}
	return host + ":" + strconv.Itoa(port)
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	writeJSON(w, statusCode, s.currentStatus(status), s.log)
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	lastOK := ""
	if !s.slackLastOKAt.IsZero() {
		lastOK = s.slackLastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		SlackLastOKAt: lastOK,
		SlackLastErr:  s.slackLastErr,
		BotUserID:     s.botUserID,
		QueueDepth:    s.bus.Pending(),
		Channels:      channels,
	}
}

// isReady requires every adapter running and a successful Slack identity check.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.channelStates) == 0 {
		return false
	}
	for _, state := range s.channelStates {
		if !state.Running {
			return false
		}
	}

	return !s.slackLastOKAt.IsZero() && s.slackLastErr == ""
}

func (s *Service) checkSlackIdentity(ctx context.Context) error {
	if s.identity == nil {
		return s.recordIdentityError(slack.ErrNotConfigured)
	}

	identity, err := s.identity.AuthTest(ctx)
	if err != nil {
		return s.recordIdentityError(err)
	}

	s.mu.Lock()
	s.slackLastErr = ""
	s.slackLastOKAt = time.Now().UTC()
	s.botUserID = identity.UserID
	s.mu.Unlock()

	if s.onIdentity != nil {
		s.onIdentity(identity)
	}
	return nil
}

func (s *Service) recordIdentityError(err error) error {
	s.mu.Lock()
	s.slackLastErr = err.Error()
	s.mu.Unlock()
	return fmt.Errorf("slack identity check failed: %w", err)
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func writeJSON(w http.ResponseWriter, status int, payload any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && log != nil {
		log.Error("Failed to write response", "error", err)
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
