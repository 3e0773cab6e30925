package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"taskbridge/pkg/auth"
	"taskbridge/pkg/bus"
	"taskbridge/pkg/idempotency"
	"taskbridge/pkg/metrics"
	"taskbridge/pkg/slack"
)

const (
	commandUsage = "Usage: `/task <description>` creates a task from the description and recent channel history."
	commandAck   = "Working on it..."
)

var ackOK = map[string]bool{"ok": true}

// authenticate reads and verifies the signed body. It writes the error
// response itself and returns ok=false on failure.
func (s *Service) authenticate(w http.ResponseWriter, r *http.Request, log *slog.Logger) (auth.SignedRequest, bool) {
	maxBytes := s.cfg.Slack.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}

	signed, err := auth.FromRequest(r, maxBytes)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, auth.ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err.Error())
		return auth.SignedRequest{}, false
	}

	if err := s.verifier.Verify(signed, s.now()); err != nil {
		reason := auth.ReasonUnauthorized
		var rejection *auth.Rejection
		if errors.As(err, &rejection) {
			reason = rejection.Reason
		}
		metrics.AuthRejections.WithLabelValues(reason).Inc()
		log.Warn("Rejected unsigned or stale request", "reason", reason)
		writeError(w, http.StatusUnauthorized, reason)
		return auth.SignedRequest{}, false
	}

	return signed, true
}

// admit claims key in guard. Store errors admit the delivery so an outage of
// a shared backend does not drop work.
func (s *Service) admit(ctx context.Context, guard idempotency.Store, source, key string, log *slog.Logger) bool {
	claimed, err := guard.Claim(ctx, key, s.now())
	if err != nil {
		log.Warn("Idempotency check failed, admitting delivery", "source", source, "error", err)
		return true
	}
	if !claimed {
		metrics.DuplicateDeliveries.WithLabelValues(source).Inc()
		log.Info("Duplicate delivery ignored", "source", source, "key", key)
	}
	return claimed
}

func (s *Service) enqueue(ctx context.Context, msg bus.InboundMessage) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()
	return s.bus.PublishInbound(ctx, msg)
}

func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	requestID := chimw.GetReqID(r.Context())
	log := s.log.With("request_id", requestID, "endpoint", "events")

	signed, ok := s.authenticate(w, r, log)
	if !ok {
		return
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(signed.RawBody, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	switch envelope.Type {
	case envelopeURLVerification:
		writeJSON(w, http.StatusOK, map[string]string{"challenge": envelope.Challenge}, s.log)
		return
	case envelopeEventCallback:
	default:
		writeJSON(w, http.StatusOK, ackOK, s.log)
		return
	}

	event := envelope.Event
	if event == nil {
		writeError(w, http.StatusBadRequest, "missing event")
		return
	}

	key := envelope.EventID
	if key == "" {
		key = event.Channel + ":" + event.TS
	}
	if !s.admit(r.Context(), s.eventGuard, "events", key, log) {
		writeJSON(w, http.StatusOK, ackOK, s.log)
		return
	}

	kind, handled := event.kind()
	if !handled {
		log.Debug("Ignoring event", "type", event.Type, "subtype", event.Subtype)
		writeJSON(w, http.StatusOK, ackOK, s.log)
		return
	}

	msg := bus.InboundMessage{
		Kind:       kind,
		Channel:    "slack",
		ChatID:     event.Channel,
		SenderID:   event.User,
		Content:    event.Text,
		Timestamp:  event.TS,
		ThreadKey:  event.ThreadTS,
		Files:      event.files(),
		RequestID:  requestID,
		ReceivedAt: s.now().UTC(),
		Metadata:   map[string]string{"event_id": envelope.EventID, "team_id": envelope.TeamID},
	}
	if !s.enqueue(r.Context(), msg) {
		log.Error("Task queue unavailable, dropping event", "event_id", envelope.EventID)
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	log.Info("Event accepted", "event_id", envelope.EventID, "kind", string(kind), "chat_id", event.Channel)
	writeJSON(w, http.StatusOK, ackOK, s.log)
}

func (s *Service) handleCommands(w http.ResponseWriter, r *http.Request) {
	requestID := chimw.GetReqID(r.Context())
	log := s.log.With("request_id", requestID, "endpoint", "commands")

	signed, ok := s.authenticate(w, r, log)
	if !ok {
		return
	}

	form, err := url.ParseQuery(string(signed.RawBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	responseURL := form.Get("response_url")
	if _, err := slack.ValidateResponseURL(responseURL, s.cfg.Slack.ResponseURLHosts); err != nil {
		log.Warn("Rejected command response_url", "error", err)
		writeError(w, http.StatusBadRequest, "invalid response_url")
		return
	}

	text := strings.TrimSpace(form.Get("text"))
	if text == "" || strings.EqualFold(text, "help") {
		writeJSON(w, http.StatusOK, ephemeral(commandUsage), s.log)
		return
	}

	if !s.admit(r.Context(), s.commandGuard, "commands", signed.Timestamp+":"+signed.Signature, log) {
		writeJSON(w, http.StatusOK, ephemeral(commandAck), s.log)
		return
	}

	msg := bus.InboundMessage{
		Kind:        bus.KindCommand,
		Channel:     "slack",
		ChatID:      form.Get("channel_id"),
		SenderID:    form.Get("user_id"),
		Content:     text,
		ResponseURL: responseURL,
		RequestID:   requestID,
		ReceivedAt:  s.now().UTC(),
		Metadata:    map[string]string{"command": form.Get("command"), "team_id": form.Get("team_id")},
	}
	if !s.enqueue(r.Context(), msg) {
		log.Error("Task queue unavailable, dropping command")
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	log.Info("Command accepted", "chat_id", msg.ChatID, "command", form.Get("command"))
	writeJSON(w, http.StatusOK, ephemeral(commandAck), s.log)
}

func ephemeral(text string) map[string]string {
	return map[string]string{"response_type": "ephemeral", "text": text}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message}, nil)
}
