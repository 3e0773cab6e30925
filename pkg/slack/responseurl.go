package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"taskbridge/pkg/transport"
)

// DefaultResponseURLHosts is the allow-list used when none is configured.
var DefaultResponseURLHosts = []string{"hooks.slack.com", "*.slack.com"}

var (
	ErrResponseURLScheme = errors.New("response_url must use https")
	ErrResponseURLHost   = errors.New("response_url host is not allowed")
)

// ValidateResponseURL checks raw against the https scheme and host allow-list.
// Entries of the form "*.example.com" match any subdomain of example.com.
func ValidateResponseURL(raw string, allowed []string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse response_url: %w", err)
	}
	if parsed.Scheme != "https" {
		return nil, ErrResponseURLScheme
	}
	if parsed.User != nil || parsed.Port() != "" {
		return nil, ErrResponseURLHost
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return nil, ErrResponseURLHost
	}
	if len(allowed) == 0 {
		allowed = DefaultResponseURLHosts
	}
	for _, pattern := range allowed {
		if hostMatches(host, strings.ToLower(strings.TrimSpace(pattern))) {
			return parsed, nil
		}
	}

	return nil, ErrResponseURLHost
}

func hostMatches(host, pattern string) bool {
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(host, "."+suffix)
	}
	return host == pattern
}

// Responder posts delayed replies to slash-command response URLs.
type Responder struct {
	allowed   []string
	transport *transport.Client
	policy    transport.Policy
	log       *slog.Logger
}

// NewResponder builds a Responder. tr should be backed by a dialer that
// refuses private peers (see transport.NewSafeHTTPClient).
func NewResponder(allowed []string, tr *transport.Client, policy transport.Policy, log *slog.Logger) *Responder {
	if log == nil {
		log = slog.Default()
	}
	return &Responder{
		allowed:   allowed,
		transport: tr,
		policy:    policy,
		log:       log.With("component", "slack.responder"),
	}
}

// Reply posts text to responseURL. The URL is re-validated before dialing.
func (r *Responder) Reply(ctx context.Context, responseURL, text string, ephemeral bool) error {
	target, err := ValidateResponseURL(responseURL, r.allowed)
	if err != nil {
		return err
	}

	responseType := "in_channel"
	if ephemeral {
		responseType = "ephemeral"
	}
	body, err := json.Marshal(map[string]any{
		"response_type":    responseType,
		"replace_original": false,
		"text":             text,
	})
	if err != nil {
		return fmt.Errorf("encode response_url payload: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	resp, err := r.transport.Execute(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    target.String(),
		Header: header,
		Body:   body,
	}, r.policy)
	if err != nil {
		return fmt.Errorf("post response_url: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: "response_url", StatusCode: resp.StatusCode}
	}

	return nil
}
