// Package slack is a minimal Web API client built on the retrying transport.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"taskbridge/pkg/transport"
)

const (
	defaultBaseURL = "https://slack.com/api"
	maxPageSize    = 200
)

// ErrNotConfigured is returned when no bot token is available. Outbound calls
// are skipped rather than sent unauthenticated.
var ErrNotConfigured = errors.New("slack bot token not configured")

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL   string
	Token     string
	Transport *transport.Client
	Policies  transport.Policies
	Logger    *slog.Logger
}

// Client calls the Slack Web API.
type Client struct {
	baseURL   string
	token     string
	transport *transport.Client
	policies  transport.Policies
	log       *slog.Logger
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	tr := opts.Transport
	if tr == nil {
		tr = transport.New(transport.Options{Logger: opts.Logger})
	}

	policies := opts.Policies
	if policies == (transport.Policies{}) {
		policies = transport.DefaultPolicies()
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		baseURL:   baseURL,
		token:     strings.TrimSpace(opts.Token),
		transport: tr,
		policies:  policies,
		log:       log.With("component", "slack.client"),
	}
}

// Enabled reports whether a bot token is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.token != ""
}

// AuthTest resolves the bot identity for the configured token.
func (c *Client) AuthTest(ctx context.Context) (Identity, error) {
	var out authTestResponse
	if err := c.call(ctx, http.MethodPost, "auth.test", nil, nil, c.policies.Read, &out); err != nil {
		return Identity{}, err
	}
	return out.Identity, nil
}

// PostMessage posts text to channel, threaded under threadTS when set.
func (c *Client) PostMessage(ctx context.Context, channel, threadTS, text string) error {
	payload := map[string]any{
		"channel": channel,
		"text":    text,
	}
	if threadTS != "" {
		payload["thread_ts"] = threadTS
	}

	var out envelope
	return c.call(ctx, http.MethodPost, "chat.postMessage", nil, payload, c.policies.Mutation, &out)
}

func (c *Client) call(ctx context.Context, method, apiMethod string, query url.Values, payload any, policy transport.Policy, out any) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}

	endpoint := c.baseURL + "/" + apiMethod
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", apiMethod, err)
		}
		body = encoded
		header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.transport.Execute(ctx, transport.Request{
		Method: method,
		URL:    endpoint,
		Header: header,
		Body:   body,
	}, policy)
	if err != nil {
		return fmt.Errorf("slack %s: %w", apiMethod, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: apiMethod, StatusCode: resp.StatusCode}
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", apiMethod, err)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return fmt.Errorf("decode %s envelope: %w", apiMethod, err)
	}
	if !env.OK {
		code := env.Error
		if code == "" {
			code = "unknown_error"
		}
		return &APIError{Method: apiMethod, Code: code}
	}

	return nil
}

func pageSize(remaining int) string {
	if remaining <= 0 || remaining > maxPageSize {
		remaining = maxPageSize
	}
	return strconv.Itoa(remaining)
}
