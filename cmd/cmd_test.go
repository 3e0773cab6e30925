package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbridge/pkg/auth"
	"taskbridge/pkg/bus"
	channelpkg "taskbridge/pkg/channel"
	"taskbridge/pkg/config"
)

type testAdapter struct{ name string }

func (a testAdapter) Name() string { return a.name }

func (a testAdapter) Run(context.Context) error { return nil }

func TestEnabledChannelNames(t *testing.T) {
	t.Parallel()

	adapters := []channelpkg.Adapter{testAdapter{name: "slack"}, testAdapter{name: "telegram"}}
	if got := enabledChannelNames(adapters); got != "slack,telegram" {
		t.Fatalf("enabledChannelNames = %q, want %q", got, "slack,telegram")
	}
}

func TestAlertAdapters(t *testing.T) {
	t.Parallel()

	mb := bus.NewMessageBus()
	defer mb.Close()

	cfg := &config.Config{}
	adapters, err := alertAdapters(cfg, mb, nil)
	require.NoError(t, err)
	assert.Empty(t, adapters)

	cfg.Alerts.Telegram.Enabled = true
	_, err = alertAdapters(cfg, mb, nil)
	require.Error(t, err)

	cfg.Alerts.Telegram.Token = "123:abc"
	cfg.Alerts.Telegram.ChatID = -100
	adapters, err = alertAdapters(cfg, mb, nil)
	require.NoError(t, err)
	require.Len(t, adapters, 1)
	assert.Equal(t, "telegram", adapters[0].Name())
}

func TestNewGuardsMemoryKeepsSourcesApart(t *testing.T) {
	t.Parallel()

	events, commands, closeFn, err := newGuards(context.Background(), config.IdempotencyConfig{Backend: "memory"})
	require.NoError(t, err)
	defer closeFn()

	ctx := context.Background()
	claimed, err := events.Claim(ctx, "k1", testNow())
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = commands.Claim(ctx, "k1", testNow())
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = events.Claim(ctx, "k1", testNow())
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestNewGuardsRedis(t *testing.T) {
	server := miniredis.RunT(t)
	cfg := config.IdempotencyConfig{Backend: "redis", RedisURL: "redis://" + server.Addr(), TTLSeconds: 60}

	events, commands, closeFn, err := newGuards(context.Background(), cfg)
	require.NoError(t, err)
	defer closeFn()

	ctx := context.Background()
	claimed, err := events.Claim(ctx, "Ev1", testNow())
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = events.Claim(ctx, "Ev1", testNow())
	require.NoError(t, err)
	assert.False(t, claimed)

	claimed, err = commands.Claim(ctx, "Ev1", testNow())
	require.NoError(t, err)
	assert.True(t, claimed)

	assert.True(t, server.Exists("taskbridge:idem:events:Ev1"))
}

func TestNewGuardsRejectsBadBackend(t *testing.T) {
	t.Parallel()

	_, _, _, err := newGuards(context.Background(), config.IdempotencyConfig{Backend: "redis"})
	require.Error(t, err)

	_, _, _, err = newGuards(context.Background(), config.IdempotencyConfig{Backend: "etcd"})
	require.Error(t, err)
}

func TestBuildGatewayWithDefaults(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Slack.SigningSecret = "secret"

	svc, closeFn, err := buildGateway(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, svc)
	closeFn()
}

func TestBuildGatewayRejectsUnknownParser(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Parser.Provider = "crystal-ball"

	_, _, err := buildGateway(context.Background(), cfg, discardLogger())
	require.Error(t, err)
}

func TestSignHeadersVerify(t *testing.T) {
	t.Parallel()

	body := []byte("token=x&text=hello")
	out := signHeaders("shh", 1700000000, body)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, auth.HeaderTimestamp+": 1700000000", lines[0])

	signature := strings.TrimPrefix(lines[1], auth.HeaderSignature+": ")
	err := auth.Verify(auth.SignedRequest{RawBody: body, Timestamp: "1700000000", Signature: signature}, "shh", testNow())
	require.NoError(t, err)
}

func TestResolveBody(t *testing.T) {
	t.Parallel()

	body, err := resolveBody([]string{`{"a":1}`}, strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(body))

	body, err = resolveBody(nil, strings.NewReader("from stdin"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", string(body))
}

func TestResolveText(t *testing.T) {
	original := parseText
	t.Cleanup(func() { parseText = original })

	parseText = " from-flag "
	got, err := resolveText([]string{"from", "args"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", got)

	parseText = ""
	got, err = resolveText([]string{"hello", "world"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)

	got, err = resolveText(nil, strings.NewReader("  piped text\n"))
	require.NoError(t, err)
	assert.Equal(t, "piped text", got)

	got, err = resolveText(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
