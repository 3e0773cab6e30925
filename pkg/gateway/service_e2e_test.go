package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskbridge/pkg/auth"
	"taskbridge/pkg/bus"
	"taskbridge/pkg/channel"
	channelslack "taskbridge/pkg/channel/slack"
	"taskbridge/pkg/config"
	"taskbridge/pkg/contextagg"
	"taskbridge/pkg/record"
	"taskbridge/pkg/slack"
	"taskbridge/pkg/task"
	"taskbridge/pkg/transport"
)

type recordingParser struct {
	mu    sync.Mutex
	texts []string
}

func (p *recordingParser) Parse(_ context.Context, text string, _ task.Hints) (task.Fields, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, text)
	return task.Fields{Title: "Fix checkout", Priority: "high"}, nil
}

func (p *recordingParser) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

// fakeSlack records Web API calls and serves canned history.
type fakeSlack struct {
	mu    sync.Mutex
	calls []string
	posts []map[string]any
}

func (f *fakeSlack) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.TrimPrefix(r.URL.Path, "/")
		body, _ := io.ReadAll(r.Body)

		f.mu.Lock()
		f.calls = append(f.calls, method)
		if method == "chat.postMessage" {
			var payload map[string]any
			_ = json.Unmarshal(body, &payload)
			f.posts = append(f.posts, payload)
		}
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "auth.test":
			_, _ = io.WriteString(w, `{"ok":true,"user_id":"UBOT","bot_id":"B1","team_id":"T1"}`)
		case "conversations.history":
			_, _ = io.WriteString(w, `{"ok":true,"messages":[
				{"type":"message","ts":"1700000000.000200","user":"U1","text":"<@UBOT> track this"},
				{"type":"message","ts":"1699999990.000100","user":"U2","text":"urgent checkout bug on mobile"},
				{"type":"message","ts":"1699999980.000100","bot_id":"B9","subtype":"bot_message","text":"deploy finished"}
			],"response_metadata":{"next_cursor":""}}`)
		case "conversations.replies":
			_, _ = io.WriteString(w, `{"ok":true,"messages":[],"response_metadata":{"next_cursor":""}}`)
		default:
			_, _ = io.WriteString(w, `{"ok":true}`)
		}
	})
}

func (f *fakeSlack) snapshot() ([]string, []map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), append([]map[string]any(nil), f.posts...)
}

func (f *fakeSlack) count(method string) int {
	calls, _ := f.snapshot()
	n := 0
	for _, call := range calls {
		if call == method {
			n++
		}
	}
	return n
}

type e2eHarness struct {
	baseURL string
	slack   *fakeSlack
	parser  *recordingParser
	store   *record.MemoryStore
}

func startGateway(t *testing.T) *e2eHarness {
	t.Helper()

	fake := &fakeSlack{}
	slackServer := httptest.NewServer(fake.handler())
	t.Cleanup(slackServer.Close)

	port := freeTCPPort(t)
	cfg := &config.Config{}
	cfg.Slack.SigningSecret = testSecret
	cfg.Slack.BotToken = "xoxb-test"
	cfg.Slack.APIBaseURL = slackServer.URL
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = port

	tr := transport.New(transport.Options{})
	slackClient := slack.NewClient(slack.ClientOptions{
		BaseURL:   cfg.Slack.APIBaseURL,
		Token:     cfg.Slack.BotToken,
		Transport: tr,
	})

	mb := bus.NewMessageBus()
	parser := &recordingParser{}
	store := record.NewMemoryStore()

	adapter, err := channelslack.NewAdapter(channelslack.Options{
		Bus:        mb,
		API:        slackClient,
		Responder:  slack.NewResponder(nil, tr, transport.MutationPolicy, nil),
		Aggregator: contextagg.New(channelslack.NewHistorySource(slackClient), contextagg.Options{}),
		Tasks:      task.NewPipeline(parser, store, nil),
		Workers:    1,
	})
	require.NoError(t, err)

	svc, err := NewService(Deps{
		Config:     cfg,
		Bus:        mb,
		Identity:   slackClient,
		OnIdentity: func(identity slack.Identity) { adapter.SetBotUserID(identity.UserID) },
		Adapters:   []channel.Adapter{adapter},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("gateway did not stop")
		}
		mb.Close()
	})

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	deadline := time.Now().Add(5 * time.Second)
	for waitHTTPStatus(t, baseURL+"/readyz", 2*time.Second) != http.StatusOK {
		if time.Now().After(deadline) {
			t.Fatal("gateway never became ready")
		}
		time.Sleep(25 * time.Millisecond)
	}

	return &e2eHarness{baseURL: baseURL, slack: fake, parser: parser, store: store}
}

func (h *e2eHarness) post(t *testing.T, path, contentType, body string) int {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, h.baseURL+path, strings.NewReader(body))
	require.NoError(t, err)
	ts := fmt.Sprintf("%d", time.Now().Unix())
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(auth.HeaderTimestamp, ts)
	req.Header.Set(auth.HeaderSignature, auth.Sign(testSecret, ts, []byte(body)))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp.StatusCode
}

func TestGatewayMentionCreatesTaskFromChannelHistory(t *testing.T) {
	h := startGateway(t)
	body := mentionPayload("EvE2E1", "<@UBOT> track this")

	require.Equal(t, http.StatusOK, h.post(t, "/slack/events", "application/json", body))
	require.Equal(t, http.StatusOK, h.post(t, "/slack/events", "application/json", body))

	require.Eventually(t, func() bool {
		return h.slack.count("chat.postMessage") == 1
	}, 5*time.Second, 20*time.Millisecond)

	texts := h.parser.snapshot()
	require.Len(t, texts, 1)
	require.Contains(t, texts[0], "Channel history (")
	require.Contains(t, texts[0], "urgent checkout bug on mobile")
	require.NotContains(t, texts[0], "deploy finished")
	require.Contains(t, texts[0], "Current message:\ntrack this")

	records := h.store.Records()
	require.Len(t, records, 1)
	require.Equal(t, "Fix checkout", records[0].Fields.Title)

	_, posts := h.slack.snapshot()
	require.Equal(t, "C1", posts[0]["channel"])
	require.Equal(t, "1700000000.000200", posts[0]["thread_ts"])
	require.Contains(t, posts[0]["text"], "Task created: Fix checkout")

	require.Never(t, func() bool {
		return len(h.parser.snapshot()) > 1
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func TestGatewayRejectsCommandWithForeignResponseURL(t *testing.T) {
	h := startGateway(t)
	before, _ := h.slack.snapshot()

	status := h.post(t, "/slack/commands", "application/x-www-form-urlencoded",
		commandBody("order laptops", "https://169.254.169.254/latest/meta-data"))
	require.Equal(t, http.StatusBadRequest, status)

	require.Never(t, func() bool {
		calls, _ := h.slack.snapshot()
		return len(calls) != len(before) || len(h.parser.snapshot()) > 0
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func waitHTTPStatus(t *testing.T, url string, timeout time.Duration) int {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		response, err := http.Get(url)
		if err == nil {
			statusCode := response.StatusCode
			require.NoError(t, response.Body.Close())
			return statusCode
		}

		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: %v", url, err)
		}

		time.Sleep(25 * time.Millisecond)
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
