// Package slack runs the detached task flow for Slack deliveries: history
// aggregation, task extraction, record creation and the reply.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"taskbridge/pkg/bus"
	"taskbridge/pkg/contextagg"
	"taskbridge/pkg/failure"
	"taskbridge/pkg/metrics"
	slackapi "taskbridge/pkg/slack"
	"taskbridge/pkg/task"
)

const (
	channelName         = "slack"
	defaultWorkers      = 4
	defaultTaskTimeout  = 2 * time.Minute
	replyTimeout        = 30 * time.Second
	messagePreviewLimit = 240
	failurePrefix       = ":x: Failed to create task: "
)

var mentionPattern = regexp.MustCompile(`<@([UW][A-Z0-9]+)(?:\|[^>]*)?>`)

type messageAPI interface {
	PostMessage(ctx context.Context, channel, threadTS, text string) error
	AddReaction(ctx context.Context, channel, ts, name string) error
	RemoveReaction(ctx context.Context, channel, ts, name string) error
}

type responder interface {
	Reply(ctx context.Context, responseURL, text string, ephemeral bool) error
}

type taskRunner interface {
	Extract(ctx context.Context, input task.Input, extended bool) (task.Fields, error)
	Commit(ctx context.Context, input task.Input, fields task.Fields) task.Result
}

// Options configures an Adapter.
type Options struct {
	Bus         *bus.MessageBus
	API         messageAPI
	Responder   responder
	Aggregator  *contextagg.Aggregator
	Tasks       taskRunner
	BotUserID   string
	Workers     int
	TaskTimeout time.Duration
	Logger      *slog.Logger
}

// Adapter consumes inbound deliveries with a bounded worker pool.
type Adapter struct {
	bus         *bus.MessageBus
	api         messageAPI
	responder   responder
	aggregator  *contextagg.Aggregator
	tasks       taskRunner
	workers     int
	taskTimeout time.Duration
	log         *slog.Logger

	mu        sync.RWMutex
	botUserID string
}

func NewAdapter(opts Options) (*Adapter, error) {
	if opts.Bus == nil {
		return nil, errors.New("message bus is required")
	}
	if opts.API == nil {
		return nil, errors.New("slack api client is required")
	}
	if opts.Aggregator == nil {
		return nil, errors.New("context aggregator is required")
	}
	if opts.Tasks == nil {
		return nil, errors.New("task pipeline is required")
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	taskTimeout := opts.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = defaultTaskTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		bus:         opts.Bus,
		api:         opts.API,
		responder:   opts.Responder,
		aggregator:  opts.Aggregator,
		tasks:       opts.Tasks,
		workers:     workers,
		taskTimeout: taskTimeout,
		log:         log.With("component", "channel.slack"),
		botUserID:   strings.TrimSpace(opts.BotUserID),
	}, nil
}

func (a *Adapter) Name() string {
	return channelName
}

// SetBotUserID records the bot identity used to strip self-mentions.
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	a.botUserID = strings.TrimSpace(id)
	a.mu.Unlock()
}

// Run starts the workers and blocks until ctx is done or the bus closes.
// In-flight tasks finish under their own timeout before Run returns.
func (a *Adapter) Run(ctx context.Context) error {
	a.log.Info("Slack workers started", "workers", a.workers)

	var wg sync.WaitGroup
	for i := 0; i < a.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				msg, ok := a.bus.ConsumeInbound(ctx)
				if !ok {
					return
				}
				a.Process(ctx, msg)
			}
		}()
	}

	wg.Wait()
	a.log.Info("Slack workers stopped")
	return nil
}

// Process runs the full task flow for one delivery. Failures are reported to
// the user and never returned.
func (a *Adapter) Process(parent context.Context, msg bus.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), a.taskTimeout)
	defer cancel()
	// replies still go out when the task itself timed out
	replyCtx, cancelReply := context.WithTimeout(context.WithoutCancel(parent), a.taskTimeout+replyTimeout)
	defer cancelReply()

	startedAt := time.Now()
	log := a.log.With("request_id", msg.RequestID, "chat_id", msg.ChatID, "kind", string(msg.Kind))
	log.Info("Processing task request", "thread_key", msg.ThreadKey, "content", previewText(msg.Content))

	a.bus.PublishEvent(replyCtx, bus.Event{
		Type:      bus.EventTaskReceived,
		Channel:   channelName,
		ChatID:    msg.ChatID,
		ThreadKey: msg.ThreadKey,
		RequestID: msg.RequestID,
	})

	reacts := msg.Kind != bus.KindCommand && msg.Timestamp != ""
	if reacts {
		a.react(replyCtx, log, msg, slackapi.ReactionProcessing, true)
	}

	result := a.run(ctx, replyCtx, log, msg)

	duration := time.Since(startedAt)
	metrics.TaskDuration.Observe(duration.Seconds())

	if result.OK {
		metrics.TasksProcessed.WithLabelValues("created").Inc()
		log.Info("Task created", "record_id", result.ID, "duration_ms", duration.Milliseconds())
		a.bus.PublishEvent(replyCtx, bus.Event{
			Type:      bus.EventTaskCreated,
			Channel:   channelName,
			ChatID:    msg.ChatID,
			ThreadKey: msg.ThreadKey,
			RequestID: msg.RequestID,
			Payload:   map[string]string{"record_id": result.ID, "record_url": result.URL},
		})
	} else {
		metrics.TasksProcessed.WithLabelValues("failed").Inc()
		log.Warn("Task failed", "reason", result.Message, "duration_ms", duration.Milliseconds())
	}

	if reacts {
		a.react(replyCtx, log, msg, slackapi.ReactionProcessing, false)
		outcome := slackapi.ReactionSuccess
		if !result.OK {
			outcome = slackapi.ReactionFailure
		}
		a.react(replyCtx, log, msg, outcome, true)
	}

	a.deliver(replyCtx, log, msg.Reply(replyText(result)))
}

type flowResult struct {
	task.Result
	Title string
}

func (a *Adapter) run(ctx, eventCtx context.Context, log *slog.Logger, msg bus.InboundMessage) (result flowResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Task flow panicked", "panic", r)
			result = a.fail(eventCtx, msg, failure.New(failure.CategoryInternal, fmt.Sprint(r)))
		}
	}()

	current := contextagg.Current{
		Text:  stripMention(msg.Content, a.currentBotUserID()),
		Files: busFileRefs(msg.Files),
	}
	query := contextagg.Query{
		ScopeID:             msg.ChatID,
		ExcludeTimestampKey: msg.Timestamp,
		Current:             current,
	}
	if msg.InThread() {
		query.ThreadKey = msg.ThreadKey
	}

	input := task.Input{
		AuthorID:  msg.SenderID,
		ScopeID:   msg.ChatID,
		Timestamp: msg.Timestamp,
	}

	var fields task.Fields
	bundle, err := a.aggregator.Escalate(ctx, query, func(ctx context.Context, bundle contextagg.Bundle) (bool, error) {
		input.Text = bundle.Text
		input.Files = taskFiles(bundle.Files)

		extracted, err := a.tasks.Extract(ctx, input, bundle.Stage == contextagg.StageExtended)
		if err != nil {
			return false, err
		}
		fields = extracted
		return extracted.InsufficientContext, nil
	})
	if err != nil {
		return a.fail(eventCtx, msg, err)
	}

	if bundle.Stage == contextagg.StageExtended {
		a.bus.PublishEvent(eventCtx, bus.Event{
			Type:      bus.EventContextEscalated,
			Channel:   channelName,
			ChatID:    msg.ChatID,
			ThreadKey: msg.ThreadKey,
			RequestID: msg.RequestID,
		})
	}

	committed := a.tasks.Commit(ctx, input, fields)
	if !committed.OK {
		return a.fail(eventCtx, msg, failure.New(failure.CategoryDownstream, committed.Message))
	}

	return flowResult{Result: committed, Title: fields.Title}
}

func (a *Adapter) fail(ctx context.Context, msg bus.InboundMessage, err error) flowResult {
	a.bus.PublishEvent(ctx, bus.Event{
		Type:      bus.EventTaskFailed,
		Channel:   channelName,
		ChatID:    msg.ChatID,
		ThreadKey: msg.ThreadKey,
		RequestID: msg.RequestID,
		Category:  failure.CategoryFromError(err),
		Error:     err.Error(),
	})

	return flowResult{Result: task.Failed(failure.Reason(err))}
}

func (a *Adapter) react(ctx context.Context, log *slog.Logger, msg bus.InboundMessage, name string, add bool) {
	var err error
	if add {
		err = a.api.AddReaction(ctx, msg.ChatID, msg.Timestamp, name)
	} else {
		err = a.api.RemoveReaction(ctx, msg.ChatID, msg.Timestamp, name)
	}
	if err != nil && !errors.Is(err, slackapi.ErrNotConfigured) {
		log.Debug("Reaction update failed", "reaction", name, "add", add, "error", err)
	}
}

func (a *Adapter) deliver(ctx context.Context, log *slog.Logger, out bus.OutboundMessage) {
	var err error
	if out.ResponseURL != "" {
		if a.responder == nil {
			log.Warn("No responder configured, dropping reply")
			return
		}
		err = a.responder.Reply(ctx, out.ResponseURL, out.Content, out.Ephemeral)
	} else {
		err = a.api.PostMessage(ctx, out.ChatID, out.ThreadKey, out.Content)
	}

	if err != nil {
		log.Error("Failed to deliver reply",
			"category", failure.CategoryFromError(err),
			"content", previewText(out.Content),
			"error", err,
		)
	}
}

func (a *Adapter) currentBotUserID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.botUserID
}

func replyText(result flowResult) string {
	if !result.OK {
		return failurePrefix + result.Message
	}

	text := ":white_check_mark: Task created"
	if result.Title != "" {
		text += ": " + result.Title
	}
	if result.URL != "" {
		text += " (" + result.URL + ")"
	}
	return text
}

// stripMention removes mentions of the bot itself. Without a known bot ID only
// a leading mention is removed.
func stripMention(text, botUserID string) string {
	if botUserID != "" {
		text = mentionPattern.ReplaceAllStringFunc(text, func(match string) string {
			if mentionPattern.FindStringSubmatch(match)[1] == botUserID {
				return ""
			}
			return match
		})
	} else if loc := mentionPattern.FindStringIndex(strings.TrimSpace(text)); loc != nil && loc[0] == 0 {
		text = strings.TrimSpace(text)[loc[1]:]
	}
	return strings.TrimSpace(strings.ReplaceAll(text, "  ", " "))
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) <= messagePreviewLimit {
		return trimmed
	}
	return string(runes[:messagePreviewLimit]) + "..."
}
