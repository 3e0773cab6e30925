package contextagg

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"taskbridge/pkg/metrics"
)

// Options configures an Aggregator.
type Options struct {
	Window         int
	ExtendedWindow int
	Location       *time.Location
	Logger         *slog.Logger
}

// Aggregator fetches, filters and renders history for one scope.
type Aggregator struct {
	source         Source
	window         int
	extendedWindow int
	loc            *time.Location
	log            *slog.Logger
}

func New(source Source, opts Options) *Aggregator {
	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}
	extended := opts.ExtendedWindow
	if extended <= 0 {
		extended = DefaultExtendedWindow
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Aggregator{
		source:         source,
		window:         window,
		extendedWindow: extended,
		loc:            loc,
		log:            log.With("component", "contextagg"),
	}
}

// WindowFor returns the configured history window for stage.
func (a *Aggregator) WindowFor(stage Stage) int {
	if stage == StageExtended {
		return a.extendedWindow
	}
	return a.window
}

// Aggregate builds a Bundle for q. Fetch failures narrow the bundle instead of
// failing it.
func (a *Aggregator) Aggregate(ctx context.Context, q Query) Bundle {
	window := q.Window
	if window <= 0 {
		window = a.WindowFor(q.Stage)
	}

	var thread, channel []Message
	if q.ThreadKey != "" {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			thread = a.fetch(ctx, "thread", q, func(ctx context.Context) ([]Message, error) {
				return a.source.Thread(ctx, q.ScopeID, q.ThreadKey, window)
			})
		}()
		if channelWindow := window / 2; channelWindow > 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				channel = a.fetch(ctx, "channel", q, func(ctx context.Context) ([]Message, error) {
					return a.source.Channel(ctx, q.ScopeID, channelWindow)
				})
			}()
		}
		wg.Wait()
	} else {
		channel = a.fetch(ctx, "channel", q, func(ctx context.Context) ([]Message, error) {
			return a.source.Channel(ctx, q.ScopeID, window)
		})
	}

	thread = sortByTimestamp(keep(thread, func(m Message) bool {
		return !m.Automated && m.TimestampKey != q.ExcludeTimestampKey
	}))
	channel = sortByTimestamp(keep(channel, func(m Message) bool {
		return !m.Automated && m.ThreadKey == ""
	}))

	files := newFileSet()
	channelLines := make([]string, 0, len(channel))
	for _, m := range channel {
		files.add(m.Files...)
		channelLines = append(channelLines, formatLine(m, a.loc))
	}
	threadLines := make([]string, 0, len(thread))
	for _, m := range thread {
		files.add(m.Files...)
		threadLines = append(threadLines, formatLine(m, a.loc))
	}
	files.add(q.Current.Files...)

	return Bundle{
		ThreadLines:  threadLines,
		ChannelLines: channelLines,
		Files:        files.list,
		Text:         renderText(q.Stage, channelLines, threadLines, q.Current),
		Stage:        q.Stage,
	}
}

// Escalate aggregates at the normal stage and calls try. When try reports the
// context insufficient and the normal window is below the extended window, it
// re-aggregates once at the extended stage and calls try again. try is never
// called more than twice.
func (a *Aggregator) Escalate(ctx context.Context, q Query, try func(context.Context, Bundle) (insufficient bool, err error)) (Bundle, error) {
	q.Stage = StageNormal
	q.Window = 0

	bundle := a.Aggregate(ctx, q)
	insufficient, err := try(ctx, bundle)
	if err != nil || !insufficient {
		return bundle, err
	}
	if a.window >= a.extendedWindow {
		a.log.Debug("History window already at the extended bound, not escalating",
			"scope_id", q.ScopeID,
			"window", a.window,
		)
		return bundle, nil
	}

	metrics.ContextEscalations.Inc()
	a.log.Debug("Escalating history window",
		"scope_id", q.ScopeID,
		"thread_key", q.ThreadKey,
		"window", a.extendedWindow,
	)

	q.Stage = StageExtended
	extended := a.Aggregate(ctx, q)
	_, err = try(ctx, extended)
	return extended, err
}

func (a *Aggregator) fetch(ctx context.Context, source string, q Query, load func(context.Context) ([]Message, error)) []Message {
	messages, err := load(ctx)
	if err != nil {
		metrics.HistoryDegraded.WithLabelValues(source).Inc()
		a.log.Warn("History fetch failed, continuing without it",
			"source", source,
			"scope_id", q.ScopeID,
			"thread_key", q.ThreadKey,
			"error", err,
		)
		return nil
	}
	return messages
}

// keep copies the messages matching ok into a new slice. Sources may hand out
// shared or cached slices, so fetched batches are never modified in place.
func keep(messages []Message, ok func(Message) bool) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if ok(m) {
			out = append(out, m)
		}
	}
	return out
}

func sortByTimestamp(messages []Message) []Message {
	slices.SortStableFunc(messages, func(a, b Message) int {
		return cmp.Compare(a.sortKey(), b.sortKey())
	})
	return messages
}

type fileSet struct {
	seen map[string]struct{}
	list []FileRef
}

func newFileSet() *fileSet {
	return &fileSet{seen: make(map[string]struct{})}
}

// add keeps the first occurrence of each file identity.
func (s *fileSet) add(files ...FileRef) {
	for _, file := range files {
		key := file.key()
		if _, ok := s.seen[key]; ok {
			continue
		}
		s.seen[key] = struct{}{}
		s.list = append(s.list, file)
	}
}
