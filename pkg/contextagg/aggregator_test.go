package contextagg

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu          sync.Mutex
	thread      []Message
	channel     []Message
	threadErr   error
	channelErr  error
	threadLimit []int
	chanLimit   []int
	gate        chan struct{}
}

func (f *fakeSource) Thread(_ context.Context, _, _ string, limit int) ([]Message, error) {
	f.mu.Lock()
	f.threadLimit = append(f.threadLimit, limit)
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	return append([]Message(nil), f.thread...), f.threadErr
}

func (f *fakeSource) Channel(_ context.Context, _ string, limit int) ([]Message, error) {
	f.mu.Lock()
	f.chanLimit = append(f.chanLimit, limit)
	f.mu.Unlock()
	if f.gate != nil {
		f.gate <- struct{}{}
	}
	return append([]Message(nil), f.channel...), f.channelErr
}

func TestAggregateSortsByNumericTimestamp(t *testing.T) {
	source := &fakeSource{channel: []Message{
		{TimestampKey: "1700000010.000200", AuthorID: "U1", Text: "second"},
		{TimestampKey: "1700000009.999999", AuthorID: "U1", Text: "first"},
		{TimestampKey: "1700000100.0", AuthorID: "U2", Text: "third"},
	}}

	bundle := New(source, Options{}).Aggregate(context.Background(), Query{ScopeID: "C1", Current: Current{Text: "now"}})

	require.Len(t, bundle.ChannelLines, 3)
	assert.Contains(t, bundle.ChannelLines[0], "first")
	assert.Contains(t, bundle.ChannelLines[1], "second")
	assert.Contains(t, bundle.ChannelLines[2], "third")
}

func TestAggregateFiltersAutomatedAndThreadedMessages(t *testing.T) {
	source := &fakeSource{
		thread: []Message{
			{TimestampKey: "100.1", AuthorID: "U1", Text: "root"},
			{TimestampKey: "100.2", AuthorID: "B1", Text: "bot reply", Automated: true},
			{TimestampKey: "100.3", AuthorID: "U2", Text: "trigger"},
		},
		channel: []Message{
			{TimestampKey: "90.0", AuthorID: "U3", Text: "plain"},
			{TimestampKey: "100.1", AuthorID: "U1", Text: "root", ThreadKey: "100.1"},
			{TimestampKey: "95.0", AuthorID: "B1", Text: "deploy finished", Automated: true},
		},
	}

	bundle := New(source, Options{}).Aggregate(context.Background(), Query{
		ScopeID:             "C1",
		ThreadKey:           "100.1",
		ExcludeTimestampKey: "100.3",
		Current:             Current{Text: "trigger"},
	})

	require.Len(t, bundle.ThreadLines, 1)
	assert.Contains(t, bundle.ThreadLines[0], "U1: root")
	require.Len(t, bundle.ChannelLines, 1)
	assert.Contains(t, bundle.ChannelLines[0], "U3: plain")
	assert.NotContains(t, bundle.Text, "bot reply")
	assert.NotContains(t, bundle.Text, "deploy finished")
}

func TestAggregateLineFormat(t *testing.T) {
	source := &fakeSource{channel: []Message{{
		TimestampKey: "1700000000.123456",
		AuthorID:     "U1",
		Text:         "see attached",
		Files: []FileRef{
			{ID: "F1", Name: "spec.pdf", MimeType: "application/pdf"},
			{ID: "F2", Name: "shot.png", MimeType: "image/png"},
		},
	}}}

	bundle := New(source, Options{}).Aggregate(context.Background(), Query{ScopeID: "C1"})

	require.Len(t, bundle.ChannelLines, 1)
	assert.Equal(t, "[2023-11-14 22:13] U1: see attached [File: spec.pdf (application/pdf)], [File: shot.png (image/png)]", bundle.ChannelLines[0])
}

func TestAggregateDeduplicatesFilesAcrossBatches(t *testing.T) {
	shared := FileRef{ID: "F1", Name: "a.png", MimeType: "image/png"}
	source := &fakeSource{
		thread: []Message{
			{TimestampKey: "2", AuthorID: "U1", Text: "again", Files: []FileRef{{ID: "F1", Name: "renamed.png", MimeType: "image/png"}}},
			{TimestampKey: "3", AuthorID: "U1", Text: "idless", Files: []FileRef{{Name: "notes.txt", MimeType: "text/plain"}}},
		},
		channel: []Message{
			{TimestampKey: "1", AuthorID: "U1", Text: "first", Files: []FileRef{shared}},
		},
	}

	bundle := New(source, Options{}).Aggregate(context.Background(), Query{
		ScopeID:   "C1",
		ThreadKey: "2",
		Current:   Current{Text: "x", Files: []FileRef{{Name: "notes.txt", MimeType: "text/plain"}, {ID: "F9", Name: "new.csv", MimeType: "text/csv"}}},
	})

	require.Len(t, bundle.Files, 3)
	assert.Equal(t, "a.png", bundle.Files[0].Name, "first occurrence wins")
	assert.Equal(t, "notes.txt", bundle.Files[1].Name)
	assert.Equal(t, "F9", bundle.Files[2].ID)
}

func TestAggregateWithoutHistoryIsCurrentTextOnly(t *testing.T) {
	bundle := New(&fakeSource{}, Options{}).Aggregate(context.Background(), Query{
		ScopeID: "D1",
		Current: Current{Text: "fix login", Files: []FileRef{{Name: "log.txt", MimeType: "text/plain"}}},
	})

	assert.Equal(t, "fix login [File: log.txt (text/plain)]", bundle.Text)
	assert.Empty(t, bundle.ChannelLines)
	assert.Empty(t, bundle.ThreadLines)
}

func TestAggregateOmitsEmptyChannelSection(t *testing.T) {
	source := &fakeSource{thread: []Message{{TimestampKey: "1", AuthorID: "U1", Text: "context"}}}

	bundle := New(source, Options{}).Aggregate(context.Background(), Query{
		ScopeID:   "C1",
		ThreadKey: "1",
		Current:   Current{Text: "make a task"},
	})

	assert.NotContains(t, bundle.Text, "Channel history")
	assert.True(t, strings.HasPrefix(bundle.Text, "Thread history (1 messages):\n"))
	assert.True(t, strings.HasSuffix(bundle.Text, "Current message:\nmake a task"))
}

func TestAggregateSectionOrder(t *testing.T) {
	source := &fakeSource{
		thread:  []Message{{TimestampKey: "5", AuthorID: "U1", Text: "in thread"}},
		channel: []Message{{TimestampKey: "1", AuthorID: "U2", Text: "in channel"}},
	}

	bundle := New(source, Options{}).Aggregate(context.Background(), Query{ScopeID: "C1", ThreadKey: "5", Current: Current{Text: "go"}})

	channelAt := strings.Index(bundle.Text, "Channel history (1 messages):")
	threadAt := strings.Index(bundle.Text, "Thread history (1 messages):")
	currentAt := strings.Index(bundle.Text, "Current message:")
	require.True(t, channelAt >= 0 && threadAt > channelAt && currentAt > threadAt, bundle.Text)
}

func TestAggregateWindows(t *testing.T) {
	source := &fakeSource{}
	agg := New(source, Options{Window: 20, ExtendedWindow: 50})

	agg.Aggregate(context.Background(), Query{ScopeID: "C1", ThreadKey: "1"})
	agg.Aggregate(context.Background(), Query{ScopeID: "C1"})
	agg.Aggregate(context.Background(), Query{ScopeID: "C1", ThreadKey: "1", Stage: StageExtended})

	assert.Equal(t, []int{20, 50}, source.threadLimit)
	assert.ElementsMatch(t, []int{10, 20, 25}, source.chanLimit)
}

func TestAggregateFetchesConcurrently(t *testing.T) {
	// Thread blocks until Channel has run; a sequential thread-first fetch would deadlock.
	source := &fakeSource{
		gate:    make(chan struct{}),
		thread:  []Message{{TimestampKey: "1", AuthorID: "U1", Text: "t"}},
		channel: []Message{{TimestampKey: "0.5", AuthorID: "U1", Text: "c"}},
	}

	done := make(chan Bundle, 1)
	go func() {
		done <- New(source, Options{}).Aggregate(context.Background(), Query{ScopeID: "C1", ThreadKey: "9"})
	}()

	select {
	case bundle := <-done:
		assert.Len(t, bundle.ThreadLines, 1)
		assert.Len(t, bundle.ChannelLines, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("aggregate did not fetch thread and channel concurrently")
	}
}

func TestAggregateDegradesFailedBatch(t *testing.T) {
	source := &fakeSource{
		thread:     []Message{{TimestampKey: "1", AuthorID: "U1", Text: "kept"}},
		channelErr: errors.New("status 503"),
	}

	bundle := New(source, Options{}).Aggregate(context.Background(), Query{ScopeID: "C1", ThreadKey: "1", Current: Current{Text: "now"}})

	assert.Empty(t, bundle.ChannelLines)
	assert.Len(t, bundle.ThreadLines, 1)
	assert.Contains(t, bundle.Text, "Thread history (1 messages):")
}

func TestEscalateRetriesOnceWithExtendedStage(t *testing.T) {
	source := &fakeSource{channel: []Message{{TimestampKey: "1", AuthorID: "U1", Text: "earlier"}}}
	agg := New(source, Options{Window: 20, ExtendedWindow: 50})

	var stages []Stage
	bundle, err := agg.Escalate(context.Background(), Query{ScopeID: "C1", Current: Current{Text: "it"}}, func(_ context.Context, b Bundle) (bool, error) {
		stages = append(stages, b.Stage)
		return true, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []Stage{StageNormal, StageExtended}, stages)
	assert.Equal(t, StageExtended, bundle.Stage)
	assert.Contains(t, bundle.Text, "Extended channel history (1 messages):")
	assert.Equal(t, []int{20, 50}, source.chanLimit)
}

func TestEscalateStopsWhenSufficient(t *testing.T) {
	agg := New(&fakeSource{}, Options{})

	calls := 0
	bundle, err := agg.Escalate(context.Background(), Query{ScopeID: "C1"}, func(context.Context, Bundle) (bool, error) {
		calls++
		return false, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StageNormal, bundle.Stage)
}

func TestEscalateSurfacesTryError(t *testing.T) {
	agg := New(&fakeSource{}, Options{})
	boom := errors.New("parser down")

	calls := 0
	_, err := agg.Escalate(context.Background(), Query{ScopeID: "C1"}, func(context.Context, Bundle) (bool, error) {
		calls++
		return true, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestFileRefKeyFallsBackToNameAndMime(t *testing.T) {
	a := FileRef{Name: "x.txt", MimeType: "text/plain"}
	b := FileRef{Name: "x.txt", MimeType: "text/plain"}
	c := FileRef{Name: "x.txt", MimeType: "text/markdown"}

	assert.Equal(t, a.key(), b.key())
	assert.NotEqual(t, a.key(), c.key())
	assert.NotEqual(t, FileRef{ID: "F1", Name: "x.txt", MimeType: "text/plain"}.key(), a.key())
}

// sharedSource hands out the same backing slices on every call, like a cache.
type sharedSource struct {
	thread  []Message
	channel []Message
}

func (s *sharedSource) Thread(context.Context, string, string, int) ([]Message, error) {
	return s.thread, nil
}

func (s *sharedSource) Channel(context.Context, string, int) ([]Message, error) {
	return s.channel, nil
}

func TestAggregateLeavesSourceSlicesUntouched(t *testing.T) {
	source := &sharedSource{
		thread: []Message{
			{TimestampKey: "3.0", AuthorID: "U1", Text: "track this"},
			{TimestampKey: "1.0", AuthorID: "U2", Text: "deploy is failing"},
		},
		channel: []Message{
			{TimestampKey: "2.0", AuthorID: "U3", Text: "in thread", ThreadKey: "1.0"},
			{TimestampKey: "0.5", AuthorID: "U4", Text: "standup notes"},
		},
	}
	original := []Message{source.thread[0], source.thread[1]}
	agg := New(source, Options{})
	q := Query{ScopeID: "C1", ThreadKey: "1.0", ExcludeTimestampKey: "3.0", Current: Current{Text: "track this"}}

	first := agg.Aggregate(context.Background(), q)
	second := agg.Aggregate(context.Background(), q)

	assert.Equal(t, original, source.thread)
	assert.Equal(t, first.ThreadLines, second.ThreadLines)
	assert.Equal(t, first.ChannelLines, second.ChannelLines)
	require.Len(t, second.ThreadLines, 1)
	assert.Contains(t, second.ThreadLines[0], "U2: deploy is failing")
	require.Len(t, second.ChannelLines, 1)
	assert.NotContains(t, second.Text, "unknown")
}

func TestEscalateSkippedWhenWindowAtExtendedBound(t *testing.T) {
	source := &fakeSource{channel: []Message{{TimestampKey: "1", AuthorID: "U1", Text: "earlier"}}}
	agg := New(source, Options{Window: 50, ExtendedWindow: 50})

	calls := 0
	bundle, err := agg.Escalate(context.Background(), Query{ScopeID: "C1", Current: Current{Text: "it"}}, func(context.Context, Bundle) (bool, error) {
		calls++
		return true, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StageNormal, bundle.Stage)
	assert.Equal(t, []int{50}, source.chanLimit)
}

func TestAggregateSkipsChannelWhenHalfWindowIsZero(t *testing.T) {
	source := &fakeSource{
		thread:  []Message{{TimestampKey: "1", AuthorID: "U1", Text: "t"}},
		channel: []Message{{TimestampKey: "0.5", AuthorID: "U1", Text: "c"}},
	}

	bundle := New(source, Options{}).Aggregate(context.Background(), Query{ScopeID: "C1", ThreadKey: "1", Window: 1})

	assert.Empty(t, source.chanLimit)
	assert.Equal(t, []int{1}, source.threadLimit)
	assert.Empty(t, bundle.ChannelLines)
	assert.Len(t, bundle.ThreadLines, 1)
}
