package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"taskbridge/pkg/failure"
)

// Pipeline runs extraction and record creation.
type Pipeline struct {
	parser Parser
	store  RecordStore
	log    *slog.Logger
}

func NewPipeline(parser Parser, store RecordStore, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		parser: parser,
		store:  store,
		log:    log.With("component", "task.pipeline"),
	}
}

// Extract parses input.Text. An empty title is filled from the text so a
// record can always be created.
func (p *Pipeline) Extract(ctx context.Context, input Input, extended bool) (Fields, error) {
	if p == nil || p.parser == nil {
		return Fields{}, failure.New(failure.CategoryDownstream, "task parser not configured")
	}
	if strings.TrimSpace(input.Text) == "" {
		return Fields{}, failure.New(failure.CategoryDownstream, "empty task text")
	}

	startedAt := time.Now()
	fields, err := p.parser.Parse(ctx, input.Text, HintsFor(input, extended))
	if err != nil {
		p.log.Debug("Task extraction failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return Fields{}, downstream("extract task fields", err)
	}

	if strings.TrimSpace(fields.Title) == "" {
		fields.Title = fallbackTitle(input.Text)
	}
	p.log.Debug("Task extraction completed",
		"duration_ms", time.Since(startedAt).Milliseconds(),
		"extended", extended,
		"insufficient_context", fields.InsufficientContext,
	)

	return fields, nil
}

// Commit creates the destination record and converts the outcome to a Result.
func (p *Pipeline) Commit(ctx context.Context, input Input, fields Fields) Result {
	if p == nil || p.store == nil {
		return Failed("record store not configured")
	}

	record, err := p.store.CreateRecord(ctx, fields, input)
	if err != nil {
		p.log.Warn("Record creation failed", "scope_id", input.ScopeID, "error", err)
		return Failed(failure.Reason(downstream("create record", err)))
	}

	return Result{OK: true, ID: record.ID, URL: record.URL}
}

// Run extracts and commits in one step without history escalation.
func (p *Pipeline) Run(ctx context.Context, input Input) Result {
	fields, err := p.Extract(ctx, input, false)
	if err != nil {
		return Failed(failure.Reason(err))
	}
	return p.Commit(ctx, input, fields)
}

func downstream(op string, err error) error {
	var categorized *failure.Error
	if errors.As(err, &categorized) {
		return err
	}
	return &failure.Error{
		Category: failure.CategoryDownstream,
		Detail:   fmt.Sprintf("%s: %v", op, err),
		Err:      err,
	}
}

// fallbackTitle takes the last non-empty line, which is the current message
// when text carries history sections.
func fallbackTitle(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	title := strings.TrimSpace(lines[len(lines)-1])

	const limit = 80
	runes := []rune(title)
	if len(runes) > limit {
		title = strings.TrimSpace(string(runes[:limit])) + "..."
	}
	return title
}
