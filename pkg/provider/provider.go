// Package provider resolves the configured task parser.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"taskbridge/pkg/config"
	providerfantasy "taskbridge/pkg/provider/fantasy"
	"taskbridge/pkg/provider/heuristic"
	provideropenai "taskbridge/pkg/provider/openai"
	"taskbridge/pkg/task"
)

// NamedParser is a task.Parser that reports its name for logs.
type NamedParser interface {
	task.Parser
	Name() string
}

// New returns the parser selected by parser.provider. Model-backed parsers
// are wrapped so that a failed request degrades to the heuristic parser.
func New(cfg *config.Config, log *slog.Logger) (NamedParser, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "provider.factory")

	providerID := strings.ToLower(strings.TrimSpace(cfg.Parser.Provider))
	if providerID == "" {
		providerID = "heuristic"
	}

	log.Debug("Resolving task parser", "provider", providerID)

	switch providerID {
	case "heuristic":
		return heuristic.New(), nil
	case "openai":
		primary, err := provideropenai.New(cfg)
		if err != nil {
			return nil, err
		}
		return NewFallback(primary, heuristic.New(), log), nil
	case "fantasy":
		primary, err := providerfantasy.New(cfg)
		if err != nil {
			return nil, err
		}
		return NewFallback(primary, heuristic.New(), log), nil
	default:
		return nil, fmt.Errorf("unsupported parser provider: %s", providerID)
	}
}

// Fallback tries the primary parser and uses the secondary on error.
type Fallback struct {
	primary   NamedParser
	secondary NamedParser
	log       *slog.Logger
}

func NewFallback(primary, secondary NamedParser, log *slog.Logger) *Fallback {
	if log == nil {
		log = slog.Default()
	}
	return &Fallback{primary: primary, secondary: secondary, log: log}
}

func (f *Fallback) Name() string {
	return f.primary.Name() + "+" + f.secondary.Name()
}

func (f *Fallback) Parse(ctx context.Context, text string, hints task.Hints) (task.Fields, error) {
	fields, err := f.primary.Parse(ctx, text, hints)
	if err == nil {
		return fields, nil
	}
	if ctx.Err() != nil {
		return task.Fields{}, err
	}

	f.log.Warn("Primary parser failed, using fallback",
		"primary", f.primary.Name(),
		"fallback", f.secondary.Name(),
		"error", err,
	)
	return f.secondary.Parse(ctx, text, hints)
}
