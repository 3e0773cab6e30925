package fantasy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	core "charm.land/fantasy"
	provideropenai "charm.land/fantasy/providers/openai"

	"taskbridge/pkg/config"
	providertypes "taskbridge/pkg/provider/types"
	"taskbridge/pkg/task"
)

const (
	defaultModel       = "gpt-5-mini"
	maxOutputTokens    = int64(800)
	extractTemperature = 0.1
)

type languageModelProvider interface {
	LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error)
}

// Parser extracts task fields through a fantasy agent over the OpenAI provider.
type Parser struct {
	provider        languageModelProvider
	requestTimeout  time.Duration
	modelID         string
	maxOutputTokens *int64
	temperature     *float64
	generate        func(context.Context, core.LanguageModel, core.AgentCall) (*core.AgentResult, error)
}

func New(cfg *config.Config) (*Parser, error) {
	apiKey := resolveAPIKey(cfg.Providers.OpenAI)
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY must be set")
	}

	model := cfg.Parser.Model
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	modelID, err := providertypes.NormalizeModel(model)
	if err != nil {
		return nil, err
	}

	providerOptions := []provideropenai.Option{provideropenai.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.Providers.OpenAI.BaseURL); baseURL != "" {
		providerOptions = append(providerOptions, provideropenai.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(cfg.Providers.OpenAI.Organization); organization != "" {
		providerOptions = append(providerOptions, provideropenai.WithOrganization(organization))
	}
	if project := strings.TrimSpace(cfg.Providers.OpenAI.Project); project != "" {
		providerOptions = append(providerOptions, provideropenai.WithProject(project))
	}

	fantasyProvider, err := provideropenai.New(providerOptions...)
	if err != nil {
		return nil, fmt.Errorf("initialize fantasy openai provider: %w", err)
	}

	maxTokens := maxOutputTokens
	temperature := extractTemperature

	return &Parser{
		provider:        fantasyProvider,
		requestTimeout:  time.Duration(cfg.Parser.RequestTimeoutSeconds) * time.Second,
		modelID:         modelID,
		maxOutputTokens: &maxTokens,
		temperature:     &temperature,
		generate:        generateWithFantasyAgent,
	}, nil
}

// Parse runs a single-turn agent call with the extraction instructions as
// the system message.
func (p *Parser) Parse(ctx context.Context, text string, hints task.Hints) (task.Fields, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	log := slog.Default().With("component", "provider.fantasy", "operation", "parse")
	startedAt := time.Now()

	prompt := strings.TrimSpace(providertypes.Prompt(text, hints))
	if prompt == "" {
		return task.Fields{}, errors.New("prompt is required")
	}

	languageModel, err := p.provider.LanguageModel(ctx, p.modelID)
	if err != nil {
		return task.Fields{}, fmt.Errorf("resolve language model: %w", err)
	}

	call := core.AgentCall{
		Prompt: prompt,
		Messages: []core.Message{{
			Role:    core.MessageRoleSystem,
			Content: []core.MessagePart{core.TextPart{Text: providertypes.Instructions}},
		}},
		MaxOutputTokens: p.maxOutputTokens,
		Temperature:     p.temperature,
	}

	generate := p.generate
	if generate == nil {
		generate = generateWithFantasyAgent
	}

	result, err := generate(ctx, languageModel, call)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return task.Fields{}, fmt.Errorf("parse request failed: %w", err)
	}

	reply := extractText(result.Response.Content)
	if reply == "" {
		return task.Fields{}, errors.New("parse request returned no text")
	}

	usage := providertypes.TokenUsage{
		InputTokens:  result.TotalUsage.InputTokens,
		OutputTokens: result.TotalUsage.OutputTokens,
		TotalTokens:  result.TotalUsage.TotalTokens,
	}
	attrs := []any{"duration_ms", time.Since(startedAt).Milliseconds(), "model", p.modelID}
	if !usage.IsZero() {
		attrs = append(attrs, "input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens)
	}
	log.Debug("provider request completed", attrs...)

	return providertypes.DecodeFields(reply)
}

// Name identifies the parser in logs.
func (p *Parser) Name() string {
	return "fantasy"
}

func (p *Parser) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, p.requestTimeout)
}

func resolveAPIKey(cfg config.OpenAIProviderConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}
	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

func extractText(content core.ResponseContent) string {
	lines := make([]string, 0)
	for _, part := range content {
		if part.GetType() != core.ContentTypeText {
			continue
		}

		textPart, ok := core.AsContentType[core.TextContent](part)
		if !ok {
			continue
		}

		if line := strings.TrimSpace(textPart.Text); line != "" {
			lines = append(lines, line)
		}
	}

	return strings.Join(lines, "\n")
}

func generateWithFantasyAgent(ctx context.Context, model core.LanguageModel, call core.AgentCall) (*core.AgentResult, error) {
	return core.NewAgent(model).Generate(ctx, call)
}
