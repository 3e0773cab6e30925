package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"taskbridge/pkg/config"
	providertypes "taskbridge/pkg/provider/types"
	"taskbridge/pkg/task"
)

const defaultModel = "gpt-5-mini"

// Parser extracts task fields with the Responses API.
type Parser struct {
	client         osdk.Client
	model          string
	requestTimeout time.Duration
}

func New(cfg *config.Config) (*Parser, error) {
	providerCfg := cfg.Providers.OpenAI
	apiKey := resolveAPIKey(providerCfg)
	if apiKey == "" {
		return nil, errors.New("providers.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	model := cfg.Parser.Model
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	modelID, err := providertypes.NormalizeModel(model)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(providerCfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(providerCfg.Organization); organization != "" {
		opts = append(opts, option.WithOrganization(organization))
	}
	if project := strings.TrimSpace(providerCfg.Project); project != "" {
		opts = append(opts, option.WithProject(project))
	}

	requestTimeout := time.Duration(cfg.Parser.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}

	return &Parser{
		client:         osdk.NewClient(opts...),
		model:          modelID,
		requestTimeout: requestTimeout,
	}, nil
}

// Parse sends text to the model and decodes the JSON reply.
func (p *Parser) Parse(ctx context.Context, text string, hints task.Hints) (task.Fields, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "parse")
	startedAt := time.Now()

	prompt := providertypes.Prompt(text, hints)
	log.Debug("provider request started", "model", p.model, "prompt_length", len(prompt), "extended", hints.Extended)

	response, err := p.client.Responses.New(ctx, responses.ResponseNewParams{
		Model:        p.model,
		Instructions: osdk.String(providertypes.Instructions),
		Input:        responses.ResponseNewParamsInputUnion{OfString: osdk.String(prompt)},
	})
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return task.Fields{}, fmt.Errorf("parse request failed: %w", err)
	}

	reply := strings.TrimSpace(response.OutputText())
	if reply == "" {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no output text")
		return task.Fields{}, errors.New("parse request returned no text")
	}

	fields, err := providertypes.DecodeFields(reply)
	if err != nil {
		log.Debug("provider reply rejected", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return task.Fields{}, err
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(reply))

	return fields, nil
}

// Name identifies the parser in logs.
func (p *Parser) Name() string {
	return "openai"
}

func providerLogger() *slog.Logger {
	return slog.Default().With("component", "provider.openai")
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
