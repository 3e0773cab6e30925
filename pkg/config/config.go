package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envConfigPath        = "TASKBRIDGE_CONFIG"
	envPrefix            = "TASKBRIDGE_"
	envSlackSecret       = "SLACK_SIGNING_SECRET"
	envSlackBotToken     = "SLACK_BOT_TOKEN"
	envNotionToken       = "NOTION_TOKEN"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAlertChat = "TELEGRAM_ALERT_CHAT_ID"
)

// Config is the root runtime configuration.
type Config struct {
	Slack       SlackConfig       `koanf:"slack"`
	Gateway     GatewayConfig     `koanf:"gateway"`
	Idempotency IdempotencyConfig `koanf:"idempotency"`
	Context     ContextConfig     `koanf:"context"`
	Transport   TransportConfig   `koanf:"transport"`
	Parser      ParserConfig      `koanf:"parser"`
	Providers   ProvidersConfig   `koanf:"providers"`
	Records     RecordsConfig     `koanf:"records"`
	Alerts      AlertsConfig      `koanf:"alerts"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `koanf:"format"`
	Level     string `koanf:"level"`
	AddSource bool   `koanf:"add_source"`
}

// SlackConfig holds the signing and API credentials for the Slack app.
type SlackConfig struct {
	SigningSecret          string   `koanf:"signing_secret"`
	BotToken               string   `koanf:"bot_token"`
	BotUserID              string   `koanf:"bot_user_id"`
	APIBaseURL             string   `koanf:"api_base_url"`
	ReplayToleranceSeconds int      `koanf:"replay_tolerance_seconds"`
	ResponseURLHosts       []string `koanf:"response_url_hosts"`
	MaxBodyBytes           int64    `koanf:"max_body_bytes"`
}

// GatewayConfig configures HTTP bind settings and the detached worker pool.
type GatewayConfig struct {
	Host               string `koanf:"host"`
	Port               int    `koanf:"port"`
	Workers            int    `koanf:"workers"`
	TaskTimeoutSeconds int    `koanf:"task_timeout_seconds"`
}

// IdempotencyConfig configures the duplicate-delivery guards.
type IdempotencyConfig struct {
	Backend    string `koanf:"backend"`
	TTLSeconds int    `koanf:"ttl_seconds"`
	MaxSize    int    `koanf:"max_size"`
	RedisURL   string `koanf:"redis_url"`
}

// ContextConfig sets the normal and extended history windows.
type ContextConfig struct {
	Window         int `koanf:"window"`
	ExtendedWindow int `koanf:"extended_window"`
}

// TransportConfig is the base retry policy for outbound calls.
type TransportConfig struct {
	TimeoutMs   int `koanf:"timeout_ms"`
	MaxRetries  int `koanf:"max_retries"`
	BaseDelayMs int `koanf:"base_delay_ms"`
}

// ParserConfig selects the task-field extractor.
type ParserConfig struct {
	Provider              string `koanf:"provider"`
	Model                 string `koanf:"model"`
	RequestTimeoutSeconds int    `koanf:"request_timeout_seconds"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenAI OpenAIProviderConfig `koanf:"openai"`
}

// OpenAIProviderConfig configures the OpenAI-compatible client.
type OpenAIProviderConfig struct {
	BaseURL      string `koanf:"base_url"`
	Organization string `koanf:"organization"`
	Project      string `koanf:"project"`
	APIKeyEnv    string `koanf:"api_key_env"`
}

// RecordsConfig selects the destination record store.
type RecordsConfig struct {
	Backend string       `koanf:"backend"`
	Notion  NotionConfig `koanf:"notion"`
}

// NotionConfig configures the Notion database that receives tasks.
type NotionConfig struct {
	Token      string `koanf:"token"`
	DatabaseID string `koanf:"database_id"`
	BaseURL    string `koanf:"base_url"`
	APIVersion string `koanf:"api_version"`
}

// AlertsConfig configures optional operator alerts.
type AlertsConfig struct {
	Telegram TelegramConfig `koanf:"telegram"`
}

// TelegramConfig configures the Telegram ops-chat forwarder.
type TelegramConfig struct {
	Enabled bool   `koanf:"enabled"`
	Token   string `koanf:"token"`
	ChatID  int64  `koanf:"chat_id"`
}

// TelemetryConfig toggles OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

var defaults = map[string]any{
	"slack.api_base_url":             "https://slack.com/api",
	"slack.replay_tolerance_seconds": 300,
	"slack.response_url_hosts":       []string{"hooks.slack.com", "*.slack.com"},
	"slack.max_body_bytes":           1 << 20,
	"gateway.host":                   "0.0.0.0",
	"gateway.port":                   3000,
	"gateway.workers":                4,
	"gateway.task_timeout_seconds":   120,
	"idempotency.backend":            "memory",
	"idempotency.ttl_seconds":        600,
	"idempotency.max_size":           10000,
	"context.window":                 20,
	"context.extended_window":        50,
	"transport.timeout_ms":           10000,
	"transport.max_retries":          2,
	"transport.base_delay_ms":        500,
	"parser.provider":                "heuristic",
	"parser.request_timeout_seconds": 30,
	"records.backend":                "memory",
	"records.notion.base_url":        "https://api.notion.com",
	"records.notion.api_version":     "2022-06-28",
	"telemetry.service_name":         "taskbridge",
	"logging.format":                 "text",
	"logging.level":                  "info",
}

// LoadConfig merges .env, the YAML config file, TASKBRIDGE_* variables and
// well-known secret variables, in increasing precedence.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for key, value := range defaults {
		if k.Exists(key) {
			continue
		}
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("apply default %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// envKey maps TASKBRIDGE_SLACK__BOT_TOKEN to slack.bot_token.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

// applyEnvOverrides injects the conventional secret variables on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if secret := strings.TrimSpace(os.Getenv(envSlackSecret)); secret != "" {
		cfg.Slack.SigningSecret = secret
	}
	if token := strings.TrimSpace(os.Getenv(envSlackBotToken)); token != "" {
		cfg.Slack.BotToken = token
	}
	if token := strings.TrimSpace(os.Getenv(envNotionToken)); token != "" {
		cfg.Records.Notion.Token = token
	}
	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Alerts.Telegram.Token = token
	}
	if rawChat := strings.TrimSpace(os.Getenv(envTelegramAlertChat)); rawChat != "" {
		if chatID, err := strconv.ParseInt(rawChat, 10, 64); err == nil {
			cfg.Alerts.Telegram.ChatID = chatID
		}
	}

	cfg.Slack.ResponseURLHosts = compact(cfg.Slack.ResponseURLHosts)
}

// compact splits comma-joined entries (env values arrive as one string),
// trims them and drops empties.
func compact(values []string) []string {
	clean := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			clean = append(clean, trimmed)
		}
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is TASKBRIDGE_CONFIG first, then cwd-local fallback paths. An empty
// result with a nil error means no file is present and env/defaults apply.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.yaml"),
		filepath.Join(cwd, "config", "config.yaml"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
