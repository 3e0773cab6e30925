// Package types holds the prompt contract shared by LLM-backed parsers.
package types

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"taskbridge/pkg/task"
)

// Instructions is the system prompt for task-field extraction.
var Instructions = strings.TrimSpace(instructionsTemplate)

//go:embed instructions.md
var instructionsTemplate string

// TokenUsage captures token accounting reported by a provider.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// IsZero reports whether all token counters are unset/zero.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0
}

// Prompt renders the user turn for text and hints.
func Prompt(text string, hints task.Hints) string {
	var b strings.Builder
	if hints.Extended {
		b.WriteString("Earlier extraction lacked context; more history is included below.\n\n")
	}
	if len(hints.Files) > 0 {
		names := make([]string, 0, len(hints.Files))
		for _, file := range hints.Files {
			names = append(names, fmt.Sprintf("%s (%s)", file.Name, file.MimeType))
		}
		fmt.Fprintf(&b, "Attached files: %s\n\n", strings.Join(names, ", "))
	}
	b.WriteString(strings.TrimSpace(text))
	return b.String()
}

// DecodeFields parses a model reply. Code fences and surrounding prose are tolerated.
func DecodeFields(reply string) (task.Fields, error) {
	reply = strings.TrimSpace(reply)
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return task.Fields{}, errors.New("model reply contains no JSON object")
	}

	var fields task.Fields
	if err := json.Unmarshal([]byte(reply[start:end+1]), &fields); err != nil {
		return task.Fields{}, fmt.Errorf("decode model reply: %w", err)
	}

	fields.Title = strings.TrimSpace(fields.Title)
	fields.Priority = strings.ToLower(strings.TrimSpace(fields.Priority))
	switch fields.Priority {
	case "", "low", "medium", "high":
	default:
		fields.Priority = ""
	}

	return fields, nil
}

// NormalizeModel strips an optional "openai/" prefix and rejects other providers.
func NormalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	providerID, modelID, found := strings.Cut(model, "/")
	if !found {
		return model, nil
	}

	providerID = strings.TrimSpace(providerID)
	modelID = strings.TrimSpace(modelID)
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported", providerID)
	}

	return modelID, nil
}
