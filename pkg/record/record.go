// Package record persists extracted tasks in a destination store.
package record

import (
	"fmt"
	"log/slog"
	"strings"

	"taskbridge/pkg/config"
	"taskbridge/pkg/task"
	"taskbridge/pkg/transport"
)

// New returns the store selected by records.backend.
func New(cfg config.RecordsConfig, tr *transport.Client, policies transport.Policies, log *slog.Logger) (task.RecordStore, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "notion":
		if strings.TrimSpace(cfg.Notion.Token) == "" {
			return nil, fmt.Errorf("records.notion.token is required")
		}
		if strings.TrimSpace(cfg.Notion.DatabaseID) == "" {
			return nil, fmt.Errorf("records.notion.database_id is required")
		}
		return NewNotionStore(NotionOptions{
			BaseURL:    cfg.Notion.BaseURL,
			Token:      cfg.Notion.Token,
			DatabaseID: cfg.Notion.DatabaseID,
			APIVersion: cfg.Notion.APIVersion,
			Transport:  tr,
			Policy:     policies.Mutation,
			Logger:     log,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported records backend: %s", backend)
	}
}
