package record

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"taskbridge/pkg/failure"
	"taskbridge/pkg/task"
	"taskbridge/pkg/transport"
)

const (
	defaultNotionBaseURL    = "https://api.notion.com"
	defaultNotionAPIVersion = "2022-06-28"
	notionTextLimit         = 2000
)

// NotionOptions configures a NotionStore.
type NotionOptions struct {
	BaseURL    string
	Token      string
	DatabaseID string
	APIVersion string
	Transport  *transport.Client
	Policy     transport.Policy
	Logger     *slog.Logger
}

// NotionStore creates one page per task in a Notion database. The database
// is expected to have Name (title), Priority (select), Due (date), Tags
// (multi_select) and Assignee (rich_text) properties.
type NotionStore struct {
	baseURL    string
	token      string
	databaseID string
	apiVersion string
	transport  *transport.Client
	policy     transport.Policy
	log        *slog.Logger
}

// NotionError is a non-2xx reply from the Notion API.
type NotionError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *NotionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("notion: status %d", e.StatusCode)
	}
	return fmt.Sprintf("notion: %s (%s)", e.Message, e.Code)
}

func (e *NotionError) FailureCategory() string {
	return failure.CategoryDownstream
}

func NewNotionStore(opts NotionOptions) *NotionStore {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultNotionBaseURL
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultNotionAPIVersion
	}
	tr := opts.Transport
	if tr == nil {
		tr = transport.New(transport.Options{Logger: opts.Logger})
	}
	policy := opts.Policy
	if policy == (transport.Policy{}) {
		policy = transport.MutationPolicy
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &NotionStore{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		databaseID: strings.TrimSpace(opts.DatabaseID),
		apiVersion: apiVersion,
		transport:  tr,
		policy:     policy,
		log:        log.With("component", "record.notion"),
	}
}

func (s *NotionStore) CreateRecord(ctx context.Context, fields task.Fields, input task.Input) (task.Record, error) {
	body, err := json.Marshal(s.pagePayload(fields, input))
	if err != nil {
		return task.Record{}, fmt.Errorf("encode notion page: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token)
	header.Set("Content-Type", "application/json")
	header.Set("Notion-Version", s.apiVersion)

	resp, err := s.transport.Execute(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    s.baseURL + "/v1/pages",
		Header: header,
		Body:   body,
	}, s.policy)
	if err != nil {
		return task.Record{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(resp.Body, &payload)
		return task.Record{}, &NotionError{StatusCode: resp.StatusCode, Code: payload.Code, Message: payload.Message}
	}

	var page struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return task.Record{}, fmt.Errorf("decode notion page: %w", err)
	}

	s.log.Debug("Notion page created", "page_id", page.ID, "scope_id", input.ScopeID)
	return task.Record{ID: page.ID, URL: page.URL}, nil
}

func (s *NotionStore) pagePayload(fields task.Fields, input task.Input) map[string]any {
	properties := map[string]any{
		"Name": map[string]any{"title": richText(fields.Title)},
	}
	if fields.Priority != "" {
		properties["Priority"] = map[string]any{"select": map[string]any{"name": fields.Priority}}
	}
	if fields.DueDate != "" {
		properties["Due"] = map[string]any{"date": map[string]any{"start": fields.DueDate}}
	}
	if len(fields.Tags) > 0 {
		tags := make([]map[string]any, 0, len(fields.Tags))
		for _, tag := range fields.Tags {
			tags = append(tags, map[string]any{"name": tag})
		}
		properties["Tags"] = map[string]any{"multi_select": tags}
	}
	if fields.Assignee != "" {
		properties["Assignee"] = map[string]any{"rich_text": richText(fields.Assignee)}
	}

	var children []map[string]any
	if description := strings.TrimSpace(fields.Description); description != "" {
		children = append(children, paragraph(description))
	}
	for _, file := range input.Files {
		children = append(children, paragraph(fmt.Sprintf("Attachment: %s (%s)", file.Name, file.MimeType)))
	}
	if input.AuthorID != "" {
		children = append(children, paragraph("Requested by "+input.AuthorID))
	}

	payload := map[string]any{
		"parent":     map[string]any{"database_id": s.databaseID},
		"properties": properties,
	}
	if len(children) > 0 {
		payload["children"] = children
	}
	return payload
}

func paragraph(text string) map[string]any {
	return map[string]any{
		"object":    "block",
		"type":      "paragraph",
		"paragraph": map[string]any{"rich_text": richText(text)},
	}
}

// richText truncates to the per-object limit of the Notion API.
func richText(text string) []map[string]any {
	runes := []rune(text)
	if len(runes) > notionTextLimit {
		text = string(runes[:notionTextLimit])
	}
	return []map[string]any{{"type": "text", "text": map[string]any{"content": text}}}
}
