package slack

import (
	"fmt"

	"taskbridge/pkg/failure"
)

// Message is one entry from conversations.history or conversations.replies.
type Message struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype,omitempty"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
	User     string `json:"user,omitempty"`
	BotID    string `json:"bot_id,omitempty"`
	Text     string `json:"text"`
	Files    []File `json:"files,omitempty"`
}

// Automated reports whether the message was posted by a bot or integration.
func (m Message) Automated() bool {
	return m.BotID != "" || m.Subtype == "bot_message"
}

// File is a file reference attached to a message. Only identity is carried.
type File struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Mimetype string `json:"mimetype"`
}

// Identity is the bot identity returned by auth.test.
type Identity struct {
	UserID string `json:"user_id"`
	BotID  string `json:"bot_id"`
	TeamID string `json:"team_id"`
	Team   string `json:"team"`
	URL    string `json:"url"`
}

type envelope struct {
	OK               bool   `json:"ok"`
	Error            string `json:"error,omitempty"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

type historyResponse struct {
	envelope
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

type authTestResponse struct {
	envelope
	Identity
}

// APIError is an ok:false reply from the Web API.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

func (e *APIError) FailureCategory() string {
	return failure.CategoryUpstream
}

// StatusError is a non-2xx reply that the transport did not retry.
type StatusError struct {
	Method     string
	StatusCode int
}

func (e *StatusError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("slack %s: status %d", e.Method, e.StatusCode)
}

func (e *StatusError) FailureCategory() string {
	return failure.CategoryUpstream
}
