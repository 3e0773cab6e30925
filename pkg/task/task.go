// Package task turns aggregated conversation text into a destination record.
package task

import (
	"context"
	"strings"
)

const unknownFailure = "unknown error"

// File is a file reference forwarded with a task. Content is not transferred.
type File struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
}

// Input is what the ingestion layer hands to the pipeline.
type Input struct {
	Text      string
	AuthorID  string
	ScopeID   string
	Timestamp string
	Files     []File
}

// Fields are the structured task attributes extracted from text.
type Fields struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority,omitempty"`
	Assignee    string   `json:"assignee,omitempty"`
	DueDate     string   `json:"due_date,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	// InsufficientContext asks the caller to retry with more history.
	InsufficientContext bool `json:"insufficient_context"`
}

// Hints carry request metadata alongside the text being parsed.
type Hints struct {
	AuthorID  string
	ScopeID   string
	Timestamp string
	Files     []File
	Extended  bool
}

// Parser extracts Fields from free text.
type Parser interface {
	Parse(ctx context.Context, text string, hints Hints) (Fields, error)
}

// Record identifies a created destination record.
type Record struct {
	ID  string
	URL string
}

// RecordStore persists a task.
type RecordStore interface {
	CreateRecord(ctx context.Context, fields Fields, input Input) (Record, error)
}

// Result is the pipeline outcome reported back to the user.
type Result struct {
	OK      bool
	ID      string
	URL     string
	Message string
}

// Failed builds a failure Result, defaulting the message when empty.
func Failed(message string) Result {
	message = strings.TrimSpace(message)
	if message == "" {
		message = unknownFailure
	}
	return Result{OK: false, Message: message}
}

// HintsFor derives parser hints from an input.
func HintsFor(input Input, extended bool) Hints {
	return Hints{
		AuthorID:  input.AuthorID,
		ScopeID:   input.ScopeID,
		Timestamp: input.Timestamp,
		Files:     input.Files,
		Extended:  extended,
	}
}
