// Package failure holds the stable error categories shared across the ingestion path.
package failure

import (
	"context"
	"errors"
	"fmt"
)

const (
	CategoryAuthentication = "authentication_failure"
	CategoryTransport      = "transport_failure"
	CategoryUpstream       = "upstream_rejection"
	CategoryDegraded       = "aggregation_degradation"
	CategoryDownstream     = "downstream_task_failure"
	CategoryCanceled       = "canceled"
	CategoryInternal       = "internal"
)

// Error represents a categorized failure with a user-presentable detail.
type Error struct {
	Category string
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Category
	}

	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a categorized error.
func New(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// Wrap categorizes err, keeping it reachable through errors.Is/As.
func Wrap(category string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Detail: err.Error(), Err: err}
}

// Categorized is implemented by package error types that know their category.
type Categorized interface {
	FailureCategory() string
}

// CategoryFromError returns the stable category for an error when available.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	var known Categorized
	if errors.As(err, &known) {
		return known.FailureCategory()
	}

	if errors.Is(err, context.Canceled) {
		return CategoryCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransport
	}

	return CategoryInternal
}

// Reason returns the detail text suitable for a user-facing notification.
func Reason(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) && categorized.Detail != "" {
		return categorized.Detail
	}

	return err.Error()
}
