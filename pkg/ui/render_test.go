package ui

import (
	"errors"
	"strings"
	"testing"

	"taskbridge/pkg/task"
)

func TestRenderFieldsIncludesValues(t *testing.T) {
	out := RenderFields("heuristic", task.Fields{
		Title:       "Fix checkout",
		Description: "urgent checkout bug on mobile",
		Priority:    "high",
		Tags:        []string{"payments", "mobile"},
	})

	for _, want := range []string{"TASK", "parser: heuristic", "Fix checkout", "high", "payments, mobile", "urgent checkout bug"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "needs more context") {
		t.Fatalf("unexpected context warning:\n%s", out)
	}
}

func TestRenderFieldsFlagsInsufficientContext(t *testing.T) {
	out := RenderFields("heuristic", task.Fields{Title: "do that", InsufficientContext: true})
	if !strings.Contains(out, "needs more context") {
		t.Fatalf("missing context warning:\n%s", out)
	}
	if !strings.Contains(out, noValue) {
		t.Fatalf("empty fields should render a placeholder:\n%s", out)
	}
}

func TestRenderError(t *testing.T) {
	out := RenderError("parse failed", errors.New("boom"))
	if !strings.Contains(out, "parse failed") || !strings.Contains(out, "boom") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
