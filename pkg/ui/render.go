package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"taskbridge/pkg/task"
)

const noValue = "-"

// RenderFields draws extracted task fields as a bordered card.
func RenderFields(parser string, fields task.Fields) string {
	t := defaultTheme()

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		t.header.Render("TASK"),
		" ",
		t.meta.Render("parser: "+parser),
	)

	rows := []string{
		row(t, "title", fields.Title),
		row(t, "priority", fields.Priority),
		row(t, "assignee", fields.Assignee),
		row(t, "due", fields.DueDate),
		row(t, "tags", strings.Join(fields.Tags, ", ")),
	}
	if description := strings.TrimSpace(fields.Description); description != "" && description != fields.Title {
		rows = append(rows, "", t.muted.Render(description))
	}

	box := t.box
	if fields.InsufficientContext {
		box = t.warnBox
		rows = append(rows, "", t.errorText.Render("needs more context"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, box.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))
}

// RenderError draws a failed command result.
func RenderError(title string, err error) string {
	t := defaultTheme()
	body := t.errorText.Render(title)
	if err != nil {
		body = lipgloss.JoinVertical(lipgloss.Left, body, t.value.Render(err.Error()))
	}
	return t.errorBox.Render(body)
}

func row(t theme, label, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return lipgloss.JoinHorizontal(lipgloss.Top, t.label.Render(label), t.muted.Render(noValue))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, t.label.Render(label), t.value.Render(value))
}
