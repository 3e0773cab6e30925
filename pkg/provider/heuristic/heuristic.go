// Package heuristic extracts task fields without a model. It backs up the LLM
// parsers and serves local development.
package heuristic

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"taskbridge/pkg/task"
)

const (
	currentMarker = "Current message:\n"
	titleLimit    = 80
)

var (
	mentionPattern  = regexp.MustCompile(`<@([UW][A-Z0-9]+)(?:\|[^>]*)?>`)
	linkPattern     = regexp.MustCompile(`<(https?://[^|>]+)(?:\|([^>]+))?>`)
	channelPattern  = regexp.MustCompile(`<#[A-Z0-9]+(?:\|([^>]*))?>`)
	hashtagPattern  = regexp.MustCompile(`(?:^|\s)#([a-zA-Z][\w-]{1,30})`)
	isoDatePattern  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	highPriority    = regexp.MustCompile(`(?i)\b(urgent|asap|critical|blocker|p0|p1|high priority)\b`)
	lowPriority     = regexp.MustCompile(`(?i)\b(low priority|whenever|nice to have|no rush)\b`)
	referentialWord = regexp.MustCompile(`(?i)\b(this|that|it|these|those|above)\b`)
)

// Parser is a rule-based task extractor.
type Parser struct {
	now func() time.Time
}

func New() *Parser {
	return &Parser{now: time.Now}
}

// Name identifies the parser in logs.
func (p *Parser) Name() string {
	return "heuristic"
}

// Parse derives fields from the current message and treats history as description.
func (p *Parser) Parse(_ context.Context, text string, hints task.Hints) (task.Fields, error) {
	current, hasHistory := currentMessage(text)
	clean := cleanText(current)

	fields := task.Fields{
		Title:       title(clean),
		Description: cleanText(strings.TrimSpace(text)),
		Priority:    priority(clean),
		Tags:        hashtags(clean),
	}

	if match := mentionPattern.FindStringSubmatch(current); match != nil {
		fields.Assignee = match[1]
	}

	fields.DueDate = p.dueDate(clean, hints.Timestamp)

	words := strings.Fields(clean)
	fields.InsufficientContext = !hasHistory && !hints.Extended && len(words) <= 6 && referentialWord.MatchString(clean)

	return fields, nil
}

// currentMessage returns the text after the "Current message:" header.
func currentMessage(text string) (string, bool) {
	idx := strings.LastIndex(text, currentMarker)
	if idx < 0 {
		return strings.TrimSpace(text), false
	}
	return strings.TrimSpace(text[idx+len(currentMarker):]), true
}

func cleanText(text string) string {
	text = linkPattern.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkPattern.FindStringSubmatch(match)
		if parts[2] != "" {
			return parts[2]
		}
		return parts[1]
	})
	text = channelPattern.ReplaceAllString(text, "#$1")
	text = mentionPattern.ReplaceAllString(text, "@$1")
	return strings.TrimSpace(text)
}

func title(clean string) string {
	line, _, _ := strings.Cut(clean, "\n")
	line = strings.TrimSpace(line)
	if idx := strings.Index(line, " [File: "); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}

	runes := []rune(line)
	if len(runes) > titleLimit {
		return strings.TrimSpace(string(runes[:titleLimit])) + "..."
	}
	return line
}

func priority(clean string) string {
	switch {
	case highPriority.MatchString(clean):
		return "high"
	case lowPriority.MatchString(clean):
		return "low"
	default:
		return ""
	}
}

func hashtags(clean string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(clean, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	tags := make([]string, 0, len(matches))
	for _, match := range matches {
		tag := strings.ToLower(match[1])
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

func (p *Parser) dueDate(clean, timestamp string) string {
	if match := isoDatePattern.FindStringSubmatch(clean); match != nil {
		if _, err := time.Parse(time.DateOnly, match[1]); err == nil {
			return match[1]
		}
	}

	lower := strings.ToLower(clean)
	base := p.reference(timestamp)
	switch {
	case strings.Contains(lower, "tomorrow"):
		return base.AddDate(0, 0, 1).Format(time.DateOnly)
	case strings.Contains(lower, "today"), strings.Contains(lower, "eod"):
		return base.Format(time.DateOnly)
	default:
		return ""
	}
}

// reference anchors relative dates to the message timestamp when it parses.
func (p *Parser) reference(timestamp string) time.Time {
	if seconds, err := strconv.ParseFloat(timestamp, 64); err == nil && seconds > 0 {
		whole, _ := math.Modf(seconds)
		return time.Unix(int64(whole), 0).UTC()
	}
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	return now().UTC()
}
