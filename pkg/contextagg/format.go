package contextagg

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const lineTimeLayout = "2006-01-02 15:04"

// formatLine renders "[2006-01-02 15:04] author: text [File: name (mime)], ...".
func formatLine(m Message, loc *time.Location) string {
	author := m.AuthorID
	if author == "" {
		author = "unknown"
	}

	line := fmt.Sprintf("[%s] %s: %s", timestampOf(m.TimestampKey, loc), author, m.Text)
	if files := describeFiles(m.Files); files != "" {
		line += " " + files
	}
	return line
}

func timestampOf(key string, loc *time.Location) string {
	seconds := Message{TimestampKey: key}.sortKey()
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*1e9)).In(loc).Format(lineTimeLayout)
}

func describeFiles(files []FileRef) string {
	if len(files) == 0 {
		return ""
	}
	parts := make([]string, 0, len(files))
	for _, file := range files {
		parts = append(parts, fmt.Sprintf("[File: %s (%s)]", file.Name, file.MimeType))
	}
	return strings.Join(parts, ", ")
}

// renderText builds the extractor input. Empty sections are omitted; with no
// history at all the result is the current message alone.
func renderText(stage Stage, channel, thread []string, current Current) string {
	currentText := current.Text
	if files := describeFiles(current.Files); files != "" {
		if currentText == "" {
			currentText = files
		} else {
			currentText += " " + files
		}
	}

	if len(channel) == 0 && len(thread) == 0 {
		return currentText
	}

	prefix := ""
	if stage == StageExtended {
		prefix = "Extended "
	}

	var b strings.Builder
	writeSection := func(title string, lines []string) {
		if len(lines) == 0 {
			return
		}
		fmt.Fprintf(&b, "%s (%d messages):\n", title, len(lines))
		for _, line := range lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	writeSection(headerTitle(prefix, "channel history"), channel)
	writeSection(headerTitle(prefix, "thread history"), thread)

	b.WriteString("Current message:\n")
	b.WriteString(currentText)

	return b.String()
}

func headerTitle(prefix, title string) string {
	if prefix != "" {
		return prefix + title
	}
	return strings.ToUpper(title[:1]) + title[1:]
}
