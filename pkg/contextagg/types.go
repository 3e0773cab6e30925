// Package contextagg assembles thread and channel history into the text a task
// extractor reads.
package contextagg

import (
	"context"
	"strconv"
)

// Stage is the history depth used for one aggregation.
type Stage int

const (
	StageNormal Stage = iota
	StageExtended
)

const (
	DefaultWindow         = 20
	DefaultExtendedWindow = 50
)

func (s Stage) String() string {
	switch s {
	case StageExtended:
		return "extended"
	default:
		return "normal"
	}
}

// FileRef identifies an attached file. Content is never fetched.
type FileRef struct {
	ID       string
	Name     string
	MimeType string
}

// key is the dedup identity: ID when present, else name and MIME type. Two
// distinct ID-less files sharing both collapse into one; that loss is accepted.
func (f FileRef) key() string {
	if f.ID != "" {
		return "id:" + f.ID
	}
	return "nm:" + f.Name + "\x00" + f.MimeType
}

// Message is one history entry.
type Message struct {
	TimestampKey string
	AuthorID     string
	Text         string
	Automated    bool
	ThreadKey    string
	Files        []FileRef
}

func (m Message) sortKey() float64 {
	value, err := strconv.ParseFloat(m.TimestampKey, 64)
	if err != nil {
		return 0
	}
	return value
}

// Current is the message that triggered aggregation.
type Current struct {
	Text  string
	Files []FileRef
}

// Query describes one aggregation request.
type Query struct {
	ScopeID             string
	ThreadKey           string
	ExcludeTimestampKey string
	// Window overrides the stage window when positive.
	Window  int
	Stage   Stage
	Current Current
}

// Bundle is the per-request aggregation result. It is never persisted.
type Bundle struct {
	ThreadLines  []string
	ChannelLines []string
	Files        []FileRef
	Text         string
	Stage        Stage
}

// Source fetches raw history. Implementations return messages in any order.
type Source interface {
	Thread(ctx context.Context, scopeID, threadKey string, limit int) ([]Message, error)
	Channel(ctx context.Context, scopeID string, limit int) ([]Message, error)
}
