package bus

import "time"

// Kind identifies what produced an inbound message.
type Kind string

const (
	KindMention Kind = "app_mention"
	KindDirect  Kind = "direct_message"
	KindCommand Kind = "slash_command"
)

// File is a file reference attached to an inbound message.
type File struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
}

// InboundMessage is an authenticated, deduplicated delivery waiting for a worker.
type InboundMessage struct {
	Kind        Kind              `json:"kind"`
	Channel     string            `json:"channel"`
	ChatID      string            `json:"chat_id"`
	SenderID    string            `json:"sender_id"`
	Content     string            `json:"content"`
	Timestamp   string            `json:"timestamp,omitempty"`
	ThreadKey   string            `json:"thread_key,omitempty"`
	Files       []File            `json:"files,omitempty"`
	ResponseURL string            `json:"response_url,omitempty"`
	RequestID   string            `json:"request_id,omitempty"`
	ReceivedAt  time.Time         `json:"received_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// InThread reports whether the message belongs to an existing thread.
func (m InboundMessage) InThread() bool {
	return m.ThreadKey != "" && m.ThreadKey != m.Timestamp
}

// OutboundMessage is a user-facing reply for an inbound message. ResponseURL
// takes precedence over ChatID when set.
type OutboundMessage struct {
	Channel     string `json:"channel"`
	ChatID      string `json:"chat_id,omitempty"`
	ThreadKey   string `json:"thread_key,omitempty"`
	ResponseURL string `json:"response_url,omitempty"`
	Ephemeral   bool   `json:"ephemeral,omitempty"`
	Content     string `json:"content"`
	RequestID   string `json:"request_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Reply addresses content back to where m came from. Slash commands reply
// ephemerally through their response URL; events reply in the message thread.
func (m InboundMessage) Reply(content string) OutboundMessage {
	out := OutboundMessage{
		Channel:   m.Channel,
		ChatID:    m.ChatID,
		Content:   content,
		RequestID: m.RequestID,
	}
	if m.ResponseURL != "" {
		out.ResponseURL = m.ResponseURL
		out.Ephemeral = true
		return out
	}

	out.ThreadKey = m.ThreadKey
	if out.ThreadKey == "" {
		out.ThreadKey = m.Timestamp
	}
	return out
}
