package gateway

import "taskbridge/pkg/bus"

const (
	envelopeURLVerification = "url_verification"
	envelopeEventCallback   = "event_callback"

	eventAppMention = "app_mention"
	eventMessage    = "message"
	channelTypeIM   = "im"
)

// eventEnvelope is the outer Events API payload.
type eventEnvelope struct {
	Type      string      `json:"type"`
	Challenge string      `json:"challenge,omitempty"`
	TeamID    string      `json:"team_id,omitempty"`
	EventID   string      `json:"event_id,omitempty"`
	EventTime int64       `json:"event_time,omitempty"`
	Event     *slackEvent `json:"event,omitempty"`
}

type slackEvent struct {
	Type        string      `json:"type"`
	Subtype     string      `json:"subtype,omitempty"`
	User        string      `json:"user,omitempty"`
	BotID       string      `json:"bot_id,omitempty"`
	Text        string      `json:"text"`
	TS          string      `json:"ts"`
	ThreadTS    string      `json:"thread_ts,omitempty"`
	Channel     string      `json:"channel"`
	ChannelType string      `json:"channel_type,omitempty"`
	Files       []eventFile `json:"files,omitempty"`
}

type eventFile struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Mimetype string `json:"mimetype"`
}

// kind maps an event to the task flow. ok is false for events that are
// acknowledged and ignored.
func (e *slackEvent) kind() (bus.Kind, bool) {
	if e == nil || e.BotID != "" || e.Subtype == "bot_message" {
		return "", false
	}

	switch e.Type {
	case eventAppMention:
		return bus.KindMention, true
	case eventMessage:
		if e.ChannelType == channelTypeIM && e.Subtype == "" {
			return bus.KindDirect, true
		}
	}
	return "", false
}

func (e *slackEvent) files() []bus.File {
	if len(e.Files) == 0 {
		return nil
	}
	out := make([]bus.File, 0, len(e.Files))
	for _, f := range e.Files {
		out = append(out, bus.File{ID: f.ID, Name: f.Name, MimeType: f.Mimetype})
	}
	return out
}
