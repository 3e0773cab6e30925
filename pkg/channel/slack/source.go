package slack

import (
	"context"

	"taskbridge/pkg/bus"
	"taskbridge/pkg/contextagg"
	slackapi "taskbridge/pkg/slack"
	"taskbridge/pkg/task"
)

type historyAPI interface {
	ConversationReplies(ctx context.Context, channel, threadTS string, limit int) ([]slackapi.Message, error)
	ConversationHistory(ctx context.Context, channel string, limit int) ([]slackapi.Message, error)
}

// HistorySource reads conversation history for the aggregator.
type HistorySource struct {
	api historyAPI
}

func NewHistorySource(api historyAPI) *HistorySource {
	return &HistorySource{api: api}
}

func (s *HistorySource) Thread(ctx context.Context, channel, threadTS string, limit int) ([]contextagg.Message, error) {
	messages, err := s.api.ConversationReplies(ctx, channel, threadTS, limit)
	if err != nil {
		return nil, err
	}
	return toContextMessages(messages), nil
}

func (s *HistorySource) Channel(ctx context.Context, channel string, limit int) ([]contextagg.Message, error) {
	messages, err := s.api.ConversationHistory(ctx, channel, limit)
	if err != nil {
		return nil, err
	}
	return toContextMessages(messages), nil
}

func toContextMessages(messages []slackapi.Message) []contextagg.Message {
	out := make([]contextagg.Message, 0, len(messages))
	for _, m := range messages {
		author := m.User
		if author == "" {
			author = m.BotID
		}
		out = append(out, contextagg.Message{
			TimestampKey: m.TS,
			AuthorID:     author,
			Text:         m.Text,
			Automated:    m.Automated(),
			ThreadKey:    m.ThreadTS,
			Files:        slackFileRefs(m.Files),
		})
	}
	return out
}

func slackFileRefs(files []slackapi.File) []contextagg.FileRef {
	if len(files) == 0 {
		return nil
	}
	out := make([]contextagg.FileRef, 0, len(files))
	for _, f := range files {
		out = append(out, contextagg.FileRef{ID: f.ID, Name: f.Name, MimeType: f.Mimetype})
	}
	return out
}

func busFileRefs(files []bus.File) []contextagg.FileRef {
	if len(files) == 0 {
		return nil
	}
	out := make([]contextagg.FileRef, 0, len(files))
	for _, f := range files {
		out = append(out, contextagg.FileRef{ID: f.ID, Name: f.Name, MimeType: f.MimeType})
	}
	return out
}

func taskFiles(files []contextagg.FileRef) []task.File {
	if len(files) == 0 {
		return nil
	}
	out := make([]task.File, 0, len(files))
	for _, f := range files {
		out = append(out, task.File{ID: f.ID, Name: f.Name, MimeType: f.MimeType})
	}
	return out
}
