package slack

import (
	"context"
	"net/http"
	"net/url"
)

// ConversationReplies returns up to limit messages from the thread rooted at threadTS.
func (c *Client) ConversationReplies(ctx context.Context, channel, threadTS string, limit int) ([]Message, error) {
	query := url.Values{}
	query.Set("channel", channel)
	query.Set("ts", threadTS)
	return c.paginate(ctx, "conversations.replies", query, limit)
}

// ConversationHistory returns up to limit of the most recent channel messages.
func (c *Client) ConversationHistory(ctx context.Context, channel string, limit int) ([]Message, error) {
	query := url.Values{}
	query.Set("channel", channel)
	return c.paginate(ctx, "conversations.history", query, limit)
}

// paginate follows response_metadata.next_cursor until limit messages are
// collected or the cursor runs out.
func (c *Client) paginate(ctx context.Context, apiMethod string, base url.Values, limit int) ([]Message, error) {
	var messages []Message
	cursor := ""

	for {
		query := url.Values{}
		for key, values := range base {
			query[key] = values
		}
		query.Set("limit", pageSize(limit-len(messages)))
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var page historyResponse
		if err := c.call(ctx, http.MethodGet, apiMethod, query, nil, c.policies.Read, &page); err != nil {
			return nil, err
		}

		messages = append(messages, page.Messages...)
		cursor = page.ResponseMetadata.NextCursor

		if limit > 0 && len(messages) >= limit {
			return messages[:limit], nil
		}
		if cursor == "" {
			return messages, nil
		}
	}
}
