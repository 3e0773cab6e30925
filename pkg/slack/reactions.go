package slack

import (
	"context"
	"errors"
	"net/http"
)

const (
	ReactionProcessing = "eyes"
	ReactionSuccess    = "white_check_mark"
	ReactionFailure    = "x"
)

// benignReactionCodes are ok:false replies that leave the message in the
// requested state, or that make the request moot.
var benignReactionCodes = map[string]struct{}{
	"already_reacted":   {},
	"no_reaction":       {},
	"message_not_found": {},
}

// AddReaction adds name to the message at ts.
func (c *Client) AddReaction(ctx context.Context, channel, ts, name string) error {
	return c.react(ctx, "reactions.add", channel, ts, name)
}

// RemoveReaction removes name from the message at ts.
func (c *Client) RemoveReaction(ctx context.Context, channel, ts, name string) error {
	return c.react(ctx, "reactions.remove", channel, ts, name)
}

func (c *Client) react(ctx context.Context, apiMethod, channel, ts, name string) error {
	payload := map[string]string{
		"channel":   channel,
		"timestamp": ts,
		"name":      name,
	}

	var out envelope
	err := c.call(ctx, http.MethodPost, apiMethod, nil, payload, c.policies.IdempotentMutation, &out)

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if _, ok := benignReactionCodes[apiErr.Code]; ok {
			c.log.Debug("Ignoring benign reaction error", "method", apiMethod, "code", apiErr.Code)
			return nil
		}
	}
	return err
}
