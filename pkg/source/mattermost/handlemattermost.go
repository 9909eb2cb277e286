// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/tavern-bridge/pkg/bridge"
)

// handleEvent dispatches a Mattermost WebSocket event to the appropriate handler.
func (c *Client) handleEvent(ctx context.Context, handler bridge.EventHandler, evt *model.WebSocketEvent) {
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		c.handlePosted(ctx, handler, evt)
	default:
		c.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
	}
}

// parsePostedEvent extracts and validates a post from a WebSocket event.
// Returns (nil, nil) to skip silently, (nil, err) to log an error, or
// (post, nil) to proceed. The account's own posts are kept: they are
// mirrored as user messages.
func (c *Client) parsePostedEvent(evt *model.WebSocketEvent) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, fmt.Errorf("posted event missing post data")
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}

	// Skip non-default post types (system messages).
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}
	if post.Message == "" {
		return nil, nil
	}

	// Skip posts from other bridges and bots.
	senderName, _ := evt.GetData()["sender_name"].(string)
	senderName = strings.TrimPrefix(senderName, "@")
	if senderName != "" && isBridgeUsername(senderName, c.cfg.BotPrefix) {
		c.log.Debug().
			Str("post_id", post.Id).
			Str("username", senderName).
			Msg("Skipping bridge username post")
		return nil, nil
	}
	if fromWebhook, _ := post.GetProp("from_webhook").(string); fromWebhook == "true" {
		return nil, nil
	}

	return &post, nil
}

func (c *Client) handlePosted(ctx context.Context, handler bridge.EventHandler, evt *model.WebSocketEvent) {
	post, err := c.parsePostedEvent(evt)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to parse posted event")
		return
	}
	if post == nil {
		return
	}

	converted, err := c.convertPost(ctx, post)
	if err != nil {
		c.log.Warn().Err(err).
			Str("post_id", post.Id).
			Str("channel_id", post.ChannelId).
			Msg("Failed to resolve post context")
		return
	}

	c.log.Debug().
		Str("post_id", post.Id).
		Str("channel_id", post.ChannelId).
		Str("user_id", post.UserId).
		Msg("Received new message")
	handler.HandleEvent(ctx, converted)
}

// convertPost resolves the channel and author of a post into a bridge event.
func (c *Client) convertPost(ctx context.Context, post *model.Post) (bridge.Event, error) {
	author, err := c.lookupUsername(ctx, post.UserId)
	if err != nil {
		return bridge.Event{}, err
	}
	channel, err := c.getChannel(ctx, post.ChannelId)
	if err != nil {
		return bridge.Event{}, err
	}

	evt := bridge.Event{
		Character: author,
		Body:      post.Message,
		Format:    bridge.FormatPlain,
		Time:      c.now(),
	}
	if channel.Type == model.ChannelTypeDirect {
		otherID := otherDMMember(channel.Name, c.userID)
		if otherID == "" {
			return bridge.Event{}, fmt.Errorf("direct channel %s has no other member", channel.Id)
		}
		peer, err := c.lookupUsername(ctx, otherID)
		if err != nil {
			return bridge.Event{}, err
		}
		evt.Kind = bridge.EventDirectMessage
		evt.Peer = peer
		return evt, nil
	}

	evt.Kind = bridge.EventRoomMessage
	evt.Channel = channel.DisplayName
	if evt.Channel == "" {
		evt.Channel = channel.Name
	}
	return evt, nil
}

func (c *Client) lookupUsername(ctx context.Context, userID string) (string, error) {
	if userID == c.userID && c.username != "" {
		return c.username, nil
	}
	user, err := c.getUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.Username, nil
}

// otherDMMember returns the member of a direct channel named "uid1__uid2"
// that is not self. A self-DM returns self.
func otherDMMember(channelName, self string) string {
	a, b, ok := strings.Cut(channelName, "__")
	if !ok {
		return ""
	}
	switch self {
	case a:
		return b
	case b:
		return a
	default:
		return ""
	}
}

// isBridgeUsername returns true if the username belongs to a bridge bot
// whose posts should never be mirrored.
func isBridgeUsername(username, botPrefix string) bool {
	switch {
	case username == "tavern-bridge":
		return true
	case botPrefix != "" && strings.HasPrefix(username, botPrefix):
		return true
	default:
		return false
	}
}
