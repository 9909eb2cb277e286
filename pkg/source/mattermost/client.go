// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package mattermost is an event source that follows a Mattermost account
// over the websocket API.
package mattermost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/tavern-bridge/pkg/bridge"
)

const defaultReconnectDelay = 5 * time.Second

var errEventChannelClosed = errors.New("websocket event channel closed")

// Config holds the connection settings.
type Config struct {
	ServerURL string
	Token     string
	// BotPrefix skips posts from usernames with this prefix.
	BotPrefix      string
	ReconnectDelay time.Duration
}

// Client represents the authenticated Mattermost account whose
// conversations are mirrored.
type Client struct {
	cfg    Config
	client *model.Client4
	log    zerolog.Logger

	userID   string
	username string

	// Lookups are only touched from the event loop.
	channels map[string]*model.Channel
	users    map[string]*model.User

	now func() time.Time
}

// NewClient creates a client for the account owning cfg.Token.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	client := model.NewAPIv4Client(cfg.ServerURL)
	client.SetToken(cfg.Token)
	return &Client{
		cfg:      cfg,
		client:   client,
		log:      log.With().Str("component", "mm_client").Logger(),
		channels: make(map[string]*model.Channel),
		users:    make(map[string]*model.User),
		now:      time.Now,
	}
}

// Run verifies the session, reports the account as the local user and then
// delivers posted messages to handler until ctx is done.
func (c *Client) Run(ctx context.Context, handler bridge.EventHandler) error {
	c.log.Info().Str("server_url", c.cfg.ServerURL).Msg("Connecting to Mattermost")

	me, _, err := c.client.GetMe(ctx, "")
	if err != nil {
		return fmt.Errorf("verify mattermost session: %w", err)
	}
	c.userID = me.Id
	c.username = me.Username
	c.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")

	handler.HandleEvent(ctx, bridge.Event{
		Kind:      bridge.EventConnected,
		Character: me.Username,
		Time:      c.now(),
	})

	for {
		err := c.listen(ctx, handler)
		if ctx.Err() != nil {
			c.log.Info().Msg("Mattermost source stopped")
			return nil
		}
		c.log.Warn().Err(err).
			Dur("delay", c.cfg.ReconnectDelay).
			Msg("WebSocket disconnected, reconnecting")
		select {
		case <-ctx.Done():
			c.log.Info().Msg("Mattermost source stopped")
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Client) listen(ctx context.Context, handler bridge.EventHandler) error {
	wsURL := httpToWS(c.cfg.ServerURL)
	ws, err := model.NewWebSocketClient4(wsURL, c.client.AuthToken)
	if err != nil {
		return fmt.Errorf("failed to create websocket client: %w", err)
	}
	ws.Listen()
	defer ws.Close()
	c.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-ws.EventChannel:
			if !ok {
				if ws.ListenError != nil {
					return fmt.Errorf("%w: %s", errEventChannelClosed, ws.ListenError.Error())
				}
				return errEventChannelClosed
			}
			if evt == nil {
				continue
			}
			c.handleEvent(ctx, handler, evt)
		}
	}
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

func (c *Client) getChannel(ctx context.Context, channelID string) (*model.Channel, error) {
	if ch, ok := c.channels[channelID]; ok {
		return ch, nil
	}
	ch, _, err := c.client.GetChannel(ctx, channelID, "")
	if err != nil {
		return nil, fmt.Errorf("get channel %s: %w", channelID, err)
	}
	c.channels[channelID] = ch
	return ch, nil
}

func (c *Client) getUser(ctx context.Context, userID string) (*model.User, error) {
	if u, ok := c.users[userID]; ok {
		return u, nil
	}
	u, _, err := c.client.GetUser(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	c.users[userID] = u
	return u, nil
}
