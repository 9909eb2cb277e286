// Copyright 2024-2026 Aiku AI

// Package fchat is an event source for F-Chat style chat servers.
package fchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aiku/tavern-bridge/pkg/bridge"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultClientName     = "tavern-bridge"
	ticketTimeout         = 30 * time.Second
)

// Config holds the connection settings.
type Config struct {
	TicketURL      string
	ServerURL      string
	Account        string
	Password       string
	Character      string
	ClientName     string
	ClientVersion  string
	ReconnectDelay time.Duration
}

// Client keeps a chat session open and turns server frames into bridge
// events.
type Client struct {
	cfg        Config
	httpClient *http.Client
	dialer     *websocket.Dialer
	log        zerolog.Logger

	now func() time.Time
}

// NewClient creates a client. Missing optional settings get defaults.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.ClientName == "" {
		cfg.ClientName = defaultClientName
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: ticketTimeout},
		dialer:     websocket.DefaultDialer,
		log:        log.With().Str("component", "fchat").Logger(),
		now:        time.Now,
	}
}

// Run connects and delivers events to handler until ctx is done. A session
// that ends for any other reason is reopened after the reconnect delay.
func (c *Client) Run(ctx context.Context, handler bridge.EventHandler) error {
	for {
		if ctx.Err() != nil {
			c.log.Info().Msg("Chat session stopped")
			return nil
		}
		err := c.runSession(ctx, handler)
		if ctx.Err() != nil {
			c.log.Info().Msg("Chat session stopped")
			return nil
		}
		c.log.Error().Err(err).
			Dur("delay", c.cfg.ReconnectDelay).
			Msg("Chat session ended, reconnecting")
		select {
		case <-ctx.Done():
			c.log.Info().Msg("Chat session stopped")
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

type ticketResponse struct {
	Ticket string `json:"ticket"`
	Error  string `json:"error"`
}

// fetchTicket exchanges the account credentials for a session ticket.
func (c *Client) fetchTicket(ctx context.Context) (string, error) {
	form := url.Values{
		"account":       {c.cfg.Account},
		"password":      {c.cfg.Password},
		"no_characters": {"true"},
		"no_friends":    {"true"},
		"no_bookmarks":  {"true"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TicketURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create ticket request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request ticket: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("request ticket: status %d", resp.StatusCode)
	}

	var out ticketResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ticket response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ticket rejected: %s", out.Error)
	}
	if out.Ticket == "" {
		return "", errors.New("ticket response without a ticket")
	}
	return out.Ticket, nil
}

func (c *Client) runSession(ctx context.Context, handler bridge.EventHandler) error {
	ticket, err := c.fetchTicket(ctx)
	if err != nil {
		return err
	}

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("dial chat server: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when the context ends.
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()

	if err := c.send(conn, cmdIdentify, identifyRequest{
		Method:        "ticket",
		Account:       c.cfg.Account,
		Ticket:        ticket,
		Character:     c.cfg.Character,
		ClientName:    c.cfg.ClientName,
		ClientVersion: c.cfg.ClientVersion,
	}); err != nil {
		return err
	}
	c.log.Debug().Str("character", c.cfg.Character).Msg("Sent identification")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if err := c.handleFrame(ctx, conn, handler, data); err != nil {
			return err
		}
	}
}

// handleFrame dispatches one server frame. Only write failures end the
// session; malformed frames are logged and skipped.
func (c *Client) handleFrame(ctx context.Context, conn *websocket.Conn, handler bridge.EventHandler, data []byte) error {
	cmd, payload, err := parseFrame(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to parse frame")
		return nil
	}

	switch cmd {
	case cmdPing:
		return c.send(conn, cmdPing, nil)
	case cmdIdentify:
		evt, err := c.parseIdentify(payload)
		if err != nil {
			c.log.Warn().Err(err).Msg("Failed to parse identify frame")
			return nil
		}
		handler.HandleEvent(ctx, evt)
	case cmdChannel, cmdPrivate:
		evt, err := c.parseMessage(cmd, payload)
		if err != nil {
			c.log.Warn().Err(err).Str("command", cmd).Msg("Dropping malformed message")
			return nil
		}
		if evt == nil {
			return nil
		}
		handler.HandleEvent(ctx, *evt)
	case cmdError:
		var e errorPayload
		_ = json.Unmarshal(payload, &e)
		c.log.Error().Int("number", e.Number).Str("message", e.Message).Msg("Server reported an error")
	default:
		c.log.Trace().Str("command", cmd).Msg("Unhandled command")
	}
	return nil
}

func (c *Client) parseIdentify(payload json.RawMessage) (bridge.Event, error) {
	var reply identifyReply
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &reply); err != nil {
			return bridge.Event{}, err
		}
	}
	if reply.Character == "" {
		reply.Character = c.cfg.Character
	}
	return bridge.Event{
		Kind:      bridge.EventConnected,
		Character: reply.Character,
		Time:      c.now(),
	}, nil
}

// parseMessage converts a MSG or PRI payload into an event. Returns
// (nil, err) for frames missing required fields.
func (c *Client) parseMessage(cmd string, payload json.RawMessage) (*bridge.Event, error) {
	if len(payload) == 0 {
		return nil, errors.New("missing payload")
	}
	var msg messagePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if msg.Character == "" || msg.Message == "" {
		return nil, errors.New("missing character or message")
	}

	evt := &bridge.Event{
		Character: msg.Character,
		Body:      msg.Message,
		Format:    bridge.FormatBBCode,
		Time:      c.now(),
	}
	if cmd == cmdChannel {
		if msg.Channel == "" {
			return nil, errors.New("missing channel")
		}
		evt.Kind = bridge.EventRoomMessage
		evt.Channel = msg.Channel
		return evt, nil
	}

	evt.Kind = bridge.EventDirectMessage
	evt.Peer = msg.Character
	if strings.EqualFold(msg.Character, c.cfg.Character) {
		if msg.Recipient == "" {
			return nil, errors.New("own private message without a recipient")
		}
		evt.Peer = msg.Recipient
	}
	return evt, nil
}

func (c *Client) send(conn *websocket.Conn, cmd string, payload any) error {
	frame, err := encodeFrame(cmd, payload)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write %s: %w", cmd, err)
	}
	return nil
}
