// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mattermost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/tavern-bridge/pkg/bridge"
)

var testNow = time.Date(2024, 6, 1, 18, 30, 0, 0, time.UTC)

// recordingHandler captures delivered events for test assertions.
type recordingHandler struct {
	mu     sync.Mutex
	events []bridge.Event
}

func (r *recordingHandler) HandleEvent(_ context.Context, evt bridge.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingHandler) Events() []bridge.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bridge.Event(nil), r.events...)
}

// fakeMM wraps an httptest.Server simulating the Mattermost endpoints the
// source uses. It counts requests per path.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls map[string]int

	// Users maps user ID to model.User for GetUser/GetMe responses.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// Channels maps channel ID to model.Channel.
	Channels map[string]*model.Channel
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		calls:       make(map[string]int),
		Users:       make(map[string]*model.User),
		TokenToUser: make(map[string]string),
		Channels:    make(map[string]*model.Channel),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) CallCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls[r.URL.Path]++
	f.mu.Unlock()

	path := r.URL.Path
	switch {
	// GET /api/v4/users/me
	case r.Method == "GET" && path == "/api/v4/users/me":
		uid := f.resolveToken(r)
		if uid == "" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "unauthorized"})
			return
		}
		if u, ok := f.Users[uid]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/users/{user_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/users/"):
		uid := path[len("/api/v4/users/"):]
		if u, ok := f.Users[uid]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/channels/{channel_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/channels/"):
		chID := path[len("/api/v4/channels/"):]
		if ch, ok := f.Channels[chID]; ok {
			_ = json.NewEncoder(w).Encode(ch)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found: " + path})
	}
}

// newTestClient returns a client logged in as alice against f.
func newTestClient(f *fakeMM) *Client {
	f.Users["alice-id"] = &model.User{Id: "alice-id", Username: "alice"}
	f.Users["bob-id"] = &model.User{Id: "bob-id", Username: "bob"}
	f.Users["jane-id"] = &model.User{Id: "jane-id", Username: "jane"}
	f.TokenToUser["alice-token"] = "alice-id"
	f.Channels["town"] = &model.Channel{Id: "town", Name: "town-square", DisplayName: "Town Square", Type: model.ChannelTypeOpen}
	f.Channels["dm"] = &model.Channel{Id: "dm", Name: "alice-id__jane-id", Type: model.ChannelTypeDirect}

	c := NewClient(Config{ServerURL: f.Server.URL, Token: "alice-token", ReconnectDelay: 10 * time.Millisecond}, zerolog.Nop())
	c.userID = "alice-id"
	c.username = "alice"
	c.now = func() time.Time { return testNow }
	return c
}

// newWebSocketEvent creates a model.WebSocketEvent for testing handlers.
func newWebSocketEvent(eventType model.WebsocketEventType, channelID string, data map[string]any) *model.WebSocketEvent {
	evt := model.NewWebSocketEvent(eventType, "", channelID, "", nil, "")
	return evt.SetData(data)
}

// postedEvent builds a posted event carrying post.
func postedEvent(post *model.Post, senderName string) *model.WebSocketEvent {
	postJSON, _ := json.Marshal(post)
	return newWebSocketEvent(model.WebsocketEventPosted, post.ChannelId, map[string]any{
		"post":        string(postJSON),
		"sender_name": senderName,
	})
}
