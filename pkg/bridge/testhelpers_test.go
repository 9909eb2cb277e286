// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/aiku/tavern-bridge/pkg/tavern"
)

type sentMessage struct {
	Character string
	File      string
	Msg       tavern.Message
}

// recordingSender records every SendMessage call.
type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (r *recordingSender) SendMessage(_ context.Context, character, file string, msg tavern.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{Character: character, File: file, Msg: msg})
	return r.err
}

func (r *recordingSender) Sent() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]sentMessage, len(r.sent))
	copy(cp, r.sent)
	return cp
}

// stubProvisioner records Ensure calls and can be told to fail.
type stubProvisioner struct {
	mu      sync.Mutex
	ensured []string
	err     error
}

func (s *stubProvisioner) Ensure(_ context.Context, character, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.ensured = append(s.ensured, character)
	return nil
}

func (s *stubProvisioner) Ensured() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ensured...)
}

type stubAuth struct {
	calls int
	err   error
}

func (s *stubAuth) Login(_ context.Context, handle, _ string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return handle, nil
}

var errBoom = errors.New("boom")

type apiCall struct {
	Path string
	Body string
}

// fakeTavern is a minimal chat API: get answers the stored chat or {}, save
// stores the chat and answers ok.
type fakeTavern struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []apiCall
	chats map[string]json.RawMessage
}

func newFakeTavern() *fakeTavern {
	f := &fakeTavern{chats: make(map[string]json.RawMessage)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeTavern) Close() {
	f.Server.Close()
}

func (f *fakeTavern) Calls() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

func (f *fakeTavern) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req struct {
		AvatarURL string          `json:"avatar_url"`
		FileName  string          `json:"file_name"`
		Chat      json.RawMessage `json:"chat"`
	}
	_ = json.Unmarshal(body, &req)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, apiCall{Path: r.URL.Path, Body: string(body)})
	key := req.AvatarURL + "/" + req.FileName
	switch r.URL.Path {
	case "/api/chats/get":
		chat, ok := f.chats[key]
		if !ok {
			chat = json.RawMessage("{}")
		}
		_, _ = w.Write(chat)
	case "/api/chats/save":
		f.chats[key] = req.Chat
		_ = json.NewEncoder(w).Encode(map[string]string{"result": "ok"})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
