// Copyright 2024-2026 Aiku AI

package tavern

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
	CSRF   string
}

// fakeTavern wraps an httptest.Server simulating the tavern chat API. Chats
// maps "avatar_url/file_name" to the raw body returned by the get call.
type fakeTavern struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	Chats map[string]string
	// SaveResult is returned in the save response. Defaults to "ok".
	SaveResult string
	// FailPaths makes the listed paths answer 500 with FailBody.
	FailPaths map[string]bool
	FailBody  string
	CSRFToken string
	Handles   map[string]string
}

func newFakeTavern() *fakeTavern {
	f := &fakeTavern{
		Chats:      make(map[string]string),
		SaveResult: "ok",
		FailPaths:  make(map[string]bool),
		FailBody:   `{"error":"fake error"}`,
		CSRFToken:  "csrf-123",
		Handles:    make(map[string]string),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeTavern) Close() {
	f.Server.Close()
}

func (f *fakeTavern) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

// Chat returns the stored chat body for avatar/file.
func (f *fakeTavern) Chat(avatar, file string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Chats[avatar+"/"+file]
}

// CallsTo returns the recorded calls for one path.
func (f *fakeTavern) CallsTo(path string) []endpointCall {
	var out []endpointCall
	for _, c := range f.Calls() {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTavern) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, endpointCall{
		Method: r.Method,
		Path:   r.URL.Path,
		Body:   string(body),
		CSRF:   r.Header.Get("X-CSRF-Token"),
	})
	f.mu.Unlock()

	if f.FailPaths[r.URL.Path] {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, f.FailBody)
		return
	}

	switch r.URL.Path {
	case "/csrf-token":
		_ = json.NewEncoder(w).Encode(map[string]string{"token": f.CSRFToken})
	case "/api/chats/get", "/api/get":
		var req struct {
			AvatarURL string `json:"avatar_url"`
			FileName  string `json:"file_name"`
		}
		_ = json.Unmarshal(body, &req)
		f.mu.Lock()
		chat, ok := f.Chats[req.AvatarURL+"/"+req.FileName]
		f.mu.Unlock()
		if !ok {
			chat = "{}"
		}
		_, _ = io.WriteString(w, chat)
	case "/api/chats/save", "/api/save":
		var req struct {
			AvatarURL string          `json:"avatar_url"`
			FileName  string          `json:"file_name"`
			Chat      json.RawMessage `json:"chat"`
		}
		_ = json.Unmarshal(body, &req)
		if f.SaveResult == "ok" {
			f.mu.Lock()
			f.Chats[req.AvatarURL+"/"+req.FileName] = string(req.Chat)
			f.mu.Unlock()
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"result": f.SaveResult})
	case "/api/recent":
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"file_name": "newest.jsonl", "chat_items": 3},
			{"file_name": "older.jsonl", "chat_items": 1},
		})
	case "/api/users/login":
		var req struct {
			Handle   string `json:"handle"`
			Password string `json:"password"`
		}
		_ = json.Unmarshal(body, &req)
		if pw, ok := f.Handles[req.Handle]; ok && pw == req.Password {
			_ = json.NewEncoder(w).Encode(map[string]string{"handle": req.Handle})
			return
		}
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad credentials"})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// memStore is an in-memory Store that records saves.
type memStore struct {
	mu       sync.Mutex
	logs     map[string]Log
	saves    []Log
	fetchErr error
	saveErr  error
}

func newMemStore() *memStore {
	return &memStore{logs: make(map[string]Log)}
}

func (m *memStore) Fetch(_ context.Context, character, file string) (Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.logs[character+"/"+file], nil
}

func (m *memStore) Save(_ context.Context, character, file string, log Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, log)
	if m.saveErr != nil {
		return m.saveErr
	}
	m.logs[character+"/"+file] = log
	return nil
}

func (m *memStore) Saves() []Log {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Log, len(m.saves))
	copy(cp, m.saves)
	return cp
}

// countingProvisioner counts Provision calls and can be told to fail.
type countingProvisioner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingProvisioner) Provision(context.Context, string, string, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *countingProvisioner) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func ownerNamed(name string) *Owner {
	o := &Owner{}
	o.Set(name)
	return o
}
