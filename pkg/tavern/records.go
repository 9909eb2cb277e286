// Copyright 2024-2026 Aiku AI

package tavern

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// isoLayout matches JavaScript's Date.prototype.toISOString output.
const isoLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t the way the tavern stores send and create dates.
func FormatTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// Message is a single chat line in a tavern chat file.
type Message struct {
	Name     string `json:"name"`
	IsUser   bool   `json:"is_user"`
	IsName   bool   `json:"is_name"`
	SendDate string `json:"send_date"`
	Mes      string `json:"mes"`
}

// ChatMetadata is the metadata block carried by a chat header.
type ChatMetadata struct {
	Integrity string `json:"integrity,omitempty"`
}

// Header is the first element of every chat file.
type Header struct {
	UserName      string       `json:"user_name"`
	CharacterName string       `json:"character_name"`
	CreateDate    string       `json:"create_date"`
	ChatMetadata  ChatMetadata `json:"chat_metadata"`
}

// NewHeader builds a header owned by userName for the given character.
func NewHeader(userName, character string, now time.Time) Header {
	return Header{
		UserName:      userName,
		CharacterName: character,
		CreateDate:    FormatTime(now),
		ChatMetadata:  ChatMetadata{Integrity: uuid.NewString()},
	}
}

// Log is a whole chat file: a header followed by messages. Elements are kept
// as raw JSON so entries written by other clients round-trip untouched.
type Log []json.RawMessage

// ParseLog decodes a fetched chat file. Anything that is not a JSON array
// yields an empty log.
func ParseLog(data []byte) Log {
	var log Log
	if err := json.Unmarshal(data, &log); err != nil {
		return Log{}
	}
	if log == nil {
		return Log{}
	}
	return log
}

// IsHeader reports whether raw has the header shape: a JSON object with both
// user_name and character_name keys.
func IsHeader(raw json.RawMessage) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	_, hasUser := fields["user_name"]
	_, hasCharacter := fields["character_name"]
	return hasUser && hasCharacter
}

// HasHeader reports whether the first element of the log is a header.
func (l Log) HasHeader() bool {
	return len(l) > 0 && IsHeader(l[0])
}

// WithHeader returns a new log with h prepended.
func (l Log) WithHeader(h Header) (Log, error) {
	raw, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("failed to encode header: %w", err)
	}
	out := make(Log, 0, len(l)+1)
	out = append(out, raw)
	return append(out, l...), nil
}

// Append returns a new log with msg added at the end.
func (l Log) Append(msg Message) (Log, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	out := make(Log, 0, len(l)+1)
	out = append(out, l...)
	return append(out, raw), nil
}

// Header decodes the first element. ok is false when the log has no header.
func (l Log) Header() (h Header, ok bool) {
	if !l.HasHeader() {
		return Header{}, false
	}
	if err := json.Unmarshal(l[0], &h); err != nil {
		return Header{}, false
	}
	return h, true
}

// Messages decodes every element after the header. Elements that are not
// messages are skipped.
func (l Log) Messages() []Message {
	rest := l
	if l.HasHeader() {
		rest = l[1:]
	}
	msgs := make([]Message, 0, len(rest))
	for _, raw := range rest {
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// compactLine returns raw as a single line of JSON.
func compactLine(raw json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Owner holds the local chat user's name once the session has identified
// itself. The zero value is an unknown owner.
type Owner struct {
	mu   sync.RWMutex
	name string
}

// Set records the owner name. It returns false if a name was already set.
func (o *Owner) Set(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.name != "" {
		return false
	}
	o.name = name
	return true
}

// Name returns the owner name or "" when it is not known yet.
func (o *Owner) Name() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.name
}
