// Copyright 2024-2026 Aiku AI

package bridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/aiku/tavern-bridge/pkg/bbcode"
	"github.com/aiku/tavern-bridge/pkg/tavern"
)

// NameStyle controls where a remote participant's name ends up in a message.
type NameStyle string

const (
	// NameStyleInline puts "participant: body" in the name field.
	NameStyleInline NameStyle = "inline"
	// NameStyleBody puts "participant: body" in the message text.
	NameStyleBody NameStyle = "body"
	// NameStylePlain keeps the name and the text apart.
	NameStylePlain NameStyle = "plain"
)

// ParseNameStyle validates a configured name style. An empty value selects
// NameStyleInline.
func ParseNameStyle(s string) (NameStyle, error) {
	switch NameStyle(s) {
	case "":
		return NameStyleInline, nil
	case NameStyleInline, NameStyleBody, NameStylePlain:
		return NameStyle(s), nil
	default:
		return "", fmt.Errorf("unknown name style %q", s)
	}
}

// BuildMessage converts a message event into a tavern chat message. Messages
// written by localUser (compared case-insensitively) are marked as user
// messages; an empty localUser matches nobody.
func BuildMessage(evt Event, localUser string, style NameStyle, convertBBCode bool) tavern.Message {
	body := evt.Body
	if convertBBCode && evt.Format == FormatBBCode {
		body = bbcode.ToMarkdown(body)
	}
	ts := evt.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := tavern.Message{
		SendDate: tavern.FormatTime(ts),
	}

	if localUser != "" && strings.EqualFold(evt.Character, localUser) {
		msg.Name = localUser
		msg.IsUser = true
		msg.Mes = body
		return msg
	}

	switch style {
	case NameStyleBody:
		msg.Name = evt.Character
		msg.Mes = evt.Character + ": " + body
	case NameStylePlain:
		msg.Name = evt.Character
		msg.Mes = body
	default:
		msg.Name = evt.Character + ": " + body
		msg.Mes = body
	}
	return msg
}
