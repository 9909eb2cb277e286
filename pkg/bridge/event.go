// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"time"
)

// EventKind tags the variant an Event carries.
type EventKind int

const (
	// EventConnected reports that the session identified as Character.
	EventConnected EventKind = iota + 1
	// EventRoomMessage is a message posted in Channel by Character.
	EventRoomMessage
	// EventDirectMessage is a private message between the local user and Peer.
	EventDirectMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventRoomMessage:
		return "room_message"
	case EventDirectMessage:
		return "direct_message"
	default:
		return "unknown"
	}
}

// BodyFormat says which markup the message body uses.
type BodyFormat string

const (
	FormatPlain  BodyFormat = ""
	FormatBBCode BodyFormat = "bbcode"
)

// DirectPrefix prefixes the conversation identifier of direct messages.
const DirectPrefix = "PM_with_"

// Event is one inbound chat session event.
type Event struct {
	Kind EventKind
	// Character is the author of a message, or the local user for
	// EventConnected.
	Character string
	// Channel is the room name for EventRoomMessage.
	Channel string
	// Peer is the remote participant for EventDirectMessage, whichever side
	// wrote the message.
	Peer   string
	Body   string
	Format BodyFormat
	Time   time.Time
}

// ConversationID returns the chat client's identifier for the conversation
// the event belongs to, or "" when it has none.
func (e Event) ConversationID() string {
	switch e.Kind {
	case EventRoomMessage:
		return e.Channel
	case EventDirectMessage:
		if e.Peer == "" {
			return ""
		}
		return DirectPrefix + e.Peer
	default:
		return ""
	}
}

// EventHandler receives events from a source. Sources call HandleEvent from a
// single goroutine, one event at a time.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt Event)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, evt Event)

func (f EventHandlerFunc) HandleEvent(ctx context.Context, evt Event) {
	f(ctx, evt)
}
