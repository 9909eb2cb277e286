// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/aiku/tavern-bridge/pkg/tavern"
)

// State is the adapter lifecycle state.
type State int

const (
	// StateUninitialized means no connected event has been seen yet.
	StateUninitialized State = iota
	// StateActive means the local user is known.
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "uninitialized"
}

// Provisioner makes sure a conversation's storage exists.
type Provisioner interface {
	Ensure(ctx context.Context, character, file string) error
	Ensured() []string
}

// MessageSender writes one message into a chat file.
type MessageSender interface {
	SendMessage(ctx context.Context, character, file string, msg tavern.Message) error
}

// Authenticator logs the bridge into the tavern.
type Authenticator interface {
	Login(ctx context.Context, handle, password string) (string, error)
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithNameStyle sets how remote participant names are written.
func WithNameStyle(style NameStyle) Option {
	return func(a *Adapter) { a.nameStyle = style }
}

// WithBBCode enables BBCode to markdown conversion of message bodies.
func WithBBCode(enabled bool) Option {
	return func(a *Adapter) { a.convertBBCode = enabled }
}

// WithLogin makes the adapter log into the tavern when the session connects.
func WithLogin(auth Authenticator, handle, password string) Option {
	return func(a *Adapter) {
		a.auth = auth
		a.handle = handle
		a.password = password
	}
}

// Adapter is the EventHandler that mirrors chat events into the tavern.
type Adapter struct {
	owner       *tavern.Owner
	provisioner Provisioner
	sender      MessageSender
	log         zerolog.Logger

	nameStyle     NameStyle
	convertBBCode bool

	auth     Authenticator
	handle   string
	password string

	sent   atomic.Int64
	failed atomic.Int64
}

var _ EventHandler = (*Adapter)(nil)

// NewAdapter creates an Adapter. owner is shared with the provisioner and the
// sender so that all of them see the local user once it is captured.
func NewAdapter(owner *tavern.Owner, provisioner Provisioner, sender MessageSender, log zerolog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		owner:       owner,
		provisioner: provisioner,
		sender:      sender,
		log:         log.With().Str("component", "adapter").Logger(),
		nameStyle:   NameStyleInline,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the current lifecycle state.
func (a *Adapter) State() State {
	if a.owner.Name() != "" {
		return StateActive
	}
	return StateUninitialized
}

// HandleEvent dispatches an event to the matching handler.
func (a *Adapter) HandleEvent(ctx context.Context, evt Event) {
	switch evt.Kind {
	case EventConnected:
		a.handleConnected(ctx, evt)
	case EventRoomMessage, EventDirectMessage:
		a.handleMessage(ctx, evt)
	default:
		a.log.Warn().Int("kind", int(evt.Kind)).Msg("Unhandled event kind")
	}
}

func (a *Adapter) handleConnected(ctx context.Context, evt Event) {
	if evt.Character == "" {
		a.log.Warn().Msg("Connected event without a character name")
		return
	}
	if !a.owner.Set(evt.Character) {
		a.log.Debug().
			Str("character", evt.Character).
			Str("local_user", a.owner.Name()).
			Msg("Ignoring repeated connected event")
		return
	}
	a.log.Info().Str("local_user", evt.Character).Msg("Chat session identified")

	if a.auth == nil {
		return
	}
	handle, err := a.auth.Login(ctx, a.handle, a.password)
	if err != nil {
		a.log.Error().Err(err).
			Str("handle", a.handle).
			Str("response", tavern.ResponseBody(err)).
			Msg("Tavern login failed, continuing without a session")
		return
	}
	a.log.Info().Str("handle", handle).Msg("Logged into tavern")
}

func (a *Adapter) handleMessage(ctx context.Context, evt Event) {
	id := evt.ConversationID()
	if id == "" {
		a.log.Warn().
			Stringer("kind", evt.Kind).
			Str("character", evt.Character).
			Msg("Dropping message without a conversation")
		return
	}
	character, file := tavern.SanitizeNames(id)
	log := a.log.With().
		Stringer("kind", evt.Kind).
		Str("conversation", id).
		Str("character", character).
		Logger()

	if err := a.provisioner.Ensure(ctx, character, file); err != nil {
		// The synchronizer still creates a header when the log is empty.
		log.Debug().Err(err).Msg("Provisioning failed, sending anyway")
	}

	msg := BuildMessage(evt, a.owner.Name(), a.nameStyle, a.convertBBCode)
	log.Debug().
		Str("author", evt.Character).
		Bool("is_user", msg.IsUser).
		Msg("Mirroring message")

	if err := a.sender.SendMessage(ctx, character, file, msg); err != nil {
		a.failed.Add(1)
		return
	}
	a.sent.Add(1)
}
