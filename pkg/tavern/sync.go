// Copyright 2024-2026 Aiku AI

package tavern

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnknownLocalUser is returned when a header has to be written before the
// chat session has told us who the local user is.
var ErrUnknownLocalUser = errors.New("local user is not known yet")

// Synchronizer mirrors messages into chat files with a fetch, append, save
// cycle. Two sends racing on the same file can lose one append: the last
// save wins.
type Synchronizer struct {
	store Store
	owner *Owner
	log   zerolog.Logger

	now func() time.Time
}

// NewSynchronizer creates a Synchronizer writing to store.
func NewSynchronizer(store Store, owner *Owner, log zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		store: store,
		owner: owner,
		log:   log.With().Str("component", "synchronizer").Logger(),
		now:   time.Now,
	}
}

// SendMessage appends msg to the character's chat file. A header is created
// when the fetched log has none. Failures are logged and returned; nothing is
// retried.
func (s *Synchronizer) SendMessage(ctx context.Context, character, file string, msg Message) error {
	log := s.log.With().
		Str("character", character).
		Str("file_name", file).
		Logger()

	chat, err := s.store.Fetch(ctx, character, file)
	if err != nil {
		s.logFailure(log, err, "Failed to fetch chat")
		return err
	}

	if !chat.HasHeader() {
		owner := s.owner.Name()
		if owner == "" {
			log.Error().Err(ErrUnknownLocalUser).Msg("Cannot create chat header")
			return ErrUnknownLocalUser
		}
		chat, err = chat.WithHeader(NewHeader(owner, character, s.now()))
		if err != nil {
			log.Error().Err(err).Msg("Failed to create chat header")
			return err
		}
		log.Debug().Str("user_name", owner).Msg("Created chat header")
	}

	chat, err = chat.Append(msg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to append message")
		return err
	}

	if err := s.store.Save(ctx, character, file, chat); err != nil {
		s.logFailure(log, err, "Failed to save chat")
		return err
	}

	log.Info().
		Str("result", "ok").
		Int("length", len(chat)).
		Msg("Chat saved")
	return nil
}

func (s *Synchronizer) logFailure(log zerolog.Logger, err error, msg string) {
	evt := log.Error().Err(err)
	if body := ResponseBody(err); body != "" {
		evt = evt.Str("response", body)
	}
	evt.Msg(msg)
}
