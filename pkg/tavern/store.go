// Copyright 2024-2026 Aiku AI

package tavern

import (
	"context"
)

// Store reads and replaces whole chat files. There is no partial append:
// callers fetch the full log, modify it and save it back.
type Store interface {
	Fetch(ctx context.Context, character, file string) (Log, error)
	Save(ctx context.Context, character, file string, log Log) error
}

// RemoteStore keeps chat files in a running tavern through its HTTP API.
type RemoteStore struct {
	client *Client
}

var _ Store = (*RemoteStore)(nil)

// NewRemoteStore wraps client as a Store.
func NewRemoteStore(client *Client) *RemoteStore {
	return &RemoteStore{client: client}
}

func (r *RemoteStore) Fetch(ctx context.Context, character, file string) (Log, error) {
	body, err := r.client.GetChat(ctx, AvatarURL(character), file)
	if err != nil {
		return nil, err
	}
	return ParseLog(body), nil
}

// Save writes the log with the integrity check bypassed, since the bridge
// is not the tavern's own frontend and never holds its integrity token.
func (r *RemoteStore) Save(ctx context.Context, character, file string, log Log) error {
	return r.client.SaveChat(ctx, AvatarURL(character), file, log, true)
}
