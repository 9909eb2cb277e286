// Copyright 2024-2026 Aiku AI

// Package tavern mirrors chat messages into a tavern's character chat files.
//
// A conversation identifier from the chat network is turned into a character
// name and chat file name by [Sanitize]. [Gate] makes sure the character's
// storage is provisioned once per run, and [Synchronizer] appends each
// message with a whole-file fetch, append, save cycle against a [Store].
//
// Two stores exist: [RemoteStore] talks to a running tavern through [Client],
// [LocalStore] edits the JSONL chat files in the tavern's data directory.
package tavern
