// Copyright 2024-2026 Aiku AI

// Package bridge turns chat session events into tavern chat messages.
//
// Sources deliver [Event] values to an [EventHandler]. The [Adapter] is the
// handler used at runtime: it captures the local user from the first
// connected event, derives the tavern character and file names for every
// message, makes sure the conversation storage exists and hands the built
// message to a synchronizer.
package bridge
