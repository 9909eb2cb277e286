// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command tavern-bridge mirrors chat network conversations into a tavern
// chat-log server. Every room and private conversation becomes a tavern
// character with one chat file, created the first time the conversation is
// seen.
package main

import (
	"os"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		os.Exit(1)
	}
}
