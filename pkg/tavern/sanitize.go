// Copyright 2024-2026 Aiku AI

package tavern

import "strings"

// Sanitize replaces every character outside [A-Za-z0-9_-] with an underscore.
// Length is kept in UTF-16 code units, so a rune above U+FFFF becomes two
// underscores and names match those written by JavaScript clients. Distinct
// identifiers can sanitize to the same name; callers treat that as a known
// collision.
func Sanitize(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == '-':
			b.WriteRune(r)
		case r > 0xFFFF:
			b.WriteString("__")
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// SanitizeNames derives the character profile name and chat file name for a
// conversation identifier. Both are currently the same sanitized string.
func SanitizeNames(conversationID string) (character, file string) {
	name := Sanitize(conversationID)
	return name, name
}

// AvatarURL returns the avatar file name the tavern uses to address a
// character's chats.
func AvatarURL(character string) string {
	return character + ".png"
}
