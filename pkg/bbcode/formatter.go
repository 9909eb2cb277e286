// Copyright 2024-2026 Aiku AI

// Package bbcode converts F-Chat BBCode to the markdown tavern chats render.
package bbcode

import (
	"regexp"
	"strconv"
	"strings"
)

// maxPasses bounds how many times nested tags are unwrapped.
const maxPasses = 8

var (
	noparseRe = regexp.MustCompile(`(?is)\[noparse\](.*?)\[/noparse\]`)
	boldRe    = regexp.MustCompile(`(?is)\[b\](.*?)\[/b\]`)
	italicRe  = regexp.MustCompile(`(?is)\[i\](.*?)\[/i\]`)
	strikeRe  = regexp.MustCompile(`(?is)\[s\](.*?)\[/s\]`)
	urlRe     = regexp.MustCompile(`(?is)\[url=([^\]]+)\](.*?)\[/url\]`)
	bareURLRe = regexp.MustCompile(`(?is)\[url\](.*?)\[/url\]`)
	// Tags whose content is kept as plain text.
	unwrapRe = regexp.MustCompile(`(?is)\[(u|sub|sup|big|small|spoiler|user|icon|eicon|session|collapse|indent|center|left|right|justify|heading)(?:=[^\]]*)?\](.*?)\[/(?:u|sub|sup|big|small|spoiler|user|icon|eicon|session|collapse|indent|center|left|right|justify|heading)\]`)
	colorRe  = regexp.MustCompile(`(?is)\[color=[a-z]+\](.*?)\[/color\]`)
	hrRe     = regexp.MustCompile(`(?i)\[hr\]`)
	anyTagRe = regexp.MustCompile(`(?i)\[/?(?:b|i|s|u|url|sub|sup|big|small|spoiler|user|icon|eicon|session|collapse|indent|center|left|right|justify|heading|color|noparse|hr)(?:=[^\]]*)?\]`)
)

// HasMarkup reports whether text contains any BBCode tag this package knows.
func HasMarkup(text string) bool {
	return anyTagRe.MatchString(text)
}

// ToMarkdown converts BBCode in text to markdown. Tags without a markdown
// equivalent are dropped and their content kept. [noparse] content is
// copied verbatim.
func ToMarkdown(text string) string {
	if text == "" || !HasMarkup(text) {
		return text
	}

	// Step 1: Extract noparse blocks into placeholders.
	var verbatim []string
	processed := noparseRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := noparseRe.FindStringSubmatch(match)
		idx := len(verbatim)
		verbatim = append(verbatim, parts[1])
		return "\x00NOPARSE" + strconv.Itoa(idx) + "\x00"
	})

	// Step 2: Unwrap nested tags until nothing changes.
	for range maxPasses {
		before := processed
		processed = boldRe.ReplaceAllString(processed, "**$1**")
		processed = italicRe.ReplaceAllString(processed, "*$1*")
		processed = strikeRe.ReplaceAllString(processed, "~~$1~~")
		processed = colorRe.ReplaceAllString(processed, "$1")
		processed = unwrapRe.ReplaceAllString(processed, "$2")
		processed = urlRe.ReplaceAllStringFunc(processed, convertLink)
		processed = bareURLRe.ReplaceAllString(processed, "$1")
		if processed == before {
			break
		}
	}
	processed = hrRe.ReplaceAllString(processed, "\n---\n")

	// Step 3: Restore noparse blocks.
	for i, content := range verbatim {
		placeholder := "\x00NOPARSE" + strconv.Itoa(i) + "\x00"
		processed = strings.Replace(processed, placeholder, content, 1)
	}
	return processed
}

// convertLink renders [url=href]text[/url] as a markdown link. Only safe URL
// schemes become links; anything else keeps just the text.
func convertLink(match string) string {
	parts := urlRe.FindStringSubmatch(match)
	if len(parts) < 3 {
		return match
	}
	href, text := strings.TrimSpace(parts[1]), parts[2]
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:") {
		return "[" + text + "](" + href + ")"
	}
	return text
}
