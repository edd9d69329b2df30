package translate

import (
	"regexp"
	"strings"
)

// Thinking-phase content arrives wrapped in the upstream's display markup:
// a <details> block with a <summary> header, custom wrapper tags, and each
// line quoted with "> ". TransformThinking strips the markup down to the
// bare reasoning text according to the configured mode.
//
// Modes: "strip" removes the <details> wrapper entirely, "think" rewrites it
// to a <think> tag pair, "raw" leaves it untouched. Strip mode is idempotent:
// a second pass finds nothing left to remove.

var (
	summaryRe     = regexp.MustCompile(`(?s)<summary>.*?</summary>`)
	detailsOpenRe = regexp.MustCompile(`<details[^>]*>`)
)

const (
	ModeStrip = "strip"
	ModeThink = "think"
	ModeRaw   = "raw"
)

func TransformThinking(s, mode string) string {
	s = summaryRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "</thinking>", "")
	s = strings.ReplaceAll(s, "<Full>", "")
	s = strings.ReplaceAll(s, "</Full>", "")
	s = strings.TrimSpace(s)

	switch mode {
	case ModeThink:
		s = detailsOpenRe.ReplaceAllString(s, "<think>")
		s = strings.ReplaceAll(s, "</details>", "</think>")
	case ModeStrip:
		s = detailsOpenRe.ReplaceAllString(s, "")
		s = strings.ReplaceAll(s, "</details>", "")
	}

	// The upstream renders thinking as a blockquote; drop the quote markers.
	s = strings.TrimPrefix(s, "> ")
	s = strings.ReplaceAll(s, "\n> ", "\n")

	return strings.TrimSpace(s)
}
