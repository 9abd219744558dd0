package responder

import "strings"

// naturalBreaks are the markers findSplitPoint looks for at or before the
// buffer limit: a blank line separates paragraphs, a sentence terminator
// plus whitespace ends a sentence, a bare newline at least ends a line.
// Every marker is searched; a marker's last occurrence replaces the
// current choice when it starts after that choice ends, so the list order
// is not a priority order.
var naturalBreaks = []string{"\n\n", ". ", "! ", "? ", "\n"}

// endsOnNaturalBreak reports whether text already ends on a blank line or
// a sentence terminator, letting AddMessageAndSend flush early instead of
// waiting for MaxBufferSize when the model pauses at a paragraph or
// sentence boundary. A bare trailing single newline does not count — that
// would flush on every streamed line.
func endsOnNaturalBreak(text string) bool {
	if strings.HasSuffix(text, "\n\n") {
		return true
	}
	trimmed := strings.TrimRight(text, "\n")
	for _, terminator := range []string{". ", "! ", "? "} {
		if strings.HasSuffix(trimmed+" ", terminator) {
			return true
		}
	}
	return false
}

// findSplitPoint finds the best natural-break index at or before limit.
// If none exists, it falls back to splitting exactly at limit (a long
// unbroken line must still be chunked to respect the platform's size
// cap).
func findSplitPoint(text string, limit int) int {
	if len(text) <= limit {
		if !endsOnNaturalBreak(text) {
			return 0
		}
		return len(text)
	}

	window := text[:limit]
	best := -1
	for _, marker := range naturalBreaks {
		if idx := strings.LastIndex(window, marker); idx > best {
			best = idx + len(marker)
		}
	}
	if best > 0 {
		return best
	}
	return limit
}

// scanFenceState walks segment's literal fence markers (```, ```lang) to
// determine the fence language left open at its end, given it started in
// openLangIn's state (empty means not in a fence). It returns "" once
// every opened fence within segment has a matching close.
func scanFenceState(segment, openLangIn string) (openLangOut string) {
	lang := openLangIn
	open := openLangIn != ""
	for _, line := range strings.Split(segment, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if open {
				open = false
				lang = ""
			} else {
				open = true
				lang = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
			}
		}
	}
	if !open {
		return ""
	}
	return lang
}
