// Copyright 2026 The Agentgram Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"strings"

	"github.com/agentgram/agentgram/term"
)

// statusFragments mark TUI status and hint lines that carry no
// response content.
var statusFragments = []string{
	"esc to interrupt",
	"? for shortcuts",
	"Bypassing Permissions",
	"Auto-update",
	"ctrl+",
}

// isChromeLine reports whether a plain line is TUI furniture rather
// than response content: frame borders, the input box, spinner and
// status lines, and echoed user input.
func isChromeLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if hasAnyPrefix(trimmed, "╭╰├│") {
		return true
	}
	if allRunesIn(trimmed, "─═━") {
		return true
	}
	if spinnerPattern.MatchString(trimmed) {
		return true
	}
	for _, fragment := range statusFragments {
		if strings.Contains(trimmed, fragment) {
			return true
		}
	}
	if strings.HasPrefix(trimmed, "> ") || trimmed == ">" {
		return true
	}
	return false
}

func allRunesIn(s, set string) bool {
	for _, r := range s {
		if !strings.ContainsRune(set, r) {
			return false
		}
	}
	return true
}

// ResponseSpans filters TUI chrome out of attributed lines and strips
// the response and result marker glyphs, leaving only renderable
// response content. Leading and trailing blank rows are dropped;
// interior blanks survive so downstream region grouping sees them.
func ResponseSpans(lines [][]term.CharSpan) [][]term.CharSpan {
	var kept [][]term.CharSpan
	for _, row := range lines {
		text := term.SpanText(row)
		if isChromeLine(text) {
			continue
		}
		kept = append(kept, stripMarkers(row))
	}

	start := 0
	for start < len(kept) && len(kept[start]) == 0 {
		start++
	}
	end := len(kept)
	for end > start && len(kept[end-1]) == 0 {
		end--
	}
	return kept[start:end]
}

// stripMarkers removes a leading "⏺ " or "⎿ " from a row, adjusting
// the first span rather than re-splitting the line.
func stripMarkers(row []term.CharSpan) []term.CharSpan {
	if len(row) == 0 {
		return row
	}
	first := row[0].Text
	trimmed := strings.TrimLeft(first, " ")
	indent := first[:len(first)-len(trimmed)]

	for _, marker := range []string{responseMarker, resultMarker} {
		rest, ok := strings.CutPrefix(trimmed, marker)
		if !ok {
			continue
		}
		rest = strings.TrimLeft(rest, " ")
		out := make([]term.CharSpan, 0, len(row))
		if indent+rest != "" {
			head := row[0]
			head.Text = indent + rest
			out = append(out, head)
			out = append(out, row[1:]...)
			return out
		}
		// Marker was the whole first span.
		return append(out, row[1:]...)
	}
	return row
}
