// Copyright 2026 The Agentgram Authors
// SPDX-License-Identifier: Apache-2.0

// Package render turns classified content regions into chat message
// text. The rich form targets Telegram's HTML parse mode (the small
// tag set: b, i, code, pre); the plain form is the degradation target
// when the rich form is rejected.
package render

import (
	"html"
	"strings"

	"github.com/agentgram/agentgram/content"
	"github.com/agentgram/agentgram/term"
)

// Chunk is one rendered unit in both delivery forms.
type Chunk struct {
	HTML  string
	Plain string
}

// Empty reports whether the chunk carries no visible text.
func (c Chunk) Empty() bool {
	return strings.TrimSpace(c.Plain) == "" && strings.TrimSpace(c.HTML) == ""
}

// Render produces both forms for a region list.
func Render(regions []content.Region, config content.Config) Chunk {
	return Chunk{
		HTML:  HTML(regions, config),
		Plain: Plain(regions),
	}
}

// HTML renders regions as Telegram HTML.
func HTML(regions []content.Region, config content.Config) string {
	blocks := make([]string, 0, len(regions))
	for _, region := range regions {
		switch region.Type {
		case content.RegionBlank:
			blocks = append(blocks, "")
		case content.RegionSeparator:
			blocks = append(blocks, "———")
		case content.RegionCodeBlock:
			blocks = append(blocks, codeBlockHTML(region))
		case content.RegionHeading:
			blocks = append(blocks, "<b>"+html.EscapeString(strings.TrimSpace(region.Text()))+"</b>")
		case content.RegionList:
			blocks = append(blocks, listHTML(region, config))
		default:
			blocks = append(blocks, linesHTML(region.Lines, config))
		}
	}
	return strings.TrimRight(strings.Join(blocks, "\n"), "\n")
}

func codeBlockHTML(region content.Region) string {
	body := html.EscapeString(region.Text())
	if region.Language != "" {
		return `<pre><code class="language-` + region.Language + `">` + body + "</code></pre>"
	}
	return "<pre>" + body + "</pre>"
}

func listHTML(region content.Region, config content.Config) string {
	lines := make([]string, len(region.Lines))
	for i, row := range region.Lines {
		lines[i] = inlineHTML(normalizeBullet(row), config)
	}
	return strings.Join(lines, "\n")
}

func linesHTML(rows [][]term.CharSpan, config content.Config) string {
	lines := make([]string, len(rows))
	for i, row := range rows {
		lines[i] = inlineHTML(row, config)
	}
	return strings.Join(lines, "\n")
}

// inlineHTML renders one attributed line, wrapping code-colored spans
// as inline code and honoring bold/italic. Adjacent formatting is per
// span; the emulator already merged equal-attribute runs.
func inlineHTML(row []term.CharSpan, config content.Config) string {
	var b strings.Builder
	for _, span := range row {
		text := html.EscapeString(span.Text)
		switch {
		case config.IsCodeColor(span.Foreground):
			b.WriteString("<code>" + text + "</code>")
		default:
			if span.Bold {
				text = "<b>" + text + "</b>"
			}
			if span.Italic {
				text = "<i>" + text + "</i>"
			}
			b.WriteString(text)
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Plain renders regions as bare text for the no-formatting fallback.
func Plain(regions []content.Region) string {
	blocks := make([]string, 0, len(regions))
	for _, region := range regions {
		switch region.Type {
		case content.RegionBlank:
			blocks = append(blocks, "")
		case content.RegionSeparator:
			blocks = append(blocks, "———")
		case content.RegionList:
			lines := make([]string, len(region.Lines))
			for i, row := range region.Lines {
				lines[i] = term.SpanText(normalizeBullet(row))
			}
			blocks = append(blocks, strings.Join(lines, "\n"))
		default:
			blocks = append(blocks, region.Text())
		}
	}
	return strings.TrimRight(strings.Join(blocks, "\n"), "\n")
}

// normalizeBullet rewrites the leading list marker to "•" so every
// surface shows the same glyph regardless of what the terminal drew.
func normalizeBullet(row []term.CharSpan) []term.CharSpan {
	if len(row) == 0 {
		return row
	}
	first := row[0].Text
	stripped := strings.TrimLeft(first, " ")
	indent := first[:len(first)-len(stripped)]
	for _, marker := range []string{"- ", "* ", "◦ ", "– ", "• "} {
		rest, ok := strings.CutPrefix(stripped, marker)
		if !ok {
			continue
		}
		out := make([]term.CharSpan, len(row))
		copy(out, row)
		out[0].Text = indent + "• " + rest
		return out
	}
	return row
}
