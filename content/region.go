// Copyright 2026 The Agentgram Authors
// SPDX-License-Identifier: Apache-2.0

// Package content groups attributed terminal lines into semantic
// regions: code blocks, headings, lists, prose, separators, and
// blanks. Character color and weight are the ground truth — the
// emitting program syntax-highlights code and bolds headings, so the
// attributes carry more signal than any text heuristic could.
package content

import (
	"strings"

	"github.com/agentgram/agentgram/term"
)

// RegionType identifies what a region holds.
type RegionType int

const (
	RegionProse RegionType = iota
	RegionCodeBlock
	RegionHeading
	RegionList
	RegionSeparator
	RegionBlank
)

var regionNames = map[RegionType]string{
	RegionProse:     "prose",
	RegionCodeBlock: "code_block",
	RegionHeading:   "heading",
	RegionList:      "list",
	RegionSeparator: "separator",
	RegionBlank:     "blank",
}

func (t RegionType) String() string {
	if name, ok := regionNames[t]; ok {
		return name
	}
	return "invalid"
}

// Region is a run of adjacent lines sharing one classification.
type Region struct {
	Type  RegionType
	Lines [][]term.CharSpan

	// Language is the code fence language tag. The terminal does not
	// announce one, so it stays empty unless a caller sets it.
	Language string
}

// Text returns the region's plain text, one line per row.
func (r Region) Text() string {
	parts := make([]string, len(r.Lines))
	for i, row := range r.Lines {
		parts[i] = term.SpanText(row)
	}
	return strings.Join(parts, "\n")
}

// Config holds the tuned constants of the classifier. The defaults
// come from captured output samples, not from first principles; they
// are fields precisely so the corpus tests can pin them down.
type Config struct {
	// CodeColors is the set of foreground colors the observed
	// program uses for syntax highlighting. A span in any of these
	// colors marks code.
	CodeColors map[term.Color]struct{}

	// GapTolerance is the number of consecutive default-colored,
	// non-code lines allowed inside a code block without splitting
	// it (a comment line rendered without highlighting, or a blank
	// line within a function).
	GapTolerance int

	// InlineCodeMax is the length, in runes, below which a code-
	// colored span inside a default-colored line is treated as
	// inline code rather than promoting the whole line to a code
	// block.
	InlineCodeMax int
}

// defaultCodeColorIndexes lists the 256-color palette indexes seen in
// the observed program's syntax highlighting theme.
var defaultCodeColorIndexes = []uint8{
	39,  // function names
	81,  // types
	114, // strings
	141, // keywords
	148, // constants
	173, // numbers
	197, // operators
	208, // builtins
	222, // fields
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	colors := make(map[term.Color]struct{}, len(defaultCodeColorIndexes))
	for _, index := range defaultCodeColorIndexes {
		colors[term.Palette(index)] = struct{}{}
	}
	return Config{
		CodeColors:    colors,
		GapTolerance:  1,
		InlineCodeMax: 60,
	}
}

// IsCodeColor reports whether c marks syntax-highlighted text.
func (c Config) IsCodeColor(color term.Color) bool {
	_, ok := c.CodeColors[color]
	return ok
}

// lineClass is the per-line classification before region grouping.
type lineClass int

const (
	lineBlank lineClass = iota
	lineSeparator
	lineList
	lineCode
	lineHeading
	lineProse
)

func (c lineClass) regionType() RegionType {
	switch c {
	case lineBlank:
		return RegionBlank
	case lineSeparator:
		return RegionSeparator
	case lineList:
		return RegionList
	case lineCode:
		return RegionCodeBlock
	case lineHeading:
		return RegionHeading
	default:
		return RegionProse
	}
}

// Classify groups attributed lines into ordered regions. Adjacent
// same-type lines merge; short differently-typed gaps between code
// lines stay inside the code region per Config.GapTolerance.
func Classify(lines [][]term.CharSpan, config Config) []Region {
	if len(lines) == 0 {
		return nil
	}

	classes := make([]lineClass, len(lines))
	for i, row := range lines {
		classes[i] = config.classifyLine(row)
	}
	config.absorbCodeGaps(classes)

	var regions []Region
	for i, row := range lines {
		t := classes[i].regionType()
		if len(regions) > 0 && regions[len(regions)-1].Type == t {
			last := &regions[len(regions)-1]
			last.Lines = append(last.Lines, row)
			continue
		}
		regions = append(regions, Region{Type: t, Lines: [][]term.CharSpan{row}})
	}
	return regions
}

// classifyLine applies the per-line rule in priority order:
// blank → separator → list → code → heading → prose.
func (c Config) classifyLine(row []term.CharSpan) lineClass {
	text := term.SpanText(row)
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return lineBlank
	}
	if isSeparator(trimmed) {
		return lineSeparator
	}
	if isListItem(trimmed) {
		return lineList
	}
	if c.isCodeLine(row) {
		return lineCode
	}
	if isHeading(row) {
		return lineHeading
	}
	return lineProse
}

// isCodeLine: a line is code when its visible content is entirely
// code-colored, or when any single code-colored span is long enough
// that inline rendering would be absurd. Short code-colored spans
// inside default text stay prose — the renderer wraps them as inline
// code.
func (c Config) isCodeLine(row []term.CharSpan) bool {
	visible := 0
	codeColored := 0
	for _, span := range row {
		trimmed := strings.TrimSpace(span.Text)
		if trimmed == "" {
			continue
		}
		visible++
		if !c.IsCodeColor(span.Foreground) {
			continue
		}
		codeColored++
		if runeLen(span.Text) >= c.InlineCodeMax {
			return true
		}
	}
	return visible > 0 && codeColored == visible
}

// isHeading: entirely default-colored, and the first visible span is
// bold.
func isHeading(row []term.CharSpan) bool {
	seenVisible := false
	for _, span := range row {
		if !span.Foreground.IsDefault() {
			return false
		}
		if strings.TrimSpace(span.Text) == "" {
			continue
		}
		if !seenVisible {
			if !span.Bold {
				return false
			}
			seenVisible = true
		}
	}
	return seenVisible
}

var bulletPrefixes = []string{"• ", "- ", "* ", "◦ ", "– "}

func isListItem(trimmed string) bool {
	for _, prefix := range bulletPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	// Ordinal markers: "1. " / "12. ".
	digits := 0
	for digits < len(trimmed) && trimmed[digits] >= '0' && trimmed[digits] <= '9' {
		digits++
	}
	return digits > 0 && digits+1 < len(trimmed) &&
		trimmed[digits] == '.' && trimmed[digits+1] == ' '
}

// isSeparator: a horizontal rule drawn with line glyphs.
func isSeparator(trimmed string) bool {
	runes := 0
	for _, r := range trimmed {
		if !strings.ContainsRune("─━═—-", r) {
			return false
		}
		runes++
	}
	return runes >= 3
}

// absorbCodeGaps reclassifies short non-code gaps that sit between
// code lines, so a lone unhighlighted comment or blank line does not
// split a code block. Gaps longer than GapTolerance still split.
func (c Config) absorbCodeGaps(classes []lineClass) {
	if c.GapTolerance <= 0 {
		return
	}
	i := 0
	for i < len(classes) {
		if classes[i] != lineCode {
			i++
			continue
		}
		// i is code; measure the gap that follows.
		gapStart := i + 1
		gapEnd := gapStart
		for gapEnd < len(classes) && classes[gapEnd] != lineCode && gapEnd-gapStart < c.GapTolerance+1 {
			gapEnd++
		}
		if gapEnd < len(classes) && classes[gapEnd] == lineCode && gapEnd > gapStart && gapEnd-gapStart <= c.GapTolerance {
			for j := gapStart; j < gapEnd; j++ {
				classes[j] = lineCode
			}
		}
		if gapEnd > gapStart {
			i = gapEnd
		} else {
			i++
		}
	}
}

func runeLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}
