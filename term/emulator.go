// Copyright 2026 The Agentgram Authors
// SPDX-License-Identifier: Apache-2.0

// Package term implements a headless terminal emulator tuned for
// observing a single interactive CLI process. It maintains a fixed
// rows×cols character grid with per-cell display attributes plus a
// bounded scrollback, and exposes plain, attributed, and diffed views
// of the screen.
//
// The emulator is deliberately incomplete as a VT implementation: it
// handles the cursor movement, erase, and SGR sequences the observed
// program family actually emits, and silently ignores everything else.
// Malformed or unknown input never panics — bytes that cannot be
// interpreted are dropped.
package term

import (
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

// defaultMaxScrollback bounds scrollback growth between ClearHistory
// calls. At typical assistant output rates this is several screens
// beyond what a single response produces.
const defaultMaxScrollback = 4000

// cell is one character position on the grid. A zero cell renders as
// a space with default attributes.
type cell struct {
	r      rune
	fg     Color
	bold   bool
	italic bool
}

func (c cell) blank() bool { return c.r == 0 || c.r == ' ' }

// Emulator consumes a raw terminal byte stream and maintains the
// screen state. It is not safe for concurrent use; the session owns
// one emulator and drives it from a single poll loop.
type Emulator struct {
	rows, cols int
	grid       [][]cell

	cursorRow, cursorCol int
	savedRow, savedCol   int

	// Current SGR attributes applied to printed characters.
	fg     Color
	bold   bool
	italic bool

	scrollback    [][]cell
	maxScrollback int

	// pending holds a trailing incomplete escape sequence or UTF-8
	// rune from the previous Feed, so that sequences split across
	// reads decode correctly.
	pending []byte

	// Snapshot state for Changes/AttributedChanges.
	prevDisplay   []string
	scrolledSince int
}

// NewEmulator creates an emulator with the given screen size.
// Dimensions are clamped to at least 1×1.
func NewEmulator(rows, cols int) *Emulator {
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}
	e := &Emulator{
		rows:          rows,
		cols:          cols,
		maxScrollback: defaultMaxScrollback,
	}
	e.grid = make([][]cell, rows)
	for i := range e.grid {
		e.grid[i] = make([]cell, cols)
	}
	return e
}

// Size returns the screen dimensions.
func (e *Emulator) Size() (rows, cols int) { return e.rows, e.cols }

// Feed advances the emulator state with raw terminal output. It never
// blocks and never fails: unknown sequences are consumed and ignored,
// and an incomplete trailing sequence is held back until the next
// call completes it.
func (e *Emulator) Feed(p []byte) {
	data := p
	if len(e.pending) > 0 {
		data = append(e.pending, p...)
		e.pending = nil
	}

	// Hold back a trailing incomplete escape sequence or split UTF-8
	// rune. DecodeSequence would otherwise misread the fragment.
	if hold := incompleteSuffix(data); hold > 0 {
		e.pending = append([]byte(nil), data[len(data)-hold:]...)
		data = data[:len(data)-hold]
	}

	var state byte
	for len(data) > 0 {
		seq, width, n, newState := ansi.DecodeSequence(data, state, nil)
		state = newState
		if n == 0 {
			// Defensive: should not happen with non-empty input, but
			// never loop forever on it.
			data = data[1:]
			continue
		}
		if width > 0 {
			for _, r := range string(seq) {
				e.print(r)
			}
		} else {
			e.control(seq)
		}
		data = data[n:]
	}
}

// print writes one rune at the cursor with current attributes,
// wrapping at the right edge.
func (e *Emulator) print(r rune) {
	if e.cursorCol >= e.cols {
		e.cursorCol = 0
		e.lineFeed()
	}
	e.grid[e.cursorRow][e.cursorCol] = cell{r: r, fg: e.fg, bold: e.bold, italic: e.italic}
	e.cursorCol++
}

// control dispatches a zero-width sequence: C0 controls, CSI, and the
// few bare ESC forms the observed programs use.
func (e *Emulator) control(seq []byte) {
	if len(seq) == 0 {
		return
	}
	if seq[0] != 0x1b {
		switch seq[0] {
		case '\n', '\v', '\f':
			e.lineFeed()
		case '\r':
			e.cursorCol = 0
		case '\b':
			if e.cursorCol > 0 {
				e.cursorCol--
			}
		case '\t':
			next := (e.cursorCol/8 + 1) * 8
			if next >= e.cols {
				next = e.cols - 1
			}
			e.cursorCol = next
		}
		// Other C0 bytes (BEL and friends) are ignored.
		return
	}

	if len(seq) < 2 {
		return
	}
	switch seq[1] {
	case '[':
		e.csi(seq)
	case '7':
		e.savedRow, e.savedCol = e.cursorRow, e.cursorCol
	case '8':
		e.cursorRow, e.cursorCol = e.clampRow(e.savedRow), e.clampCol(e.savedCol)
	case 'M':
		// Reverse index: up one line, scrolling down at the top.
		if e.cursorRow > 0 {
			e.cursorRow--
		} else {
			e.scrollDown(1)
		}
	case 'c':
		e.reset()
	default:
		// OSC, DCS, and remaining ESC forms carry no screen content
		// we care about.
	}
}

// lineFeed moves the cursor down, scrolling the screen when it passes
// the bottom row.
func (e *Emulator) lineFeed() {
	if e.cursorRow < e.rows-1 {
		e.cursorRow++
		return
	}
	e.scrollUp(1)
}

// scrollUp shifts the screen up by n lines, pushing the topmost lines
// into scrollback.
func (e *Emulator) scrollUp(n int) {
	for i := 0; i < n; i++ {
		top := e.grid[0]
		e.pushScrollback(top)
		copy(e.grid, e.grid[1:])
		e.grid[e.rows-1] = make([]cell, e.cols)
		e.scrolledSince++
	}
}

// scrollDown shifts the screen down by n lines. Lines scrolled off
// the bottom are discarded; new top lines are blank.
func (e *Emulator) scrollDown(n int) {
	for i := 0; i < n; i++ {
		copy(e.grid[1:], e.grid)
		e.grid[0] = make([]cell, e.cols)
	}
}

func (e *Emulator) pushScrollback(row []cell) {
	// Blank lines at the top of an empty scrollback carry no
	// information for the full re-render; skip them.
	if len(e.scrollback) == 0 && rowBlank(row) {
		return
	}
	e.scrollback = append(e.scrollback, row)
	if len(e.scrollback) > e.maxScrollback {
		drop := len(e.scrollback) - e.maxScrollback
		e.scrollback = append([][]cell(nil), e.scrollback[drop:]...)
	}
}

func rowBlank(row []cell) bool {
	for _, c := range row {
		if !c.blank() {
			return false
		}
	}
	return true
}

// reset clears the screen, scrollback, cursor, and attributes.
func (e *Emulator) reset() {
	for i := range e.grid {
		e.grid[i] = make([]cell, e.cols)
	}
	e.scrollback = nil
	e.cursorRow, e.cursorCol = 0, 0
	e.savedRow, e.savedCol = 0, 0
	e.fg, e.bold, e.italic = ColorDefault, false, false
}

func (e *Emulator) clampRow(r int) int {
	if r < 0 {
		return 0
	}
	if r >= e.rows {
		return e.rows - 1
	}
	return r
}

func (e *Emulator) clampCol(c int) int {
	if c < 0 {
		return 0
	}
	if c >= e.cols {
		return e.cols - 1
	}
	return c
}

// Display returns the current screen as plain text rows, right-trimmed.
func (e *Emulator) Display() []string {
	rows := make([]string, e.rows)
	for i, row := range e.grid {
		rows[i] = rowText(row)
	}
	return rows
}

func rowText(row []cell) string {
	last := -1
	for i, c := range row {
		if !c.blank() {
			last = i
		}
	}
	var b strings.Builder
	for i := 0; i <= last; i++ {
		r := row[i].r
		if r == 0 {
			r = ' '
		}
		b.WriteRune(r)
	}
	return b.String()
}

// AttributedLines returns the current screen as CharSpan rows.
// Adjacent same-attribute characters merge into one span; trailing
// whitespace is dropped, so concatenating a row's span text equals
// the row's Display text.
func (e *Emulator) AttributedLines() [][]CharSpan {
	lines := make([][]CharSpan, e.rows)
	for i, row := range e.grid {
		lines[i] = rowSpans(row)
	}
	return lines
}

// FullAttributedLines returns scrollback plus the current screen,
// oldest first. Used for the full response re-render on finalize.
func (e *Emulator) FullAttributedLines() [][]CharSpan {
	lines := make([][]CharSpan, 0, len(e.scrollback)+e.rows)
	for _, row := range e.scrollback {
		lines = append(lines, rowSpans(row))
	}
	for _, row := range e.grid {
		lines = append(lines, rowSpans(row))
	}
	return lines
}

func rowSpans(row []cell) []CharSpan {
	last := -1
	for i, c := range row {
		if !c.blank() {
			last = i
		}
	}
	if last < 0 {
		return nil
	}

	var spans []CharSpan
	var text strings.Builder
	current := cell{}
	started := false

	flush := func() {
		if text.Len() > 0 {
			spans = append(spans, CharSpan{
				Text:       text.String(),
				Foreground: current.fg,
				Bold:       current.bold,
				Italic:     current.italic,
			})
			text.Reset()
		}
	}

	for i := 0; i <= last; i++ {
		c := row[i]
		r := c.r
		if r == 0 {
			// Untouched cell: a plain default-attribute space.
			c = cell{r: ' '}
			r = ' '
		}
		if !started || !spanMatches(current, c) {
			flush()
			current = c
			started = true
		}
		text.WriteRune(r)
	}
	flush()
	return spans
}

func spanMatches(a, b cell) bool {
	return a.fg == b.fg && a.bold == b.bold && a.italic == b.italic
}

// Changes returns the non-blank plain rows that differ from the
// previous snapshot, excluding rows whose content merely shifted up
// with a scroll, then commits the current screen as the new snapshot.
//
// The scroll correlation is what makes polling viable: after the
// visible window scrolls by k lines, a naive row-index diff would
// report every surviving row as new. A row at index i is old news if
// the previous snapshot held the same text at i+k.
func (e *Emulator) Changes() []string {
	display := e.Display()
	indexes := e.changedRowIndexes(display)
	e.commitSnapshot(display)

	changed := make([]string, 0, len(indexes))
	for _, i := range indexes {
		changed = append(changed, display[i])
	}
	return changed
}

// AttributedChanges is Changes with CharSpan rows. Like Changes, it
// commits the snapshot: call one or the other per poll, not both.
func (e *Emulator) AttributedChanges() [][]CharSpan {
	display := e.Display()
	indexes := e.changedRowIndexes(display)
	attributed := e.AttributedLines()
	e.commitSnapshot(display)

	changed := make([][]CharSpan, 0, len(indexes))
	for _, i := range indexes {
		changed = append(changed, attributed[i])
	}
	return changed
}

func (e *Emulator) changedRowIndexes(display []string) []int {
	shift := e.scrolledSince
	var indexes []int
	for i, row := range display {
		if strings.TrimSpace(row) == "" {
			continue
		}
		if i < len(e.prevDisplay) && e.prevDisplay[i] == row {
			continue
		}
		if shifted := i + shift; shift > 0 && shifted < len(e.prevDisplay) && e.prevDisplay[shifted] == row {
			continue
		}
		indexes = append(indexes, i)
	}
	return indexes
}

func (e *Emulator) commitSnapshot(display []string) {
	e.prevDisplay = display
	e.scrolledSince = 0
}

// ClearHistory drops the scrollback. Called after a full re-render so
// memory stays bounded across long sessions.
func (e *Emulator) ClearHistory() {
	e.scrollback = nil
}

// incompleteSuffix returns how many trailing bytes of data form an
// incomplete escape sequence or a split UTF-8 rune, to be withheld
// until more input arrives.
func incompleteSuffix(data []byte) int {
	// Find the last ESC; if its sequence is unterminated, everything
	// from it onward must wait.
	escape := -1
	for i := len(data) - 1; i >= 0; i-- {
		if data[i] == 0x1b {
			escape = i
			break
		}
	}
	if escape >= 0 {
		tail := data[escape:]
		if !sequenceComplete(tail) {
			return len(tail)
		}
	}

	// A multi-byte rune split across reads.
	for back := 1; back <= utf8.UTFMax && back <= len(data); back++ {
		b := data[len(data)-back]
		if b < 0x80 {
			break
		}
		if utf8.RuneStart(b) {
			if !utf8.FullRune(data[len(data)-back:]) {
				return back
			}
			break
		}
	}
	return 0
}

// sequenceComplete reports whether tail (starting with ESC) contains
// a full escape sequence.
func sequenceComplete(tail []byte) bool {
	if len(tail) < 2 {
		return false
	}
	switch tail[1] {
	case '[':
		// CSI terminates on a final byte in 0x40–0x7E.
		for _, b := range tail[2:] {
			if b >= 0x40 && b <= 0x7e {
				return true
			}
		}
		return false
	case ']', 'P', '^', '_':
		// OSC/DCS/PM/APC terminate on BEL or ST (ESC \).
		for i := 2; i < len(tail); i++ {
			if tail[i] == 0x07 {
				return true
			}
			if tail[i] == 0x1b && i+1 < len(tail) && tail[i+1] == '\\' {
				return true
			}
		}
		return false
	default:
		// Two-byte ESC sequence.
		return true
	}
}
