// Copyright 2026 The Agentgram Authors
// SPDX-License-Identifier: Apache-2.0

package term

import (
	"strconv"
	"strings"
)

// csi interprets a complete CSI sequence. Private-mode sequences
// (DECSET and friends) and anything unrecognized are ignored.
func (e *Emulator) csi(seq []byte) {
	if len(seq) < 3 {
		return
	}
	final := seq[len(seq)-1]
	body := string(seq[2 : len(seq)-1])

	// Private parameter prefix: mode switches we do not model
	// (cursor visibility, alternate screen, mouse reporting).
	if strings.HasPrefix(body, "?") || strings.HasPrefix(body, ">") ||
		strings.HasPrefix(body, "<") || strings.HasPrefix(body, "=") {
		return
	}

	params := parseParams(body)
	n := paramAt(params, 0, 1)

	switch final {
	case 'A':
		e.cursorRow = e.clampRow(e.cursorRow - n)
	case 'B':
		e.cursorRow = e.clampRow(e.cursorRow + n)
	case 'C':
		e.cursorCol = e.clampCol(e.cursorCol + n)
	case 'D':
		e.cursorCol = e.clampCol(e.cursorCol - n)
	case 'E':
		e.cursorRow = e.clampRow(e.cursorRow + n)
		e.cursorCol = 0
	case 'F':
		e.cursorRow = e.clampRow(e.cursorRow - n)
		e.cursorCol = 0
	case 'G':
		e.cursorCol = e.clampCol(n - 1)
	case 'd':
		e.cursorRow = e.clampRow(n - 1)
	case 'H', 'f':
		e.cursorRow = e.clampRow(paramAt(params, 0, 1) - 1)
		e.cursorCol = e.clampCol(paramAt(params, 1, 1) - 1)
	case 'J':
		e.eraseDisplay(paramAt(params, 0, 0))
	case 'K':
		e.eraseLine(paramAt(params, 0, 0))
	case 'L':
		e.insertLines(n)
	case 'M':
		e.deleteLines(n)
	case 'P':
		e.deleteChars(n)
	case '@':
		e.insertChars(n)
	case 'X':
		e.eraseChars(n)
	case 'S':
		e.scrollUp(n)
	case 'T':
		e.scrollDown(n)
	case 's':
		e.savedRow, e.savedCol = e.cursorRow, e.cursorCol
	case 'u':
		e.cursorRow, e.cursorCol = e.clampRow(e.savedRow), e.clampCol(e.savedCol)
	case 'm':
		e.sgr(params)
	}
}

// parseParams splits a CSI parameter body into integers. Empty and
// non-numeric entries become -1 so defaults can be distinguished from
// an explicit 0. Colon sub-parameter syntax is normalized to
// semicolons — the SGR handler treats both alike.
func parseParams(body string) []int {
	if body == "" {
		return nil
	}
	body = strings.ReplaceAll(body, ":", ";")
	parts := strings.Split(body, ";")
	params := make([]int, len(parts))
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 {
			v = -1
		}
		params[i] = v
	}
	return params
}

// paramAt returns params[i], or fallback when absent or defaulted.
// For movement commands a parameter of 0 also means 1, which the
// fallback of the call site encodes.
func paramAt(params []int, i, fallback int) int {
	if i >= len(params) || params[i] < 0 {
		return fallback
	}
	if params[i] == 0 && fallback != 0 {
		return fallback
	}
	return params[i]
}

func (e *Emulator) eraseDisplay(mode int) {
	switch mode {
	case 0:
		e.eraseLine(0)
		for r := e.cursorRow + 1; r < e.rows; r++ {
			e.grid[r] = make([]cell, e.cols)
		}
	case 1:
		for r := 0; r < e.cursorRow; r++ {
			e.grid[r] = make([]cell, e.cols)
		}
		e.eraseLine(1)
	case 2, 3:
		for r := range e.grid {
			e.grid[r] = make([]cell, e.cols)
		}
		if mode == 3 {
			e.scrollback = nil
		}
	}
}

func (e *Emulator) eraseLine(mode int) {
	row := e.grid[e.cursorRow]
	switch mode {
	case 0:
		for c := e.cursorCol; c < e.cols; c++ {
			row[c] = cell{}
		}
	case 1:
		for c := 0; c <= e.cursorCol && c < e.cols; c++ {
			row[c] = cell{}
		}
	case 2:
		e.grid[e.cursorRow] = make([]cell, e.cols)
	}
}

func (e *Emulator) insertLines(n int) {
	for i := 0; i < n; i++ {
		copy(e.grid[e.cursorRow+1:], e.grid[e.cursorRow:])
		e.grid[e.cursorRow] = make([]cell, e.cols)
	}
}

func (e *Emulator) deleteLines(n int) {
	for i := 0; i < n; i++ {
		copy(e.grid[e.cursorRow:], e.grid[e.cursorRow+1:])
		e.grid[e.rows-1] = make([]cell, e.cols)
	}
}

func (e *Emulator) deleteChars(n int) {
	row := e.grid[e.cursorRow]
	for i := 0; i < n; i++ {
		copy(row[e.cursorCol:], row[e.cursorCol+1:])
		row[e.cols-1] = cell{}
	}
}

func (e *Emulator) insertChars(n int) {
	row := e.grid[e.cursorRow]
	for i := 0; i < n; i++ {
		copy(row[e.cursorCol+1:], row[e.cursorCol:])
		row[e.cursorCol] = cell{}
	}
}

func (e *Emulator) eraseChars(n int) {
	row := e.grid[e.cursorRow]
	for c := e.cursorCol; c < e.cursorCol+n && c < e.cols; c++ {
		row[c] = cell{}
	}
}

// sgr applies Select Graphic Rendition parameters to the current
// attributes. Background and underline settings are parsed (so their
// extended-color payloads are skipped correctly) but not stored — the
// downstream classifiers only read foreground, bold, and italic.
func (e *Emulator) sgr(params []int) {
	if len(params) == 0 {
		e.fg, e.bold, e.italic = ColorDefault, false, false
		return
	}
	for i := 0; i < len(params); i++ {
		p := params[i]
		if p < 0 {
			p = 0
		}
		switch {
		case p == 0:
			e.fg, e.bold, e.italic = ColorDefault, false, false
		case p == 1:
			e.bold = true
		case p == 3:
			e.italic = true
		case p == 22:
			e.bold = false
		case p == 23:
			e.italic = false
		case p >= 30 && p <= 37:
			e.fg = Palette(uint8(p - 30))
		case p == 38:
			color, consumed := extendedColor(params[i+1:])
			if consumed == 0 {
				return
			}
			e.fg = color
			i += consumed
		case p == 39:
			e.fg = ColorDefault
		case p >= 90 && p <= 97:
			e.fg = Palette(uint8(p - 90 + 8))
		case p == 48 || p == 58:
			// Background / underline color: skip the payload.
			_, consumed := extendedColor(params[i+1:])
			if consumed == 0 {
				return
			}
			i += consumed
		}
	}
}

// extendedColor decodes the payload of a 38/48/58 parameter: either
// "5;index" or "2;r;g;b". Returns the color and how many parameters
// were consumed, or 0 when the payload is malformed.
func extendedColor(rest []int) (Color, int) {
	if len(rest) == 0 {
		return ColorDefault, 0
	}
	switch rest[0] {
	case 5:
		if len(rest) < 2 || rest[1] < 0 {
			return ColorDefault, 0
		}
		return Palette(uint8(rest[1] & 0xff)), 2
	case 2:
		if len(rest) < 4 {
			return ColorDefault, 0
		}
		r, g, b := rest[1], rest[2], rest[3]
		if r < 0 || g < 0 || b < 0 {
			return ColorDefault, 0
		}
		return RGB(uint8(r&0xff), uint8(g&0xff), uint8(b&0xff)), 4
	default:
		return ColorDefault, 0
	}
}
