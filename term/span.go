// Copyright 2026 The Agentgram Authors
// SPDX-License-Identifier: Apache-2.0

package term

// Color identifies a foreground color as set by SGR sequences. The
// zero value is the terminal's default foreground. Palette colors
// (the 16 base colors and the 256-color cube) and 24-bit colors are
// encoded in distinct ranges so they never collide.
type Color uint32

// ColorDefault is the terminal's default foreground.
const ColorDefault Color = 0

const rgbBit Color = 1 << 31

// Palette returns the Color for a 256-color palette index.
func Palette(index uint8) Color {
	return Color(index) + 1
}

// RGB returns the Color for a 24-bit foreground.
func RGB(r, g, b uint8) Color {
	return rgbBit | Color(r)<<16 | Color(g)<<8 | Color(b)
}

// IsDefault reports whether c is the default foreground.
func (c Color) IsDefault() bool { return c == ColorDefault }

// PaletteIndex returns the 256-color palette index and true when c is
// a palette color, or 0 and false for default and 24-bit colors.
func (c Color) PaletteIndex() (uint8, bool) {
	if c == ColorDefault || c&rgbBit != 0 {
		return 0, false
	}
	return uint8(c - 1), true
}

// CharSpan is a maximal run of adjacent characters on one row sharing
// the same display attributes. Spans are produced by the emulator and
// are never empty.
type CharSpan struct {
	Text       string
	Foreground Color
	Bold       bool
	Italic     bool
}

// SpanText concatenates the text of all spans in a row. The result
// equals the row's plain (right-trimmed) text.
func SpanText(row []CharSpan) string {
	if len(row) == 1 {
		return row[0].Text
	}
	var n int
	for _, s := range row {
		n += len(s.Text)
	}
	b := make([]byte, 0, n)
	for _, s := range row {
		b = append(b, s.Text...)
	}
	return string(b)
}
