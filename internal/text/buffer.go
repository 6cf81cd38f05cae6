package text

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// Buffer holds the text of one document together with a lazily built index
// of line start offsets.
//
// Line semantics:
//   - Lines are 0-based and terminated by "\n", "\r\n" or a lone "\r".
//   - Terminators are not part of the line content, so the position just
//     before a terminator is the last valid column of its line.
//   - Characters are UTF-16 code units. Bytes that are not valid UTF-8
//     count as one code unit each.
//
// A Buffer is not safe for concurrent use; callers serialize access or work
// on a Clone.
type Buffer struct {
	text  string
	lines []int // nil when stale
}

// NewBuffer returns a buffer holding s.
func NewBuffer(s string) *Buffer {
	return &Buffer{text: s}
}

// String returns the current text.
func (b *Buffer) String() string {
	return b.text
}

// Len returns the text length in bytes.
func (b *Buffer) Len() int {
	return len(b.text)
}

// Clone returns an independent buffer with the same text. The clone's line
// index is built before it is returned, so a clone that is never modified
// may be read from several goroutines.
func (b *Buffer) Clone() *Buffer {
	c := &Buffer{text: b.text, lines: b.lines}
	c.index()
	return c
}

// Replace overwrites the whole text.
func (b *Buffer) Replace(s string) {
	b.text = s
	b.lines = nil
}

// Modify replaces the bytes in span with newText.
func (b *Buffer) Modify(span Span, newText string) error {
	if span.Start < 0 || span.End > len(b.text) || span.End < span.Start {
		return fmt.Errorf("%w: span %s, length %d", ErrOutOfRangeEdit, span, len(b.text))
	}
	b.text = b.text[:span.Start] + newText + b.text[span.End:]
	b.lines = nil
	return nil
}

// ModifyRange replaces the text addressed by r with newText.
func (b *Buffer) ModifyRange(r Range, newText string) error {
	start, err := b.OffsetOf(r.Start)
	if err != nil {
		return fmt.Errorf("%w: range start: %w", ErrOutOfRangeEdit, err)
	}
	end, err := b.OffsetOf(r.End)
	if err != nil {
		return fmt.Errorf("%w: range end: %w", ErrOutOfRangeEdit, err)
	}
	return b.Modify(Span{Start: start, End: end}, newText)
}

// LineCount returns the number of lines. An empty buffer has one line.
func (b *Buffer) LineCount() int {
	return len(b.index())
}

// PositionOf converts a byte offset to a position. Offsets between "\r" and
// "\n" are reported as the end of their line.
func (b *Buffer) PositionOf(offset int) (Position, error) {
	if offset < 0 || offset > len(b.text) {
		return Position{}, fmt.Errorf("%w: %d outside [0,%d]", ErrInvalidOffset, offset, len(b.text))
	}
	if splitsRune(b.text, offset) {
		return Position{}, fmt.Errorf("%w: %d splits a UTF-8 sequence", ErrInvalidOffset, offset)
	}

	line := b.lineForOffset(offset)
	start, contentEnd := b.lineBounds(line)
	offset = min(offset, contentEnd)
	return Position{Line: line, Character: utf16Len(b.text[start:offset])}, nil
}

// OffsetOf converts a position to a byte offset. The column just past the
// last character of a line is valid; anything beyond it is not.
func (b *Buffer) OffsetOf(p Position) (int, error) {
	lines := b.index()
	if p.Line < 0 || p.Line >= len(lines) {
		return 0, fmt.Errorf("%w: line %d outside [0,%d)", ErrInvalidPosition, p.Line, len(lines))
	}
	if p.Character < 0 {
		return 0, fmt.Errorf("%w: negative character %d", ErrInvalidPosition, p.Character)
	}

	start, contentEnd := b.lineBounds(p.Line)
	units := 0
	for i, r := range b.text[start:contentEnd] {
		if units == p.Character {
			return start + i, nil
		}
		n := utf16RuneLen(r)
		if p.Character < units+n {
			return 0, fmt.Errorf("%w: %s splits a surrogate pair", ErrInvalidPosition, p)
		}
		units += n
	}
	if units == p.Character {
		return contentEnd, nil
	}
	return 0, fmt.Errorf("%w: %s beyond line length %d", ErrInvalidPosition, p, units)
}

// EndPosition returns the position of the end of the text.
func (b *Buffer) EndPosition() Position {
	line := len(b.index()) - 1
	start, contentEnd := b.lineBounds(line)
	return Position{Line: line, Character: utf16Len(b.text[start:contentEnd])}
}

// ClampRange moves both ends of r into the buffer bounds and makes sure End
// does not precede Start.
func (b *Buffer) ClampRange(r Range) Range {
	r.Start = b.clampPosition(r.Start)
	r.End = b.clampPosition(r.End)
	if r.IsInverted() {
		r.End = r.Start
	}
	return r
}

func (b *Buffer) clampPosition(p Position) Position {
	if p.Line < 0 {
		return Position{}
	}
	if p.Line >= b.LineCount() {
		return b.EndPosition()
	}
	start, contentEnd := b.lineBounds(p.Line)
	width := utf16Len(b.text[start:contentEnd])
	p.Character = min(max(p.Character, 0), width)
	return p
}

func (b *Buffer) index() []int {
	if b.lines == nil {
		lines := make([]int, 1, strings.Count(b.text, "\n")+1)
		for i := 0; i < len(b.text); i++ {
			switch b.text[i] {
			case '\r':
				if i+1 < len(b.text) && b.text[i+1] == '\n' {
					continue
				}
				lines = append(lines, i+1)
			case '\n':
				lines = append(lines, i+1)
			}
		}
		b.lines = lines
	}
	return b.lines
}

func (b *Buffer) lineForOffset(offset int) int {
	// largest i such that lines[i] <= offset
	i, found := slices.BinarySearch(b.index(), offset)
	if found {
		return i
	}
	return i - 1
}

func (b *Buffer) lineBounds(line int) (start, contentEnd int) {
	lines := b.index()
	start = lines[line]
	contentEnd = len(b.text)
	if line+1 < len(lines) {
		contentEnd = lines[line+1] - 1
		if b.text[contentEnd] == '\n' && contentEnd > start && b.text[contentEnd-1] == '\r' {
			contentEnd--
		}
	}
	return start, contentEnd
}

// splitsRune reports whether offset falls inside a valid multi-byte UTF-8
// sequence. Invalid bytes decode one at a time, as they do when ranging over
// a string.
func splitsRune(s string, offset int) bool {
	if offset <= 0 || offset >= len(s) || utf8.RuneStart(s[offset]) {
		return false
	}
	for j := offset - 1; j >= 0 && j > offset-utf8.UTFMax; j-- {
		if utf8.RuneStart(s[j]) {
			_, size := utf8.DecodeRuneInString(s[j:])
			return j+size > offset
		}
	}
	return false
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16RuneLen(r)
	}
	return n
}

func utf16RuneLen(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}
