// Package text owns document text and the mapping between byte offsets and
// the UTF-16 line/character positions editors speak.
package text

import (
	"cmp"
	"errors"
	"fmt"
)

var (
	// ErrOutOfRangeEdit reports an edit whose span falls outside [0, length].
	ErrOutOfRangeEdit = errors.New("edit out of range")
	// ErrInvalidPosition reports a line/character pair that does not address
	// a location in the buffer.
	ErrInvalidPosition = errors.New("invalid position")
	// ErrInvalidOffset reports a byte offset outside the buffer or inside a
	// UTF-8 sequence.
	ErrInvalidOffset = errors.New("invalid offset")
)

// Position is a zero-based line and UTF-16 code unit column.
type Position struct {
	Line      int
	Character int
}

// Compare orders positions lexicographically by line, then character.
func (p Position) Compare(q Position) int {
	if c := cmp.Compare(p.Line, q.Line); c != 0 {
		return c
	}
	return cmp.Compare(p.Character, q.Character)
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Character)
}

// Range is a pair of positions; Start must not come after End.
type Range struct {
	Start Position
	End   Position
}

// IsInverted reports whether End precedes Start.
func (r Range) IsInverted() bool {
	return r.End.Compare(r.Start) < 0
}

func (r Range) String() string {
	return fmt.Sprintf("%s-%s", r.Start, r.End)
}

// Span is a half-open byte range [Start, End).
type Span struct {
	Start int
	End   int
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int {
	return s.End - s.Start
}

func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)", s.Start, s.End)
}
