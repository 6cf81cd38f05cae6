package protocol

import (
	"fmt"

	"fortio.org/safecast"
	"github.com/stefanvanburen/solls/internal/text"
)

// TextPosition converts a wire position to a buffer position.
func (p Position) TextPosition() (text.Position, error) {
	line, err := safecast.Conv[int](p.Line)
	if err != nil {
		return text.Position{}, fmt.Errorf("line %d: %w", p.Line, err)
	}
	char, err := safecast.Conv[int](p.Character)
	if err != nil {
		return text.Position{}, fmt.Errorf("character %d: %w", p.Character, err)
	}
	return text.Position{Line: line, Character: char}, nil
}

// TextRange converts a wire range to a buffer range.
func (r Range) TextRange() (text.Range, error) {
	start, err := r.Start.TextPosition()
	if err != nil {
		return text.Range{}, err
	}
	end, err := r.End.TextPosition()
	if err != nil {
		return text.Range{}, err
	}
	return text.Range{Start: start, End: end}, nil
}

// FromTextPosition converts a buffer position to a wire position.
func FromTextPosition(p text.Position) (Position, error) {
	line, err := safecast.Conv[uint32](p.Line)
	if err != nil {
		return Position{}, fmt.Errorf("line %d: %w", p.Line, err)
	}
	char, err := safecast.Conv[uint32](p.Character)
	if err != nil {
		return Position{}, fmt.Errorf("character %d: %w", p.Character, err)
	}
	return Position{Line: line, Character: char}, nil
}

// FromTextRange converts a buffer range to a wire range.
func FromTextRange(r text.Range) (Range, error) {
	start, err := FromTextPosition(r.Start)
	if err != nil {
		return Range{}, err
	}
	end, err := FromTextPosition(r.End)
	if err != nil {
		return Range{}, err
	}
	return Range{Start: start, End: end}, nil
}
