package text_test

import (
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/nalgeon/be"
	"github.com/stefanvanburen/solls/internal/text"
)

func TestPositionOfLF(t *testing.T) {
	t.Parallel()

	buf := text.NewBuffer("ab\ncd")
	be.Equal(t, buf.LineCount(), 2)

	tests := map[int]text.Position{
		0: {Line: 0, Character: 0},
		2: {Line: 0, Character: 2}, // before '\n'
		3: {Line: 1, Character: 0},
		5: {Line: 1, Character: 2}, // EOF
	}
	for off, want := range tests {
		got, err := buf.PositionOf(off)
		be.Err(t, err, nil)
		be.Equal(t, got, want)

		back, err := buf.OffsetOf(got)
		be.Err(t, err, nil)
		be.Equal(t, back, off)
	}
}

func TestPositionOfCRLF(t *testing.T) {
	t.Parallel()

	buf := text.NewBuffer("a\r\nb\n\nc")
	be.Equal(t, buf.LineCount(), 4)

	cases := []struct {
		off  int
		want text.Position
	}{
		{off: 0, want: text.Position{Line: 0, Character: 0}},
		{off: 1, want: text.Position{Line: 0, Character: 1}}, // '\r'
		{off: 2, want: text.Position{Line: 0, Character: 1}}, // '\n' canonicalized to line end
		{off: 3, want: text.Position{Line: 1, Character: 0}},
		{off: 5, want: text.Position{Line: 2, Character: 0}}, // empty line
		{off: 7, want: text.Position{Line: 3, Character: 1}}, // EOF
	}
	for _, tc := range cases {
		got, err := buf.PositionOf(tc.off)
		be.Err(t, err, nil)
		be.Equal(t, got, tc.want)
	}

	off, err := buf.OffsetOf(text.Position{Line: 0, Character: 1})
	be.Err(t, err, nil)
	be.Equal(t, off, 1)
	_, err = buf.OffsetOf(text.Position{Line: 0, Character: 2})
	be.Err(t, err, text.ErrInvalidPosition)
}

func TestUTF16Columns(t *testing.T) {
	t.Parallel()

	// "a" (1 byte, 1 unit), "é" (2 bytes, 1 unit), "😀" (4 bytes, 2 units)
	buf := text.NewBuffer("aé😀b\nz")

	offsets := []struct {
		off  int
		want text.Position
	}{
		{off: 0, want: text.Position{Line: 0, Character: 0}},
		{off: 1, want: text.Position{Line: 0, Character: 1}},
		{off: 3, want: text.Position{Line: 0, Character: 2}},
		{off: 7, want: text.Position{Line: 0, Character: 4}},
		{off: 8, want: text.Position{Line: 0, Character: 5}},
		{off: 9, want: text.Position{Line: 1, Character: 0}},
	}
	for _, tc := range offsets {
		got, err := buf.PositionOf(tc.off)
		be.Err(t, err, nil)
		be.Equal(t, got, tc.want)

		back, err := buf.OffsetOf(tc.want)
		be.Err(t, err, nil)
		be.Equal(t, back, tc.off)
	}

	_, err := buf.OffsetOf(text.Position{Line: 0, Character: 3})
	be.Err(t, err, text.ErrInvalidPosition) // inside the surrogate pair
	_, err = buf.PositionOf(2)
	be.Err(t, err, text.ErrInvalidOffset) // inside "é"
}

func TestOffsetOfBounds(t *testing.T) {
	t.Parallel()

	buf := text.NewBuffer("x\ny")
	tests := map[string]text.Position{
		"negative line":      {Line: -1, Character: 0},
		"line past end":      {Line: 2, Character: 0},
		"negative character": {Line: 0, Character: -1},
		"past line end":      {Line: 0, Character: 2},
		"past last line end": {Line: 1, Character: 2},
	}
	for name, pos := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := buf.OffsetOf(pos)
			be.Err(t, err, text.ErrInvalidPosition)
		})
	}

	_, err := buf.PositionOf(-1)
	be.Err(t, err, text.ErrInvalidOffset)
	_, err = buf.PositionOf(4)
	be.Err(t, err, text.ErrInvalidOffset)
}

func TestTrailingNewlineHasEmptyLastLine(t *testing.T) {
	t.Parallel()

	buf := text.NewBuffer("abc\n")
	be.Equal(t, buf.LineCount(), 2)
	be.Equal(t, buf.EndPosition(), text.Position{Line: 1, Character: 0})

	off, err := buf.OffsetOf(text.Position{Line: 1, Character: 0})
	be.Err(t, err, nil)
	be.Equal(t, off, 4)
}

func TestModify(t *testing.T) {
	t.Parallel()

	buf := text.NewBuffer("hello world")
	err := buf.Modify(text.Span{Start: 6, End: 11}, "gopher")
	be.Err(t, err, nil)
	be.Equal(t, buf.String(), "hello gopher")

	err = buf.Modify(text.Span{Start: 0, End: 0}, "> ")
	be.Err(t, err, nil)
	be.Equal(t, buf.String(), "> hello gopher")
}

func TestModifyOutOfRangeLeavesTextUnchanged(t *testing.T) {
	t.Parallel()

	tests := map[string]text.Span{
		"negative start": {Start: -1, End: 2},
		"end past len":   {Start: 2, End: 9},
		"inverted":       {Start: 3, End: 1},
	}
	for name, span := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			buf := text.NewBuffer("abcdef")
			err := buf.Modify(span, "X")
			be.Err(t, err, text.ErrOutOfRangeEdit)
			be.Equal(t, buf.String(), "abcdef")
		})
	}
}

func TestModifyRangeInvalidatesLineIndex(t *testing.T) {
	t.Parallel()

	buf := text.NewBuffer("one\ntwo")
	be.Equal(t, buf.LineCount(), 2)

	err := buf.ModifyRange(text.Range{
		Start: text.Position{Line: 0, Character: 3},
		End:   text.Position{Line: 0, Character: 3},
	}, "\nmiddle")
	be.Err(t, err, nil)
	be.Equal(t, buf.String(), "one\nmiddle\ntwo")
	be.Equal(t, buf.LineCount(), 3)

	pos, err := buf.PositionOf(strings.Index(buf.String(), "two"))
	be.Err(t, err, nil)
	be.Equal(t, pos, text.Position{Line: 2, Character: 0})
}

func TestModifyRangeRejectsInvalidPositions(t *testing.T) {
	t.Parallel()

	buf := text.NewBuffer("abc")
	err := buf.ModifyRange(text.Range{
		Start: text.Position{Line: 0, Character: 1},
		End:   text.Position{Line: 3, Character: 0},
	}, "X")
	be.Err(t, err, text.ErrOutOfRangeEdit)
	be.True(t, errors.Is(err, text.ErrInvalidPosition))
	be.Equal(t, buf.String(), "abc")
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	buf := text.NewBuffer("a\nb")
	_ = buf.LineCount()
	snap := buf.Clone()

	buf.Replace("completely\ndifferent\ntext")
	be.Equal(t, snap.String(), "a\nb")
	be.Equal(t, snap.LineCount(), 2)
	be.Equal(t, buf.LineCount(), 3)
}

func TestClampRange(t *testing.T) {
	t.Parallel()

	buf := text.NewBuffer("ab\ncde")
	tests := []struct {
		name string
		in   text.Range
		want text.Range
	}{
		{
			name: "inside",
			in:   text.Range{Start: text.Position{Line: 0, Character: 1}, End: text.Position{Line: 1, Character: 2}},
			want: text.Range{Start: text.Position{Line: 0, Character: 1}, End: text.Position{Line: 1, Character: 2}},
		},
		{
			name: "character past line end",
			in:   text.Range{Start: text.Position{Line: 0, Character: 1}, End: text.Position{Line: 0, Character: 99}},
			want: text.Range{Start: text.Position{Line: 0, Character: 1}, End: text.Position{Line: 0, Character: 2}},
		},
		{
			name: "line past end",
			in:   text.Range{Start: text.Position{Line: 7, Character: 0}, End: text.Position{Line: 9, Character: 0}},
			want: text.Range{Start: text.Position{Line: 1, Character: 3}, End: text.Position{Line: 1, Character: 3}},
		},
		{
			name: "inverted",
			in:   text.Range{Start: text.Position{Line: 1, Character: 1}, End: text.Position{Line: 0, Character: 0}},
			want: text.Range{Start: text.Position{Line: 1, Character: 1}, End: text.Position{Line: 1, Character: 1}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			be.Equal(t, buf.ClampRange(tc.in), tc.want)
		})
	}
}

var alphabet = []string{"a", "b", "é", "😀", "\n", "\r\n", " "}

func randomText(r *rand.Rand, n int) string {
	var sb strings.Builder
	for range n {
		sb.WriteString(alphabet[r.IntN(len(alphabet))])
	}
	return sb.String()
}

// validOffsets lists rune boundaries that are not between "\r" and "\n".
func validOffsets(s string) []int {
	var offs []int
	for i := range s {
		if i > 0 && s[i-1] == '\r' && s[i] == '\n' {
			continue
		}
		offs = append(offs, i)
	}
	return append(offs, len(s))
}

// referencePosition computes a position without the buffer's line index.
func referencePosition(s string, off int) text.Position {
	before := s[:off]
	line := strings.Count(before, "\n")
	lineStart := strings.LastIndexByte(before, '\n') + 1
	col := len(utf16.Encode([]rune(before[lineStart:])))
	return text.Position{Line: line, Character: col}
}

func TestPositionRoundTrip(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(1, 2))
	for range 200 {
		s := randomText(r, r.IntN(40))
		buf := text.NewBuffer(s)
		for _, off := range validOffsets(s) {
			pos, err := buf.PositionOf(off)
			be.Err(t, err, nil)
			be.Equal(t, pos, referencePosition(s, off))

			back, err := buf.OffsetOf(pos)
			be.Err(t, err, nil)
			be.Equal(t, back, off)
		}
	}
}

func TestRangedEditsMatchDirectSplice(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(3, 4))
	for range 100 {
		want := randomText(r, 20)
		buf := text.NewBuffer(want)
		for range 30 {
			offs := validOffsets(want)
			a, b := offs[r.IntN(len(offs))], offs[r.IntN(len(offs))]
			if a > b {
				a, b = b, a
			}
			insert := randomText(r, r.IntN(4))
			rng := text.Range{Start: referencePosition(want, a), End: referencePosition(want, b)}

			err := buf.ModifyRange(rng, insert)
			be.Err(t, err, nil)
			want = want[:a] + insert + want[b:]
			be.Equal(t, buf.String(), want)
		}
		be.True(t, utf8.ValidString(buf.String()))
	}
}

func TestLoneCarriageReturnEndsLine(t *testing.T) {
	t.Parallel()

	buf := text.NewBuffer("a\rb\r\nc\r")
	be.Equal(t, buf.LineCount(), 4)
	be.Equal(t, buf.EndPosition(), text.Position{Line: 3, Character: 0})

	cases := []struct {
		off  int
		want text.Position
	}{
		{off: 1, want: text.Position{Line: 0, Character: 1}}, // lone '\r'
		{off: 2, want: text.Position{Line: 1, Character: 0}},
		{off: 4, want: text.Position{Line: 1, Character: 1}}, // between '\r' and '\n'
		{off: 5, want: text.Position{Line: 2, Character: 0}},
		{off: 7, want: text.Position{Line: 3, Character: 0}},
	}
	for _, tc := range cases {
		got, err := buf.PositionOf(tc.off)
		be.Err(t, err, nil)
		be.Equal(t, got, tc.want)
	}

	off, err := buf.OffsetOf(text.Position{Line: 1, Character: 0})
	be.Err(t, err, nil)
	be.Equal(t, off, 2)
	_, err = buf.OffsetOf(text.Position{Line: 0, Character: 2})
	be.Err(t, err, text.ErrInvalidPosition)

	be.Err(t, buf.ModifyRange(text.Range{
		Start: text.Position{Line: 0, Character: 1},
		End:   text.Position{Line: 1, Character: 0},
	}, ""), nil)
	be.Equal(t, buf.String(), "ab\r\nc\r")
	be.Equal(t, buf.LineCount(), 3)
}

func TestInvalidUTF8RoundTrip(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"\xe2\x82a", "\xffb\n\x80\x80é", "x\xf0\x9f\x98"} {
		buf := text.NewBuffer(s)
		offs := []int{len(s)}
		for i := range s {
			offs = append(offs, i)
		}
		for _, off := range offs {
			pos, err := buf.PositionOf(off)
			be.Err(t, err, nil)
			back, err := buf.OffsetOf(pos)
			be.Err(t, err, nil)
			be.Equal(t, back, off)
		}
	}

	buf := text.NewBuffer("\xe2\x82a")
	off, err := buf.OffsetOf(text.Position{Line: 0, Character: 1})
	be.Err(t, err, nil)
	be.Equal(t, off, 1)
	pos, err := buf.PositionOf(1)
	be.Err(t, err, nil)
	be.Equal(t, pos, text.Position{Line: 0, Character: 1})

	// a valid sequence still cannot be split
	_, err = text.NewBuffer("é").PositionOf(1)
	be.Err(t, err, text.ErrInvalidOffset)
}

func TestCloneConcurrentReads(t *testing.T) {
	t.Parallel()

	clone := text.NewBuffer("one\ntwo\r\nthree").Clone()
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			_ = clone.LineCount()
			_, _ = clone.PositionOf(5)
			_, _ = clone.OffsetOf(text.Position{Line: 2, Character: 3})
			_ = clone.ClampRange(text.Range{End: text.Position{Line: 9}})
		})
	}
	wg.Wait()
	be.Equal(t, clone.LineCount(), 3)
}
