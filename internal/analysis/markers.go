package analysis

import (
	"context"
	"strings"

	"github.com/stefanvanburen/solls/internal/lsp/protocol"
	"github.com/stefanvanburen/solls/internal/text"
)

// DefaultSource tags diagnostics produced by the built-in analyzers.
const DefaultSource = "solc"

// Marker is a word the marker analyzer flags wherever it appears.
type Marker struct {
	Word     string
	Severity protocol.DiagnosticSeverity
	Message  string
}

// DefaultMarkers flags FIXME as an error.
var DefaultMarkers = []Marker{
	{Word: "FIXME", Severity: protocol.SeverityError, Message: "Hello, FIXME should be fixed."},
}

// Markers reports every occurrence of each marker word, overlapping matches
// included. It stands in for a real compiler front end.
type Markers struct {
	Source  string
	Markers []Marker
}

// NewMarkers returns a marker analyzer for DefaultMarkers.
func NewMarkers() *Markers {
	return &Markers{Source: DefaultSource, Markers: DefaultMarkers}
}

// Analyze implements Analyzer.
func (m *Markers) Analyze(ctx context.Context, in Input) ([]Diagnostic, error) {
	markers := m.Markers
	if len(in.Settings.Markers) > 0 {
		markers = in.Settings.Markers
	}

	buf := in.Snapshot.Buffer
	content := buf.String()

	var diags []Diagnostic
	for _, mk := range markers {
		if mk.Word == "" {
			continue
		}
		for pos := strings.Index(content, mk.Word); pos >= 0; {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			start, err := buf.PositionOf(pos)
			if err != nil {
				return nil, err
			}
			end, err := buf.PositionOf(pos + len(mk.Word))
			if err != nil {
				return nil, err
			}
			rng, err := protocol.FromTextRange(text.Range{Start: start, End: end})
			if err != nil {
				return nil, err
			}
			diags = append(diags, Diagnostic{Diagnostic: protocol.Diagnostic{
				Range:    rng,
				Severity: mk.Severity,
				Source:   m.Source,
				Message:  mk.Message,
			}})

			next := strings.Index(content[pos+1:], mk.Word)
			if next < 0 {
				break
			}
			pos += 1 + next
		}
	}
	return diags, nil
}
