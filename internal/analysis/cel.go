package analysis

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/operators"
	"github.com/stefanvanburen/solls/internal/lsp/protocol"
	"github.com/stefanvanburen/solls/internal/text"
)

// CEL parses and type-checks documents as Common Expression Language
// expressions. Parse errors are reported as errors, check errors as
// warnings; a document that fails to parse is not checked.
type CEL struct {
	Source string
	env    *cel.Env
}

// NewCEL returns a CEL analyzer using the standard environment.
func NewCEL(source string) (*CEL, error) {
	env, err := cel.NewEnv(cel.EnableMacroCallTracking())
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}
	return &CEL{Source: source, env: env}, nil
}

// Analyze implements Analyzer.
func (c *CEL) Analyze(ctx context.Context, in Input) ([]Diagnostic, error) {
	buf := in.Snapshot.Buffer
	content := buf.String()
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	parsed, parseIssues := c.env.Parse(content)
	if parseIssues.Err() != nil {
		return c.issuesToDiagnostics(buf, parseIssues, protocol.SeverityError)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, checkIssues := c.env.Check(parsed)
	if checkIssues.Err() != nil {
		return c.issuesToDiagnostics(buf, checkIssues, protocol.SeverityWarning)
	}
	return nil, nil
}

// issuesToDiagnostics converts cel.Issues to diagnostics. cel-go reports a
// 1-based line and a 0-based column counted in code points, and no end
// position, so each diagnostic runs to the end of its line.
func (c *CEL) issuesToDiagnostics(buf *text.Buffer, issues *cel.Issues, severity protocol.DiagnosticSeverity) ([]Diagnostic, error) {
	errs := issues.Errors()
	diags := make([]Diagnostic, 0, len(errs))
	for _, e := range errs {
		start := issuePosition(buf, e.Location.Line()-1, e.Location.Column())
		rng, err := protocol.FromTextRange(buf.ClampRange(text.Range{
			Start: start,
			End:   text.Position{Line: start.Line, Character: math.MaxInt32},
		}))
		if err != nil {
			return nil, err
		}
		diags = append(diags, Diagnostic{Diagnostic: protocol.Diagnostic{
			Range:    rng,
			Severity: severity,
			Source:   c.Source,
			Message:  cleanMessage(e.Message),
		}})
	}
	return diags, nil
}

func issuePosition(buf *text.Buffer, line, runeCol int) text.Position {
	line = max(line, 0)
	runeCol = max(runeCol, 0)
	lineStart, err := buf.OffsetOf(text.Position{Line: line})
	if err != nil {
		return buf.ClampRange(text.Range{Start: text.Position{Line: line}}).Start
	}

	rest := buf.String()[lineStart:]
	off := 0
	for i := 0; i < runeCol && off < len(rest) && rest[off] != '\n' && rest[off] != '\r'; i++ {
		_, size := utf8.DecodeRuneInString(rest[off:])
		off += size
	}
	pos, err := buf.PositionOf(lineStart + off)
	if err != nil {
		return text.Position{Line: line}
	}
	return pos
}

// operatorNameRe matches quoted cel-go internal operator names like '_+_', '-_', '!_', '@in'.
var operatorNameRe = regexp.MustCompile(`'([^']+)'`)

// cleanMessage rewrites cel-go internal operator names to the symbols users
// write, using operators.FindReverse.
func cleanMessage(msg string) string {
	return operatorNameRe.ReplaceAllStringFunc(msg, func(match string) string {
		symbol := match[1 : len(match)-1]
		if display, ok := operators.FindReverse(symbol); ok && display != "" {
			return "'" + display + "'"
		}
		return match
	})
}
