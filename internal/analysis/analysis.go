// Package analysis defines the pluggable analyzers that turn a document
// snapshot into diagnostics.
//
// Analyzers always recompute from scratch; nothing is cached between calls.
package analysis

import (
	"context"

	"github.com/stefanvanburen/solls/internal/lsp/protocol"
	"github.com/stefanvanburen/solls/internal/vfs"
)

// Input is everything an analyzer sees for one pass.
type Input struct {
	Snapshot vfs.Snapshot
	// Root is the workspace root, empty when the client opened no folder.
	Root     protocol.DocumentURI
	Settings Settings
}

// Settings are the client-adjustable analyzer knobs.
type Settings struct {
	// Markers overrides the marker analyzer's defaults when non-empty.
	Markers []Marker
}

// Diagnostic is a diagnostic produced by an analyzer. URI is empty for
// diagnostics on the analyzed document itself and set for diagnostics
// reported against a related document.
type Diagnostic struct {
	URI protocol.DocumentURI
	protocol.Diagnostic
}

// Analyzer produces diagnostics for a snapshot.
type Analyzer interface {
	Analyze(ctx context.Context, in Input) ([]Diagnostic, error)
}

// Func adapts a function to the Analyzer interface.
type Func func(ctx context.Context, in Input) ([]Diagnostic, error)

// Analyze calls f.
func (f Func) Analyze(ctx context.Context, in Input) ([]Diagnostic, error) {
	return f(ctx, in)
}

// ByLanguage routes snapshots to an analyzer by language identifier.
type ByLanguage struct {
	Languages map[string]Analyzer
	// Fallback handles languages with no entry; nil yields no diagnostics.
	Fallback Analyzer
}

// Analyze implements Analyzer.
func (b ByLanguage) Analyze(ctx context.Context, in Input) ([]Diagnostic, error) {
	if a, ok := b.Languages[in.Snapshot.LanguageID]; ok {
		return a.Analyze(ctx, in)
	}
	if b.Fallback == nil {
		return nil, nil
	}
	return b.Fallback.Analyze(ctx, in)
}
