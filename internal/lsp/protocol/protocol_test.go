package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/nalgeon/be"
	"github.com/stefanvanburen/solls/internal/lsp/protocol"
	"github.com/stefanvanburen/solls/internal/text"
)

func TestContentChangeEventKind(t *testing.T) {
	t.Parallel()

	var params protocol.DidChangeTextDocumentParams
	err := json.Unmarshal([]byte(`{
		"textDocument": {"uri": "file:///a.sol", "version": 3},
		"contentChanges": [
			{"text": "whole"},
			{"range": {"start": {"line": 0, "character": 1}, "end": {"line": 0, "character": 2}}, "text": "x"}
		]
	}`), &params)
	be.Err(t, err, nil)

	be.Equal(t, params.TextDocument.URI, protocol.DocumentURI("file:///a.sol"))
	be.True(t, params.TextDocument.Version != nil)
	be.Equal(t, *params.TextDocument.Version, int32(3))
	be.Equal(t, len(params.ContentChanges), 2)
	be.Equal(t, params.ContentChanges[0].Kind(), protocol.ChangeFull)
	be.Equal(t, params.ContentChanges[1].Kind(), protocol.ChangeRanged)
}

func TestVersionMayBeNull(t *testing.T) {
	t.Parallel()

	var params protocol.DidChangeTextDocumentParams
	err := json.Unmarshal([]byte(`{"textDocument": {"uri": "file:///a.sol", "version": null}, "contentChanges": []}`), &params)
	be.Err(t, err, nil)
	be.True(t, params.TextDocument.Version == nil)
}

func TestPublishDiagnosticsEmptyListIsNotNull(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(protocol.PublishDiagnosticsParams{URI: "file:///a.sol"})
	be.Err(t, err, nil)
	be.Equal(t, string(data), `{"uri":"file:///a.sol","diagnostics":[]}`)
}

func TestParseSeverity(t *testing.T) {
	t.Parallel()

	tests := map[string]protocol.DiagnosticSeverity{
		"error":   protocol.SeverityError,
		"Warning": protocol.SeverityWarning,
		"info":    protocol.SeverityInformation,
		" hint ":  protocol.SeverityHint,
	}
	for in, want := range tests {
		got, err := protocol.ParseSeverity(in)
		be.Err(t, err, nil)
		be.Equal(t, got, want)
	}

	_, err := protocol.ParseSeverity("fatal")
	be.Err(t, err, "unknown diagnostic severity")
}

func TestURIFromPathRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dir with space", "a.sol")
	uri := protocol.URIFromPath(path)
	be.Equal(t, uri.Path(), path)
	be.Equal(t, protocol.DocumentURI("untitled:Untitled-1").Path(), "")
}

func TestTextRangeConversion(t *testing.T) {
	t.Parallel()

	wire := protocol.Range{
		Start: protocol.Position{Line: 1, Character: 2},
		End:   protocol.Position{Line: 3, Character: 4},
	}
	r, err := wire.TextRange()
	be.Err(t, err, nil)
	be.Equal(t, r, text.Range{
		Start: text.Position{Line: 1, Character: 2},
		End:   text.Position{Line: 3, Character: 4},
	})

	back, err := protocol.FromTextRange(r)
	be.Err(t, err, nil)
	be.Equal(t, back, wire)

	_, err = protocol.FromTextPosition(text.Position{Line: -1})
	be.True(t, err != nil)
}
