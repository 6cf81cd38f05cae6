// Package edit applies textDocument/didChange batches to open documents.
package edit

import (
	"fmt"

	"github.com/stefanvanburen/solls/internal/lsp/protocol"
	"github.com/stefanvanburen/solls/internal/text"
	"github.com/stefanvanburen/solls/internal/vfs"
)

var (
	// ErrInvertedRange reports a ranged change whose end precedes its start.
	ErrInvertedRange = fmt.Errorf("%w: change range end before start", vfs.ErrProtocolViolation)
	// ErrMixedBatch reports a batch that mixes full and ranged changes.
	ErrMixedBatch = fmt.Errorf("%w: batch mixes full and ranged changes", vfs.ErrProtocolViolation)
)

// Batch is the content of one didChange notification.
type Batch struct {
	URI     protocol.DocumentURI
	Version *int32
	Changes []protocol.TextDocumentContentChangeEvent
}

// BatchFromParams converts didChange params to a Batch.
func BatchFromParams(p protocol.DidChangeTextDocumentParams) Batch {
	return Batch{
		URI:     p.TextDocument.URI,
		Version: p.TextDocument.Version,
		Changes: p.ContentChanges,
	}
}

// Apply applies b to the open document for b.URI and returns it.
//
// Changes apply in order, each one addressing the text produced by the one
// before it. The batch is atomic: if any change fails, neither text nor
// version change. A URI that is not open fails with vfs.ErrDocumentNotOpen;
// no document is ever created here.
func Apply(store *vfs.Store, b Batch) (*vfs.Document, error) {
	doc, ok := store.Find(b.URI)
	if !ok {
		return nil, fmt.Errorf("%w: %s", vfs.ErrDocumentNotOpen, b.URI)
	}
	if err := checkBatch(b.Changes); err != nil {
		return nil, fmt.Errorf("%s: %w", b.URI, err)
	}

	err := doc.Update(b.Version, func(buf *text.Buffer) error {
		for i, ch := range b.Changes {
			if err := applyChange(buf, ch); err != nil {
				return fmt.Errorf("%s: change %d: %w", b.URI, i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func checkBatch(changes []protocol.TextDocumentContentChangeEvent) error {
	for i := 1; i < len(changes); i++ {
		if changes[i].Kind() != changes[0].Kind() {
			return fmt.Errorf("%w: change %d is %s, change 0 is %s", ErrMixedBatch, i, changes[i].Kind(), changes[0].Kind())
		}
	}
	return nil
}

func applyChange(buf *text.Buffer, ch protocol.TextDocumentContentChangeEvent) error {
	if ch.Kind() == protocol.ChangeFull {
		buf.Replace(ch.Text)
		return nil
	}

	r, err := ch.Range.TextRange()
	if err != nil {
		return fmt.Errorf("%w: %w", text.ErrInvalidPosition, err)
	}
	if r.IsInverted() {
		return fmt.Errorf("%w: %s", ErrInvertedRange, r)
	}
	return buf.ModifyRange(r, ch.Text)
}
