// Package vfs is the in-memory registry of documents currently open in the
// editor. It owns each document's lifecycle from didOpen to didClose and is
// independent of anything on disk.
package vfs

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/stefanvanburen/solls/internal/lsp/protocol"
)

// Store maps URIs to open documents. It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	docs map[protocol.DocumentURI]*Document
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{docs: make(map[protocol.DocumentURI]*Document)}
}

// Insert opens a document. Opening a URI that is already open fails with
// ErrConflict and leaves the existing document untouched.
func (s *Store) Insert(uri protocol.DocumentURI, languageID string, version int32, content string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[uri]; ok {
		return nil, fmt.Errorf("%w: %s", ErrConflict, uri)
	}
	doc := newDocument(uri, languageID, version, content)
	s.docs[uri] = doc
	return doc, nil
}

// Find returns the open document for uri.
func (s *Store) Find(uri protocol.DocumentURI) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[uri]
	return doc, ok
}

// Remove closes the document for uri. The removed document is marked closed
// so holders of the pointer can see it is gone; it reports whether uri was
// open.
func (s *Store) Remove(uri protocol.DocumentURI) bool {
	s.mu.Lock()
	doc, ok := s.docs[uri]
	delete(s.docs, uri)
	s.mu.Unlock()

	if ok {
		doc.markClosed()
	}
	return ok
}

// Len returns the number of open documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Files returns the open documents ordered by URI. The set is captured when
// iteration starts, so the sequence can be ranged over again to observe later
// opens and closes.
func (s *Store) Files() iter.Seq[*Document] {
	return func(yield func(*Document) bool) {
		for _, doc := range s.snapshot() {
			if !yield(doc) {
				return
			}
		}
	}
}

// URIs returns the open URIs in sorted order.
func (s *Store) URIs() []protocol.DocumentURI {
	docs := s.snapshot()
	uris := make([]protocol.DocumentURI, len(docs))
	for i, doc := range docs {
		uris[i] = doc.uri
	}
	return uris
}

func (s *Store) snapshot() []*Document {
	s.mu.RLock()
	docs := make([]*Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	s.mu.RUnlock()

	slices.SortFunc(docs, func(a, b *Document) int {
		return cmp.Compare(a.uri, b.uri)
	})
	return docs
}
