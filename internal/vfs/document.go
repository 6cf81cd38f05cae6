package vfs

import (
	"fmt"
	"sync"

	"github.com/stefanvanburen/solls/internal/lsp/protocol"
	"github.com/stefanvanburen/solls/internal/text"
)

// Document is one open editor document. Its identity is the pointer: a
// Document is mutated in place until it is removed from its Store, after
// which it never changes again.
type Document struct {
	uri        protocol.DocumentURI
	languageID string

	mu       sync.RWMutex
	version  int32
	revision uint64 // bumped on every committed mutation
	buf      *text.Buffer
	closed   bool

	// publishMu serializes the "still current?" check with the publish that
	// follows it.
	publishMu sync.Mutex
}

func newDocument(uri protocol.DocumentURI, languageID string, version int32, content string) *Document {
	return &Document{
		uri:        uri,
		languageID: languageID,
		version:    version,
		revision:   1,
		buf:        text.NewBuffer(content),
	}
}

// URI returns the document URI.
func (d *Document) URI() protocol.DocumentURI { return d.uri }

// LanguageID returns the language identifier the client opened it with.
func (d *Document) LanguageID() string { return d.languageID }

// Version returns the current client version.
func (d *Document) Version() int32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Text returns the current text.
func (d *Document) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.buf.String()
}

// Closed reports whether the document has been removed from its store.
func (d *Document) Closed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

// Snapshot is an immutable view of a document at one revision.
type Snapshot struct {
	URI        protocol.DocumentURI
	LanguageID string
	Version    int32
	Revision   uint64
	Buffer     *text.Buffer // private clone, index built; safe for concurrent reads
}

// Snapshot captures the document text and version atomically with respect
// to concurrent Update calls.
func (d *Document) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Snapshot{
		URI:        d.uri,
		LanguageID: d.languageID,
		Version:    d.version,
		Revision:   d.revision,
		Buffer:     d.buf.Clone(),
	}
}

// Update applies fn to a scratch copy of the buffer and commits the result
// only if fn succeeds. When version is non-nil it must be greater than the
// current version and is committed together with the text. On error the
// document is unchanged.
func (d *Document) Update(version *int32, fn func(*text.Buffer) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("%w: %s", ErrClosed, d.uri)
	}
	if version != nil && *version <= d.version {
		return fmt.Errorf("%w: %s version %d, current %d", ErrStaleVersion, d.uri, *version, d.version)
	}

	scratch := d.buf.Clone()
	if err := fn(scratch); err != nil {
		return err
	}
	d.buf = scratch
	if version != nil {
		d.version = *version
	}
	d.revision++
	return nil
}

// IsCurrent reports whether the document is still open and still at the
// given revision.
func (d *Document) IsCurrent(revision uint64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return !d.closed && d.revision == revision
}

// PublishIfCurrent runs publish only if the document is still open and at
// revision, holding the document's publish lock so that results computed
// for an older revision can never be sent after a newer one. It reports
// whether publish ran.
func (d *Document) PublishIfCurrent(revision uint64, publish func() error) (bool, error) {
	d.publishMu.Lock()
	defer d.publishMu.Unlock()

	if !d.IsCurrent(revision) {
		return false, nil
	}
	return true, publish()
}

// WithPublishLock runs fn holding the publish lock, whatever the document
// state. Closing uses it to send a final clear that cannot be overtaken by a
// pass that was already publishing.
func (d *Document) WithPublishLock(fn func() error) error {
	d.publishMu.Lock()
	defer d.publishMu.Unlock()
	return fn()
}

func (d *Document) markClosed() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}
