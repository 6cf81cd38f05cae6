package vfs_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/nalgeon/be"
	"github.com/stefanvanburen/solls/internal/lsp/protocol"
	"github.com/stefanvanburen/solls/internal/text"
	"github.com/stefanvanburen/solls/internal/vfs"
)

const uri = protocol.DocumentURI("file:///work/a.sol")

func version(v int32) *int32 { return &v }

func TestInsertFindRemove(t *testing.T) {
	t.Parallel()

	store := vfs.NewStore()
	doc, err := store.Insert(uri, "solidity", 1, "contract A {}")
	be.Err(t, err, nil)
	be.Equal(t, doc.URI(), uri)
	be.Equal(t, doc.LanguageID(), "solidity")
	be.Equal(t, doc.Version(), int32(1))
	be.Equal(t, doc.Text(), "contract A {}")

	found, ok := store.Find(uri)
	be.True(t, ok)
	be.True(t, found == doc)

	be.True(t, store.Remove(uri))
	_, ok = store.Find(uri)
	be.True(t, !ok)
	be.True(t, doc.Closed())
	be.True(t, !store.Remove(uri))
}

func TestInsertConflictKeepsExistingDocument(t *testing.T) {
	t.Parallel()

	store := vfs.NewStore()
	first, err := store.Insert(uri, "solidity", 1, "one")
	be.Err(t, err, nil)

	_, err = store.Insert(uri, "solidity", 5, "two")
	be.Err(t, err, vfs.ErrConflict)
	be.True(t, errors.Is(err, vfs.ErrProtocolViolation))

	found, _ := store.Find(uri)
	be.True(t, found == first)
	be.Equal(t, found.Text(), "one")
	be.Equal(t, found.Version(), int32(1))
}

func TestReopenAfterCloseIsANewDocument(t *testing.T) {
	t.Parallel()

	store := vfs.NewStore()
	first, _ := store.Insert(uri, "solidity", 1, "one")
	store.Remove(uri)

	second, err := store.Insert(uri, "solidity", 1, "two")
	be.Err(t, err, nil)
	be.True(t, first != second)
	be.True(t, first.Closed())
	be.True(t, !second.Closed())
}

func TestUpdateCommitsTextAndVersion(t *testing.T) {
	t.Parallel()

	store := vfs.NewStore()
	doc, _ := store.Insert(uri, "solidity", 1, "abc")
	before := doc.Snapshot()

	err := doc.Update(version(2), func(buf *text.Buffer) error {
		buf.Replace("xyz")
		return nil
	})
	be.Err(t, err, nil)
	be.Equal(t, doc.Text(), "xyz")
	be.Equal(t, doc.Version(), int32(2))
	be.True(t, !doc.IsCurrent(before.Revision))
	be.True(t, doc.IsCurrent(doc.Snapshot().Revision))

	// the earlier snapshot is unaffected
	be.Equal(t, before.Buffer.String(), "abc")
	be.Equal(t, before.Version, int32(1))
}

func TestUpdateWithoutVersionBumpsRevision(t *testing.T) {
	t.Parallel()

	store := vfs.NewStore()
	doc, _ := store.Insert(uri, "solidity", 4, "abc")
	rev := doc.Snapshot().Revision

	err := doc.Update(nil, func(buf *text.Buffer) error {
		buf.Replace("abcd")
		return nil
	})
	be.Err(t, err, nil)
	be.Equal(t, doc.Version(), int32(4))
	be.True(t, doc.Snapshot().Revision > rev)
}

func TestUpdateRejectsStaleVersion(t *testing.T) {
	t.Parallel()

	for _, v := range []int32{1, 3} {
		store := vfs.NewStore()
		doc, _ := store.Insert(uri, "solidity", 3, "abc")
		called := false
		err := doc.Update(version(v), func(buf *text.Buffer) error {
			called = true
			return nil
		})
		be.Err(t, err, vfs.ErrStaleVersion)
		be.True(t, !called)
		be.Equal(t, doc.Text(), "abc")
		be.Equal(t, doc.Version(), int32(3))
	}
}

func TestUpdateFailureLeavesDocumentUnchanged(t *testing.T) {
	t.Parallel()

	store := vfs.NewStore()
	doc, _ := store.Insert(uri, "solidity", 1, "abc")
	rev := doc.Snapshot().Revision

	err := doc.Update(version(2), func(buf *text.Buffer) error {
		buf.Replace("partially applied")
		return buf.Modify(text.Span{Start: 0, End: 100}, "x")
	})
	be.Err(t, err, text.ErrOutOfRangeEdit)
	be.Equal(t, doc.Text(), "abc")
	be.Equal(t, doc.Version(), int32(1))
	be.True(t, doc.IsCurrent(rev))
}

func TestUpdateClosedDocument(t *testing.T) {
	t.Parallel()

	store := vfs.NewStore()
	doc, _ := store.Insert(uri, "solidity", 1, "abc")
	store.Remove(uri)

	err := doc.Update(version(2), func(*text.Buffer) error { return nil })
	be.Err(t, err, vfs.ErrClosed)
}

func TestPublishIfCurrent(t *testing.T) {
	t.Parallel()

	store := vfs.NewStore()
	doc, _ := store.Insert(uri, "solidity", 1, "abc")
	stale := doc.Snapshot().Revision
	_ = doc.Update(version(2), func(buf *text.Buffer) error {
		buf.Replace("abcd")
		return nil
	})

	ran, err := doc.PublishIfCurrent(stale, func() error { return nil })
	be.Err(t, err, nil)
	be.True(t, !ran)

	ran, err = doc.PublishIfCurrent(doc.Snapshot().Revision, func() error { return nil })
	be.Err(t, err, nil)
	be.True(t, ran)

	store.Remove(uri)
	ran, _ = doc.PublishIfCurrent(doc.Snapshot().Revision, func() error { return nil })
	be.True(t, !ran)
}

func TestFilesIsSortedAndRestartable(t *testing.T) {
	t.Parallel()

	store := vfs.NewStore()
	for _, u := range []protocol.DocumentURI{"file:///c", "file:///a", "file:///b"} {
		_, err := store.Insert(u, "solidity", 1, "")
		be.Err(t, err, nil)
	}

	uris := func() []protocol.DocumentURI {
		var out []protocol.DocumentURI
		for doc := range store.Files() {
			out = append(out, doc.URI())
		}
		return out
	}

	be.Equal(t, uris(), []protocol.DocumentURI{"file:///a", "file:///b", "file:///c"})

	store.Remove("file:///b")
	_, _ = store.Insert("file:///d", "solidity", 1, "")
	be.Equal(t, uris(), []protocol.DocumentURI{"file:///a", "file:///c", "file:///d"})
	be.Equal(t, store.Len(), 3)
	be.Equal(t, store.URIs(), []protocol.DocumentURI{"file:///a", "file:///c", "file:///d"})

	// stopping early is allowed
	for range store.Files() {
		break
	}
}

func TestConcurrentUpdatesAndSnapshots(t *testing.T) {
	t.Parallel()

	store := vfs.NewStore()
	doc, _ := store.Insert(uri, "solidity", 0, "")

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			_ = doc.Update(nil, func(buf *text.Buffer) error {
				return buf.Modify(text.Span{Start: buf.Len(), End: buf.Len()}, "x")
			})
			snap := doc.Snapshot()
			be.True(t, snap.Buffer.Len() >= 1)
		})
	}
	wg.Wait()

	be.Equal(t, len(doc.Text()), 50)
}

func TestSnapshotSharedBetweenReaders(t *testing.T) {
	t.Parallel()

	store := vfs.NewStore()
	doc, _ := store.Insert(uri, "solidity", 1, "a\nb\nc")
	be.Err(t, doc.Update(version(2), func(buf *text.Buffer) error {
		return buf.Modify(text.Span{Start: 0, End: 1}, "alpha")
	}), nil)

	snap := doc.Snapshot()
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			pos, err := snap.Buffer.PositionOf(snap.Buffer.Len())
			be.Err(t, err, nil)
			be.Equal(t, pos, text.Position{Line: 2, Character: 1})
		})
	}
	wg.Wait()
}
