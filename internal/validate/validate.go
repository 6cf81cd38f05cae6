// Package validate runs analyzers over open documents and publishes the
// results, making sure a result computed for an older revision of a document
// is never sent after a newer one, or after the document was closed.
package validate

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stefanvanburen/solls/internal/analysis"
	"github.com/stefanvanburen/solls/internal/lsp/protocol"
	"github.com/stefanvanburen/solls/internal/text"
	"github.com/stefanvanburen/solls/internal/vfs"
)

// ErrStale is returned by Validate when the document changed or closed
// while its diagnostics were being computed. Nothing was published.
var ErrStale = errors.New("stale validation result")

// Publisher sends one publishDiagnostics notification.
type Publisher interface {
	PublishDiagnostics(ctx context.Context, params protocol.PublishDiagnosticsParams) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, params protocol.PublishDiagnosticsParams) error

// PublishDiagnostics calls f.
func (f PublisherFunc) PublishDiagnostics(ctx context.Context, params protocol.PublishDiagnosticsParams) error {
	return f(ctx, params)
}

// Options tune a Coordinator. They may be replaced at runtime with
// SetOptions.
type Options struct {
	// Async makes Trigger schedule passes instead of running them inline.
	Async bool
	// Concurrency bounds ValidateAll; values below 1 mean 1.
	Concurrency int
	// MaxDiagnostics truncates each published list; 0 disables the limit.
	MaxDiagnostics int
	// ClearOnClose makes Clear publish an empty list.
	ClearOnClose bool
	// Source tags the diagnostic reported when an analyzer fails.
	Source string

	Root     protocol.DocumentURI
	Settings analysis.Settings
}

// Coordinator drives analysis and publication for the documents of a store.
type Coordinator struct {
	store     *vfs.Store
	analyzer  analysis.Analyzer
	publisher Publisher
	log       zerolog.Logger

	mu       sync.Mutex
	opts     Options
	inflight map[protocol.DocumentURI]*pass
	wg       sync.WaitGroup
}

type pass struct {
	cancel context.CancelFunc
}

// New returns a coordinator.
func New(store *vfs.Store, analyzer analysis.Analyzer, publisher Publisher, log zerolog.Logger, opts Options) *Coordinator {
	return &Coordinator{
		store:     store,
		analyzer:  analyzer,
		publisher: publisher,
		log:       log,
		opts:      opts,
		inflight:  make(map[protocol.DocumentURI]*pass),
	}
}

// Options returns the current options.
func (c *Coordinator) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// SetOptions replaces the options used by subsequent passes.
func (c *Coordinator) SetOptions(opts Options) {
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()
}

// Trigger validates doc after an open, change or save: inline, or through
// Schedule when Options.Async is set.
func (c *Coordinator) Trigger(ctx context.Context, doc *vfs.Document) {
	if c.Options().Async {
		c.Schedule(ctx, doc)
		return
	}
	c.discardInflight(doc.URI())
	c.logResult(doc, c.validate(ctx, doc))
}

// Validate analyzes the current snapshot of doc and publishes the result
// unless it went stale in the meantime, in which case it returns ErrStale.
// The first entry of the returned list is always doc itself; entries for
// related documents follow in URI order. A related entry whose document
// is open is published only while that document is still at the revision
// its ranges were clamped against.
func (c *Coordinator) Validate(ctx context.Context, doc *vfs.Document) ([]protocol.PublishDiagnosticsParams, error) {
	snap := doc.Snapshot()
	targets, err := c.compute(ctx, snap)
	if err != nil {
		return nil, err
	}
	results := paramsOf(targets)

	own := targets[0]
	published, err := doc.PublishIfCurrent(snap.Revision, func() error {
		return c.publish(ctx, own.params)
	})
	if err != nil {
		return results, err
	}
	if !published {
		return results, fmt.Errorf("%w: %s revision %d", ErrStale, snap.URI, snap.Revision)
	}

	for _, t := range targets[1:] {
		if t.doc == nil {
			if err := c.publish(ctx, t.params); err != nil {
				return results, err
			}
			continue
		}
		published, err := t.doc.PublishIfCurrent(t.revision, func() error {
			return c.publish(ctx, t.params)
		})
		if err != nil {
			return results, err
		}
		if !published {
			c.log.Debug().Str("uri", string(t.params.URI)).Msg("related document changed, dropped its diagnostics")
		}
	}
	return results, nil
}

func (c *Coordinator) publish(ctx context.Context, params protocol.PublishDiagnosticsParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.publisher.PublishDiagnostics(ctx, params); err != nil {
		return fmt.Errorf("publishing diagnostics for %s: %w", params.URI, err)
	}
	return nil
}

func (c *Coordinator) validate(ctx context.Context, doc *vfs.Document) error {
	_, err := c.Validate(ctx, doc)
	return err
}

// Compute runs the analyzer over snap and groups the diagnostics into
// publishable lists without publishing them. It fails only when ctx is
// cancelled; analyzer errors and panics become a single Error diagnostic.
func (c *Coordinator) Compute(ctx context.Context, snap vfs.Snapshot) ([]protocol.PublishDiagnosticsParams, error) {
	targets, err := c.compute(ctx, snap)
	if err != nil {
		return nil, err
	}
	return paramsOf(targets), nil
}

// target is one list to publish. doc is set for open related documents and
// revision is the one their ranges were clamped against.
type target struct {
	params   protocol.PublishDiagnosticsParams
	doc      *vfs.Document
	revision uint64
}

func (c *Coordinator) compute(ctx context.Context, snap vfs.Snapshot) ([]target, error) {
	opts := c.Options()
	diags := c.analyze(ctx, opts, snap)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.group(snap, diags, opts.MaxDiagnostics), nil
}

func paramsOf(targets []target) []protocol.PublishDiagnosticsParams {
	out := make([]protocol.PublishDiagnosticsParams, len(targets))
	for i, t := range targets {
		out[i] = t.params
	}
	return out
}

func (c *Coordinator) analyze(ctx context.Context, opts Options, snap vfs.Snapshot) (diags []analysis.Diagnostic) {
	log := c.log.With().Str("uri", string(snap.URI)).Int32("version", snap.Version).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("analyzer panicked")
			diags = []analysis.Diagnostic{failure(opts.Source, fmt.Sprintf("analyzer panicked: %v", r))}
		}
	}()

	diags, err := c.analyzer.Analyze(ctx, analysis.Input{
		Snapshot: snap,
		Root:     opts.Root,
		Settings: opts.Settings,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Error().Err(err).Msg("analyzer failed")
		return []analysis.Diagnostic{failure(opts.Source, "analyzer failed: "+err.Error())}
	}
	return diags
}

func failure(source, msg string) analysis.Diagnostic {
	return analysis.Diagnostic{Diagnostic: protocol.Diagnostic{
		Severity: protocol.SeverityError,
		Source:   source,
		Message:  msg,
	}}
}

// group splits diags per URI. The snapshot's own list comes first, carries
// its version and has its ranges clamped to the snapshot text. Lists for
// other open documents are clamped to their current text; lists for
// documents that are not open are passed through.
func (c *Coordinator) group(snap vfs.Snapshot, diags []analysis.Diagnostic, limit int) []target {
	own := make([]protocol.Diagnostic, 0, len(diags))
	related := make(map[protocol.DocumentURI][]protocol.Diagnostic)
	for _, d := range diags {
		if d.URI == "" || d.URI == snap.URI {
			d.Range = clamp(snap.Buffer, d.Range)
			own = append(own, d.Diagnostic)
			continue
		}
		related[d.URI] = append(related[d.URI], d.Diagnostic)
	}

	out := make([]target, 0, 1+len(related))
	out = append(out, target{params: protocol.PublishDiagnosticsParams{
		URI:         snap.URI,
		Version:     snap.Version,
		Diagnostics: truncate(own, limit),
	}})
	for _, uri := range slices.Sorted(maps.Keys(related)) {
		t := target{params: protocol.PublishDiagnosticsParams{URI: uri}}
		list := related[uri]
		if doc, ok := c.store.Find(uri); ok {
			rs := doc.Snapshot()
			for i := range list {
				list[i].Range = clamp(rs.Buffer, list[i].Range)
			}
			t.params.Version = rs.Version
			t.doc, t.revision = doc, rs.Revision
		}
		t.params.Diagnostics = truncate(list, limit)
		out = append(out, t)
	}
	return out
}

func truncate(diags []protocol.Diagnostic, limit int) []protocol.Diagnostic {
	if limit > 0 && len(diags) > limit {
		return diags[:limit]
	}
	return diags
}

func clamp(buf *text.Buffer, r protocol.Range) protocol.Range {
	tr, err := r.TextRange()
	if err != nil {
		end, _ := protocol.FromTextPosition(buf.EndPosition())
		return protocol.Range{Start: end, End: end}
	}
	clamped, err := protocol.FromTextRange(buf.ClampRange(tr))
	if err != nil {
		return r
	}
	return clamped
}

// ValidateAll validates every open document, at most Options.Concurrency at
// a time. In async mode each document is scheduled instead.
func (c *Coordinator) ValidateAll(ctx context.Context) error {
	opts := c.Options()
	if opts.Async {
		for doc := range c.store.Files() {
			c.Schedule(ctx, doc)
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(max(opts.Concurrency, 1))
	for doc := range c.store.Files() {
		g.Go(func() error {
			c.logResult(doc, c.validate(ctx, doc))
			return ctx.Err()
		})
	}
	return g.Wait()
}

// Schedule validates doc on a new goroutine, cancelling any pass still
// running for the same URI.
func (c *Coordinator) Schedule(ctx context.Context, doc *vfs.Document) {
	ctx, cancel := context.WithCancel(ctx)
	p := &pass{cancel: cancel}
	uri := doc.URI()

	c.mu.Lock()
	if old, ok := c.inflight[uri]; ok {
		old.cancel()
	}
	c.inflight[uri] = p
	c.mu.Unlock()

	c.wg.Go(func() {
		defer func() {
			c.mu.Lock()
			if c.inflight[uri] == p {
				delete(c.inflight, uri)
			}
			c.mu.Unlock()
			cancel()
		}()
		c.logResult(doc, c.validate(ctx, doc))
	})
}

// Discard cancels any scheduled pass for uri. A cancelled pass never
// publishes.
func (c *Coordinator) Discard(uri protocol.DocumentURI) {
	c.discardInflight(uri)
}

func (c *Coordinator) discardInflight(uri protocol.DocumentURI) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.inflight[uri]; ok {
		p.cancel()
		delete(c.inflight, uri)
	}
}

// Clear publishes an empty list for a closed document when
// Options.ClearOnClose is set. It runs under the document's publish lock, so
// it is the last notification sent for that document.
func (c *Coordinator) Clear(ctx context.Context, doc *vfs.Document) error {
	if !c.Options().ClearOnClose {
		return nil
	}
	return doc.WithPublishLock(func() error {
		return c.publisher.PublishDiagnostics(ctx, protocol.PublishDiagnosticsParams{URI: doc.URI()})
	})
}

// Wait blocks until all scheduled passes have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) logResult(doc *vfs.Document, err error) {
	log := c.log.With().Str("uri", string(doc.URI())).Logger()
	switch {
	case err == nil:
		log.Debug().Msg("published diagnostics")
	case errors.Is(err, ErrStale), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Debug().Err(err).Msg("dropped diagnostics")
	default:
		log.Error().Err(err).Msg("validation failed")
	}
}
