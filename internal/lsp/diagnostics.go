package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stefanvanburen/solls/internal/analysis"
	"github.com/stefanvanburen/solls/internal/config"
	"github.com/stefanvanburen/solls/internal/jsonrpc2"
	"github.com/stefanvanburen/solls/internal/lsp/protocol"
)

var errNoConnection = errors.New("no client connection")

// publishDiagnostics pushes one textDocument/publishDiagnostics notification.
func (s *server) publishDiagnostics(ctx context.Context, params protocol.PublishDiagnosticsParams) error {
	conn := s.conn.Load()
	if conn == nil {
		return errNoConnection
	}
	return conn.Notify(ctx, protocol.MethodTextDocumentPublishDiags, params)
}

// diagnostic handles the pull diagnostic request (textDocument/diagnostic).
// The analysis runs on its own goroutine so that $/cancelRequest, which
// arrives through the same read loop, can reach it.
func (s *server) diagnostic(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	var params protocol.DocumentDiagnosticParams
	if err := req.DecodeParams(&params); err != nil {
		return nil, err
	}
	uri := params.TextDocument.URI

	doc, ok := s.store.Find(uri)
	if !ok {
		return fullReport(nil), nil
	}

	key := req.ID.String()
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.pulls[key] = cancel
	s.mu.Unlock()

	log := zerolog.Ctx(ctx).With().Str("uri", string(uri)).Stringer("id", req.ID).Logger()
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.pulls, key)
			s.mu.Unlock()
			cancel()
		}()

		var (
			result any
			err    error
		)
		results, computeErr := s.coord.Compute(ctx, doc.Snapshot())
		if computeErr != nil {
			log.Debug().Err(computeErr).Msg("pull diagnostics cancelled")
			err = jsonrpc2.NewError(jsonrpc2.CodeRequestCancelled, "request cancelled")
		} else {
			result = fullReport(results)
		}
		if replyErr := conn.Reply(req.ID, result, err); replyErr != nil {
			log.Debug().Err(replyErr).Msg("sending pull diagnostics")
		}
	}()
	return nil, jsonrpc2.ErrDeferred
}

// fullReport turns the grouped results of one pass into a pull report. The
// first entry is the requested document; the rest are related documents.
func fullReport(results []protocol.PublishDiagnosticsParams) protocol.RelatedFullDocumentDiagnosticReport {
	report := protocol.RelatedFullDocumentDiagnosticReport{
		FullDocumentDiagnosticReport: protocol.FullDocumentDiagnosticReport{
			Kind:  string(protocol.DiagnosticFull),
			Items: []protocol.Diagnostic{},
		},
	}
	if len(results) == 0 {
		return report
	}
	if len(results[0].Diagnostics) > 0 {
		report.Items = results[0].Diagnostics
	}
	for _, related := range results[1:] {
		if report.RelatedDocuments == nil {
			report.RelatedDocuments = make(map[protocol.DocumentURI]protocol.FullDocumentDiagnosticReport)
		}
		report.RelatedDocuments[related.URI] = protocol.FullDocumentDiagnosticReport{
			Kind:  string(protocol.DiagnosticFull),
			Items: related.Diagnostics,
		}
	}
	return report
}

func (s *server) cancelRequest(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	var params protocol.CancelParams
	if err := req.DecodeParams(&params); err != nil {
		return nil, err
	}
	var id jsonrpc2.ID
	if err := json.Unmarshal(params.ID, &id); err != nil {
		return nil, jsonrpc2.NewError(jsonrpc2.CodeInvalidParams, "%s: %v", req.Method, err)
	}

	s.mu.Lock()
	cancel, ok := s.pulls[id.String()]
	delete(s.pulls, id.String())
	s.mu.Unlock()

	if ok {
		cancel()
		zerolog.Ctx(ctx).Debug().Stringer("id", id).Msg("cancelled request")
	}
	return nil, nil
}

// didChangeConfiguration applies client settings on top of the server
// configuration and revalidates every open document.
func (s *server) didChangeConfiguration(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	log := zerolog.Ctx(ctx)

	var params protocol.DidChangeConfigurationParams
	if len(req.Params) > 0 {
		if err := req.DecodeParams(&params); err != nil {
			return nil, err
		}
	}
	settings, err := config.ParseClientSettings(params.Settings)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring client settings")
		return nil, nil
	}
	if err := s.applySettings(settings); err != nil {
		log.Warn().Err(err).Msg("ignoring client settings")
		return nil, nil
	}

	log.Info().Int("documents", s.store.Len()).Msg("configuration changed, revalidating")
	if err := s.coord.ValidateAll(ctx); err != nil {
		log.Debug().Err(err).Msg("revalidation interrupted")
	}
	return nil, nil
}

func (s *server) applySettings(settings config.ClientSettings) error {
	merged, err := s.cfg.Merge(settings)
	if err != nil {
		return err
	}
	markers, err := config.Markers(merged.Analyzer.Markers)
	if err != nil {
		return fmt.Errorf("markers: %w", err)
	}
	opts := s.coord.Options()
	opts.MaxDiagnostics = merged.Validation.MaxDiagnostics
	opts.Settings = analysis.Settings{Markers: markers}
	s.coord.SetOptions(opts)
	return nil
}
