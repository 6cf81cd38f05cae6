package lsp

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stefanvanburen/solls/internal/edit"
	"github.com/stefanvanburen/solls/internal/jsonrpc2"
	"github.com/stefanvanburen/solls/internal/lsp/protocol"
	"github.com/stefanvanburen/solls/internal/vfs"
)

// Document lifecycle notifications. A notification that breaks the
// open/change/close ordering for a URI is logged and dropped; it never
// affects other documents or the connection.

func (s *server) didOpen(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	var params protocol.DidOpenTextDocumentParams
	if err := req.DecodeParams(&params); err != nil {
		return nil, err
	}
	item := params.TextDocument
	log := zerolog.Ctx(ctx).With().Str("uri", string(item.URI)).Int32("version", item.Version).Logger()

	doc, err := s.store.Insert(item.URI, item.LanguageID, item.Version, item.Text)
	if err != nil {
		s.reject(log, err)
		return nil, nil
	}
	log.Debug().Str("language", item.LanguageID).Msg("opened")
	s.coord.Trigger(ctx, doc)
	return nil, nil
}

func (s *server) didChange(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	var params protocol.DidChangeTextDocumentParams
	if err := req.DecodeParams(&params); err != nil {
		return nil, err
	}
	batch := edit.BatchFromParams(params)
	logCtx := zerolog.Ctx(ctx).With().Str("uri", string(batch.URI)).Int("changes", len(batch.Changes))
	if batch.Version != nil {
		logCtx = logCtx.Int32("version", *batch.Version)
	}
	log := logCtx.Logger()

	doc, err := edit.Apply(s.store, batch)
	if err != nil {
		s.reject(log, err)
		return nil, nil
	}
	log.Debug().Msg("changed")
	s.coord.Trigger(ctx, doc)
	return nil, nil
}

func (s *server) didSave(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	var params protocol.DidSaveTextDocumentParams
	if err := req.DecodeParams(&params); err != nil {
		return nil, err
	}
	uri := params.TextDocument.URI
	log := zerolog.Ctx(ctx).With().Str("uri", string(uri)).Logger()

	doc, ok := s.store.Find(uri)
	if !ok {
		s.reject(log, fmt.Errorf("%w: %s", vfs.ErrDocumentNotOpen, uri))
		return nil, nil
	}
	s.coord.Trigger(ctx, doc)
	return nil, nil
}

func (s *server) didClose(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	var params protocol.DidCloseTextDocumentParams
	if err := req.DecodeParams(&params); err != nil {
		return nil, err
	}
	uri := params.TextDocument.URI
	log := zerolog.Ctx(ctx).With().Str("uri", string(uri)).Logger()

	doc, ok := s.store.Find(uri)
	if !ok || !s.store.Remove(uri) {
		s.reject(log, fmt.Errorf("%w: %s", vfs.ErrDocumentNotOpen, uri))
		return nil, nil
	}
	s.coord.Discard(uri)
	if err := s.coord.Clear(ctx, doc); err != nil {
		log.Error().Err(err).Msg("clearing diagnostics")
	}
	log.Debug().Msg("closed")
	return nil, nil
}

// reject logs a document notification that could not be applied.
func (s *server) reject(log zerolog.Logger, err error) {
	if errors.Is(err, vfs.ErrProtocolViolation) {
		log.Warn().Err(err).Msg("protocol violation")
		return
	}
	log.Warn().Err(err).Msg("rejected edit")
}
