package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stefanvanburen/solls/internal/config"
	"github.com/stefanvanburen/solls/internal/lsp"
	"github.com/stefanvanburen/solls/internal/lsp/protocol"
	"github.com/stefanvanburen/solls/internal/validate"
	"github.com/stefanvanburen/solls/internal/vfs"
)

// errDiagnostics is returned by check when an Error diagnostic was found.
// The diagnostics themselves have already been printed.
var errDiagnostics = errors.New("errors found")

// check validates the files at paths once and prints their diagnostics to w,
// one per line, in file and position order.
func check(ctx context.Context, cfg config.Config, log zerolog.Logger, paths []string, w io.Writer) error {
	analyzer, err := lsp.NewAnalyzer(cfg.Analyzer)
	if err != nil {
		return err
	}
	opts, err := lsp.ValidationOptions(cfg)
	if err != nil {
		return err
	}
	opts.Async = false
	if wd, err := os.Getwd(); err == nil {
		opts.Root = protocol.URIFromPath(wd)
	}

	store := vfs.NewStore()
	names := make(map[protocol.DocumentURI]string, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		uri := protocol.URIFromPath(path)
		if _, err := store.Insert(uri, languageID(path, cfg.Analyzer.CELLanguages), 1, string(content)); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		names[uri] = path
	}

	var (
		mu      sync.Mutex
		results []protocol.PublishDiagnosticsParams
	)
	publisher := validate.PublisherFunc(func(_ context.Context, params protocol.PublishDiagnosticsParams) error {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, params)
		return nil
	})
	coord := validate.New(store, analyzer, publisher, log, opts)
	if err := coord.ValidateAll(ctx); err != nil {
		return err
	}

	type line struct {
		name string
		diag protocol.Diagnostic
	}
	var lines []line
	for _, params := range results {
		name, ok := names[params.URI]
		if !ok {
			if name = params.URI.Path(); name == "" {
				name = string(params.URI)
			}
		}
		for _, d := range params.Diagnostics {
			lines = append(lines, line{name, d})
		}
	}
	slices.SortStableFunc(lines, func(a, b line) int {
		return cmp.Or(
			cmp.Compare(a.name, b.name),
			cmp.Compare(a.diag.Range.Start.Line, b.diag.Range.Start.Line),
			cmp.Compare(a.diag.Range.Start.Character, b.diag.Range.Start.Character),
		)
	})

	failed := false
	for _, l := range lines {
		d := l.diag
		if d.Severity == protocol.SeverityError {
			failed = true
		}
		if _, err := fmt.Fprintf(w, "%s:%d:%d: %s: %s [%s]\n",
			l.name, d.Range.Start.Line+1, d.Range.Start.Character+1, d.Severity, d.Message, d.Source); err != nil {
			return err
		}
	}
	if failed {
		return errDiagnostics
	}
	return nil
}

// languageID guesses the language of path from its extension.
func languageID(path string, celLanguages []string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return "solidity"
	}
	if lang := ext[1:]; slices.Contains(celLanguages, lang) {
		return lang
	}
	return "solidity"
}
