// Package lsp implements the document synchronization and diagnostics side
// of a language server.
//
// The main entry-point is the Serve() function, which creates a new LSP server
// communicating over stdin/stdout.
package lsp

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/stefanvanburen/solls/internal/analysis"
	"github.com/stefanvanburen/solls/internal/config"
	"github.com/stefanvanburen/solls/internal/jsonrpc2"
	"github.com/stefanvanburen/solls/internal/lsp/protocol"
	"github.com/stefanvanburen/solls/internal/validate"
	"github.com/stefanvanburen/solls/internal/vfs"
)

const serverName = "solls"

// Version is reported in the initialize result.
var Version = "dev"

// Serve starts the LSP server, communicating over stdin/stdout.
// It blocks until the connection is closed.
func Serve(ctx context.Context, opts ...Option) error {
	return ServeStream(ctx, stdinout{}, opts...)
}

// stdinout wraps stdin/stdout into a ReadWriteCloser.
type stdinout struct{}

func (stdinout) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdinout) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdinout) Close() error                { return os.Stdout.Close() }

// Option configures a server.
type Option func(*server)

// WithLogger sets the base logger. Each connection adds its own "conn" id.
func WithLogger(log zerolog.Logger) Option {
	return func(s *server) { s.log = log }
}

// WithConfig sets the configuration. The default is config.Default().
func WithConfig(cfg config.Config) Option {
	return func(s *server) { s.cfg = cfg }
}

// WithAnalyzer replaces the analyzers built from the configuration.
func WithAnalyzer(a analysis.Analyzer) Option {
	return func(s *server) { s.analyzer = a }
}

// ServeStream starts the LSP server over the given stream and blocks until
// the connection is closed.
func ServeStream(ctx context.Context, rwc io.ReadWriteCloser, opts ...Option) error {
	s, err := newServer(opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log.Info().Msg("connection opened")
	conn := jsonrpc2.NewConn(ctx, rwc, s, jsonrpc2.WithLogger(s.log))
	<-conn.DisconnectNotify()

	cancel()
	s.coord.Wait()
	s.log.Info().Msg("connection closed")
	return nil
}

// server holds the state of one client connection.
type server struct {
	log      zerolog.Logger
	cfg      config.Config
	analyzer analysis.Analyzer

	store    *vfs.Store
	coord    *validate.Coordinator
	handlers map[string]handlerFunc
	conn     atomic.Pointer[jsonrpc2.Conn]

	mu          sync.Mutex
	initialized bool
	shutdown    bool
	pulls       map[string]context.CancelFunc // in-flight pull requests by id
}

type handlerFunc func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error)

func newServer(opts ...Option) (*server, error) {
	s := &server{
		log:   zerolog.Nop(),
		cfg:   config.Default(),
		store: vfs.NewStore(),
		pulls: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("conn", xid.New().String()).Logger()

	if s.analyzer == nil {
		a, err := NewAnalyzer(s.cfg.Analyzer)
		if err != nil {
			return nil, err
		}
		s.analyzer = a
	}
	vopts, err := ValidationOptions(s.cfg)
	if err != nil {
		return nil, err
	}
	s.coord = validate.New(s.store, s.analyzer, validate.PublisherFunc(s.publishDiagnostics), s.log, vopts)

	s.handlers = map[string]handlerFunc{
		protocol.MethodInitialize:               s.initialize,
		protocol.MethodInitialized:              s.initializedNotification,
		protocol.MethodShutdown:                 s.shutdownRequest,
		protocol.MethodExit:                     s.exit,
		protocol.MethodCancelRequest:            s.cancelRequest,
		protocol.MethodSetTrace:                 ignore,
		protocol.MethodTextDocumentDidOpen:      s.didOpen,
		protocol.MethodTextDocumentDidChange:    s.didChange,
		protocol.MethodTextDocumentDidSave:      s.didSave,
		protocol.MethodTextDocumentDidClose:     s.didClose,
		protocol.MethodTextDocumentDiagnostic:   s.diagnostic,
		protocol.MethodWorkspaceDidChangeConfig: s.didChangeConfiguration,
	}
	return s, nil
}

// NewAnalyzer routes the configured CEL languages to the CEL analyzer and
// everything else to the marker analyzer.
func NewAnalyzer(cfg config.Analyzer) (analysis.Analyzer, error) {
	markers, err := config.Markers(cfg.Markers)
	if err != nil {
		return nil, err
	}
	router := analysis.ByLanguage{
		Languages: make(map[string]analysis.Analyzer),
		Fallback:  &analysis.Markers{Source: cfg.Source, Markers: markers},
	}
	if len(cfg.CELLanguages) > 0 {
		celAnalyzer, err := analysis.NewCEL(cfg.Source)
		if err != nil {
			return nil, err
		}
		for _, lang := range cfg.CELLanguages {
			router.Languages[lang] = celAnalyzer
		}
	}
	return router, nil
}

// ValidationOptions derives coordinator options from cfg.
func ValidationOptions(cfg config.Config) (validate.Options, error) {
	markers, err := config.Markers(cfg.Analyzer.Markers)
	if err != nil {
		return validate.Options{}, err
	}
	return validate.Options{
		Async:          cfg.Validation.Async,
		Concurrency:    cfg.Validation.Concurrency,
		MaxDiagnostics: cfg.Validation.MaxDiagnostics,
		ClearOnClose:   cfg.Validation.ClearOnClose,
		Source:         cfg.Analyzer.Source,
		Settings:       analysis.Settings{Markers: markers},
	}, nil
}

// Handle implements jsonrpc2.Handler.
func (s *server) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	s.conn.Store(conn)
	log := s.log.With().Str("method", req.Method).Logger()
	ctx = log.WithContext(ctx)

	h, ok := s.handlers[req.Method]
	if !ok {
		if req.Notif {
			log.Debug().Msg("ignoring notification")
			return
		}
		h = func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) {
			return nil, jsonrpc2.NewError(jsonrpc2.CodeMethodNotFound, "method not supported: %s", req.Method)
		}
	} else if err := s.checkState(req); err != nil {
		if req.Notif {
			log.Warn().Err(err).Msg("dropping notification")
			return
		}
		h = func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) { return nil, err }
	}

	log.Debug().Bool("notification", req.Notif).Msg("handling")
	jsonrpc2.HandlerFunc(h).Handle(ctx, conn, req)
}

// checkState enforces the initialize/shutdown ordering.
func (s *server) checkState(req *jsonrpc2.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case req.Method == protocol.MethodExit:
		return nil
	case s.shutdown:
		return jsonrpc2.NewError(jsonrpc2.CodeInvalidRequest, "%s after shutdown", req.Method)
	case req.Method == protocol.MethodInitialize:
		if s.initialized {
			return jsonrpc2.NewError(jsonrpc2.CodeInvalidRequest, "server already initialized")
		}
		return nil
	case !s.initialized:
		return jsonrpc2.NewError(jsonrpc2.CodeServerNotInitialized, "%s before initialize", req.Method)
	}
	return nil
}

func ignore(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (any, error) {
	return nil, nil
}

func (s *server) initialize(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	var params protocol.InitializeParams
	if len(req.Params) > 0 {
		if err := req.DecodeParams(&params); err != nil {
			return nil, err
		}
	}

	opts := s.coord.Options()
	opts.Root = workspaceRoot(params)
	s.coord.SetOptions(opts)

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	log := zerolog.Ctx(ctx).Info().Str("root", string(opts.Root))
	if params.ClientInfo != nil {
		log = log.Str("client", params.ClientInfo.Name)
	}
	log.Msg("initialized")

	return protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.Incremental,
				Save:      &protocol.SaveOptions{IncludeText: false},
			},
			DiagnosticProvider: &protocol.DiagnosticOptions{
				Identifier:            serverName,
				InterFileDependencies: true,
			},
		},
		ServerInfo: &protocol.ServerInfo{
			Name:    serverName,
			Version: Version,
		},
	}, nil
}

func workspaceRoot(params protocol.InitializeParams) protocol.DocumentURI {
	switch {
	case len(params.WorkspaceFolders) > 0:
		return params.WorkspaceFolders[0].URI
	case params.RootURI != "":
		return params.RootURI
	case params.RootPath != "":
		return protocol.URIFromPath(params.RootPath)
	}
	return ""
}

func (s *server) initializedNotification(ctx context.Context, _ *jsonrpc2.Conn, _ *jsonrpc2.Request) (any, error) {
	zerolog.Ctx(ctx).Debug().Msg("client ready")
	return nil, nil
}

func (s *server) shutdownRequest(ctx context.Context, _ *jsonrpc2.Conn, _ *jsonrpc2.Request) (any, error) {
	s.mu.Lock()
	s.shutdown = true
	for id, cancel := range s.pulls {
		cancel()
		delete(s.pulls, id)
	}
	s.mu.Unlock()
	zerolog.Ctx(ctx).Info().Msg("shutting down")
	return nil, nil
}

func (s *server) exit(_ context.Context, conn *jsonrpc2.Conn, _ *jsonrpc2.Request) (any, error) {
	if err := conn.Close(); err != nil {
		return nil, fmt.Errorf("closing connection: %w", err)
	}
	return nil, nil
}
