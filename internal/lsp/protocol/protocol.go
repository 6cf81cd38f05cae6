// Package protocol defines the subset of Language Server Protocol types used
// by the document synchronization and diagnostics core.
package protocol

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Method names handled or produced by the server.
const (
	MethodInitialize               = "initialize"
	MethodInitialized              = "initialized"
	MethodShutdown                 = "shutdown"
	MethodExit                     = "exit"
	MethodCancelRequest            = "$/cancelRequest"
	MethodSetTrace                 = "$/setTrace"
	MethodTextDocumentDidOpen      = "textDocument/didOpen"
	MethodTextDocumentDidChange    = "textDocument/didChange"
	MethodTextDocumentDidSave      = "textDocument/didSave"
	MethodTextDocumentDidClose     = "textDocument/didClose"
	MethodTextDocumentDiagnostic   = "textDocument/diagnostic"
	MethodTextDocumentPublishDiags = "textDocument/publishDiagnostics"
	MethodWorkspaceDidChangeConfig = "workspace/didChangeConfiguration"
)

// DocumentURI identifies a document, usually with a file:// URI.
type DocumentURI string

// URIFromPath returns the file:// URI of an absolute or relative path.
func URIFromPath(path string) DocumentURI {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return DocumentURI(u.String())
}

// Path returns the filesystem path of a file:// URI, or "" for other schemes.
func (u DocumentURI) Path() string {
	parsed, err := url.Parse(string(u))
	if err != nil || parsed.Scheme != "file" {
		return ""
	}
	return filepath.FromSlash(parsed.Path)
}

// Position is a zero-based line and UTF-16 character offset.
type Position struct {
	Line      uint32 `json:"line"`
	Character uint32 `json:"character"`
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Character)
}

// Range is a pair of positions in a document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

func (r Range) String() string {
	return fmt.Sprintf("%s-%s", r.Start, r.End)
}

// TextDocumentIdentifier identifies a document.
type TextDocumentIdentifier struct {
	URI DocumentURI `json:"uri"`
}

// VersionedTextDocumentIdentifier identifies a document at a version. The
// version may be absent.
type VersionedTextDocumentIdentifier struct {
	TextDocumentIdentifier
	Version *int32 `json:"version"`
}

// TextDocumentItem is the payload of didOpen.
type TextDocumentItem struct {
	URI        DocumentURI `json:"uri"`
	LanguageID string      `json:"languageId"`
	Version    int32       `json:"version"`
	Text       string      `json:"text"`
}

// ChangeKind tags the variant of a TextDocumentContentChangeEvent.
type ChangeKind int

const (
	// ChangeFull replaces the whole document.
	ChangeFull ChangeKind = iota
	// ChangeRanged replaces the text addressed by a range.
	ChangeRanged
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeFull:
		return "full"
	case ChangeRanged:
		return "ranged"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// TextDocumentContentChangeEvent is either a full replacement (no Range) or a
// ranged replacement.
type TextDocumentContentChangeEvent struct {
	Range       *Range  `json:"range,omitempty"`
	RangeLength *uint32 `json:"rangeLength,omitempty"` // deprecated by LSP, ignored
	Text        string  `json:"text"`
}

// Kind reports which variant the event is.
func (e TextDocumentContentChangeEvent) Kind() ChangeKind {
	if e.Range == nil {
		return ChangeFull
	}
	return ChangeRanged
}

// DidOpenTextDocumentParams is the payload of textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidChangeTextDocumentParams is the payload of textDocument/didChange.
// ContentChanges apply in order, each against the result of the previous one.
type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// DidCloseTextDocumentParams is the payload of textDocument/didClose.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// DidSaveTextDocumentParams is the payload of textDocument/didSave.
type DidSaveTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Text         *string                `json:"text,omitempty"`
}

// CancelParams is the payload of $/cancelRequest. ID is a number or string.
type CancelParams struct {
	ID json.RawMessage `json:"id"`
}

// DidChangeConfigurationParams is the payload of
// workspace/didChangeConfiguration.
type DidChangeConfigurationParams struct {
	Settings json.RawMessage `json:"settings,omitempty"`
}

// WorkspaceFolder is a root folder opened by the client.
type WorkspaceFolder struct {
	URI  DocumentURI `json:"uri"`
	Name string      `json:"name"`
}

// ClientInfo describes the client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeParams is the subset of the initialize payload the server reads.
type InitializeParams struct {
	ProcessID             *int32            `json:"processId,omitempty"`
	ClientInfo            *ClientInfo       `json:"clientInfo,omitempty"`
	RootPath              string            `json:"rootPath,omitempty"`
	RootURI               DocumentURI       `json:"rootUri,omitempty"`
	WorkspaceFolders      []WorkspaceFolder `json:"workspaceFolders,omitempty"`
	InitializationOptions json.RawMessage   `json:"initializationOptions,omitempty"`
}

// InitializedParams is the (empty) payload of initialized.
type InitializedParams struct{}

// ServerInfo names the server in the initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeResult is the initialize response.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

// TextDocumentSyncKind selects how the client sends document changes.
type TextDocumentSyncKind int

const (
	None        TextDocumentSyncKind = 0
	Full        TextDocumentSyncKind = 1
	Incremental TextDocumentSyncKind = 2
)

// SaveOptions configures didSave notifications.
type SaveOptions struct {
	IncludeText bool `json:"includeText"`
}

// TextDocumentSyncOptions declares the document sync behavior.
type TextDocumentSyncOptions struct {
	OpenClose bool                 `json:"openClose"`
	Change    TextDocumentSyncKind `json:"change"`
	Save      *SaveOptions         `json:"save,omitempty"`
}

// DiagnosticOptions declares pull diagnostics support.
type DiagnosticOptions struct {
	Identifier            string `json:"identifier,omitempty"`
	InterFileDependencies bool   `json:"interFileDependencies"`
	WorkspaceDiagnostics  bool   `json:"workspaceDiagnostics"`
}

// ServerCapabilities declares the features the server supports.
type ServerCapabilities struct {
	TextDocumentSync   TextDocumentSyncOptions `json:"textDocumentSync"`
	DiagnosticProvider *DiagnosticOptions      `json:"diagnosticProvider,omitempty"`
}

// DiagnosticSeverity ranks a diagnostic.
type DiagnosticSeverity int

const (
	SeverityError       DiagnosticSeverity = 1
	SeverityWarning     DiagnosticSeverity = 2
	SeverityInformation DiagnosticSeverity = 3
	SeverityHint        DiagnosticSeverity = 4
)

func (s DiagnosticSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "information"
	case SeverityHint:
		return "hint"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// ParseSeverity parses the lower-case names returned by String. "info" is
// accepted for SeverityInformation.
func ParseSeverity(s string) (DiagnosticSeverity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return SeverityError, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "information", "info":
		return SeverityInformation, nil
	case "hint":
		return SeverityHint, nil
	}
	return 0, fmt.Errorf("unknown diagnostic severity %q", s)
}

// Diagnostic is an issue tied to a range of a document.
type Diagnostic struct {
	Range    Range              `json:"range"`
	Severity DiagnosticSeverity `json:"severity,omitempty"`
	Code     string             `json:"code,omitempty"`
	Source   string             `json:"source,omitempty"`
	Message  string             `json:"message"`
}

// PublishDiagnosticsParams is the payload of textDocument/publishDiagnostics.
// Diagnostics is never nil on the wire: an empty list clears the client's
// markers for the document.
type PublishDiagnosticsParams struct {
	URI         DocumentURI  `json:"uri"`
	Version     int32        `json:"version,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// MarshalJSON keeps an empty diagnostics list as [] rather than null.
func (p PublishDiagnosticsParams) MarshalJSON() ([]byte, error) {
	type alias PublishDiagnosticsParams
	if p.Diagnostics == nil {
		p.Diagnostics = []Diagnostic{}
	}
	return json.Marshal(alias(p))
}

// DocumentDiagnosticParams is the payload of textDocument/diagnostic.
type DocumentDiagnosticParams struct {
	TextDocument     TextDocumentIdentifier `json:"textDocument"`
	Identifier       string                 `json:"identifier,omitempty"`
	PreviousResultID string                 `json:"previousResultId,omitempty"`
}

// DocumentDiagnosticReportKind tags a pull diagnostics report.
type DocumentDiagnosticReportKind string

const (
	DiagnosticFull      DocumentDiagnosticReportKind = "full"
	DiagnosticUnchanged DocumentDiagnosticReportKind = "unchanged"
)

// FullDocumentDiagnosticReport carries the complete diagnostics of a document.
type FullDocumentDiagnosticReport struct {
	Kind     string       `json:"kind"`
	ResultID string       `json:"resultId,omitempty"`
	Items    []Diagnostic `json:"items"`
}

// RelatedFullDocumentDiagnosticReport is a full report plus reports for
// related documents.
type RelatedFullDocumentDiagnosticReport struct {
	FullDocumentDiagnosticReport
	RelatedDocuments map[DocumentURI]FullDocumentDiagnosticReport `json:"relatedDocuments,omitempty"`
}
