package vfs

import (
	"errors"
	"fmt"
)

// ErrProtocolViolation is wrapped by every error that reports a client
// message inconsistent with the document lifecycle. Such errors are logged
// and the message is skipped.
var ErrProtocolViolation = errors.New("protocol violation")

var (
	// ErrDocumentNotOpen reports an operation on a URI that is not open.
	ErrDocumentNotOpen = fmt.Errorf("%w: document is not open", ErrProtocolViolation)
	// ErrConflict reports a didOpen for a URI that is already open.
	ErrConflict = fmt.Errorf("%w: document is already open", ErrProtocolViolation)
	// ErrStaleVersion reports a change whose version does not increase.
	ErrStaleVersion = fmt.Errorf("%w: stale document version", ErrProtocolViolation)
	// ErrClosed reports a mutation of a document that has been removed.
	ErrClosed = fmt.Errorf("%w: document is closed", ErrProtocolViolation)
)
