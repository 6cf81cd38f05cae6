// Package jsonrpc2 speaks JSON-RPC 2.0 over a Content-Length framed stream,
// the base protocol of the Language Server Protocol. Both ends of a Conn can
// send requests.
//
// Incoming messages are handled one at a time, in arrival order. A handler
// that needs to answer later returns ErrDeferred and calls Conn.Reply when
// it is done, which lets the read loop move on to the next message.
package jsonrpc2

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Error codes defined by JSON-RPC 2.0 and the Language Server Protocol.
const (
	CodeParseError           = -32700
	CodeInvalidRequest       = -32600
	CodeMethodNotFound       = -32601
	CodeInvalidParams        = -32602
	CodeInternalError        = -32603
	CodeServerNotInitialized = -32002
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
)

// Error is the error object of a response. Handlers return it to choose the
// code sent to the peer; any other error is reported as InternalError.
type Error struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewError returns an *Error with the given code and message.
func NewError(code int64, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc2: code %d message: %s", e.Code, e.Message)
}

var (
	// ErrClosed is returned for writes and calls on a closed Conn.
	ErrClosed = errors.New("jsonrpc2: connection is closed")
	// ErrDeferred is returned by a HandlerFunc that will answer the request
	// itself with Conn.Reply.
	ErrDeferred = errors.New("jsonrpc2: reply deferred")
)

// ID identifies a request. Peers may use numbers or strings.
type ID struct {
	Num      uint64
	Str      string
	IsString bool
}

func (id ID) String() string {
	if id.IsString {
		return strconv.Quote(id.Str)
	}
	return strconv.FormatUint(id.Num, 10)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsString {
		return json.Marshal(id.Str)
	}
	return json.Marshal(id.Num)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var n uint64
	if err := json.Unmarshal(data, &n); err == nil {
		*id = ID{Num: n}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("request id must be a number or a string: %w", err)
	}
	*id = ID{Str: s, IsString: true}
	return nil
}

// Request is a decoded incoming message. Notif is set when it carried no
// id, in which case no response is sent.
type Request struct {
	Method string
	Params json.RawMessage // nil when absent
	ID     ID
	Notif  bool // no id: no response is sent
}

// DecodeParams unmarshals the request params into v. Failures are reported
// as CodeInvalidParams errors.
func (r *Request) DecodeParams(v any) error {
	if len(r.Params) == 0 {
		return NewError(CodeInvalidParams, "%s: missing params", r.Method)
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return NewError(CodeInvalidParams, "%s: %v", r.Method, err)
	}
	return nil
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var wire struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
		ID     *ID             `json:"id"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = Request{Method: wire.Method, Params: wire.Params, Notif: wire.ID == nil}
	if wire.ID != nil {
		r.ID = *wire.ID
	}
	return nil
}

type wireRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      *ID             `json:"id,omitempty"`
}

type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Handler handles incoming JSON-RPC requests.
type Handler interface {
	Handle(ctx context.Context, conn *Conn, req *Request)
}

// HandlerFunc adapts a function to the Handler interface. The function returns
// (result, error); the Conn sends the matching response unless the request
// is a notification or the error is ErrDeferred.
type HandlerFunc func(ctx context.Context, conn *Conn, req *Request) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, conn *Conn, req *Request) {
	result, err := f(ctx, conn, req)
	if req.Notif || errors.Is(err, ErrDeferred) {
		return
	}
	if err := conn.Reply(req.ID, result, err); err != nil {
		conn.log.Debug().Err(err).Str("method", req.Method).Msg("sending response")
	}
}

// Conn is one end of a connection.
type Conn struct {
	r   *bufio.Reader
	wc  io.WriteCloser
	h   Handler
	log zerolog.Logger

	wmu  sync.Mutex // guards writes
	mu   sync.Mutex
	seq  uint64
	pend map[uint64]chan *wireResponse
	done chan struct{}
	once sync.Once
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithLogger sets the logger used for transport problems. The default
// discards everything.
func WithLogger(log zerolog.Logger) ConnOption {
	return func(c *Conn) { c.log = log }
}

// NewConn starts reading rwc on a new goroutine and passes every incoming
// request and notification to h, one at a time, in arrival order.
func NewConn(ctx context.Context, rwc io.ReadWriteCloser, h Handler, opts ...ConnOption) *Conn {
	c := &Conn{
		r:    bufio.NewReaderSize(rwc, 4096),
		wc:   rwc,
		h:    h,
		log:  zerolog.Nop(),
		pend: make(map[uint64]chan *wireResponse),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop(ctx)
	return c
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.wc.Close()
}

// DisconnectNotify is closed once the Conn is closed locally or the peer
// goes away.
func (c *Conn) DisconnectNotify() <-chan struct{} {
	return c.done
}

// Call sends a request and blocks until its response arrives, ctx is done,
// or the Conn closes. A non-nil result must be a pointer.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling %s params: %w", method, err)
	}

	c.mu.Lock()
	id := c.seq
	c.seq++
	ch := make(chan *wireResponse, 1)
	c.pend[id] = ch
	c.mu.Unlock()
	forget := func() {
		c.mu.Lock()
		delete(c.pend, id)
		c.mu.Unlock()
	}

	reqID := ID{Num: id}
	if err := c.write(&wireRequest{JSONRPC: "2.0", Method: method, Params: raw, ID: &reqID}); err != nil {
		forget()
		return err
	}

	select {
	case <-ctx.Done():
		forget()
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	}
}

// Notify sends a notification.
func (c *Conn) Notify(_ context.Context, method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling %s params: %w", method, err)
	}
	return c.write(&wireRequest{JSONRPC: "2.0", Method: method, Params: raw})
}

// Reply answers request id with result, or with err when it is non-nil.
// Errors that are not an *Error are sent as CodeInternalError.
func (c *Conn) Reply(id ID, result any, err error) error {
	resp := &wireResponse{JSONRPC: "2.0", ID: id}
	if err != nil {
		var rpcErr *Error
		if !errors.As(err, &rpcErr) {
			rpcErr = NewError(CodeInternalError, "%s", err.Error())
		}
		resp.Error = rpcErr
		return c.write(resp)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		resp.Error = NewError(CodeInternalError, "%s", err.Error())
		return c.write(resp)
	}
	resp.Result = raw
	return c.write(resp)
}

func (c *Conn) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if _, err := fmt.Fprintf(c.wc, "Content-Length: %d\r\n\r\n", len(data)); err != nil {
		return err
	}
	_, err = c.wc.Write(data)
	return err
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		c.once.Do(func() { close(c.done) })
		// fail pending calls
		c.mu.Lock()
		for id, ch := range c.pend {
			close(ch)
			delete(c.pend, id)
		}
		c.mu.Unlock()
	}()

	for {
		data, err := readFrame(c.r)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				c.log.Debug().Err(err).Msg("read loop stopped")
			}
			return
		}

		var probe struct {
			Method *string `json:"method"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed message")
			continue
		}

		if probe.Method == nil {
			c.dispatchResponse(data)
			continue
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.log.Warn().Err(err).Str("method", *probe.Method).Msg("dropping malformed request")
			continue
		}
		c.h.Handle(ctx, c, &req)
	}
}

func (c *Conn) dispatchResponse(data []byte) {
	var resp wireResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed response")
		return
	}
	c.mu.Lock()
	ch := c.pend[resp.ID.Num]
	delete(c.pend, resp.ID.Num)
	c.mu.Unlock()
	if ch == nil {
		c.log.Debug().Stringer("id", resp.ID).Msg("response for unknown request")
		return
	}
	ch <- &resp
}

// readFrame reads one Content-Length framed message from r. Header names
// are case-insensitive; headers other than Content-Length are ignored.
func readFrame(r *bufio.Reader) ([]byte, error) {
	contentLength := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header %q", line)
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("bad Content-Length %q", value)
			}
			contentLength = n
		}
	}
	if contentLength < 0 {
		return nil, errors.New("missing Content-Length header")
	}
	body := make([]byte, contentLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
