package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"
)

// Kind classifies a transport failure.
type Kind string

const (
	// KindConnect means the daemon could not be reached at all: missing
	// socket, refused connection, DNS failure, TLS handshake failure.
	KindConnect Kind = "connect"

	// KindTimeout means a deadline elapsed while connecting, waiting for
	// headers, or waiting for the full response.
	KindTimeout Kind = "timeout"

	// KindProtocol means the daemon was reached but the exchange did not
	// follow the HTTP/SSE contract.
	KindProtocol Kind = "protocol"
)

// Error is a transport-layer failure. It wraps the underlying cause so
// callers can still use errors.Is against net and os sentinels.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the error is a deadline failure, matching the
// net.Error convention.
func (e *Error) Timeout() bool { return e.Kind == KindTimeout }

// StatusError reports a non-2xx response on a call that demanded success
// before a body could be handed over, such as opening a stream.
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("transport: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("transport: unexpected status %d: %s", e.Code, e.Body)
}

// classify wraps err in an *Error with the most specific Kind the error
// chain supports.
func classify(op string, err error) *Error {
	// url.Error adds nothing over its cause here.
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		err = uerr.Err
	}

	kind := KindProtocol
	switch {
	case isTimeout(err):
		kind = KindTimeout
	case isConnect(err):
		kind = KindConnect
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func isConnect(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, os.ErrNotExist) {
		return true
	}
	var derr *net.DNSError
	if errors.As(err, &derr) {
		return true
	}
	var oerr *net.OpError
	return errors.As(err, &oerr) && oerr.Op == "dial"
}
