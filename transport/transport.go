// Package transport dials the runner daemon over a local unix socket or
// TCP (optionally TLS) and exposes the two call shapes the client needs:
// request/response JSON calls and long-lived SSE streams.
//
// The transport is selected by configuration at construction, never
// auto-detected: same-machine installations talk to the daemon's unix
// socket, remote installations use a base URL. Failures surface as *Error
// with a Kind (Connect, Timeout, Protocol) and are never retried here;
// generation requests are not idempotent, so retry policy belongs to the
// caller.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Default timeouts, matching the daemon's expectations for a same-machine
// installation. Callers with slow models should raise HeaderTimeout: the
// daemon does not emit stream headers until the model has accepted the
// prompt.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultHeaderTimeout  = 60 * time.Second
	defaultDialTimeout    = 5 * time.Second
)

// streamContentType is the content type the daemon must declare on
// streaming responses.
const streamContentType = "text/event-stream"

// Config selects and tunes a transport.
//
// Exactly one of SocketPath or BaseURL must be set. TLS applies only to
// the BaseURL transport and only when the URL scheme is https.
type Config struct {
	// SocketPath is the daemon's unix socket, e.g. /tmp/pantrylocal.sock.
	SocketPath string

	// BaseURL is the daemon's HTTP base URL, e.g. http://localhost:9404
	// or https://runner.internal:9404.
	BaseURL string

	// TLS optionally overrides the TLS configuration for https base URLs.
	TLS *tls.Config

	// RequestTimeout bounds a whole request/response call.
	// Zero means DefaultRequestTimeout.
	RequestTimeout time.Duration

	// HeaderTimeout bounds the wait for response headers when opening a
	// stream; the stream body itself is unbounded. Zero means
	// DefaultHeaderTimeout.
	HeaderTimeout time.Duration
}

// Transport issues HTTP calls against a single runner daemon.
// It is safe for concurrent use; each open stream holds its own
// connection from the underlying pool, so concurrent sessions never read
// each other's frames.
type Transport struct {
	base    *url.URL
	client  *http.Client // request/response calls, bounded end to end
	streams *http.Client // streaming calls, bounded on headers only
}

// New builds a Transport from cfg.
func New(cfg Config) (*Transport, error) {
	if cfg.SocketPath != "" && cfg.BaseURL != "" {
		return nil, errors.New("transport: SocketPath and BaseURL are mutually exclusive")
	}
	if cfg.SocketPath == "" && cfg.BaseURL == "" {
		return nil, errors.New("transport: one of SocketPath or BaseURL is required")
	}

	requestTimeout := cfg.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = DefaultRequestTimeout
	}
	headerTimeout := cfg.HeaderTimeout
	if headerTimeout == 0 {
		headerTimeout = DefaultHeaderTimeout
	}

	var base *url.URL
	var dial func(ctx context.Context, network, addr string) (net.Conn, error)

	if cfg.SocketPath != "" {
		// The URL host is a placeholder; every connection goes to the
		// socket regardless.
		base = &url.URL{Scheme: "http", Host: "pantry"}
		socketPath := cfg.SocketPath
		dialer := &net.Dialer{Timeout: defaultDialTimeout}
		dial = func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", socketPath)
		}
	} else {
		parsed, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("transport: invalid base URL: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return nil, fmt.Errorf("transport: unsupported scheme %q", parsed.Scheme)
		}
		base = parsed
	}

	mkTransport := func(responseHeaderTimeout time.Duration) *http.Transport {
		t := &http.Transport{
			DialContext:           dial,
			TLSClientConfig:       cfg.TLS,
			ResponseHeaderTimeout: responseHeaderTimeout,
			TLSHandshakeTimeout:   defaultDialTimeout,
		}
		if dial == nil {
			t.DialContext = (&net.Dialer{Timeout: defaultDialTimeout}).DialContext
		}
		return t
	}

	return &Transport{
		base: base,
		client: &http.Client{
			Transport: mkTransport(0),
			Timeout:   requestTimeout,
		},
		streams: &http.Client{
			// No overall timeout: the body outlives any sane deadline.
			Transport: mkTransport(headerTimeout),
		},
	}, nil
}

// Send issues a request/response call and returns the raw response.
// The caller owns the response body. Non-2xx statuses are returned as-is;
// mapping them to API errors is the caller's concern.
func (t *Transport) Send(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := t.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classify("send "+path, err)
	}
	return resp, nil
}

// OpenStream issues a streaming call and returns the SSE body.
//
// The returned reader is one logical stream on its own connection;
// closing it releases the connection (the daemon treats that as client
// disconnect and aborts generation best-effort). A non-2xx status or a
// response that is not an event stream is an error and no body is
// returned.
func (t *Transport) OpenStream(ctx context.Context, method, path string, body io.Reader) (io.ReadCloser, error) {
	req, err := t.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", streamContentType)

	resp, err := t.streams.Do(req)
	if err != nil {
		return nil, classify("open stream "+path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Surface the daemon's error payload; it is small by contract.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: msg}
	}

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, streamContentType) {
		resp.Body.Close()
		return nil, &Error{
			Kind: KindProtocol,
			Op:   "open stream " + path,
			Err:  fmt.Errorf("unexpected content type %q", ct),
		}
	}

	return resp.Body, nil
}

func (t *Transport) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	rel, err := url.Parse(path)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Op: "build request", Err: err}
	}
	endpoint := t.base.ResolveReference(rel)

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Op: "build request", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
