// Package sse decodes the server-sent-events wire format used by the
// runner daemon for streaming generation output.
//
// The decoder is deliberately small: it turns a byte stream into discrete
// frames and nothing more. Mapping frame payloads onto typed events is the
// caller's job (see the api package). Frames are delimited by blank lines;
// within a frame the decoder understands the `data:`, `event:`, `id:` and
// `retry:` fields and ignores comment lines (leading colon).
//
// A Decoder is a pull-based sequence:
//
//	dec := sse.NewDecoder(body)
//	for {
//	    frame, err := dec.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
//
// The sequence is finite and not restartable; once Next returns an error it
// returns the same error forever.
package sse

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Frame is one delimited unit of the SSE wire format.
type Frame struct {
	// ID is the last `id:` field seen in the frame, if any.
	ID string

	// Event is the `event:` field, if any. The runner daemon leaves this
	// empty and discriminates on the data payload instead.
	Event string

	// Data is the frame payload. Multiple `data:` lines are joined with
	// newlines, per the SSE specification.
	Data string

	// Retry is the reconnection delay in milliseconds, or -1 if the frame
	// carried no parseable `retry:` field.
	Retry int64
}

// Decoder reads SSE frames from a byte stream.
type Decoder struct {
	scanner *bufio.Scanner
	err     error
}

// Buffer limits for a single wire line. Generation output arrives in small
// token-sized frames, but completion frames echo the full output.
const (
	initialBufSize   = 64 * 1024
	maxScanTokenSize = 10 * 1024 * 1024
)

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialBufSize), maxScanTokenSize)
	return &Decoder{scanner: scanner}
}

// Next returns the next frame from the stream.
//
// It returns io.EOF when the stream ends cleanly on a frame boundary and
// io.ErrUnexpectedEOF when the stream ends with a partially received frame
// (a dropped connection mid-generation looks like the latter). Frames with
// no data field (comment-only keepalives) are skipped.
func (d *Decoder) Next() (*Frame, error) {
	if d.err != nil {
		return nil, d.err
	}

	frame := &Frame{Retry: -1}
	var data []string
	dirty := false

	for d.scanner.Scan() {
		line := strings.TrimSuffix(d.scanner.Text(), "\r")

		if line == "" {
			// Dispatch boundary. Frames without data are dropped, not
			// surfaced: the daemon uses data-less frames only as
			// connection keepalives.
			if len(data) == 0 {
				frame = &Frame{Retry: -1}
				dirty = false
				continue
			}
			frame.Data = strings.Join(data, "\n")
			return frame, nil
		}

		if strings.HasPrefix(line, ":") {
			// Comment line.
			continue
		}

		field, value := splitField(line)
		dirty = true
		switch field {
		case "data":
			data = append(data, value)
		case "event":
			frame.Event = value
		case "id":
			frame.ID = value
		case "retry":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				frame.Retry = n
			}
		default:
			// Unknown fields are ignored per the SSE specification.
		}
	}

	if err := d.scanner.Err(); err != nil {
		d.err = err
		return nil, err
	}

	// Stream ended. A pending partial frame means the peer went away
	// mid-event; callers treat that as a dropped connection.
	if dirty || len(data) > 0 {
		d.err = io.ErrUnexpectedEOF
	} else {
		d.err = io.EOF
	}
	return nil, d.err
}

// splitField splits an SSE line into field name and value, trimming the
// single optional space after the colon.
func splitField(line string) (field, value string) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, ""
	}
	field = line[:idx]
	value = line[idx+1:]
	value = strings.TrimPrefix(value, " ")
	return field, value
}
