package api

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/pantry-go/sse"
)

// EventType discriminates the payloads a prompt stream can carry.
type EventType string

const (
	// EventPromptProgress carries newly generated text in Next; Previous
	// is everything generated before it.
	EventPromptProgress EventType = "PromptProgress"

	// EventPromptCompletion ends a successful generation; Previous holds
	// the complete output.
	EventPromptCompletion EventType = "PromptCompletion"

	// EventPromptError ends a failed generation; Message explains why.
	EventPromptError EventType = "PromptError"

	// EventHeartbeat is a keepalive the daemon emits while the model is
	// busy between tokens. It carries no text.
	EventHeartbeat EventType = "Heartbeat"
)

// EventPayload is the typed part of a stream event.
type EventPayload struct {
	Type     EventType `json:"type"`
	Previous string    `json:"previous,omitempty"`
	Next     string    `json:"next,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// StreamEvent is one frame of a prompt stream, decoded from its SSE data
// field.
type StreamEvent struct {
	StreamID      string            `json:"stream_id"`
	Timestamp     time.Time         `json:"timestamp"`
	CallTimestamp time.Time         `json:"call_timestamp"`
	Parameters    map[string]string `json:"parameters,omitempty"`
	Input         string            `json:"input"`
	ModelUUID     uuid.UUID         `json:"llm_uuid"`
	SessionID     uuid.UUID         `json:"session"`
	Event         EventPayload      `json:"event"`
}

// StreamReader decodes one prompt stream. Next has a single caller, but
// Close may race it from another goroutine to tear the stream down; the
// sticky error is guarded for that.
type StreamReader struct {
	body io.ReadCloser
	dec  *sse.Decoder

	mu  sync.Mutex
	err error
}

// NewStreamReader wraps an open SSE body. The reader owns the body.
func NewStreamReader(body io.ReadCloser) *StreamReader {
	return &StreamReader{body: body, dec: sse.NewDecoder(body)}
}

// fail records the first terminal error and returns the sticky one.
func (r *StreamReader) fail(err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
	return r.err
}

// Next returns the next event. io.EOF marks a cleanly closed stream.
// Any other error is terminal: a cut connection yields the transport
// error, a malformed frame yields a *ProtocolError, and every later call
// repeats the same error.
func (r *StreamReader) Next() (*StreamEvent, error) {
	r.mu.Lock()
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	frame, err := r.dec.Next()
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = &ProtocolError{Reason: "stream ended mid-frame", Err: err}
		}
		return nil, r.fail(err)
	}

	var event StreamEvent
	if err := json.Unmarshal([]byte(frame.Data), &event); err != nil {
		return nil, r.fail(&ProtocolError{Reason: "undecodable stream event", Err: err})
	}

	switch event.Event.Type {
	case EventPromptProgress, EventPromptCompletion, EventPromptError, EventHeartbeat:
	default:
		return nil, r.fail(&ProtocolError{Reason: "unknown event type " + string(event.Event.Type)})
	}

	return &event, nil
}

// Close releases the underlying connection and unblocks a concurrent
// Next; closing a response body is safe alongside reads from it.
// Closing mid-stream tells the daemon to abort generation. Close is
// idempotent.
func (r *StreamReader) Close() error {
	r.fail(io.EOF)
	return r.body.Close()
}
