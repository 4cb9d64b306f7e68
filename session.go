package pantry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/randalmurphal/pantry-go/api"
)

// SessionState names a point in the session lifecycle.
type SessionState string

const (
	// StateCreated means the session exists locally but the daemon has
	// not been asked for it yet.
	StateCreated SessionState = "created"

	// StateOpen means the daemon holds the session and no generation is
	// in flight.
	StateOpen SessionState = "open"

	// StateStreaming means one generation is in flight.
	StateStreaming SessionState = "streaming"

	// StateClosed is terminal. Sessions close on request, on stream
	// failure, and on generation timeout.
	StateClosed SessionState = "closed"
)

// Session is one prompt context on a model instance. The daemon keeps
// the conversation state; the Session tracks the lifecycle and enforces
// that at most one generation is in flight.
//
// Methods are safe to call from multiple goroutines, but a stream's
// event channel has a single consumer.
type Session struct {
	client *Client
	cfg    sessionConfig

	mu        sync.Mutex
	state     SessionState
	id        uuid.UUID
	modelUUID uuid.UUID
	params    map[string]string
	cancel    context.CancelFunc
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the daemon's session ID. Zero until Open succeeds.
func (s *Session) ID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// ModelUUID returns the live instance the session is bound to. Zero
// until Open succeeds.
func (s *Session) ModelUUID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelUUID
}

// Parameters returns the effective session parameters the daemon
// accepted, after merging model defaults.
func (s *Session) Parameters() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out
}

// Open asks the daemon to create the session. Valid only in the Created
// state. On failure the session stays Created, so a caller may retry;
// this package never retries on its own.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCreated {
		return &StateError{Op: "open", State: s.state}
	}
	if err := s.client.allowed(CapCreateSession); err != nil {
		return err
	}

	created, err := s.create(ctx)
	if err != nil {
		return err
	}

	s.id = created.SessionID
	s.modelUUID = created.ModelUUID
	s.params = created.SessionParameters
	s.state = StateOpen

	s.client.log.Debug().
		Str("session", s.id.String()).
		Str("model_uuid", s.modelUUID.String()).
		Msg("session open")
	return nil
}

func (s *Session) create(ctx context.Context) (*api.CreateSessionResponse, error) {
	switch {
	case s.cfg.filter != nil:
		return s.client.api.CreateSessionFlex(ctx, *s.cfg.filter, s.cfg.preference, s.cfg.params)
	case s.cfg.modelID != "":
		return s.client.api.CreateSessionByID(ctx, s.cfg.modelID, s.cfg.params)
	case s.cfg.modelUUID != uuid.Nil:
		return s.client.api.CreateSession(ctx, s.cfg.modelUUID, s.cfg.params)
	default:
		return nil, fmt.Errorf("pantry: session needs a model selector")
	}
}

// Prompt submits one generation and returns its event stream. Valid only
// in the Open state: Created sessions must Open first, a Streaming
// session already has a generation in flight, and Closed is terminal.
//
// The channel delivers zero or more EventToken and EventHeartbeat
// events followed by exactly one terminal event, then closes. After
// EventCompleted the session is Open again; after EventError it is
// Closed. A consumer that stops draining the channel should Close the
// session; that unblocks the stream and releases its goroutine.
func (s *Session) Prompt(ctx context.Context, prompt string) (<-chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateOpen:
	case StateStreaming:
		return nil, &StateError{Op: "prompt while a generation is in flight", State: s.state}
	default:
		return nil, &StateError{Op: "prompt", State: s.state}
	}
	if err := s.client.allowed(CapCreateSession); err != nil {
		return nil, err
	}

	// The stream lives until a terminal event, the caller's ctx ends,
	// the prompt timeout fires, or the session closes.
	var streamCtx context.Context
	var cancel context.CancelFunc
	if s.cfg.promptTimeout > 0 {
		streamCtx, cancel = context.WithTimeout(ctx, s.cfg.promptTimeout)
	} else {
		streamCtx, cancel = context.WithCancel(ctx)
	}

	reader, err := s.client.api.PromptSessionStream(streamCtx, s.modelUUID, s.id, prompt, s.cfg.params)
	if err != nil {
		cancel()
		// The daemon may or may not have started generating; the only
		// safe account of the session is that it is gone.
		s.state = StateClosed
		return nil, err
	}

	s.state = StateStreaming
	s.cancel = cancel

	events := make(chan Event, 16)
	go s.pump(streamCtx, reader, events)
	return events, nil
}

// pump drains the wire stream into events and settles the session state
// from the terminal event.
func (s *Session) pump(ctx context.Context, reader *api.StreamReader, events chan<- Event) {
	defer close(events)
	defer reader.Close()

	// Tear the connection down when the session closes or the prompt
	// timeout fires, so reader.Next unblocks.
	readerDone := make(chan struct{})
	defer close(readerDone)
	go func() {
		select {
		case <-ctx.Done():
			reader.Close()
		case <-readerDone:
		}
	}()

	// send delivers unless the consumer is gone and the buffer is full.
	// The non-blocking attempt comes first so a terminal event still
	// lands when ctx was cancelled but the buffer has room.
	send := func(e Event) bool {
		select {
		case events <- e:
			return true
		default:
		}
		select {
		case events <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		wireEvent, err := reader.Next()
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			} else if errors.Is(err, io.EOF) {
				err = &api.ProtocolError{Reason: "stream ended without a terminal event"}
			}
			s.settle(StateClosed)
			send(Event{Kind: EventError, Err: err})
			return
		}

		switch wireEvent.Event.Type {
		case api.EventPromptProgress:
			if !send(Event{Kind: EventToken, Text: wireEvent.Event.Next}) {
				s.settle(StateClosed)
				return
			}
		case api.EventHeartbeat:
			if !send(Event{Kind: EventHeartbeat}) {
				s.settle(StateClosed)
				return
			}
		case api.EventPromptCompletion:
			s.settle(StateOpen)
			send(Event{Kind: EventCompleted, Output: wireEvent.Event.Previous})
			return
		case api.EventPromptError:
			s.settle(StateClosed)
			send(Event{Kind: EventError, Err: &GenerationError{Message: wireEvent.Event.Message}})
			return
		}
	}
}

// settle moves the session out of Streaming once a stream ends. A Close
// that raced the stream's end wins; Closed is never reopened.
func (s *Session) settle(next SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.state == StateStreaming {
		s.state = next
	}
}

// Interrupt asks the daemon to stop the in-flight generation. The
// stream still finishes with its own terminal event; interrupting does
// not close the session.
func (s *Session) Interrupt(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStreaming {
		state := s.state
		s.mu.Unlock()
		return &StateError{Op: "interrupt", State: state}
	}
	modelUUID, id := s.modelUUID, s.id
	s.mu.Unlock()

	return s.client.api.InterruptSession(ctx, modelUUID, id)
}

// Close ends the session from any state and is idempotent. An in-flight
// stream is torn down; its channel receives a terminal error event and
// closes.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = StateClosed
	return nil
}
