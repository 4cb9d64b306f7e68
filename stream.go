package pantry

import (
	"strings"
)

// EventKind discriminates the events a Prompt stream delivers.
type EventKind string

const (
	// EventToken carries newly generated text in Text.
	EventToken EventKind = "token"

	// EventHeartbeat is a keepalive; it carries nothing.
	EventHeartbeat EventKind = "heartbeat"

	// EventCompleted ends a successful generation. Output holds the full
	// generated text.
	EventCompleted EventKind = "completed"

	// EventError ends a failed generation. Err explains the failure; the
	// session is closed by the time it is delivered.
	EventError EventKind = "error"
)

// Event is one item on a Prompt stream. Exactly one of the terminal
// kinds arrives last, then the channel closes.
type Event struct {
	Kind   EventKind
	Text   string
	Output string
	Err    error
}

// Terminal reports whether the event ends its stream.
func (e Event) Terminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventError
}

// Accumulator assembles a generation from its events. The zero value is
// ready to use:
//
//	var acc pantry.Accumulator
//	for ev := range events {
//		acc.Add(ev)
//	}
//	text, err := acc.Result()
type Accumulator struct {
	b         strings.Builder
	output    string
	completed bool
	err       error
}

// Add folds one event in. Events after a terminal one are ignored.
func (a *Accumulator) Add(ev Event) {
	if a.completed || a.err != nil {
		return
	}
	switch ev.Kind {
	case EventToken:
		a.b.WriteString(ev.Text)
	case EventCompleted:
		a.completed = true
		a.output = ev.Output
	case EventError:
		a.err = ev.Err
	}
}

// Text returns the generated text: the daemon's authoritative output
// when the generation completed, otherwise whatever tokens arrived.
func (a *Accumulator) Text() string {
	if a.completed {
		return a.output
	}
	return a.b.String()
}

// Completed reports whether a completion event arrived.
func (a *Accumulator) Completed() bool { return a.completed }

// Err returns the terminal error, if the stream ended with one.
func (a *Accumulator) Err() error { return a.err }

// Result returns the generated text and the terminal error together.
func (a *Accumulator) Result() (string, error) {
	return a.Text(), a.err
}

// Collect drains a Prompt stream to completion and returns the full
// generated text. It blocks until the stream's terminal event.
func Collect(events <-chan Event) (string, error) {
	var acc Accumulator
	for ev := range events {
		acc.Add(ev)
	}
	return acc.Result()
}
