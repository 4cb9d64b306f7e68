package api

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(data string) string {
	return "data: " + data + "\n\n"
}

func eventJSON(typ, previous, next, message string) string {
	var b strings.Builder
	b.WriteString(`{"stream_id":"s1","input":"hi",`)
	b.WriteString(`"llm_uuid":"7f6a2f3e-0a57-4b6e-9f52-0a1f5f3d9c11",`)
	b.WriteString(`"session":"2d1e8c44-91f5-4c3a-b9e7-6f0d8a2b4c33",`)
	b.WriteString(`"event":{"type":"` + typ + `"`)
	if previous != "" {
		b.WriteString(`,"previous":"` + previous + `"`)
	}
	if next != "" {
		b.WriteString(`,"next":"` + next + `"`)
	}
	if message != "" {
		b.WriteString(`,"message":"` + message + `"`)
	}
	b.WriteString(`}}`)
	return b.String()
}

func TestStreamReader_ProgressThenCompletion(t *testing.T) {
	wire := frame(eventJSON("PromptProgress", "", "Hel", "")) +
		frame(eventJSON("PromptProgress", "Hel", "lo", "")) +
		frame(eventJSON("PromptCompletion", "Hello", "", ""))

	r := NewStreamReader(io.NopCloser(strings.NewReader(wire)))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventPromptProgress, ev.Event.Type)
	assert.Equal(t, "Hel", ev.Event.Next)
	assert.Equal(t, "s1", ev.StreamID)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "lo", ev.Event.Next)
	assert.Equal(t, "Hel", ev.Event.Previous)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventPromptCompletion, ev.Event.Type)
	assert.Equal(t, "Hello", ev.Event.Previous)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamReader_Heartbeat(t *testing.T) {
	wire := frame(eventJSON("Heartbeat", "", "", "")) +
		frame(eventJSON("PromptCompletion", "", "", ""))

	r := NewStreamReader(io.NopCloser(strings.NewReader(wire)))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventHeartbeat, ev.Event.Type)
	assert.Empty(t, ev.Event.Next)
}

func TestStreamReader_PromptError(t *testing.T) {
	wire := frame(eventJSON("PromptError", "", "", "model crashed"))

	r := NewStreamReader(io.NopCloser(strings.NewReader(wire)))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventPromptError, ev.Event.Type)
	assert.Equal(t, "model crashed", ev.Event.Message)
}

func TestStreamReader_UnknownEventTypeIsSticky(t *testing.T) {
	wire := frame(eventJSON("PromptTelemetry", "", "", "")) +
		frame(eventJSON("PromptCompletion", "", "", ""))

	r := NewStreamReader(io.NopCloser(strings.NewReader(wire)))

	_, err := r.Next()
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Reason, "PromptTelemetry")

	// The follow-up frame is never surfaced.
	_, err2 := r.Next()
	assert.Equal(t, err, err2)
}

func TestStreamReader_MalformedJSON(t *testing.T) {
	r := NewStreamReader(io.NopCloser(strings.NewReader(frame("{not json"))))

	_, err := r.Next()
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)

	_, err2 := r.Next()
	assert.Equal(t, err, err2)
}

func TestStreamReader_TruncatedStream(t *testing.T) {
	// No trailing blank line: the connection died mid-frame.
	wire := "data: " + eventJSON("PromptProgress", "", "Hel", "")
	r := NewStreamReader(io.NopCloser(strings.NewReader(wire)))

	_, err := r.Next()
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestStreamReader_CloseUnblocksNext(t *testing.T) {
	pr, pw := io.Pipe()
	r := NewStreamReader(pr)

	// Deliver one event, then leave the stream hanging.
	go func() {
		pw.Write([]byte(frame(eventJSON("PromptProgress", "", "Hel", ""))))
	}()

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventPromptProgress, ev.Event.Type)

	done := make(chan error, 1)
	go func() {
		_, err := r.Next()
		done <- err
	}()

	// Tear down from another goroutine while Next is blocked reading.
	assert.NoError(t, r.Close())
	pw.CloseWithError(io.ErrClosedPipe)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not unblock after Close")
	}

	// The sticky error keeps repeating after the teardown.
	_, err1 := r.Next()
	_, err2 := r.Next()
	assert.Equal(t, err1, err2)
}

func TestStreamReader_CloseIsIdempotent(t *testing.T) {
	r := NewStreamReader(io.NopCloser(strings.NewReader("")))
	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())

	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}
