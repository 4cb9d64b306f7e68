package pantry_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pantry "github.com/randalmurphal/pantry-go"
)

func TestAccumulatorPrefersCompletionOutput(t *testing.T) {
	var acc pantry.Accumulator
	acc.Add(pantry.Event{Kind: pantry.EventToken, Text: "Hel"})
	acc.Add(pantry.Event{Kind: pantry.EventHeartbeat})
	acc.Add(pantry.Event{Kind: pantry.EventToken, Text: "lo"})
	assert.Equal(t, "Hello", acc.Text())
	assert.False(t, acc.Completed())

	// The daemon's final rendition wins over concatenated tokens.
	acc.Add(pantry.Event{Kind: pantry.EventCompleted, Output: "Hello!"})
	assert.True(t, acc.Completed())
	assert.Equal(t, "Hello!", acc.Text())

	text, err := acc.Result()
	require.NoError(t, err)
	assert.Equal(t, "Hello!", text)
}

func TestAccumulatorKeepsPartialTextOnError(t *testing.T) {
	streamErr := errors.New("daemon went away")

	var acc pantry.Accumulator
	acc.Add(pantry.Event{Kind: pantry.EventToken, Text: "partial"})
	acc.Add(pantry.Event{Kind: pantry.EventError, Err: streamErr})

	text, err := acc.Result()
	assert.ErrorIs(t, err, streamErr)
	assert.Equal(t, "partial", text)
}

func TestAccumulatorIgnoresEventsAfterTerminal(t *testing.T) {
	var acc pantry.Accumulator
	acc.Add(pantry.Event{Kind: pantry.EventCompleted, Output: "done"})
	acc.Add(pantry.Event{Kind: pantry.EventToken, Text: "stray"})
	assert.Equal(t, "done", acc.Text())
}

func TestEventTerminal(t *testing.T) {
	assert.False(t, pantry.Event{Kind: pantry.EventToken}.Terminal())
	assert.False(t, pantry.Event{Kind: pantry.EventHeartbeat}.Terminal())
	assert.True(t, pantry.Event{Kind: pantry.EventCompleted}.Terminal())
	assert.True(t, pantry.Event{Kind: pantry.EventError}.Terminal())
}
