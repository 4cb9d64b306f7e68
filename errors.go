package pantry

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/pantry-go/api"
	"github.com/randalmurphal/pantry-go/transport"
)

// AuthorizationError means the client's cached grants do not cover the
// attempted operation. It is raised before any network traffic; the
// daemon never saw the call.
type AuthorizationError struct {
	Capability Capability
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("pantry: capability %s not granted", e.Capability)
}

// StateError means a session operation was attempted in a state that
// does not allow it.
type StateError struct {
	Op    string
	State SessionState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("pantry: cannot %s in state %s", e.Op, e.State)
}

// GenerationError is the daemon reporting that a generation failed after
// the stream opened. The session is closed when it is delivered.
type GenerationError struct {
	Message string
}

func (e *GenerationError) Error() string {
	return "pantry: generation failed: " + e.Message
}

// IsAuthorization reports whether err is a client-side grant refusal or
// a daemon-side permission rejection.
func IsAuthorization(err error) bool {
	var aerr *AuthorizationError
	if errors.As(err, &aerr) {
		return true
	}
	var apiErr *api.APIError
	return errors.As(err, &apiErr) && apiErr.Unauthorized()
}

// IsState reports whether err is a session lifecycle violation.
func IsState(err error) bool {
	var serr *StateError
	return errors.As(err, &serr)
}

// IsTransport reports whether err originated below the API, in dialing
// or timeouts rather than daemon semantics.
func IsTransport(err error) bool {
	var terr *transport.Error
	return errors.As(err, &terr)
}

// IsTimeout reports whether err is a transport deadline failure.
func IsTimeout(err error) bool {
	var terr *transport.Error
	return errors.As(err, &terr) && terr.Kind == transport.KindTimeout
}
