package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/randalmurphal/pantry-go/transport"
)

// Client calls the daemon's routes directly, one method per route. It
// attaches the configured Identity to every authenticated call and does
// no capability gating of its own. Client is safe for concurrent use;
// the identity may be swapped while calls are in flight.
type Client struct {
	tr *transport.Transport

	mu sync.RWMutex
	id Identity
}

// NewClient wraps a transport. The identity may be zero before
// registration; RegisterUser is the only route that does not need one.
func NewClient(tr *transport.Transport, id Identity) *Client {
	return &Client{tr: tr, id: id}
}

// SetIdentity replaces the credentials used on subsequent calls.
func (c *Client) SetIdentity(id Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

// Identity returns the credentials currently attached to calls.
func (c *Client) Identity() Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// post sends body as JSON to path and decodes the response into out.
// A nil out discards the response body.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("api: encode %s request: %w", path, err)
	}

	resp, err := c.tr.Send(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProtocolError{Reason: "undecodable " + path + " response", Err: err}
	}
	return nil
}

// RegisterUser creates a new client record and returns its credentials.
// The daemon decides the initial permission set.
func (c *Client) RegisterUser(ctx context.Context, name string) (*UserInfo, error) {
	req := struct {
		UserName string `json:"user_name"`
	}{UserName: name}

	var info UserInfo
	if err := c.post(ctx, "/register_user", req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetPermissions fetches the grants currently attached to the identity.
func (c *Client) GetPermissions(ctx context.Context) (*Permissions, error) {
	var perms Permissions
	if err := c.post(ctx, "/get_permissions", c.Identity(), &perms); err != nil {
		return nil, err
	}
	return &perms, nil
}

// RequestPermissions queues an operator-approval request for the given
// grants. Approval is asynchronous; poll GetRequestStatus.
func (c *Client) RequestPermissions(ctx context.Context, requested Permissions) (*RequestStatus, error) {
	req := struct {
		Identity
		Requested Permissions `json:"requested_permissions"`
	}{Identity: c.Identity(), Requested: requested}

	var status RequestStatus
	if err := c.post(ctx, "/request_permissions", req, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RequestDownload queues an approval request to download a model.
func (c *Client) RequestDownload(ctx context.Context, entry RegistryEntry) (*RequestStatus, error) {
	req := struct {
		Identity
		Entry RegistryEntry `json:"llm_registry_entry"`
	}{Identity: c.Identity(), Entry: entry}

	var status RequestStatus
	if err := c.post(ctx, "/request_download", req, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RequestLoad queues an approval request to load a downloaded model.
func (c *Client) RequestLoad(ctx context.Context, modelID string) (*RequestStatus, error) {
	var status RequestStatus
	if err := c.post(ctx, "/request_load", c.modelIDRequest(modelID), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RequestLoadFlex queues an approval request to load whichever model
// satisfies the filter. It shares the /request_load route; the daemon
// tells the two apart by the body shape.
func (c *Client) RequestLoadFlex(ctx context.Context, filter ModelFilter, pref *ModelPreference) (*RequestStatus, error) {
	req := struct {
		Identity
		Filter     ModelFilter      `json:"filter"`
		Preference *ModelPreference `json:"preference,omitempty"`
	}{Identity: c.Identity(), Filter: filter, Preference: pref}

	var status RequestStatus
	if err := c.post(ctx, "/request_load", req, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RequestUnload queues an approval request to unload a running model.
func (c *Client) RequestUnload(ctx context.Context, modelID string) (*RequestStatus, error) {
	var status RequestStatus
	if err := c.post(ctx, "/request_unload", c.modelIDRequest(modelID), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetRequestStatus polls one approval request.
func (c *Client) GetRequestStatus(ctx context.Context, requestID uuid.UUID) (*RequestStatus, error) {
	req := struct {
		Identity
		RequestID uuid.UUID `json:"request_id"`
	}{Identity: c.Identity(), RequestID: requestID}

	var status RequestStatus
	if err := c.post(ctx, "/get_request_status", req, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// LoadModel loads a downloaded model and returns its live instance.
func (c *Client) LoadModel(ctx context.Context, modelID string) (*RunningModel, error) {
	var running RunningModel
	if err := c.post(ctx, "/load_llm", c.modelIDRequest(modelID), &running); err != nil {
		return nil, err
	}
	return &running, nil
}

// LoadModelFlex loads whichever model best satisfies the filter and
// preference. A nil preference leaves ranking to the daemon.
func (c *Client) LoadModelFlex(ctx context.Context, filter ModelFilter, pref *ModelPreference) (*RunningModel, error) {
	req := struct {
		Identity
		Filter     ModelFilter      `json:"filter"`
		Preference *ModelPreference `json:"preference,omitempty"`
	}{Identity: c.Identity(), Filter: filter, Preference: pref}

	var running RunningModel
	if err := c.post(ctx, "/load_llm_flex", req, &running); err != nil {
		return nil, err
	}
	return &running, nil
}

// UnloadModel stops a running model. Open sessions on it are dropped.
func (c *Client) UnloadModel(ctx context.Context, modelID string) error {
	return c.post(ctx, "/unload_llm", c.modelIDRequest(modelID), nil)
}

// DownloadModel starts downloading a registry entry and returns the
// request tracking it. Downloads are long; poll GetRequestStatus or
// GetModelStatus for completion.
func (c *Client) DownloadModel(ctx context.Context, entry RegistryEntry) (*RequestStatus, error) {
	req := struct {
		Identity
		Entry RegistryEntry `json:"llm_registry_entry"`
	}{Identity: c.Identity(), Entry: entry}

	var status RequestStatus
	if err := c.post(ctx, "/download_llm", req, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetModelStatus fetches one model's state by ID.
func (c *Client) GetModelStatus(ctx context.Context, modelID string) (*ModelStatus, error) {
	var status ModelStatus
	if err := c.post(ctx, "/get_llm_status", c.modelIDRequest(modelID), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetAvailableModels lists every model the daemon knows, downloaded or
// not.
func (c *Client) GetAvailableModels(ctx context.Context) ([]ModelStatus, error) {
	var models []ModelStatus
	if err := c.post(ctx, "/get_available_llms", c.Identity(), &models); err != nil {
		return nil, err
	}
	return models, nil
}

// GetRunningModels lists the live model instances.
func (c *Client) GetRunningModels(ctx context.Context) ([]RunningModel, error) {
	var running []RunningModel
	if err := c.post(ctx, "/get_running_llms", c.Identity(), &running); err != nil {
		return nil, err
	}
	return running, nil
}

// CreateSession opens a prompt session against a live instance.
func (c *Client) CreateSession(ctx context.Context, modelUUID uuid.UUID, params map[string]string) (*CreateSessionResponse, error) {
	req := struct {
		Identity
		ModelUUID uuid.UUID         `json:"llm_uuid"`
		Params    map[string]string `json:"user_session_parameters,omitempty"`
	}{Identity: c.Identity(), ModelUUID: modelUUID, Params: params}

	var created CreateSessionResponse
	if err := c.post(ctx, "/create_session", req, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// CreateSessionByID opens a session on a model addressed by registry ID
// rather than instance UUID. The model must already be running.
func (c *Client) CreateSessionByID(ctx context.Context, modelID string, params map[string]string) (*CreateSessionResponse, error) {
	req := struct {
		Identity
		ModelID string            `json:"llm_id"`
		Params  map[string]string `json:"user_session_parameters,omitempty"`
	}{Identity: c.Identity(), ModelID: modelID, Params: params}

	var created CreateSessionResponse
	if err := c.post(ctx, "/create_session_id", req, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// CreateSessionFlex opens a session on whichever running model best
// satisfies the filter and preference.
func (c *Client) CreateSessionFlex(ctx context.Context, filter ModelFilter, pref *ModelPreference, params map[string]string) (*CreateSessionResponse, error) {
	req := struct {
		Identity
		Filter     ModelFilter       `json:"filter"`
		Preference *ModelPreference  `json:"preference,omitempty"`
		Params     map[string]string `json:"user_session_parameters,omitempty"`
	}{Identity: c.Identity(), Filter: filter, Preference: pref, Params: params}

	var created CreateSessionResponse
	if err := c.post(ctx, "/create_session_flex", req, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// PromptSessionStream submits a prompt and returns the event stream for
// it. The caller must drain or close the reader; the connection stays
// open until then.
func (c *Client) PromptSessionStream(ctx context.Context, modelUUID, sessionID uuid.UUID, prompt string, params map[string]string) (*StreamReader, error) {
	req := struct {
		Identity
		ModelUUID uuid.UUID         `json:"llm_uuid"`
		SessionID uuid.UUID         `json:"session_id"`
		Prompt    string            `json:"prompt"`
		Params    map[string]string `json:"parameters,omitempty"`
	}{Identity: c.Identity(), ModelUUID: modelUUID, SessionID: sessionID, Prompt: prompt, Params: params}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("api: encode /prompt_session_stream request: %w", err)
	}

	body, err := c.tr.OpenStream(ctx, http.MethodPost, "/prompt_session_stream", bytes.NewReader(payload))
	if err != nil {
		var serr *transport.StatusError
		if errors.As(err, &serr) {
			return nil, &APIError{Status: serr.Code, Message: string(serr.Body)}
		}
		return nil, err
	}
	return NewStreamReader(body), nil
}

// InterruptSession asks the daemon to stop the session's in-flight
// generation. The stream still ends with its own terminal event.
func (c *Client) InterruptSession(ctx context.Context, modelUUID, sessionID uuid.UUID) error {
	req := struct {
		Identity
		ModelUUID uuid.UUID `json:"llm_uuid"`
		SessionID uuid.UUID `json:"session_id"`
	}{Identity: c.Identity(), ModelUUID: modelUUID, SessionID: sessionID}

	return c.post(ctx, "/interrupt_session", req, nil)
}

// BareModel loads a model if needed and exposes its raw connector
// endpoint, bypassing the session layer.
func (c *Client) BareModel(ctx context.Context, modelID string) (*BareModelResponse, error) {
	var bare BareModelResponse
	if err := c.post(ctx, "/bare_model", c.modelIDRequest(modelID), &bare); err != nil {
		return nil, err
	}
	return &bare, nil
}

// BareModelFlex is BareModel with filter-based model selection.
func (c *Client) BareModelFlex(ctx context.Context, filter ModelFilter, pref *ModelPreference) (*BareModelResponse, error) {
	req := struct {
		Identity
		Filter     ModelFilter      `json:"filter"`
		Preference *ModelPreference `json:"preference,omitempty"`
	}{Identity: c.Identity(), Filter: filter, Preference: pref}

	var bare BareModelResponse
	if err := c.post(ctx, "/bare_model_flex", req, &bare); err != nil {
		return nil, err
	}
	return &bare, nil
}

type modelIDRequest struct {
	Identity
	ModelID string `json:"llm_id"`
}

func (c *Client) modelIDRequest(modelID string) modelIDRequest {
	return modelIDRequest{Identity: c.Identity(), ModelID: modelID}
}
