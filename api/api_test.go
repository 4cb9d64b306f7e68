package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/pantry-go/transport"
)

var (
	testUserID    = uuid.MustParse("7f6a2f3e-0a57-4b6e-9f52-0a1f5f3d9c11")
	testModelUUID = uuid.MustParse("3b2f6c18-44aa-4d3b-8f0e-9c7d5e1a2b3c")
)

func testIdentity() Identity {
	return Identity{UserID: testUserID, APIKey: "k-123"}
}

// newTestClient spins up an httptest daemon and a client against it.
// The handler receives the decoded request body as a map.
func newTestClient(t *testing.T, route string, status int, respond any, sawBody *map[string]any) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, route, r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		if sawBody != nil {
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(body, sawBody))
		}

		w.WriteHeader(status)
		if respond != nil {
			json.NewEncoder(w).Encode(respond)
		}
	}))
	t.Cleanup(srv.Close)

	tr, err := transport.New(transport.Config{BaseURL: srv.URL})
	require.NoError(t, err)
	return NewClient(tr, testIdentity())
}

func TestRegisterUser(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, "/register_user", http.StatusOK, UserInfo{
		ID:     testUserID,
		Name:   "pantry-cli",
		APIKey: "k-123",
	}, &body)

	info, err := c.RegisterUser(context.Background(), "pantry-cli")
	require.NoError(t, err)
	assert.Equal(t, "pantry-cli", body["user_name"])
	assert.Equal(t, testUserID, info.ID)
	assert.Equal(t, testIdentity(), info.Identity())
}

func TestAuthenticatedCallsCarryIdentity(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, "/get_available_llms", http.StatusOK, []ModelStatus{}, &body)

	_, err := c.GetAvailableModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testUserID.String(), body["user_id"])
	assert.Equal(t, "k-123", body["api_key"])
}

func TestSetIdentityDuringCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]ModelStatus{})
	}))
	t.Cleanup(srv.Close)

	tr, err := transport.New(transport.Config{BaseURL: srv.URL})
	require.NoError(t, err)
	c := NewClient(tr, testIdentity())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := c.GetAvailableModels(context.Background())
				assert.NoError(t, err)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		c.SetIdentity(Identity{UserID: uuid.New(), APIKey: "rotated"})
		_ = c.Identity()
	}
	wg.Wait()
	assert.Equal(t, "rotated", c.Identity().APIKey)
}

func TestLoadModel(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, "/load_llm", http.StatusOK, RunningModel{
		Model: ModelStatus{ID: "llama-7b", Running: true},
		UUID:  testModelUUID,
	}, &body)

	running, err := c.LoadModel(context.Background(), "llama-7b")
	require.NoError(t, err)
	assert.Equal(t, "llama-7b", body["llm_id"])
	assert.Equal(t, testModelUUID, running.UUID)
	assert.True(t, running.Model.Running)
}

func TestCreateSession(t *testing.T) {
	sessionID := uuid.New()
	var body map[string]any
	c := newTestClient(t, "/create_session", http.StatusOK, CreateSessionResponse{
		SessionID: sessionID,
		ModelUUID: testModelUUID,
	}, &body)

	created, err := c.CreateSession(context.Background(), testModelUUID, map[string]string{"system": "be brief"})
	require.NoError(t, err)
	assert.Equal(t, testModelUUID.String(), body["llm_uuid"])
	params, ok := body["user_session_parameters"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "be brief", params["system"])
	assert.Equal(t, sessionID, created.SessionID)
}

func TestRequestPermissions(t *testing.T) {
	requestID := uuid.New()
	var body map[string]any
	c := newTestClient(t, "/request_permissions", http.StatusOK, RequestStatus{
		ID:     requestID,
		Status: RequestAwaiting,
	}, &body)

	status, err := c.RequestPermissions(context.Background(), Permissions{LoadModel: true})
	require.NoError(t, err)
	requested, ok := body["requested_permissions"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, requested["perm_load_llm"])
	assert.Equal(t, false, requested["perm_session"])
	assert.Equal(t, RequestAwaiting, status.Status)
	assert.False(t, status.Status.Terminal())
}

func TestErrorPayloadMapping(t *testing.T) {
	c := newTestClient(t, "/unload_llm", http.StatusForbidden, map[string]string{
		"error": "permission perm_unload_llm not granted",
	}, nil)

	err := c.UnloadModel(context.Background(), "llama-7b")
	var aerr *APIError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, http.StatusForbidden, aerr.Status)
	assert.True(t, aerr.Unauthorized())
	assert.Contains(t, aerr.Message, "perm_unload_llm")
}

func TestUndecodableResponseIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	t.Cleanup(srv.Close)

	tr, err := transport.New(transport.Config{BaseURL: srv.URL})
	require.NoError(t, err)
	c := NewClient(tr, testIdentity())

	_, err = c.GetRunningModels(context.Background())
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestPromptSessionStream(t *testing.T) {
	sessionID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "count to two", body["prompt"])
		assert.Equal(t, sessionID.String(), body["session_id"])

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(frame(eventJSON("PromptProgress", "", "one ", ""))))
		w.Write([]byte(frame(eventJSON("PromptCompletion", "one two", "", ""))))
	}))
	t.Cleanup(srv.Close)

	tr, err := transport.New(transport.Config{BaseURL: srv.URL})
	require.NoError(t, err)
	c := NewClient(tr, testIdentity())

	stream, err := c.PromptSessionStream(context.Background(), testModelUUID, sessionID, "count to two", nil)
	require.NoError(t, err)
	defer stream.Close()

	ev, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, EventPromptProgress, ev.Event.Type)

	ev, err = stream.Next()
	require.NoError(t, err)
	assert.Equal(t, EventPromptCompletion, ev.Event.Type)
	assert.Equal(t, "one two", ev.Event.Previous)
}

func TestPromptSessionStream_StatusFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown session", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	tr, err := transport.New(transport.Config{BaseURL: srv.URL})
	require.NoError(t, err)
	c := NewClient(tr, testIdentity())

	_, err = c.PromptSessionStream(context.Background(), testModelUUID, uuid.New(), "hi", nil)
	var aerr *APIError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, http.StatusNotFound, aerr.Status)
}

func TestPermissionsHas(t *testing.T) {
	tests := []struct {
		name  string
		perms Permissions
		cap   Capability
		want  bool
	}{
		{"granted", Permissions{CreateSession: true}, CapCreateSession, true},
		{"not granted", Permissions{CreateSession: true}, CapLoadModel, false},
		{"superuser implies all", Permissions{Superuser: true}, CapBareModel, true},
		{"unknown capability", Permissions{}, Capability("bogus"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.perms.Has(tt.cap))
		})
	}
}

func TestRequestStateTerminal(t *testing.T) {
	tests := []struct {
		state RequestState
		want  bool
	}{
		{RequestAwaiting, false},
		{RequestApproved, true},
		{RequestDenied, true},
		{RequestCompleted, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.Terminal())
		})
	}
}

func TestRegistryEntrySchema(t *testing.T) {
	schema := RegistryEntrySchema()
	require.NotNil(t, schema)
	_, ok := schema.Properties.Get("connector_type")
	assert.True(t, ok)
	_, ok = schema.Properties.Get("url")
	assert.True(t, ok)
}
