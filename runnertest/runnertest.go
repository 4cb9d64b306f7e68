// Package runnertest runs an in-process fake of the pantry daemon for
// tests. It speaks the same routes and SSE wire format, keeps its state
// in memory, and records how often each route was hit so tests can
// assert that gated calls never reached the network.
package runnertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/randalmurphal/pantry-go/api"
)

type registeredUser struct {
	name   string
	apiKey string
	perms  api.Permissions
}

type session struct {
	modelUUID uuid.UUID
	params    map[string]string
}

// Server is a fake daemon bound to a loopback listener.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	users    map[uuid.UUID]registeredUser
	models   map[string]api.ModelStatus
	running  map[string]api.RunningModel
	sessions map[uuid.UUID]session
	requests map[uuid.UUID]api.RequestStatus
	hits     map[string]int

	grant       api.Permissions
	autoApprove bool
	chunks      []string
	heartbeats  int
	rawStream   []byte
	dropStream  bool
	stall       time.Duration
}

// Option configures the fake before it starts serving.
type Option func(*Server)

// WithGrant sets the permissions handed to every registration.
func WithGrant(p api.Permissions) Option {
	return func(s *Server) { s.grant = p }
}

// WithModel adds a model to the registry. Running models also get a live
// instance with a fresh UUID.
func WithModel(m api.ModelStatus) Option {
	return func(s *Server) {
		s.models[m.ID] = m
		if m.Running {
			s.running[m.ID] = api.RunningModel{Model: m, UUID: uuid.New()}
		}
	}
}

// WithResponse sets the chunks every generation streams before its
// completion event. The default is a single "ok".
func WithResponse(chunks ...string) Option {
	return func(s *Server) { s.chunks = chunks }
}

// WithHeartbeats emits n heartbeat events before the first chunk.
func WithHeartbeats(n int) Option {
	return func(s *Server) { s.heartbeats = n }
}

// WithRawStream replaces generated streams with raw bytes, for feeding
// the client malformed frames.
func WithRawStream(b []byte) Option {
	return func(s *Server) { s.rawStream = b }
}

// WithStreamDrop kills the connection after the first chunk instead of
// completing, simulating a daemon crash mid-generation.
func WithStreamDrop() Option {
	return func(s *Server) { s.dropStream = true }
}

// WithStall pauses after the heartbeats, before any text, as a model
// stuck on a long prefill would. The stall ends early if the client
// disconnects.
func WithStall(d time.Duration) Option {
	return func(s *Server) { s.stall = d }
}

// WithAutoApprove settles every approval request as approved
// immediately instead of leaving it awaiting.
func WithAutoApprove() Option {
	return func(s *Server) { s.autoApprove = true }
}

// NewServer starts a fake daemon. Callers own it and must Close it.
func NewServer(opts ...Option) *Server {
	s := &Server{
		users:    make(map[uuid.UUID]registeredUser),
		models:   make(map[string]api.ModelStatus),
		running:  make(map[string]api.RunningModel),
		sessions: make(map[uuid.UUID]session),
		requests: make(map[uuid.UUID]api.RequestStatus),
		hits:     make(map[string]int),
		chunks:   []string{"ok"},
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(s.countHits)
	r.Post("/register_user", s.handleRegister)
	r.Post("/get_permissions", s.handleGetPermissions)
	r.Post("/request_permissions", s.handleRequestPermissions)
	r.Post("/request_download", s.handleRequest("download", api.CapRequestDownload))
	r.Post("/request_load", s.handleRequest("load", api.CapRequestLoad))
	r.Post("/request_unload", s.handleRequest("unload", api.CapRequestUnload))
	r.Post("/get_request_status", s.handleRequestStatus)
	r.Post("/get_available_llms", s.handleAvailable)
	r.Post("/get_running_llms", s.handleRunning)
	r.Post("/get_llm_status", s.handleModelStatus)
	r.Post("/load_llm", s.handleLoad)
	r.Post("/load_llm_flex", s.handleLoadFlex)
	r.Post("/unload_llm", s.handleUnload)
	r.Post("/download_llm", s.handleDownload)
	r.Post("/create_session", s.handleCreateSession)
	r.Post("/create_session_id", s.handleCreateSessionByID)
	r.Post("/create_session_flex", s.handleCreateSessionFlex)
	r.Post("/prompt_session_stream", s.handlePromptStream)
	r.Post("/interrupt_session", s.handleInterrupt)
	r.Post("/bare_model", s.handleBareModel)
	r.Post("/bare_model_flex", s.handleBareModel)

	s.srv = httptest.NewServer(r)
	return s
}

// URL is the fake daemon's base URL.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts the listener down.
func (s *Server) Close() { s.srv.Close() }

// Hits reports how many times a route was called.
func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

// SessionCount reports how many sessions were created.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ApproveRequest settles an awaiting request, as an operator would.
func (s *Server) ApproveRequest(id uuid.UUID) {
	s.setRequest(id, api.RequestApproved)
}

// DenyRequest settles an awaiting request with a denial.
func (s *Server) DenyRequest(id uuid.UUID) {
	s.setRequest(id, api.RequestDenied)
}

func (s *Server) setRequest(id uuid.UUID, state api.RequestState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return
	}
	req.Status = state
	s.requests[id] = req
}

func (s *Server) countHits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": fmt.Sprintf(format, args...)})
}

func decode[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body: %v", err)
		return v, false
	}
	return v, true
}

// authorize verifies the identity and, when required is non-empty, the
// grant.
func (s *Server) authorize(w http.ResponseWriter, id api.Identity, required api.Capability) bool {
	s.mu.Lock()
	user, ok := s.users[id.UserID]
	s.mu.Unlock()

	if !ok || user.apiKey != id.APIKey {
		writeError(w, http.StatusUnauthorized, "unknown user or bad api key")
		return false
	}
	if required != "" && !user.perms.Has(required) {
		writeError(w, http.StatusForbidden, "capability %s not granted", required)
		return false
	}
	return true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[struct {
		UserName string `json:"user_name"`
	}](w, r)
	if !ok {
		return
	}

	id := uuid.New()
	key := uuid.NewString()
	s.mu.Lock()
	s.users[id] = registeredUser{name: req.UserName, apiKey: key, perms: s.grant}
	perms := s.grant
	s.mu.Unlock()

	writeJSON(w, api.UserInfo{ID: id, Name: req.UserName, APIKey: key, Permissions: &perms})
}

func (s *Server) handleGetPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := decode[api.Identity](w, r)
	if !ok || !s.authorize(w, id, "") {
		return
	}
	s.mu.Lock()
	perms := s.users[id.UserID].perms
	s.mu.Unlock()
	writeJSON(w, perms)
}

func (s *Server) handleRequestPermissions(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[struct {
		api.Identity
		Requested api.Permissions `json:"requested_permissions"`
	}](w, r)
	if !ok || !s.authorize(w, req.Identity, "") {
		return
	}

	status := s.newRequest("permissions")
	if s.autoApprove {
		s.mu.Lock()
		user := s.users[req.UserID]
		user.perms = req.Requested
		s.users[req.UserID] = user
		s.mu.Unlock()
	}
	writeJSON(w, status)
}

func (s *Server) handleRequest(kind string, required api.Capability) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := decode[api.Identity](w, r)
		if !ok || !s.authorize(w, id, required) {
			return
		}
		writeJSON(w, s.newRequest(kind))
	}
}

func (s *Server) newRequest(kind string) api.RequestStatus {
	status := api.RequestStatus{ID: uuid.New(), Type: kind, Status: api.RequestAwaiting}
	if s.autoApprove {
		status.Status = api.RequestApproved
	}
	s.mu.Lock()
	s.requests[status.ID] = status
	s.mu.Unlock()
	return status
}

func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[struct {
		api.Identity
		RequestID uuid.UUID `json:"request_id"`
	}](w, r)
	if !ok || !s.authorize(w, req.Identity, "") {
		return
	}

	s.mu.Lock()
	status, found := s.requests[req.RequestID]
	s.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "unknown request %s", req.RequestID)
		return
	}
	writeJSON(w, status)
}

func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	id, ok := decode[api.Identity](w, r)
	if !ok || !s.authorize(w, id, api.CapViewModels) {
		return
	}

	s.mu.Lock()
	models := make([]api.ModelStatus, 0, len(s.models))
	for _, m := range s.models {
		models = append(models, m)
	}
	s.mu.Unlock()
	writeJSON(w, models)
}

func (s *Server) handleRunning(w http.ResponseWriter, r *http.Request) {
	id, ok := decode[api.Identity](w, r)
	if !ok || !s.authorize(w, id, api.CapViewModels) {
		return
	}

	s.mu.Lock()
	running := make([]api.RunningModel, 0, len(s.running))
	for _, m := range s.running {
		running = append(running, m)
	}
	s.mu.Unlock()
	writeJSON(w, running)
}

func (s *Server) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[struct {
		api.Identity
		ModelID string `json:"llm_id"`
	}](w, r)
	if !ok || !s.authorize(w, req.Identity, api.CapViewModels) {
		return
	}

	s.mu.Lock()
	model, found := s.models[req.ModelID]
	s.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "unknown model %s", req.ModelID)
		return
	}
	writeJSON(w, model)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[struct {
		api.Identity
		ModelID string `json:"llm_id"`
	}](w, r)
	if !ok || !s.authorize(w, req.Identity, api.CapLoadModel) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	model, found := s.models[req.ModelID]
	if !found {
		writeError(w, http.StatusNotFound, "unknown model %s", req.ModelID)
		return
	}
	model.Running = true
	s.models[req.ModelID] = model
	running := api.RunningModel{Model: model, UUID: uuid.New()}
	s.running[req.ModelID] = running
	writeJSON(w, running)
}

func (s *Server) handleLoadFlex(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[struct {
		api.Identity
		Filter api.ModelFilter `json:"filter"`
	}](w, r)
	if !ok || !s.authorize(w, req.Identity, api.CapLoadModel) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	model, found := s.pickModel(req.Filter)
	if !found {
		writeError(w, http.StatusNotFound, "no model satisfies filter")
		return
	}
	model.Running = true
	s.models[model.ID] = model
	running := api.RunningModel{Model: model, UUID: uuid.New()}
	s.running[model.ID] = running
	writeJSON(w, running)
}

// pickModel applies the subset of filter semantics tests rely on: ID and
// family constraints. Callers hold s.mu.
func (s *Server) pickModel(filter api.ModelFilter) (api.ModelStatus, bool) {
	for _, m := range s.models {
		if filter.ID != nil && m.ID != *filter.ID {
			continue
		}
		if filter.FamilyID != nil && m.FamilyID != *filter.FamilyID {
			continue
		}
		return m, true
	}
	return api.ModelStatus{}, false
}

func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[struct {
		api.Identity
		ModelID string `json:"llm_id"`
	}](w, r)
	if !ok || !s.authorize(w, req.Identity, api.CapUnloadModel) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.running[req.ModelID]; !found {
		writeError(w, http.StatusNotFound, "model %s is not running", req.ModelID)
		return
	}
	delete(s.running, req.ModelID)
	if model, found := s.models[req.ModelID]; found {
		model.Running = false
		s.models[req.ModelID] = model
	}
	writeJSON(w, map[string]bool{"unloaded": true})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[struct {
		api.Identity
		Entry api.RegistryEntry `json:"llm_registry_entry"`
	}](w, r)
	if !ok || !s.authorize(w, req.Identity, api.CapDownloadModel) {
		return
	}

	s.mu.Lock()
	s.models[req.Entry.ID] = api.ModelStatus{
		ID:            req.Entry.ID,
		FamilyID:      req.Entry.FamilyID,
		Organization:  req.Entry.Organization,
		Name:          req.Entry.Name,
		ConnectorType: req.Entry.ConnectorType,
		Capabilities:  req.Entry.Capabilities,
		Downloaded:    true,
	}
	s.mu.Unlock()
	writeJSON(w, s.newRequest("download"))
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[struct {
		api.Identity
		ModelUUID uuid.UUID         `json:"llm_uuid"`
		Params    map[string]string `json:"user_session_parameters"`
	}](w, r)
	if !ok || !s.authorize(w, req.Identity, api.CapCreateSession) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, running := range s.running {
		if running.UUID == req.ModelUUID {
			writeJSON(w, s.newSession(running.UUID, req.Params))
			return
		}
	}
	writeError(w, http.StatusNotFound, "no running model %s", req.ModelUUID)
}

func (s *Server) handleCreateSessionByID(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[struct {
		api.Identity
		ModelID string            `json:"llm_id"`
		Params  map[string]string `json:"user_session_parameters"`
	}](w, r)
	if !ok || !s.authorize(w, req.Identity, api.CapCreateSession) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	running, found := s.running[req.ModelID]
	if !found {
		writeError(w, http.StatusNotFound, "model %s is not running", req.ModelID)
		return
	}
	writeJSON(w, s.newSession(running.UUID, req.Params))
}

func (s *Server) handleCreateSessionFlex(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[struct {
		api.Identity
		Filter api.ModelFilter   `json:"filter"`
		Params map[string]string `json:"user_session_parameters"`
	}](w, r)
	if !ok || !s.authorize(w, req.Identity, api.CapCreateSession) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	model, found := s.pickModel(req.Filter)
	if !found {
		writeError(w, http.StatusNotFound, "no model satisfies filter")
		return
	}
	running, found := s.running[model.ID]
	if !found {
		writeError(w, http.StatusNotFound, "model %s is not running", model.ID)
		return
	}
	writeJSON(w, s.newSession(running.UUID, req.Params))
}

// newSession registers a session. Callers hold s.mu.
func (s *Server) newSession(modelUUID uuid.UUID, params map[string]string) api.CreateSessionResponse {
	id := uuid.New()
	s.sessions[id] = session{modelUUID: modelUUID, params: params}
	return api.CreateSessionResponse{
		SessionID:         id,
		ModelUUID:         modelUUID,
		SessionParameters: params,
	}
}

func (s *Server) handlePromptStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[struct {
		api.Identity
		ModelUUID uuid.UUID `json:"llm_uuid"`
		SessionID uuid.UUID `json:"session_id"`
		Prompt    string    `json:"prompt"`
	}](w, r)
	if !ok || !s.authorize(w, req.Identity, api.CapCreateSession) {
		return
	}

	s.mu.Lock()
	sess, found := s.sessions[req.SessionID]
	s.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "unknown session %s", req.SessionID)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	if s.rawStream != nil {
		w.Write(s.rawStream)
		return
	}

	emit := func(payload api.EventPayload) {
		event := api.StreamEvent{
			StreamID:  uuid.NewString(),
			Timestamp: time.Now().UTC(),
			Input:     req.Prompt,
			ModelUUID: sess.modelUUID,
			SessionID: req.SessionID,
			Event:     payload,
		}
		data, _ := json.Marshal(event)
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	for i := 0; i < s.heartbeats; i++ {
		emit(api.EventPayload{Type: api.EventHeartbeat})
	}

	if s.stall > 0 {
		select {
		case <-time.After(s.stall):
		case <-r.Context().Done():
			return
		}
	}

	var generated string
	for _, chunk := range s.chunks {
		emit(api.EventPayload{Type: api.EventPromptProgress, Previous: generated, Next: chunk})
		generated += chunk
		if s.dropStream {
			panic(http.ErrAbortHandler)
		}
	}
	emit(api.EventPayload{Type: api.EventPromptCompletion, Previous: generated})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[struct {
		api.Identity
		SessionID uuid.UUID `json:"session_id"`
	}](w, r)
	if !ok || !s.authorize(w, req.Identity, api.CapCreateSession) {
		return
	}

	s.mu.Lock()
	_, found := s.sessions[req.SessionID]
	s.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "unknown session %s", req.SessionID)
		return
	}
	writeJSON(w, map[string]bool{"interrupted": true})
}

func (s *Server) handleBareModel(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[struct {
		api.Identity
		ModelID string `json:"llm_id"`
	}](w, r)
	if !ok || !s.authorize(w, req.Identity, api.CapBareModel) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, running := range s.running {
		if req.ModelID == "" || id == req.ModelID {
			writeJSON(w, api.BareModelResponse{
				ModelUUID:  running.UUID,
				SocketPath: "/tmp/pantry-bare-" + running.UUID.String() + ".sock",
			})
			return
		}
	}
	writeError(w, http.StatusNotFound, "no running model for bare access")
}
