// Package api is the low-level wire client for the pantry daemon. It
// mirrors the daemon's HTTP surface one method per route, with the JSON
// field names the daemon uses. Most programs should use the root pantry
// package instead, which layers capability gating and session management
// on top.
package api

import (
	"github.com/google/uuid"
)

// Identity authenticates every call after registration. The daemon
// checks the pair on each request; there is no session cookie.
type Identity struct {
	UserID uuid.UUID `json:"user_id"`
	APIKey string    `json:"api_key"`
}

// UserInfo is the daemon's record of a registered client.
type UserInfo struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	APIKey      string       `json:"api_key"`
	Permissions *Permissions `json:"permissions,omitempty"`
}

// Identity derives the credential pair from a registration response.
func (u *UserInfo) Identity() Identity {
	return Identity{UserID: u.ID, APIKey: u.APIKey}
}

// Permissions is the fixed set of grants the daemon tracks per client.
// There are no free-form scopes; each field is an independent boolean.
type Permissions struct {
	Superuser       bool `json:"perm_superuser"`
	LoadModel       bool `json:"perm_load_llm"`
	UnloadModel     bool `json:"perm_unload_llm"`
	DownloadModel   bool `json:"perm_download_llm"`
	CreateSession   bool `json:"perm_session"`
	RequestDownload bool `json:"perm_request_download"`
	RequestLoad     bool `json:"perm_request_load"`
	RequestUnload   bool `json:"perm_request_unload"`
	ViewModels      bool `json:"perm_view_llms"`
	BareModel       bool `json:"perm_bare_model"`
}

// Capability names one permission field for gating checks.
type Capability string

const (
	CapSuperuser       Capability = "superuser"
	CapLoadModel       Capability = "load_model"
	CapUnloadModel     Capability = "unload_model"
	CapDownloadModel   Capability = "download_model"
	CapCreateSession   Capability = "create_session"
	CapRequestDownload Capability = "request_download"
	CapRequestLoad     Capability = "request_load"
	CapRequestUnload   Capability = "request_unload"
	CapViewModels      Capability = "view_models"
	CapBareModel       Capability = "bare_model"
)

// Has reports whether the capability is granted. Superuser implies
// everything.
func (p Permissions) Has(c Capability) bool {
	if p.Superuser {
		return true
	}
	switch c {
	case CapSuperuser:
		return p.Superuser
	case CapLoadModel:
		return p.LoadModel
	case CapUnloadModel:
		return p.UnloadModel
	case CapDownloadModel:
		return p.DownloadModel
	case CapCreateSession:
		return p.CreateSession
	case CapRequestDownload:
		return p.RequestDownload
	case CapRequestLoad:
		return p.RequestLoad
	case CapRequestUnload:
		return p.RequestUnload
	case CapViewModels:
		return p.ViewModels
	case CapBareModel:
		return p.BareModel
	}
	return false
}

// ConnectorType identifies the backend a model runs on.
type ConnectorType string

const (
	ConnectorGenericAPI ConnectorType = "GenericAPI"
	ConnectorLLMrs      ConnectorType = "LLMrs"
	ConnectorOpenAI     ConnectorType = "OpenAI"
)

// RegistryEntry describes a model available for download. The daemon's
// registry keys entries by ID; capabilities are integer ratings per
// category (higher is better).
type RegistryEntry struct {
	ID            string            `json:"id"`
	FamilyID      string            `json:"family_id"`
	Organization  string            `json:"organization"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	License       string            `json:"license,omitempty"`
	Homepage      string            `json:"homepage,omitempty"`
	DownloadURL   string            `json:"url"`
	ConnectorType ConnectorType     `json:"connector_type"`
	Capabilities  map[string]int    `json:"capabilities,omitempty"`
	Requirements  string            `json:"requirements,omitempty"`
	Tags          []string          `json:"tags,omitempty"`

	// Config holds connector settings fixed at download time. Parameters
	// and SessionParameters are defaults the daemon applies at load and
	// session creation; the UserParameters lists name which of them a
	// client may override.
	Config                map[string]string `json:"config,omitempty"`
	Parameters            map[string]string `json:"parameters,omitempty"`
	UserParameters        []string          `json:"user_parameters,omitempty"`
	SessionParameters     map[string]string `json:"session_parameters,omitempty"`
	UserSessionParameters []string          `json:"user_session_parameters,omitempty"`
}

// ModelStatus is the daemon's view of one known model.
type ModelStatus struct {
	ID            string         `json:"id"`
	FamilyID      string         `json:"family_id"`
	Organization  string         `json:"organization"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	ConnectorType ConnectorType  `json:"connector_type"`
	Capabilities  map[string]int `json:"capabilities,omitempty"`
	Downloaded    bool           `json:"downloaded"`
	Running       bool           `json:"running"`
}

// RunningModel pairs a loaded model with the UUID of its live instance.
// The UUID changes on every load; session routes address instances, not
// model IDs.
type RunningModel struct {
	Model ModelStatus `json:"llm_info"`
	UUID  uuid.UUID   `json:"uuid"`
}

// CapabilityFilter is one minimum-rating constraint inside a ModelFilter.
type CapabilityFilter struct {
	Category string `json:"capability_category"`
	Minimum  int    `json:"value"`
}

// ModelFilter narrows flex routes to an acceptable set of models. Nil
// fields do not constrain.
type ModelFilter struct {
	ID                  *string            `json:"llm_id,omitempty"`
	FamilyID            *string            `json:"family_id,omitempty"`
	Local               *bool              `json:"local,omitempty"`
	MinimumCapabilities []CapabilityFilter `json:"minimum_capabilities,omitempty"`
}

// ModelPreference ranks the models a filter admits. The daemon applies
// it best-effort after the filter's hard constraints.
type ModelPreference struct {
	ID         *string `json:"llm_id,omitempty"`
	Local      *bool   `json:"local,omitempty"`
	Capability *string `json:"capability_type,omitempty"`
}

// RequestState is the lifecycle of an operator-approval request.
type RequestState string

const (
	RequestAwaiting  RequestState = "awaiting"
	RequestApproved  RequestState = "approved"
	RequestDenied    RequestState = "denied"
	RequestCompleted RequestState = "completed"
)

// Terminal reports whether the operator has settled the request.
// Awaiting is the only pending state; approved requests may still have
// work running (a download in flight moves approved to completed), but
// the decision itself is settled and pollers can stop.
func (s RequestState) Terminal() bool {
	return s != RequestAwaiting
}

// RequestStatus tracks one approval request through the operator queue.
type RequestStatus struct {
	ID     uuid.UUID    `json:"id"`
	Type   string       `json:"type"`
	Status RequestState `json:"status"`
	Reason string       `json:"reason,omitempty"`
}

// CreateSessionResponse identifies a newly created prompt session. The
// effective parameters echo back what the daemon accepted after merging
// the model's defaults.
type CreateSessionResponse struct {
	SessionID         uuid.UUID         `json:"session_id"`
	ModelUUID         uuid.UUID         `json:"llm_uuid"`
	SessionParameters map[string]string `json:"session_parameters,omitempty"`
}

// BareModelResponse exposes a loaded model's raw connector endpoint for
// clients that bypass the session layer.
type BareModelResponse struct {
	ModelUUID  uuid.UUID `json:"llm_uuid"`
	SocketPath string    `json:"unix_socket,omitempty"`
	Endpoint   string    `json:"endpoint,omitempty"`
}
