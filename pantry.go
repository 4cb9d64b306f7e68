package pantry

import (
	"github.com/randalmurphal/pantry-go/api"
)

// Wire types reused from the api package, aliased so most programs only
// import pantry.

type (
	Identity              = api.Identity
	UserInfo              = api.UserInfo
	Permissions           = api.Permissions
	Capability            = api.Capability
	ConnectorType         = api.ConnectorType
	RegistryEntry         = api.RegistryEntry
	ModelStatus           = api.ModelStatus
	RunningModel          = api.RunningModel
	ModelFilter           = api.ModelFilter
	ModelPreference       = api.ModelPreference
	CapabilityFilter      = api.CapabilityFilter
	RequestState          = api.RequestState
	RequestStatus         = api.RequestStatus
	CreateSessionResponse = api.CreateSessionResponse
	BareModelResponse     = api.BareModelResponse
	APIError              = api.APIError
	ProtocolError         = api.ProtocolError
)

const (
	CapSuperuser       = api.CapSuperuser
	CapLoadModel       = api.CapLoadModel
	CapUnloadModel     = api.CapUnloadModel
	CapDownloadModel   = api.CapDownloadModel
	CapCreateSession   = api.CapCreateSession
	CapRequestDownload = api.CapRequestDownload
	CapRequestLoad     = api.CapRequestLoad
	CapRequestUnload   = api.CapRequestUnload
	CapViewModels      = api.CapViewModels
	CapBareModel       = api.CapBareModel
)

const (
	RequestAwaiting  = api.RequestAwaiting
	RequestApproved  = api.RequestApproved
	RequestDenied    = api.RequestDenied
	RequestCompleted = api.RequestCompleted
)

const (
	ConnectorGenericAPI = api.ConnectorGenericAPI
	ConnectorLLMrs      = api.ConnectorLLMrs
	ConnectorOpenAI     = api.ConnectorOpenAI
)
