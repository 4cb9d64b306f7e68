package pantry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/randalmurphal/pantry-go/api"
	"github.com/randalmurphal/pantry-go/transport"
)

// defaultPollInterval paces AwaitRequest when the caller does not choose
// an interval.
const defaultPollInterval = 2 * time.Second

// Client talks to one pantry daemon. It caches the identity's grants and
// refuses calls the grants do not cover without touching the network.
// Client is safe for concurrent use.
type Client struct {
	api *api.Client
	log zerolog.Logger

	credsPath string
	credsName string

	mu    sync.RWMutex
	perms *api.Permissions
}

// New builds a Client. With no transport option it connects to the
// default unix socket.
func New(opts ...Option) (*Client, error) {
	cfg := clientConfig{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.socketPath == "" && cfg.baseURL == "" {
		cfg.socketPath = DefaultSocketPath
	}

	tr, err := transport.New(transport.Config{
		SocketPath:     cfg.socketPath,
		BaseURL:        cfg.baseURL,
		TLS:            cfg.tls,
		RequestTimeout: cfg.requestTimeout,
		HeaderTimeout:  cfg.headerTimeout,
	})
	if err != nil {
		return nil, err
	}

	var id api.Identity
	var name string
	switch {
	case cfg.identity != nil:
		id = *cfg.identity
	case cfg.credsPath != "":
		creds, err := LoadCredentials(cfg.credsPath)
		switch {
		case err == nil:
			id = creds.Identity()
			name = creds.Name
		case errors.Is(err, os.ErrNotExist):
			// Unregistered start; Register will fill the file in.
		default:
			return nil, err
		}
	}

	c := &Client{
		api:       api.NewClient(tr, id),
		log:       cfg.logger,
		credsPath: cfg.credsPath,
		credsName: name,
	}
	c.log.Debug().
		Str("socket", cfg.socketPath).
		Str("base_url", cfg.baseURL).
		Bool("registered", id.APIKey != "").
		Msg("pantry client ready")
	return c, nil
}

// Register creates a new identity on the daemon and adopts it for all
// subsequent calls. When a credentials file is configured the identity
// is persisted there. The daemon decides the initial grants.
func (c *Client) Register(ctx context.Context, name string) (*UserInfo, error) {
	info, err := c.api.RegisterUser(ctx, name)
	if err != nil {
		return nil, err
	}

	c.api.SetIdentity(info.Identity())
	c.mu.Lock()
	c.perms = info.Permissions
	c.mu.Unlock()

	if c.credsPath != "" {
		creds := Credentials{Name: name, UserID: info.ID, APIKey: info.APIKey}
		if err := SaveCredentials(c.credsPath, creds); err != nil {
			return nil, err
		}
	}

	c.log.Info().Str("user_id", info.ID.String()).Str("name", name).Msg("registered")
	return info, nil
}

// RegisterWithGrants registers and immediately queues an approval
// request for the given grants, the usual first-run sequence. The
// returned request is awaiting unless the daemon auto-approves.
func (c *Client) RegisterWithGrants(ctx context.Context, name string, requested Permissions) (*UserInfo, *RequestStatus, error) {
	info, err := c.Register(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	status, err := c.api.RequestPermissions(ctx, requested)
	if err != nil {
		return info, nil, err
	}
	return info, status, nil
}

// Login adopts a previously registered identity. It performs no network
// calls, so the grant cache starts empty; the first denied call or an
// explicit RefreshPermissions populates it.
func (c *Client) Login(id Identity) {
	c.api.SetIdentity(id)
	c.mu.Lock()
	c.perms = nil
	c.mu.Unlock()
}

// Identity returns the credentials in use.
func (c *Client) Identity() Identity { return c.api.Identity() }

// Registered reports whether the client holds credentials.
func (c *Client) Registered() bool { return c.api.Identity().APIKey != "" }

// Permissions returns the cached grants. ok is false until Register or
// RefreshPermissions has populated the cache.
func (c *Client) Permissions() (Permissions, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.perms == nil {
		return Permissions{}, false
	}
	return *c.perms, true
}

// RefreshPermissions re-fetches the identity's grants from the daemon
// and updates the cache used for client-side gating.
func (c *Client) RefreshPermissions(ctx context.Context) (Permissions, error) {
	perms, err := c.api.GetPermissions(ctx)
	if err != nil {
		return Permissions{}, err
	}
	c.mu.Lock()
	c.perms = perms
	c.mu.Unlock()
	return *perms, nil
}

// allowed gates an operation on the cached grants. An empty cache passes
// everything through; the daemon is the authority and will reject the
// call itself if need be.
func (c *Client) allowed(cap Capability) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.perms == nil || c.perms.Has(cap) {
		return nil
	}
	return &AuthorizationError{Capability: cap}
}

// RequestPermissions queues an operator-approval request for additional
// grants. Requesting is never gated; holding a grant is not required to
// ask for it.
func (c *Client) RequestPermissions(ctx context.Context, requested Permissions) (*RequestStatus, error) {
	return c.api.RequestPermissions(ctx, requested)
}

// RequestDownload queues an approval request to download a model.
func (c *Client) RequestDownload(ctx context.Context, entry RegistryEntry) (*RequestStatus, error) {
	if err := c.allowed(CapRequestDownload); err != nil {
		return nil, err
	}
	return c.api.RequestDownload(ctx, entry)
}

// RequestLoad queues an approval request to load a model.
func (c *Client) RequestLoad(ctx context.Context, modelID string) (*RequestStatus, error) {
	if err := c.allowed(CapRequestLoad); err != nil {
		return nil, err
	}
	return c.api.RequestLoad(ctx, modelID)
}

// RequestLoadFlex queues an approval request to load any model the
// filter admits.
func (c *Client) RequestLoadFlex(ctx context.Context, filter ModelFilter, pref *ModelPreference) (*RequestStatus, error) {
	if err := c.allowed(CapRequestLoad); err != nil {
		return nil, err
	}
	return c.api.RequestLoadFlex(ctx, filter, pref)
}

// RequestUnload queues an approval request to unload a model.
func (c *Client) RequestUnload(ctx context.Context, modelID string) (*RequestStatus, error) {
	if err := c.allowed(CapRequestUnload); err != nil {
		return nil, err
	}
	return c.api.RequestUnload(ctx, modelID)
}

// RequestStatus polls one approval request.
func (c *Client) RequestStatus(ctx context.Context, requestID uuid.UUID) (*RequestStatus, error) {
	return c.api.GetRequestStatus(ctx, requestID)
}

// AwaitRequest polls an approval request until it reaches a terminal
// state or ctx is done. A zero interval uses a sensible default.
// RequestDenied is returned as a value, not an error; the operator
// saying no is a normal outcome.
func (c *Client) AwaitRequest(ctx context.Context, requestID uuid.UUID, interval time.Duration) (*RequestStatus, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.api.GetRequestStatus(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if status.Status.Terminal() {
			c.log.Debug().
				Str("request_id", requestID.String()).
				Str("status", string(status.Status)).
				Msg("request settled")
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Models lists every model the daemon knows about.
func (c *Client) Models(ctx context.Context) ([]ModelStatus, error) {
	if err := c.allowed(CapViewModels); err != nil {
		return nil, err
	}
	return c.api.GetAvailableModels(ctx)
}

// RunningModels lists the live model instances.
func (c *Client) RunningModels(ctx context.Context) ([]RunningModel, error) {
	if err := c.allowed(CapViewModels); err != nil {
		return nil, err
	}
	return c.api.GetRunningModels(ctx)
}

// ModelStatus fetches one model's state by registry ID.
func (c *Client) ModelStatus(ctx context.Context, modelID string) (*ModelStatus, error) {
	if err := c.allowed(CapViewModels); err != nil {
		return nil, err
	}
	return c.api.GetModelStatus(ctx, modelID)
}

// LoadModel loads a downloaded model.
func (c *Client) LoadModel(ctx context.Context, modelID string) (*RunningModel, error) {
	if err := c.allowed(CapLoadModel); err != nil {
		return nil, err
	}
	running, err := c.api.LoadModel(ctx, modelID)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("model", modelID).Str("uuid", running.UUID.String()).Msg("model loaded")
	return running, nil
}

// LoadModelFlex loads whichever model best satisfies the filter.
func (c *Client) LoadModelFlex(ctx context.Context, filter ModelFilter, pref *ModelPreference) (*RunningModel, error) {
	if err := c.allowed(CapLoadModel); err != nil {
		return nil, err
	}
	return c.api.LoadModelFlex(ctx, filter, pref)
}

// UnloadModel stops a running model. Sessions on it are dropped by the
// daemon; their streams end with an error.
func (c *Client) UnloadModel(ctx context.Context, modelID string) error {
	if err := c.allowed(CapUnloadModel); err != nil {
		return err
	}
	if err := c.api.UnloadModel(ctx, modelID); err != nil {
		return err
	}
	c.log.Info().Str("model", modelID).Msg("model unloaded")
	return nil
}

// DownloadModel starts downloading a registry entry and returns the
// request tracking the download. Combine with AwaitRequest to block
// until the model is on disk.
func (c *Client) DownloadModel(ctx context.Context, entry RegistryEntry) (*RequestStatus, error) {
	if err := c.allowed(CapDownloadModel); err != nil {
		return nil, err
	}
	if entry.ID == "" || entry.DownloadURL == "" {
		return nil, fmt.Errorf("pantry: registry entry needs id and url")
	}
	return c.api.DownloadModel(ctx, entry)
}

// BareModel exposes a model's raw connector endpoint, bypassing the
// session layer entirely.
func (c *Client) BareModel(ctx context.Context, modelID string) (*BareModelResponse, error) {
	if err := c.allowed(CapBareModel); err != nil {
		return nil, err
	}
	return c.api.BareModel(ctx, modelID)
}

// BareModelFlex is BareModel with filter-based selection.
func (c *Client) BareModelFlex(ctx context.Context, filter ModelFilter, pref *ModelPreference) (*BareModelResponse, error) {
	if err := c.allowed(CapBareModel); err != nil {
		return nil, err
	}
	return c.api.BareModelFlex(ctx, filter, pref)
}

// NewSession builds a session in the Created state. No network traffic
// happens until Open.
func (c *Client) NewSession(opts ...SessionOption) *Session {
	cfg := sessionConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Session{client: c, cfg: cfg, state: StateCreated}
}

// CreateSession builds and opens a session in one call.
func (c *Client) CreateSession(ctx context.Context, opts ...SessionOption) (*Session, error) {
	s := c.NewSession(opts...)
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// API exposes the raw wire client for routes the high-level surface does
// not cover. Calls made through it bypass client-side gating.
func (c *Client) API() *api.Client { return c.api }
