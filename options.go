package pantry

import (
	"crypto/tls"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/randalmurphal/pantry-go/api"
)

// Daemon defaults for a same-machine installation.
const (
	DefaultSocketPath = "/tmp/pantrylocal.sock"
	DefaultBaseURL    = "http://localhost:9404"
)

type clientConfig struct {
	socketPath     string
	baseURL        string
	tls            *tls.Config
	requestTimeout time.Duration
	headerTimeout  time.Duration

	identity  *api.Identity
	credsPath string

	logger zerolog.Logger
}

// Option configures a Client.
type Option func(*clientConfig)

// WithSocketPath connects over the daemon's unix socket. Mutually
// exclusive with WithBaseURL.
func WithSocketPath(path string) Option {
	return func(c *clientConfig) { c.socketPath = path }
}

// WithBaseURL connects over TCP to the given http or https URL.
// Mutually exclusive with WithSocketPath.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithTLSConfig overrides TLS settings for https base URLs.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *clientConfig) { c.tls = cfg }
}

// WithRequestTimeout bounds request/response calls end to end.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.requestTimeout = d }
}

// WithHeaderTimeout bounds the wait for stream headers when a prompt is
// submitted. Slow models need a generous value; the daemon does not
// answer until the model accepts the prompt.
func WithHeaderTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.headerTimeout = d }
}

// WithIdentity supplies credentials from a previous registration.
func WithIdentity(userID uuid.UUID, apiKey string) Option {
	return func(c *clientConfig) {
		c.identity = &api.Identity{UserID: userID, APIKey: apiKey}
	}
}

// WithCredentialsFile loads credentials from the given TOML file when it
// exists and saves them there after Register. Missing files are not an
// error; the client simply starts unregistered.
func WithCredentialsFile(path string) Option {
	return func(c *clientConfig) { c.credsPath = path }
}

// WithLogger attaches a zerolog logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(c *clientConfig) { c.logger = log }
}

type sessionConfig struct {
	modelUUID  uuid.UUID
	modelID    string
	filter     *api.ModelFilter
	preference *api.ModelPreference

	params        map[string]string
	promptTimeout time.Duration
}

// SessionOption configures a Session before it is opened. Exactly one
// model selector (WithModelUUID, WithModelID, WithModelFilter) should be
// given.
type SessionOption func(*sessionConfig)

// WithModelUUID targets a specific live model instance.
func WithModelUUID(id uuid.UUID) SessionOption {
	return func(c *sessionConfig) { c.modelUUID = id }
}

// WithModelID targets a running model by registry ID.
func WithModelID(id string) SessionOption {
	return func(c *sessionConfig) { c.modelID = id }
}

// WithModelFilter lets the daemon pick any running model satisfying the
// filter, ranked by the optional preference.
func WithModelFilter(filter api.ModelFilter, pref *api.ModelPreference) SessionOption {
	return func(c *sessionConfig) {
		c.filter = &filter
		c.preference = pref
	}
}

// WithSessionParameters overrides the model's default session
// parameters, subject to what the registry entry allows.
func WithSessionParameters(params map[string]string) SessionOption {
	return func(c *sessionConfig) { c.params = params }
}

// WithPromptTimeout bounds each generation. When it elapses the stream
// is torn down and the session closes. Zero means no bound beyond the
// caller's context.
func WithPromptTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.promptTimeout = d }
}
