package pantry_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pantry "github.com/randalmurphal/pantry-go"
	"github.com/randalmurphal/pantry-go/api"
	"github.com/randalmurphal/pantry-go/runnertest"
)

func allGrants() pantry.Permissions {
	return pantry.Permissions{Superuser: true}
}

func llamaModel() api.ModelStatus {
	return api.ModelStatus{
		ID:            "llama-7b",
		FamilyID:      "llama",
		Organization:  "meta",
		Name:          "Llama 7B",
		ConnectorType: api.ConnectorLLMrs,
		Capabilities:  map[string]int{"general": 5},
		Downloaded:    true,
		Running:       true,
	}
}

func newRegisteredClient(t *testing.T, grant pantry.Permissions, opts ...runnertest.Option) (*pantry.Client, *runnertest.Server) {
	t.Helper()
	opts = append([]runnertest.Option{runnertest.WithGrant(grant)}, opts...)
	srv := runnertest.NewServer(opts...)
	t.Cleanup(srv.Close)

	client, err := pantry.New(pantry.WithBaseURL(srv.URL()))
	require.NoError(t, err)
	_, err = client.Register(context.Background(), "pantry-test")
	require.NoError(t, err)
	return client, srv
}

func TestRegisterCachesPermissions(t *testing.T) {
	client, _ := newRegisteredClient(t, pantry.Permissions{ViewModels: true}, runnertest.WithModel(llamaModel()))

	perms, ok := client.Permissions()
	require.True(t, ok)
	assert.True(t, perms.ViewModels)
	assert.False(t, perms.LoadModel)
	assert.True(t, client.Registered())

	models, err := client.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "llama-7b", models[0].ID)
}

func TestGatingSkipsNetwork(t *testing.T) {
	client, srv := newRegisteredClient(t, pantry.Permissions{ViewModels: true}, runnertest.WithModel(llamaModel()))

	_, err := client.LoadModel(context.Background(), "llama-7b")
	var aerr *pantry.AuthorizationError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, pantry.CapLoadModel, aerr.Capability)
	assert.True(t, pantry.IsAuthorization(err))

	// The refusal happened entirely client side.
	assert.Equal(t, 0, srv.Hits("/load_llm"))

	err = client.UnloadModel(context.Background(), "llama-7b")
	assert.ErrorAs(t, err, &aerr)
	assert.Equal(t, 0, srv.Hits("/unload_llm"))
}

func TestLoginIsOffline(t *testing.T) {
	client, srv := newRegisteredClient(t, allGrants())
	id := client.Identity()
	registerHits := srv.Hits("/register_user")
	permHits := srv.Hits("/get_permissions")

	fresh, err := pantry.New(pantry.WithBaseURL(srv.URL()))
	require.NoError(t, err)
	fresh.Login(id)

	assert.Equal(t, registerHits, srv.Hits("/register_user"))
	assert.Equal(t, permHits, srv.Hits("/get_permissions"))
	assert.True(t, fresh.Registered())

	// Login leaves the grant cache empty; the daemon stays authoritative
	// until a refresh.
	_, ok := fresh.Permissions()
	assert.False(t, ok)

	perms, err := fresh.RefreshPermissions(context.Background())
	require.NoError(t, err)
	assert.True(t, perms.Superuser)
}

func TestServerSideDenialMapsToAuthorization(t *testing.T) {
	// No grants at all and no cached permission set: the call goes out
	// and the daemon refuses it.
	srv := runnertest.NewServer(runnertest.WithModel(llamaModel()))
	t.Cleanup(srv.Close)

	client, err := pantry.New(pantry.WithBaseURL(srv.URL()))
	require.NoError(t, err)
	info, err := client.Register(context.Background(), "no-grants")
	require.NoError(t, err)
	client.Login(info.Identity())

	_, err = client.Models(context.Background())
	require.Error(t, err)
	assert.True(t, pantry.IsAuthorization(err))
	assert.Equal(t, 1, srv.Hits("/get_available_llms"))
}

func TestRegisterWithGrants(t *testing.T) {
	srv := runnertest.NewServer(runnertest.WithAutoApprove())
	t.Cleanup(srv.Close)

	client, err := pantry.New(pantry.WithBaseURL(srv.URL()))
	require.NoError(t, err)

	info, status, err := client.RegisterWithGrants(context.Background(), "pantry-test",
		pantry.Permissions{ViewModels: true, CreateSession: true})
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, pantry.RequestApproved, status.Status)

	perms, err := client.RefreshPermissions(context.Background())
	require.NoError(t, err)
	assert.True(t, perms.ViewModels)
	assert.True(t, perms.CreateSession)
	assert.False(t, perms.LoadModel)
}

func TestRequestLoadFlex(t *testing.T) {
	client, srv := newRegisteredClient(t, allGrants())

	family := "llama"
	status, err := client.RequestLoadFlex(context.Background(), pantry.ModelFilter{FamilyID: &family}, nil)
	require.NoError(t, err)
	assert.Equal(t, pantry.RequestAwaiting, status.Status)

	// Flex requests ride the same route as plain load requests.
	assert.Equal(t, 1, srv.Hits("/request_load"))
	assert.Equal(t, 0, srv.Hits("/request_load_flex"))
}

func TestRequestApprovalFlow(t *testing.T) {
	client, srv := newRegisteredClient(t, allGrants())

	status, err := client.RequestLoad(context.Background(), "llama-7b")
	require.NoError(t, err)
	assert.Equal(t, pantry.RequestAwaiting, status.Status)

	go func() {
		time.Sleep(50 * time.Millisecond)
		srv.ApproveRequest(status.ID)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	settled, err := client.AwaitRequest(ctx, status.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, pantry.RequestApproved, settled.Status)
}

func TestAwaitRequestDenialIsNotAnError(t *testing.T) {
	client, srv := newRegisteredClient(t, allGrants())

	status, err := client.RequestUnload(context.Background(), "llama-7b")
	require.NoError(t, err)
	srv.DenyRequest(status.ID)

	settled, err := client.AwaitRequest(context.Background(), status.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, pantry.RequestDenied, settled.Status)
}

func TestLoadUnloadRoundTrip(t *testing.T) {
	model := llamaModel()
	model.Running = false
	client, _ := newRegisteredClient(t, allGrants(), runnertest.WithModel(model))

	running, err := client.LoadModel(context.Background(), "llama-7b")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, running.UUID)
	assert.True(t, running.Model.Running)

	live, err := client.RunningModels(context.Background())
	require.NoError(t, err)
	require.Len(t, live, 1)

	require.NoError(t, client.UnloadModel(context.Background(), "llama-7b"))

	live, err = client.RunningModels(context.Background())
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestLoadModelFlex(t *testing.T) {
	model := llamaModel()
	model.Running = false
	client, _ := newRegisteredClient(t, allGrants(), runnertest.WithModel(model))

	family := "llama"
	running, err := client.LoadModelFlex(context.Background(), pantry.ModelFilter{FamilyID: &family}, nil)
	require.NoError(t, err)
	assert.Equal(t, "llama-7b", running.Model.ID)
}

func TestDownloadModel(t *testing.T) {
	client, _ := newRegisteredClient(t, allGrants(), runnertest.WithAutoApprove())

	entry := pantry.RegistryEntry{
		ID:            "mistral-7b",
		FamilyID:      "mistral",
		Name:          "Mistral 7B",
		DownloadURL:   "https://example.com/mistral-7b.bin",
		ConnectorType: api.ConnectorLLMrs,
	}
	status, err := client.DownloadModel(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, pantry.RequestApproved, status.Status)

	fetched, err := client.ModelStatus(context.Background(), "mistral-7b")
	require.NoError(t, err)
	assert.True(t, fetched.Downloaded)
}

func TestDownloadModelValidatesEntry(t *testing.T) {
	client, srv := newRegisteredClient(t, allGrants())

	_, err := client.DownloadModel(context.Background(), pantry.RegistryEntry{ID: "no-url"})
	require.Error(t, err)
	assert.Equal(t, 0, srv.Hits("/download_llm"))
}

func TestBareModel(t *testing.T) {
	client, _ := newRegisteredClient(t, allGrants(), runnertest.WithModel(llamaModel()))

	bare, err := client.BareModel(context.Background(), "llama-7b")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, bare.ModelUUID)
	assert.NotEmpty(t, bare.SocketPath)
}

func TestCredentialsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")
	creds := pantry.Credentials{
		Name:   "pantry-test",
		UserID: uuid.New(),
		APIKey: "k-secret",
	}
	require.NoError(t, pantry.SaveCredentials(path, creds))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := pantry.LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, creds, *loaded)
	assert.Equal(t, creds.UserID, loaded.Identity().UserID)
}

func TestLoadCredentialsRejectsIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")
	require.NoError(t, os.WriteFile(path, []byte("name = \"x\"\n"), 0o600))

	_, err := pantry.LoadCredentials(path)
	assert.Error(t, err)
}

func TestCredentialsFilePersistsRegistration(t *testing.T) {
	srv := runnertest.NewServer(runnertest.WithGrant(allGrants()))
	t.Cleanup(srv.Close)
	path := filepath.Join(t.TempDir(), "credentials.toml")

	first, err := pantry.New(pantry.WithBaseURL(srv.URL()), pantry.WithCredentialsFile(path))
	require.NoError(t, err)
	assert.False(t, first.Registered())

	info, err := first.Register(context.Background(), "pantry-test")
	require.NoError(t, err)

	second, err := pantry.New(pantry.WithBaseURL(srv.URL()), pantry.WithCredentialsFile(path))
	require.NoError(t, err)
	assert.True(t, second.Registered())
	assert.Equal(t, info.ID, second.Identity().UserID)
	assert.Equal(t, 1, srv.Hits("/register_user"))
}
