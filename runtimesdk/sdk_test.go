package runtimesdk_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/caonguyenthanhan/medruntime/eventservice"
	"github.com/caonguyenthanhan/medruntime/internal/registryapi"
	"github.com/caonguyenthanhan/medruntime/internal/runtimeapi"
	libbus "github.com/caonguyenthanhan/medruntime/libbus"
	libdb "github.com/caonguyenthanhan/medruntime/libdbexec"
	"github.com/caonguyenthanhan/medruntime/modeservice"
	"github.com/caonguyenthanhan/medruntime/registryservice"
	"github.com/caonguyenthanhan/medruntime/runtimesdk"
	"github.com/caonguyenthanhan/medruntime/runtimetypes"
	"github.com/stretchr/testify/require"
)

// setupNode serves the real routes over an in-memory store so the SDK is
// tested against the actual wire format, not a mock of it.
func setupNode(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.TODO()
	dbManager, err := libdb.NewSQLiteDBManager(ctx, ":memory:", runtimetypes.SchemaSQLite)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, dbManager.Close())
	})

	mux := http.NewServeMux()
	registryapi.AddServerRoutes(mux, registryservice.New(dbManager, nil, "http://127.0.0.1:8000"))
	runtimeapi.AddRuntimeRoutes(mux, modeservice.New(dbManager, libbus.NewInMem()), eventservice.New(dbManager))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestUnit_SDK_RegistryRoundTrip(t *testing.T) {
	srv := setupNode(t)
	ctx := context.TODO()
	sdk := runtimesdk.NewHTTPRegistryService(srv.URL, nil)

	endpoint := &runtimetypes.Endpoint{
		ID:     "colab-ngrok",
		Name:   "colab",
		URL:    "https://x.ngrok-free.dev",
		Status: runtimetypes.StatusActive,
	}
	created, err := sdk.Upsert(ctx, endpoint)
	require.NoError(t, err)
	require.True(t, created)

	created, err = sdk.Upsert(ctx, endpoint)
	require.NoError(t, err)
	require.False(t, created)

	servers, err := sdk.List(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)

	url, item, err := sdk.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://x.ngrok-free.dev", url)
	require.NotNil(t, item)

	logs, err := sdk.Logs(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 2)
}

func TestUnit_SDK_UpsertSurfacesAPIError(t *testing.T) {
	srv := setupNode(t)
	ctx := context.TODO()
	sdk := runtimesdk.NewHTTPRegistryService(srv.URL, nil)

	_, err := sdk.Upsert(ctx, &runtimetypes.Endpoint{ID: "no-url"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "url")
}

func TestUnit_SDK_ModeRoundTrip(t *testing.T) {
	srv := setupNode(t)
	ctx := context.TODO()
	sdk := runtimesdk.NewHTTPModeService(srv.URL, nil)

	mode, err := sdk.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, runtimetypes.ModeCPU, mode.Target)

	mode, err = sdk.Set(ctx, runtimetypes.ModeGPU, "https://x.ngrok-free.dev")
	require.NoError(t, err)
	require.Equal(t, runtimetypes.ModeGPU, mode.Target)
	require.Equal(t, "https://x.ngrok-free.dev", mode.GPUURL)

	mode, err = sdk.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, runtimetypes.ModeGPU, mode.Target)
}
