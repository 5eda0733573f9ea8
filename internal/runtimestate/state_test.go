package runtimestate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/caonguyenthanhan/medruntime/internal/runtimestate"
	libbus "github.com/caonguyenthanhan/medruntime/libbus"
	libdb "github.com/caonguyenthanhan/medruntime/libdbexec"
	"github.com/caonguyenthanhan/medruntime/runtimetypes"
	"github.com/caonguyenthanhan/medruntime/statetype"
	"github.com/stretchr/testify/require"
)

func setupState(t *testing.T) (context.Context, *runtimestate.State, runtimetypes.Store, *libbus.InMem) {
	t.Helper()
	ctx := context.TODO()
	dbManager, err := libdb.NewSQLiteDBManager(ctx, ":memory:", runtimetypes.SchemaSQLite)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, dbManager.Close())
	})
	ps := libbus.NewInMem()
	state, err := runtimestate.New(ctx, dbManager, ps,
		runtimestate.WithProbeTimeout(500*time.Millisecond))
	require.NoError(t, err)
	return ctx, state, runtimetypes.New(dbManager.WithoutTransaction()), ps
}

func TestUnit_RuntimeState_RequiresDependencies(t *testing.T) {
	ctx := context.TODO()
	dbManager, err := libdb.NewSQLiteDBManager(ctx, ":memory:", runtimetypes.SchemaSQLite)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, dbManager.Close())
	})

	_, err = runtimestate.New(ctx, dbManager, nil)
	require.Error(t, err)
	_, err = runtimestate.New(ctx, nil, libbus.NewInMem())
	require.Error(t, err)
}

func TestUnit_RuntimeState_HealthyEndpointBecomesActive(t *testing.T) {
	ctx, state, store, _ := setupState(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	require.NoError(t, store.CreateEndpoint(ctx, &runtimetypes.Endpoint{
		ID:   "colab-a",
		Name: "colab-a",
		URL:  srv.URL,
	}))

	require.NoError(t, state.RunProbeCycle(ctx))

	snapshot := state.Get(ctx)
	require.Len(t, snapshot, 1)
	observed := snapshot["colab-a"]
	require.True(t, observed.Healthy)
	require.Equal(t, http.StatusOK, observed.HTTPStatus)
	require.Equal(t, srv.URL, observed.URL)
	require.Empty(t, observed.Error)
	require.False(t, observed.CheckedAt.IsZero())

	persisted, err := store.GetEndpoint(ctx, "colab-a")
	require.NoError(t, err)
	require.Equal(t, runtimetypes.StatusActive, persisted.Status)
}

func TestUnit_RuntimeState_UnreachableEndpointBecomesInactive(t *testing.T) {
	ctx, state, store, _ := setupState(t)

	require.NoError(t, store.CreateEndpoint(ctx, &runtimetypes.Endpoint{
		ID:     "colab-b",
		Name:   "colab-b",
		URL:    "http://127.0.0.1:1",
		Status: runtimetypes.StatusActive,
	}))

	require.NoError(t, state.RunProbeCycle(ctx))

	observed := state.Get(ctx)["colab-b"]
	require.False(t, observed.Healthy)
	require.NotEmpty(t, observed.Error)

	persisted, err := store.GetEndpoint(ctx, "colab-b")
	require.NoError(t, err)
	require.Equal(t, runtimetypes.StatusInactive, persisted.Status)
}

func TestUnit_RuntimeState_TransitionPublishesOnBus(t *testing.T) {
	ctx, state, store, ps := setupState(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	require.NoError(t, store.CreateEndpoint(ctx, &runtimetypes.Endpoint{
		ID:   "colab-c",
		Name: "colab-c",
		URL:  srv.URL,
	}))

	ch := make(chan []byte, 1)
	sub, err := ps.Stream(ctx, runtimestate.SubjectStateChanged, ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, state.RunProbeCycle(ctx))

	select {
	case raw := <-ch:
		var observed statetype.EndpointRuntimeState
		require.NoError(t, json.Unmarshal(raw, &observed))
		require.Equal(t, "colab-c", observed.ID)
		require.True(t, observed.Healthy)
	case <-time.After(time.Second):
		t.Fatal("expected a state document on the bus")
	}

	// A second cycle without a transition stays quiet.
	require.NoError(t, state.RunProbeCycle(ctx))
	select {
	case <-ch:
		t.Fatal("unchanged status must not republish")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnit_RuntimeState_RemovedEndpointsLeaveSnapshot(t *testing.T) {
	ctx, state, store, _ := setupState(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	require.NoError(t, store.CreateEndpoint(ctx, &runtimetypes.Endpoint{
		ID:   "colab-d",
		Name: "colab-d",
		URL:  srv.URL,
	}))
	require.NoError(t, state.RunProbeCycle(ctx))
	require.Len(t, state.Get(ctx), 1)

	require.NoError(t, store.DeleteEndpoint(ctx, "colab-d"))
	require.NoError(t, state.RunProbeCycle(ctx))
	require.Empty(t, state.Get(ctx))
}
